package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/otyard/internal/api"
	"github.com/zulandar/otyard/internal/cache"
	"github.com/zulandar/otyard/internal/config"
	"github.com/zulandar/otyard/internal/dispatcher"
	"github.com/zulandar/otyard/internal/logging"
	"github.com/zulandar/otyard/internal/notify"
	"github.com/zulandar/otyard/internal/notify/discord"
	"github.com/zulandar/otyard/internal/notify/slack"
	"github.com/zulandar/otyard/internal/sweep"
	"github.com/zulandar/otyard/internal/workorder"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, SLA sweep and chat notifications",
		Long:  "Starts the work order API. Transitions and SLA alerts are delivered to the Slack and Discord channels configured under notify.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	policy, err := cfg.SLA.Policy()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	hub, err := buildHub(cfg.Notify, logger)
	if err != nil {
		return err
	}
	if err := hub.Connect(ctx); err != nil {
		return err
	}
	defer hub.Close()
	if names := hub.Adapters(); len(names) > 0 {
		logger.Info("notifications enabled", zap.String("adapters", strings.Join(names, ",")))
	}

	viewCache, closeCache, err := buildCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeCache()

	orders, err := workorder.New(workorder.Opts{DB: gormDB, Logger: logger, Publisher: hub, Policy: policy})
	if err != nil {
		return err
	}
	disp, err := dispatcher.New(dispatcher.Opts{DB: gormDB, Cache: viewCache, TTL: cfg.Redis.TTL, Logger: logger, Policy: policy})
	if err != nil {
		return err
	}
	srv, err := api.New(api.Opts{DB: gormDB, WorkOrders: orders, Dispatcher: disp, Logger: logger})
	if err != nil {
		return err
	}

	if cfg.Sweep.Enabled {
		sw, err := sweep.New(sweep.Opts{DB: gormDB, Publisher: hub, Policy: policy, Logger: logger, Schedule: cfg.Sweep.Schedule})
		if err != nil {
			return err
		}
		go func() {
			if err := sw.Run(ctx); err != nil {
				logger.Error("sla sweep stopped", zap.Error(err))
			}
		}()
	}

	if port == 0 {
		port = cfg.API.Port
	}
	return api.Start(ctx, api.StartOpts{Server: srv, Port: port, Out: cmd.OutOrStdout()})
}

// buildHub creates one adapter per platform that has a bot token.
func buildHub(cfg config.NotifyConfig, logger *zap.Logger) (*notify.Hub, error) {
	var adapters []notify.Adapter
	if cfg.Slack.Enabled() {
		a, err := slack.New(slack.AdapterOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.Channel, Mention: cfg.Slack.Mention})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Discord.Enabled() {
		a, err := discord.New(discord.AdapterOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.Channel, Logger: logger})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return notify.NewHub(notify.HubOpts{Adapters: adapters, Logger: logger}), nil
}

// buildCache returns redis when enabled, otherwise an in-process cache.
func buildCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, func() error, error) {
	if !cfg.Enabled {
		return cache.NewMemory(), func() error { return nil }, nil
	}
	r, err := cache.NewRedis(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}
