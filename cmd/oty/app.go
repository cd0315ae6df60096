package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/otyard/internal/cache"
	"github.com/zulandar/otyard/internal/config"
	"github.com/zulandar/otyard/internal/db"
	"github.com/zulandar/otyard/internal/dispatcher"
	"github.com/zulandar/otyard/internal/logging"
	"github.com/zulandar/otyard/internal/notify"
	"github.com/zulandar/otyard/internal/workorder"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Environment variables that identify the CLI caller.
const (
	EnvActor        = "OTYARD_ACTOR"
	EnvCapabilities = "OTYARD_CAPABILITIES"
)

const defaultConfigPath = "otyard.yaml"

// actorFlags are shared by every command that performs a transition.
type actorFlags struct {
	id   string
	caps string
}

func (f *actorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "actor", "", "acting user id (default $"+EnvActor+")")
	cmd.Flags().StringVar(&f.caps, "caps", "", "comma separated capabilities (default $"+EnvCapabilities+")")
}

func (f *actorFlags) actor() (workorder.Actor, error) {
	id := f.id
	if id == "" {
		id = os.Getenv(EnvActor)
	}
	if id == "" {
		return workorder.Actor{}, fmt.Errorf("actor is required: pass --actor or set %s", EnvActor)
	}
	caps := f.caps
	if caps == "" {
		caps = os.Getenv(EnvCapabilities)
	}
	return workorder.Actor{ID: id, Capabilities: workorder.ParseCapabilities(caps)}, nil
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// app bundles what the one-shot commands need.
type app struct {
	cfg        *config.Config
	db         *gorm.DB
	logger     *zap.Logger
	orders     *workorder.Service
	board      *dispatcher.Service
	closeCache func() error
}

// cliCache opens the dispatcher snapshot cache shared with serve. A
// per-process memory cache would never be read again, so the CLI only uses
// redis.
var cliCache = func(ctx context.Context, cfg config.RedisConfig) (cache.Cache, func() error, error) {
	if !cfg.Enabled {
		return nil, func() error { return nil }, nil
	}
	return buildCache(ctx, cfg)
}

// openApp connects to the store and builds the work order and dispatcher
// services. Events are dropped; chat delivery only runs under serve.
func openApp(configPath string) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	policy, err := cfg.SLA.Policy()
	if err != nil {
		return nil, err
	}
	orders, err := workorder.New(workorder.Opts{
		DB:        gormDB,
		Logger:    logger,
		Publisher: notify.Discard{},
		Policy:    policy,
	})
	if err != nil {
		return nil, err
	}

	c, closeCache, err := cliCache(context.Background(), cfg.Redis)
	if err != nil {
		logger.Warn("dispatcher cache unavailable, board reads go to the database", zap.Error(err))
		c, closeCache = nil, func() error { return nil }
	}
	board, err := dispatcher.New(dispatcher.Opts{
		DB:     gormDB,
		Cache:  c,
		TTL:    cfg.Redis.TTL,
		Logger: logger,
		Policy: policy,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, db: gormDB, logger: logger, orders: orders, board: board, closeCache: closeCache}, nil
}

// invalidate drops the cached board of the company after a CLI mutation.
func (a *app) invalidate(ctx context.Context, companyID uint) {
	a.board.Invalidate(ctx, companyID)
}

func (a *app) close() {
	if err := a.closeCache(); err != nil {
		a.logger.Warn("close dispatcher cache", zap.Error(err))
	}
}
