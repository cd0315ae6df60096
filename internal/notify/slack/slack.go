// Package slack posts work order events to a Slack channel through the Web
// API. Each event becomes a colored attachment laid out with Block Kit: the
// headline and detail, the formatted fields, and a context line with the
// priority tier and SLA deadline.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/otyard/internal/notify"
)

const (
	// maxAttempts bounds PostMessage calls per delivery when rate limited.
	maxAttempts = 4
	baseBackoff = time.Second
	// maxSectionFields is Slack's limit on fields in one section block.
	maxSectionFields = 10
	dueLayout        = "Mon 02 Jan 15:04 MST"
)

// slackClient is the part of the Slack API the adapter calls.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

var _ notify.Adapter = (*Adapter)(nil)

// Adapter implements notify.Adapter for Slack.
type Adapter struct {
	client    slackClient
	botToken  string
	channelID string
	mention   string

	mu        sync.Mutex
	botUserID string
	connected bool
	closed    bool
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	BotToken  string // xoxb-... bot token
	ChannelID string // maintenance channel
	// Mention is prefixed to messages carrying an SLA breach, e.g. "<!here>".
	Mention string
	// Client replaces the Web API client in tests.
	Client slackClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	return &Adapter{
		client:    opts.Client,
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		mention:   strings.TrimSpace(opts.Mention),
	}, nil
}

// Name implements notify.Adapter.
func (a *Adapter) Name() string { return "slack" }

// Connect checks the bot token with auth.test.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return fmt.Errorf("slack: adapter already closed")
	case a.connected:
		return nil
	}
	if a.client == nil {
		a.client = slackapi.New(a.botToken)
	}
	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.connected = true
	return nil
}

// Send posts msg to its channel, or to the maintenance channel.
func (a *Adapter) Send(ctx context.Context, msg notify.OutboundMessage) error {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return fmt.Errorf("slack: not connected")
	}

	channelID := msg.ChannelID
	if channelID == "" {
		channelID = a.channelID
	}
	if channelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	options := messageOptions(msg, a.mention)
	err := postWithRetry(ctx, func() error {
		_, _, err := a.client.PostMessage(channelID, options...)
		return err
	})
	if err != nil {
		return fmt.Errorf("slack: post to %s: %w", channelID, err)
	}
	return nil
}

// Close marks the adapter closed. The Web API client holds no connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.connected = false
	return nil
}

// BotUserID returns the bot's Slack user id, known after Connect.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// messageOptions renders the text line and one attachment per event.
func messageOptions(msg notify.OutboundMessage, mention string) []slackapi.MsgOption {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(messageText(msg, mention), false)}
	if len(msg.Events) == 0 {
		return options
	}
	attachments := make([]slackapi.Attachment, 0, len(msg.Events))
	for _, evt := range msg.Events {
		attachments = append(attachments, attachmentFor(evt))
	}
	return append(options, slackapi.MsgOptionAttachments(attachments...))
}

// messageText is the notification line. Breaches get the channel mention.
func messageText(msg notify.OutboundMessage, mention string) string {
	text := msg.Text
	if text == "" && len(msg.Events) > 0 {
		text = msg.Events[0].Title
	}
	if mention == "" {
		return text
	}
	for _, evt := range msg.Events {
		if evt.Kind == notify.EventSLABreached {
			return mention + " " + text
		}
	}
	return text
}

// attachmentFor lays out one work order event. The color bar carries the
// severity; blocks carry the content.
func attachmentFor(evt notify.FormattedEvent) slackapi.Attachment {
	headline := "*" + evt.Title + "*"
	if evt.Body != "" {
		headline += "\n" + evt.Body
	}

	var fields []*slackapi.TextBlockObject
	for _, f := range evt.Fields {
		if len(fields) == maxSectionFields {
			break
		}
		fields = append(fields, slackapi.NewTextBlockObject(slackapi.MarkdownType, fmt.Sprintf("*%s*\n%s", f.Name, f.Value), false, false))
	}

	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, headline, false, false), fields, nil),
	}
	if line := contextLine(evt); line != "" {
		blocks = append(blocks, slackapi.NewContextBlock("", slackapi.NewTextBlockObject(slackapi.MarkdownType, line, false, false)))
	}

	return slackapi.Attachment{
		Color:    evt.Color,
		Fallback: evt.Title,
		Blocks:   slackapi.Blocks{BlockSet: blocks},
	}
}

// contextLine summarizes tier and deadline, e.g. "P1 URGENT | SLA due Mon 02 Mar 12:00 UTC".
func contextLine(evt notify.FormattedEvent) string {
	var parts []string
	if evt.Priority != "" {
		parts = append(parts, fmt.Sprintf("%s %s", evt.Priority, evt.Priority.Label()))
	}
	if evt.SLADue != nil {
		due := evt.SLADue.UTC().Format(dueLayout)
		if !evt.At.IsZero() && evt.At.After(*evt.SLADue) {
			parts = append(parts, "SLA was due "+due)
		} else {
			parts = append(parts, "SLA due "+due)
		}
	}
	if evt.WorkOrderID != 0 {
		parts = append(parts, fmt.Sprintf("OT #%d", evt.WorkOrderID))
	}
	return strings.Join(parts, " | ")
}

// postWithRetry calls post until it succeeds, fails with something other
// than a rate limit, or maxAttempts is reached.
func postWithRetry(ctx context.Context, post func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = post(); err == nil {
			return nil
		}
		var limited *slackapi.RateLimitedError
		if !errors.As(err, &limited) || attempt == maxAttempts-1 {
			return err
		}
		wait := limited.RetryAfter
		if wait <= 0 {
			wait = baseBackoff << attempt
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
