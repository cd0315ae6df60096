package slack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/notify"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu       sync.Mutex
	authResp *slackapi.AuthTestResponse
	authErr  error
	posted   []postedMessage
	postErr  error
	postFn   func() error
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT_123"},
	}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postFn != nil {
		if err := m.postFn(); err != nil {
			return "", "", err
		}
	}
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

func newTestAdapter(t *testing.T) (*Adapter, *mockSlackClient) {
	t.Helper()
	client := newMockSlackClient()
	a, err := New(AdapterOpts{ChannelID: "C_MAINT", Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return a, client
}

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestNew_WithToken(t *testing.T) {
	a, err := New(AdapterOpts{BotToken: "xoxb-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Name() != "slack" {
		t.Errorf("Name = %q", a.Name())
	}
}

func TestConnect_Success(t *testing.T) {
	a, _ := newTestAdapter(t)
	if a.BotUserID() != "U_BOT_123" {
		t.Errorf("BotUserID = %q", a.BotUserID())
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockSlackClient()
	client.authErr = fmt.Errorf("invalid_auth")
	a, _ := New(AdapterOpts{Client: client})
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient()})
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error connecting closed adapter")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
}

func TestSend_DefaultChannel(t *testing.T) {
	a, client := newTestAdapter(t)
	if err := a.Send(context.Background(), notify.OutboundMessage{Text: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.postedCount() != 1 {
		t.Fatalf("posted = %d, want 1", client.postedCount())
	}
	if client.posted[0].channelID != "C_MAINT" {
		t.Errorf("channel = %q, want C_MAINT", client.posted[0].channelID)
	}
}

func TestSend_ExplicitChannel(t *testing.T) {
	a, client := newTestAdapter(t)
	a.Send(context.Background(), notify.OutboundMessage{ChannelID: "C_OTHER", Text: "hi"})
	if client.posted[0].channelID != "C_OTHER" {
		t.Errorf("channel = %q, want C_OTHER", client.posted[0].channelID)
	}
}

func TestSend_NoChannel(t *testing.T) {
	client := newMockSlackClient()
	a, _ := New(AdapterOpts{Client: client})
	a.Connect(context.Background())
	if err := a.Send(context.Background(), notify.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected error with no channel")
	}
}

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), ChannelID: "C"})
	if err := a.Send(context.Background(), notify.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestSend_PostError(t *testing.T) {
	a, client := newTestAdapter(t)
	client.postErr = fmt.Errorf("channel_not_found")
	if err := a.Send(context.Background(), notify.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected post error")
	}
}

func TestSend_RetriesOnRateLimit(t *testing.T) {
	a, client := newTestAdapter(t)
	calls := 0
	client.postFn = func() error {
		calls++
		if calls == 1 {
			return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
		}
		return nil
	}
	if err := a.Send(context.Background(), notify.OutboundMessage{Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestMessageOptions(t *testing.T) {
	if got := len(messageOptions(notify.OutboundMessage{Text: "hello"}, "")); got != 1 {
		t.Errorf("text only: %d options, want 1", got)
	}
	got := messageOptions(notify.OutboundMessage{
		Text:   "events",
		Events: []notify.FormattedEvent{{Title: "OT #1 closed", Color: notify.ColorSuccess}},
	}, "")
	if len(got) != 2 {
		t.Errorf("with events: %d options, want 2 (text + attachments)", len(got))
	}
}

func TestMessageText_MentionsOnBreach(t *testing.T) {
	breach := notify.FormattedEvent{Title: "OT #9 SLA breached", Kind: notify.EventSLABreached}
	risk := notify.FormattedEvent{Title: "OT #9 SLA at risk", Kind: notify.EventSLAAtRisk}

	tests := []struct {
		name    string
		msg     notify.OutboundMessage
		mention string
		want    string
	}{
		{"breach with mention", notify.OutboundMessage{Text: breach.Title, Events: []notify.FormattedEvent{breach}}, "<!here>", "<!here> OT #9 SLA breached"},
		{"breach without mention", notify.OutboundMessage{Text: breach.Title, Events: []notify.FormattedEvent{breach}}, "", "OT #9 SLA breached"},
		{"at risk is not escalated", notify.OutboundMessage{Text: risk.Title, Events: []notify.FormattedEvent{risk}}, "<!here>", "OT #9 SLA at risk"},
		{"falls back to event title", notify.OutboundMessage{Events: []notify.FormattedEvent{risk}}, "", "OT #9 SLA at risk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := messageText(tt.msg, tt.mention); got != tt.want {
				t.Errorf("messageText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAttachmentFor(t *testing.T) {
	due := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	att := attachmentFor(notify.FormattedEvent{
		Title: "OT #4 in progress",
		Body:  "PENDING → IN_PROGRESS",
		Color: notify.ColorInfo,
		Fields: []notify.Field{
			{Name: "Priority", Value: "URGENT", Short: true},
			{Name: "By", Value: "bob", Short: true},
		},
		Kind:        notify.EventTransition,
		WorkOrderID: 4,
		Priority:    models.PriorityP1,
		SLADue:      &due,
		At:          due.Add(-time.Hour),
	})
	if att.Fallback != "OT #4 in progress" || att.Color != notify.ColorInfo {
		t.Errorf("fallback/color = %q/%q", att.Fallback, att.Color)
	}
	if len(att.Blocks.BlockSet) != 2 {
		t.Fatalf("blocks = %d, want section + context", len(att.Blocks.BlockSet))
	}
	section, ok := att.Blocks.BlockSet[0].(*slackapi.SectionBlock)
	if !ok {
		t.Fatalf("first block is %T, want *SectionBlock", att.Blocks.BlockSet[0])
	}
	if section.Text.Text != "*OT #4 in progress*\nPENDING → IN_PROGRESS" {
		t.Errorf("section text = %q", section.Text.Text)
	}
	if len(section.Fields) != 2 || section.Fields[1].Text != "*By*\nbob" {
		t.Errorf("section fields = %+v", section.Fields)
	}
	ctxBlock, ok := att.Blocks.BlockSet[1].(*slackapi.ContextBlock)
	if !ok {
		t.Fatalf("second block is %T, want *ContextBlock", att.Blocks.BlockSet[1])
	}
	if len(ctxBlock.ContextElements.Elements) != 1 {
		t.Fatalf("context elements = %d, want 1", len(ctxBlock.ContextElements.Elements))
	}
}

func TestAttachmentFor_CapsFields(t *testing.T) {
	var fields []notify.Field
	for i := 0; i < maxSectionFields+3; i++ {
		fields = append(fields, notify.Field{Name: fmt.Sprintf("f%d", i), Value: "v"})
	}
	att := attachmentFor(notify.FormattedEvent{Title: "OT #1", Fields: fields})
	section := att.Blocks.BlockSet[0].(*slackapi.SectionBlock)
	if len(section.Fields) != maxSectionFields {
		t.Errorf("fields = %d, want %d", len(section.Fields), maxSectionFields)
	}
	if len(att.Blocks.BlockSet) != 2 {
		t.Errorf("blocks = %d, want section + context with the OT number", len(att.Blocks.BlockSet))
	}
}

func TestContextLine(t *testing.T) {
	due := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		evt  notify.FormattedEvent
		want string
	}{
		{"open order", notify.FormattedEvent{WorkOrderID: 7, Priority: models.PriorityP2, SLADue: &due, At: due.Add(-time.Hour)}, "P2 HIGH | SLA due Mon 02 Mar 12:00 UTC | OT #7"},
		{"past due", notify.FormattedEvent{WorkOrderID: 7, Priority: models.PriorityP1, SLADue: &due, At: due.Add(time.Minute)}, "P1 URGENT | SLA was due Mon 02 Mar 12:00 UTC | OT #7"},
		{"terminal order has no deadline", notify.FormattedEvent{WorkOrderID: 7, Priority: models.PriorityP3}, "P3 MEDIUM | OT #7"},
		{"empty", notify.FormattedEvent{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := contextLine(tt.evt); got != tt.want {
				t.Errorf("contextLine = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSend_MentionReachesSlack(t *testing.T) {
	client := newMockSlackClient()
	a, _ := New(AdapterOpts{Client: client, ChannelID: "C_MAINT", Mention: " <!here> "})
	a.Connect(context.Background())
	if a.mention != "<!here>" {
		t.Errorf("mention = %q, want trimmed", a.mention)
	}
	err := a.Send(context.Background(), notify.OutboundMessage{
		Text:   "OT #2 SLA breached",
		Events: []notify.FormattedEvent{{Title: "OT #2 SLA breached", Kind: notify.EventSLABreached}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.postedCount() != 1 || len(client.posted[0].options) != 2 {
		t.Errorf("posted = %+v", client.posted)
	}
}

func TestPostWithRetry_NonRateLimitError(t *testing.T) {
	calls := 0
	err := postWithRetry(context.Background(), func() error {
		calls++
		return fmt.Errorf("channel_not_found")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPostWithRetry_GivesUp(t *testing.T) {
	calls := 0
	err := postWithRetry(context.Background(), func() error {
		calls++
		return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	})
	var limited *slackapi.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("err = %v, want the last rate limit error", err)
	}
	if calls != maxAttempts {
		t.Errorf("calls = %d, want %d", calls, maxAttempts)
	}
}

func TestPostWithRetry_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := postWithRetry(ctx, func() error {
		calls++
		return &slackapi.RateLimitedError{RetryAfter: time.Second}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
