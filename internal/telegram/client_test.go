package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/restockoracle/internal/models"
)

type fakeBot struct {
	failures int // number of sends that fail before one succeeds
	sent     []tgbotapi.MessageConfig
	attempts int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.attempts++
	if f.attempts <= f.failures {
		return tgbotapi.Message{}, errors.New("Too Many Requests: retry after 1")
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeBot) StopReceivingUpdates() {}

func testClient(t *testing.T, bot *fakeBot, retries int) *Client {
	t.Helper()
	c, err := newClient(bot, "12345", retries, time.Millisecond)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}
	return c
}

var generated = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleAlerts() []models.MonitoringAlert {
	return []models.MonitoringAlert{
		{
			ID:          "a1",
			ItemName:    "Starweaver",
			Message:     "Starweaver window is open until 13:00 UTC (high confidence: hour-pattern, burst)",
			Urgency:     models.UrgencyHigh,
			Confidence:  models.ConfidenceHigh,
			WindowStart: generated.Add(-10 * time.Minute),
			WindowEnd:   generated.Add(50 * time.Minute),
			Active:      true,
			GeneratedAt: generated,
		},
		{
			ID:          "a2",
			ItemName:    "Elder Strawberry",
			Urgency:     models.UrgencyLow,
			Confidence:  models.ConfidenceMedium,
			WindowStart: generated.Add(20 * time.Minute),
			WindowEnd:   generated.Add(80 * time.Minute),
			GeneratedAt: generated,
		},
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{1 * time.Hour, "1h"},
		{2 * time.Hour, "2h"},
		{90 * time.Minute, "1h30m"},
		{30 * time.Minute, "30m"},
		{1 * time.Minute, "1m"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.duration)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"hour-pattern", "hour\\-pattern"},
		{"v1.2 (beta)!", "v1\\.2 \\(beta\\)\\!"},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	c := testClient(t, &fakeBot{}, 1)
	msg := c.formatMessage(sampleAlerts())

	wantParts := []string{
		"*Restock Watch*",
		"2026\\-03\\-01 12:00:00",
		"1\\. *Starweaver* 🔴 high",
		"Open now, closes 50 minutes from now",
		"2\\. *Elder Strawberry* 🟡 low",
		"Opens 20 minutes from now",
		"Window: 1h \\(medium confidence\\)",
		"hour\\-pattern, burst",
	}
	for _, part := range wantParts {
		if !strings.Contains(msg, part) {
			t.Errorf("message missing %q:\n%s", part, msg)
		}
	}
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	bot := &fakeBot{failures: 2}
	c := testClient(t, bot, 3)

	if err := c.Send(sampleAlerts()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if bot.attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", bot.attempts)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("Expected 1 delivered message, got %d", len(bot.sent))
	}
	if bot.sent[0].ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("ParseMode = %q, want MarkdownV2", bot.sent[0].ParseMode)
	}
	if bot.sent[0].ChatID != 12345 {
		t.Errorf("ChatID = %d, want 12345", bot.sent[0].ChatID)
	}
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c := testClient(t, bot, 2)

	err := c.Send(sampleAlerts())
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if bot.attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", bot.attempts)
	}
	if !strings.Contains(err.Error(), "Too Many Requests") {
		t.Errorf("Expected wrapped send error, got %v", err)
	}
}

func TestSend_EmptyIsNoop(t *testing.T) {
	bot := &fakeBot{}
	c := testClient(t, bot, 1)
	if err := c.Send(nil); err != nil {
		t.Fatalf("Send(nil) failed: %v", err)
	}
	if bot.attempts != 0 {
		t.Errorf("Expected no send attempts, got %d", bot.attempts)
	}
}

func TestSendErrorAndRecovery(t *testing.T) {
	bot := &fakeBot{}
	c := testClient(t, bot, 1)

	if err := c.SendError(errors.New("feed returned 502")); err != nil {
		t.Fatalf("SendError failed: %v", err)
	}
	if err := c.SendRecovery(1); err != nil {
		t.Fatalf("SendRecovery failed: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(bot.sent))
	}
	if !strings.Contains(bot.sent[0].Text, "feed returned 502") {
		t.Errorf("Error message missing cause: %q", bot.sent[0].Text)
	}
	if !strings.Contains(bot.sent[1].Text, "after 1 failed cycle") {
		t.Errorf("Recovery message = %q", bot.sent[1].Text)
	}
}

func TestHandleCommand(t *testing.T) {
	c := testClient(t, &fakeBot{}, 1)
	commands := map[string]CommandFunc{
		"watch": func(_ context.Context, args string) (string, error) {
			if args == "" {
				return "", errors.New("usage: /watch <item>")
			}
			return "Watching " + args, nil
		},
		"alerts": func(context.Context, string) (string, error) { return "No alerts", nil },
	}
	ctx := context.Background()

	if got := c.handleCommand(ctx, commands, "watch", "  Starweaver "); got != "Watching Starweaver" {
		t.Errorf("watch reply = %q", got)
	}
	if got := c.handleCommand(ctx, commands, "watch", ""); !strings.HasPrefix(got, "Error: usage") {
		t.Errorf("watch without args reply = %q", got)
	}
	if got := c.handleCommand(ctx, commands, "nope", ""); got != "Unknown command. Try one of: /alerts /watch" {
		t.Errorf("unknown reply = %q", got)
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	if _, err := newClient(&fakeBot{}, "not-a-number", 1, time.Millisecond); err == nil {
		t.Error("Expected error for invalid chat ID")
	}
}
