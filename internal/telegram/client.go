// Package telegram delivers monitoring alerts through the Telegram Bot API.
// It formats alerts into MarkdownV2 messages, retries failed sends and can
// answer a small set of chat commands.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/models"
)

// botAPI is the subset of tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// CommandFunc answers a chat command. args is the text after the command.
type CommandFunc func(ctx context.Context, args string) (string, error)

// Client handles Telegram notifications
type Client struct {
	bot            botAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	now            func() time.Time
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot botAPI, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		now:            time.Now,
	}, nil
}

// Send sends one message listing alerts
func (c *Client) Send(alerts []models.MonitoringAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	return c.sendWithRetry(c.formatMessage(alerts))
}

// SendError reports a failed monitoring cycle
func (c *Client) SendError(err error) error {
	text := fmt.Sprintf("⚠️ *Monitoring cycle failed*\n\n%s", escapeMarkdownV2(err.Error()))
	return c.sendWithRetry(text)
}

// SendRecovery reports that cycles succeed again after failures
func (c *Client) SendRecovery(failedCycles int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d failed %s",
		failedCycles, pluralize(failedCycles, "cycle", "cycles"))
	return c.sendWithRetry(text)
}

func (c *Client) sendWithRetry(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Debug("Telegram send attempt %d/%d failed: %v", i+1, c.maxRetries, err)
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// ListenForCommands answers commands from the configured chat until ctx is
// done. Commands are looked up without the leading slash.
func (c *Client) ListenForCommands(ctx context.Context, commands map[string]CommandFunc) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		c.bot.StopReceivingUpdates()
	}()

	go func() {
		for update := range updates {
			msg := update.Message
			if msg == nil || !msg.IsCommand() || msg.Chat == nil || msg.Chat.ID != c.chatID {
				continue
			}
			reply := c.handleCommand(ctx, commands, msg.Command(), msg.CommandArguments())
			out := tgbotapi.NewMessage(c.chatID, escapeMarkdownV2(reply))
			out.ParseMode = tgbotapi.ModeMarkdownV2
			if _, err := c.bot.Send(out); err != nil {
				logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, commands map[string]CommandFunc, name, args string) string {
	fn, ok := commands[name]
	if !ok {
		names := make([]string, 0, len(commands))
		for n := range commands {
			names = append(names, "/"+n)
		}
		sort.Strings(names)
		return "Unknown command. Try one of: " + strings.Join(names, " ")
	}
	reply, err := fn(ctx, strings.TrimSpace(args))
	if err != nil {
		return "Error: " + err.Error()
	}
	return reply
}

// formatMessage formats alerts into a Telegram message
func (c *Client) formatMessage(alerts []models.MonitoringAlert) string {
	var b strings.Builder
	b.WriteString("🔔 *Restock Watch*\n\n")

	now := c.now()
	if len(alerts) > 0 && !alerts[0].GeneratedAt.IsZero() {
		now = alerts[0].GeneratedAt
	}
	fmt.Fprintf(&b, "📅 Generated: %s\n\n", escapeMarkdownV2(now.Format("2006-01-02 15:04:05")))

	for i, alert := range alerts {
		fmt.Fprintf(&b, "%d\\. *%s* %s %s\n", i+1,
			escapeMarkdownV2(alert.ItemName), urgencyEmoji(alert.Urgency), escapeMarkdownV2(string(alert.Urgency)))

		if alert.Active {
			fmt.Fprintf(&b, "   ⏰ Open now, closes %s\n",
				escapeMarkdownV2(humanize.RelTime(alert.WindowEnd, now, "ago", "from now")))
		} else {
			fmt.Fprintf(&b, "   ⏰ Opens %s\n",
				escapeMarkdownV2(humanize.RelTime(alert.WindowStart, now, "ago", "from now")))
		}
		fmt.Fprintf(&b, "   ⏱ Window: %s \\(%s confidence\\)\n",
			escapeMarkdownV2(formatDuration(alert.WindowEnd.Sub(alert.WindowStart))),
			escapeMarkdownV2(string(alert.Confidence)))
		if alert.Message != "" {
			fmt.Fprintf(&b, "   💬 %s\n", escapeMarkdownV2(alert.Message))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func urgencyEmoji(u models.Urgency) string {
	switch u {
	case models.UrgencyHigh:
		return "🔴"
	case models.UrgencyMedium:
		return "🟠"
	default:
		return "🟡"
	}
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	switch {
	case hours > 0 && mins > 0:
		return fmt.Sprintf("%dh%dm", hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
