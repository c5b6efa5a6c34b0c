// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/rewired-gh/hybridscan/internal/logger"
	"github.com/rewired-gh/hybridscan/internal/models"
)

// Commands answers bot commands from the configured chat.
type Commands interface {
	StatusReport() string
	RetrainReport(ctx context.Context) string
}

// sender is the subset of the bot API the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	send           sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	log            zerolog.Logger
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		send:           s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		log:            logger.Component("telegram"),
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, cmds Commands) {
	if c.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message, cmds)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message, cmds Commands) {
	// Only the configured chat may drive the scanner.
	if msg.Chat == nil || msg.Chat.ID != c.chatID {
		return
	}

	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "stats":
		text = cmds.StatusReport()
	case "retrain":
		text = cmds.RetrainReport(ctx)
	default:
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	if _, err := c.send.Send(reply); err != nil {
		c.log.Warn().Err(err).Str("command", msg.Command()).Msg("failed to reply to command")
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.send.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}
	return &models.UpstreamError{
		Source: "telegram",
		Err:    fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr),
	}
}

// SendError sends a scan error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Scan error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Scanning recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendSignal delivers a trading signal. A nil return means Telegram accepted it.
func (c *Client) SendSignal(signal models.Signal) error {
	return c.sendMarkdownV2(formatSignal(signal))
}

// formatSignal formats a signal into a Telegram MarkdownV2 message.
func formatSignal(s models.Signal) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🟢 *BUY %s*\n", escapeMarkdownV2(s.Symbol))
	fmt.Fprintf(&b, "📅 %s\n\n", escapeMarkdownV2(s.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")))

	fmt.Fprintf(&b, "💰 Entry: `%s`\n", escapeMarkdownV2(formatPrice(s.EntryPrice)))
	fmt.Fprintf(&b, "🎯 Target: `%s` %s\n", escapeMarkdownV2(formatPrice(s.TargetPrice)),
		escapeMarkdownV2(fmt.Sprintf("(+%.1f%%)", pct(s.EntryPrice, s.TargetPrice))))
	fmt.Fprintf(&b, "🛑 Stop: `%s` %s\n", escapeMarkdownV2(formatPrice(s.StopLoss)),
		escapeMarkdownV2(fmt.Sprintf("(%.1f%%)", pct(s.EntryPrice, s.StopLoss))))
	fmt.Fprintf(&b, "⚖️ Risk/Reward: %s\n\n", escapeMarkdownV2(s.RiskReward))

	fmt.Fprintf(&b, "🧠 Strategy: *%s*\n", escapeMarkdownV2(s.Strategy))
	fmt.Fprintf(&b, "   Static: %s %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", s.StaticProbability*100)),
		escapeMarkdownV2(fmt.Sprintf("(%s)", s.StaticTier)))
	fmt.Fprintf(&b, "   Adaptive: %s %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", s.AdaptiveProb*100)),
		escapeMarkdownV2(fmt.Sprintf("(%s)", s.AdaptiveTier)))
	fmt.Fprintf(&b, "   Hybrid confidence: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", s.HybridConfidence*100)))
	fmt.Fprintf(&b, "📊 Technical score: %s\n", escapeMarkdownV2(fmt.Sprintf("%.0f", s.ConfidenceScore)))

	return b.String()
}

func formatPrice(p float64) string {
	switch {
	case p >= 100:
		return strconv.FormatFloat(p, 'f', 2, 64)
	case p >= 1:
		return strconv.FormatFloat(p, 'f', 4, 64)
	default:
		return strconv.FormatFloat(p, 'f', 8, 64)
	}
}

func pct(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
