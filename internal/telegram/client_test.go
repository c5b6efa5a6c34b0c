package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/hybridscan/internal/models"
)

type fakeSender struct {
	fails int
	sent  []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.fails > 0 {
		f.fails--
		return tgbotapi.Message{}, errors.New("network down")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

type fakeCommands struct{ retrained bool }

func (f *fakeCommands) StatusReport() string { return "all good" }

func (f *fakeCommands) RetrainReport(ctx context.Context) string {
	f.retrained = true
	return "retrained"
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func TestFormatSignal(t *testing.T) {
	s := models.Signal{
		Symbol:            "BTC_USDT",
		EntryPrice:        50000,
		TargetPrice:       52000,
		StopLoss:          49000,
		RiskReward:        "1:2.0",
		ConfidenceScore:   72,
		Strategy:          "Hybrid",
		StaticProbability: 0.71,
		StaticTier:        models.TierBuy,
		AdaptiveProb:      0.65,
		AdaptiveTier:      models.TierSendWithCaution,
		HybridConfidence:  0.68,
		CreatedAt:         time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
	}

	msg := formatSignal(s)
	for _, want := range []string{
		"*BUY BTC\\_USDT*",
		"Entry: `50000\\.00`",
		"Target: `52000\\.00` \\(\\+4\\.0%\\)",
		"Stop: `49000\\.00` \\(\\-2\\.0%\\)",
		"Risk/Reward: 1:2\\.0",
		"Strategy: *Hybrid*",
		"Static: 71\\.0% \\(buy\\)",
		"Adaptive: 65\\.0% \\(send\\_with\\_caution\\)",
		"Hybrid confidence: *68\\.0%*",
		"2025\\-03\\-04 10:00:00 UTC",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{50000, "50000.00"},
		{2.5, "2.5000"},
		{0.00001234, "0.00001234"},
	}
	for _, tt := range tests {
		if got := formatPrice(tt.in); got != tt.want {
			t.Errorf("formatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSendSignalRetries(t *testing.T) {
	fs := &fakeSender{fails: 1}
	c := newClient(fs, 42, 3, time.Millisecond)

	if err := c.SendSignal(models.Signal{Symbol: "ETHUSDT"}); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}
	if len(fs.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fs.sent))
	}
	if fs.sent[0].ChatID != 42 || fs.sent[0].ParseMode != "MarkdownV2" {
		t.Errorf("unexpected message config: %+v", fs.sent[0])
	}
}

func TestSendSignalExhaustsRetries(t *testing.T) {
	fs := &fakeSender{fails: 5}
	c := newClient(fs, 42, 2, time.Millisecond)

	err := c.SendSignal(models.Signal{Symbol: "ETHUSDT"})
	var ue *models.UpstreamError
	if !errors.As(err, &ue) || ue.Source != "telegram" {
		t.Fatalf("expected telegram UpstreamError, got %v", err)
	}
	if fs.fails != 3 {
		t.Errorf("attempts = %d, want 2", 5-fs.fails)
	}
}

func TestHandleCommand(t *testing.T) {
	fs := &fakeSender{}
	c := newClient(fs, 42, 1, time.Millisecond)
	cmds := &fakeCommands{}

	command := func(chatID int64, text string) *tgbotapi.Message {
		return &tgbotapi.Message{
			Text:     text,
			Chat:     &tgbotapi.Chat{ID: chatID},
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		}
	}

	c.handleCommand(context.Background(), command(42, "/stats"), cmds)
	c.handleCommand(context.Background(), command(42, "/retrain"), cmds)
	c.handleCommand(context.Background(), command(7, "/retrain"), cmds)
	c.handleCommand(context.Background(), command(42, "/unknown"), cmds)

	if len(fs.sent) != 2 {
		t.Fatalf("sent %d replies, want 2", len(fs.sent))
	}
	if fs.sent[0].Text != "all good" || fs.sent[1].Text != "retrained" {
		t.Errorf("unexpected replies: %q, %q", fs.sent[0].Text, fs.sent[1].Text)
	}
	if !cmds.retrained {
		t.Error("retrain command should reach the handler")
	}
}
