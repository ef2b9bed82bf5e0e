package telegram_bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"proctor/internal/config"
	"proctor/internal/models"
	"proctor/internal/repository"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests int
	err      error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig() config.TelegramConfig {
	cfg := config.TelegramConfig{
		Enabled:     true,
		ChatIDs:     []int64{100, 200},
		MinSeverity: models.SeverityOrange,
		QueueSize:   2,
	}
	cfg.Breaker.MaxFailures = 2
	cfg.Breaker.TimeoutSeconds = 60
	return cfg
}

func TestNewBotDisabled(t *testing.T) {
	bot, err := NewBot(config.TelegramConfig{}, nil, zap.NewNop())
	if bot != nil || err != nil {
		t.Fatalf("disabled bot = %v, %v; want nil, nil", bot, err)
	}
	// A nil bot is a valid no-op notifier.
	bot.NotifyAlert(models.AlertRecord{Severity: models.SeverityCritical})
}

func TestNotifyAlertFiltersAndBounds(t *testing.T) {
	bot := newBot(&fakeSender{}, testConfig(), repository.NewMemoryStore(), zap.NewNop())

	bot.NotifyAlert(models.AlertRecord{ID: 1, Severity: models.SeverityYellow})
	if len(bot.queue) != 0 {
		t.Fatal("YELLOW alert should be below the ORANGE threshold")
	}

	for i := int64(1); i <= 3; i++ {
		bot.NotifyAlert(models.AlertRecord{ID: i, Severity: models.SeverityRed})
	}
	if len(bot.queue) != 2 {
		t.Fatalf("queue length = %d, want 2 (third alert dropped)", len(bot.queue))
	}
}

func TestDeliverSendsToEveryChatWithAckButton(t *testing.T) {
	sender := &fakeSender{}
	bot := newBot(sender, testConfig(), repository.NewMemoryStore(), zap.NewNop())

	bot.deliver(models.AlertRecord{
		ID:        42,
		SessionID: 3,
		Severity:  models.SeverityRed,
		SubjectID: "s1",
		Category:  models.CategoryTextbook,
		Points:    65,
		Message:   "TEXTBOOK detected for subject s1 (65 points)",
		Timestamp: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	})

	if sender.count() != 2 {
		t.Fatalf("sent %d messages, want 2", sender.count())
	}
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", sender.sent[0])
	}
	if msg.ChatID != 100 || !strings.Contains(msg.Text, "RED alert") || !strings.Contains(msg.Text, "Session: 3") {
		t.Fatalf("unexpected message %+v", msg)
	}
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || *markup.InlineKeyboard[0][0].CallbackData != "ack:42" {
		t.Fatalf("unexpected reply markup %+v", msg.ReplyMarkup)
	}
}

func TestDeliverOpensBreakerAfterFailures(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	cfg := testConfig()
	cfg.ChatIDs = []int64{100}
	bot := newBot(sender, cfg, repository.NewMemoryStore(), zap.NewNop())

	for i := int64(1); i <= 4; i++ {
		bot.deliver(models.AlertRecord{ID: i, Severity: models.SeverityCritical})
	}
	// Two failures trip the breaker; later alerts never reach the API.
	if sender.count() != 2 {
		t.Fatalf("API called %d times, want 2", sender.count())
	}
}

func TestCallbackAcknowledgesAlert(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	alert := &models.AlertRecord{SessionID: 1, Severity: models.SeverityRed}
	_ = store.SaveAlert(ctx, alert)

	sender := &fakeSender{}
	bot := newBot(sender, testConfig(), store, zap.NewNop())
	at := time.Date(2026, 5, 4, 9, 5, 0, 0, time.UTC)
	bot.now = func() time.Time { return at }

	bot.handleCallbackQuery(ctx, &tgbotapi.CallbackQuery{
		ID:      "q1",
		From:    &tgbotapi.User{ID: 7, UserName: "proctor1"},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 100}, Text: "alert"},
		Data:    "ack:1",
	})

	got, _ := store.GetAlert(ctx, alert.ID)
	if !got.Acknowledged || *got.AcknowledgedBy != "telegram:@proctor1" || !got.AcknowledgedAt.Equal(at) {
		t.Fatalf("unexpected acknowledgement %+v", got)
	}
	edit, ok := sender.sent[len(sender.sent)-1].(tgbotapi.EditMessageTextConfig)
	if !ok || !strings.Contains(edit.Text, "Acknowledged by telegram:@proctor1") {
		t.Fatalf("original message not edited: %+v", sender.sent)
	}
	if sender.requests != 1 {
		t.Fatalf("callback answered %d times, want 1", sender.requests)
	}
}

func TestCallbackUnknownAlert(t *testing.T) {
	sender := &fakeSender{}
	bot := newBot(sender, testConfig(), repository.NewMemoryStore(), zap.NewNop())

	bot.handleCallbackQuery(context.Background(), &tgbotapi.CallbackQuery{
		ID:   "q1",
		From: &tgbotapi.User{ID: 7},
		Data: "ack:404",
	})

	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	if !ok || msg.ChatID != 7 || !strings.Contains(msg.Text, "not found") {
		t.Fatalf("unexpected reply %+v", sender.sent)
	}
}

func TestStartDeliversQueuedAlerts(t *testing.T) {
	sender := &fakeSender{}
	cfg := testConfig()
	cfg.ChatIDs = []int64{100}
	bot := newBot(sender, cfg, repository.NewMemoryStore(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- bot.Start(ctx) }()
	bot.NotifyAlert(models.AlertRecord{ID: 1, Severity: models.SeverityCritical})

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("queued alert was not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
}
