package telegram_bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"proctor/internal/config"
	"proctor/internal/metrics"
	"proctor/internal/models"
	"proctor/internal/repository"
)

const ackPrefix = "ack:"

// Sender is the part of the Telegram API used to deliver messages.
// *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot delivers alerts to invigilator chats and lets them acknowledge alerts
// from an inline button.
type Bot struct {
	api         Sender
	updates     *tgbotapi.BotAPI
	alertRepo   repository.AlertRepository
	chatIDs     []int64
	minSeverity models.Severity
	queue       chan models.AlertRecord
	breaker     *gobreaker.CircuitBreaker[tgbotapi.Message]
	now         func() time.Time
	logger      *zap.Logger
}

// NewBot creates a new Telegram bot instance. It returns nil, nil when
// Telegram notifications are disabled.
func NewBot(cfg config.TelegramConfig, alertRepo repository.AlertRepository, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.BotToken == "" {
		logger.Info("Telegram bot is disabled (notifications.telegram.enabled=false or token is empty)")
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	b := newBot(botAPI, cfg, alertRepo, logger)
	b.updates = botAPI
	return b, nil
}

func newBot(api Sender, cfg config.TelegramConfig, alertRepo repository.AlertRepository, logger *zap.Logger) *Bot {
	b := &Bot{
		api:         api,
		alertRepo:   alertRepo,
		chatIDs:     cfg.ChatIDs,
		minSeverity: cfg.MinSeverity,
		queue:       make(chan models.AlertRecord, cfg.QueueSize),
		now:         time.Now,
		logger:      logger,
	}
	if b.minSeverity == "" {
		b.minSeverity = models.SeverityOrange
	}

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	b.breaker = gobreaker.NewCircuitBreaker[tgbotapi.Message](gobreaker.Settings{
		Name:        "telegram-notifier",
		MaxRequests: 1,
		Timeout:     time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.NotifierBreakerState.Set(float64(to))
			logger.Warn("Notifier circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return b
}

// NotifyAlert queues an alert for delivery. Alerts below the configured
// severity are ignored; when the queue is full the alert is dropped.
func (b *Bot) NotifyAlert(alert models.AlertRecord) {
	if b == nil || !alert.Severity.AtLeast(b.minSeverity) {
		return
	}
	select {
	case b.queue <- alert:
	default:
		metrics.NotificationsSent.WithLabelValues("dropped").Inc()
		b.logger.Warn("Notification queue full, dropping alert",
			zap.Int64("alert_id", alert.ID),
			zap.Int64("session_id", alert.SessionID),
		)
	}
}

// Start delivers queued alerts and handles Telegram updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	if b == nil {
		return nil // Bot is disabled
	}

	var updates tgbotapi.UpdatesChannel
	if b.updates != nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates = b.updates.GetUpdatesChan(u)
	}

	b.logger.Info("Telegram bot started", zap.Int("chats", len(b.chatIDs)), zap.String("min_severity", string(b.minSeverity)))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			if b.updates != nil {
				b.updates.StopReceivingUpdates()
			}
			return nil
		case alert := <-b.queue:
			b.deliver(alert)
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallbackQuery(ctx, update.CallbackQuery)
			} else if update.Message != nil {
				b.handleMessage(update.Message)
			}
		}
	}
}

// deliver sends one alert to every configured chat through the circuit
// breaker. Failed sends are not retried.
func (b *Bot) deliver(alert models.AlertRecord) {
	text := formatAlert(alert)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Acknowledge", ackPrefix+strconv.FormatInt(alert.ID, 10)),
		),
	)

	for _, chatID := range b.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyMarkup = keyboard

		_, err := b.breaker.Execute(func() (tgbotapi.Message, error) {
			return b.api.Send(msg)
		})
		switch {
		case err == nil:
			metrics.NotificationsSent.WithLabelValues("sent").Inc()
			b.logger.Info("Alert notification sent", zap.Int64("alert_id", alert.ID), zap.Int64("chat_id", chatID))
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.NotificationsSent.WithLabelValues("rejected").Inc()
			b.logger.Warn("Alert notification skipped, circuit open", zap.Int64("alert_id", alert.ID), zap.Int64("chat_id", chatID))
		default:
			metrics.NotificationsSent.WithLabelValues("failed").Inc()
			b.logger.Error("Failed to send alert notification",
				zap.Int64("alert_id", alert.ID),
				zap.Int64("chat_id", chatID),
				zap.Error(err),
			)
		}
	}
}

func formatAlert(alert models.AlertRecord) string {
	return fmt.Sprintf(
		"%s %s alert\n\nSession: %d\nSubject: %s\nCategory: %s\nPoints: %d\nTime: %s\n\n%s",
		severityIcon(alert.Severity),
		alert.Severity,
		alert.SessionID,
		alert.SubjectID,
		alert.Category,
		alert.Points,
		alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"),
		alert.Message,
	)
}

func severityIcon(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "🚨"
	case models.SeverityRed:
		return "🔴"
	case models.SeverityOrange:
		return "🟠"
	case models.SeverityYellow:
		return "🟡"
	default:
		return "🟢"
	}
}

// handleCallbackQuery processes "ack:<alert_id>" presses from alert messages.
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	b.logger.Info("Received callback query",
		zap.String("data", query.Data),
		zap.Int64("user_id", query.From.ID),
	)

	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.logger.Error("Failed to send callback response", zap.Error(err))
	}

	if !strings.HasPrefix(query.Data, ackPrefix) {
		b.logger.Error("Unknown callback action", zap.String("data", query.Data))
		b.sendMessage(query.From.ID, "❌ Unknown action")
		return
	}
	alertID, err := strconv.ParseInt(strings.TrimPrefix(query.Data, ackPrefix), 10, 64)
	if err != nil {
		b.logger.Error("Failed to parse alert ID", zap.String("data", query.Data), zap.Error(err))
		b.sendMessage(query.From.ID, "❌ Invalid alert reference")
		return
	}

	by := acknowledgerName(query.From)
	if err := b.alertRepo.AcknowledgeAlert(ctx, alertID, by, b.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			b.sendMessage(query.From.ID, "❌ Alert not found")
			return
		}
		b.logger.Error("Failed to acknowledge alert", zap.Int64("alert_id", alertID), zap.Error(err))
		b.sendMessage(query.From.ID, "❌ Could not acknowledge the alert, try again")
		return
	}

	b.logger.Info("Alert acknowledged via Telegram", zap.Int64("alert_id", alertID), zap.String("by", by))

	if query.Message != nil && query.Message.Chat != nil {
		edit := tgbotapi.NewEditMessageText(
			query.Message.Chat.ID,
			query.Message.MessageID,
			query.Message.Text+"\n\n✅ Acknowledged by "+by,
		)
		if _, err := b.api.Send(edit); err != nil {
			b.logger.Error("Failed to edit message", zap.Error(err))
		}
	}
}

func acknowledgerName(u *tgbotapi.User) string {
	if u == nil {
		return "telegram"
	}
	if u.UserName != "" {
		return "telegram:@" + u.UserName
	}
	return "telegram:" + strconv.FormatInt(u.ID, 10)
}

// handleMessage processes incoming messages
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	if !message.IsCommand() {
		return
	}
	switch message.Command() {
	case "start", "help":
		b.sendMessage(message.Chat.ID,
			"I forward exam proctoring alerts to this chat.\n\n"+
				"Press ✅ Acknowledge under an alert once it has been handled.\n\n"+
				"Add this chat id to notifications.telegram.chat_ids to receive alerts: "+
				strconv.FormatInt(message.Chat.ID, 10))
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help.")
	}
}

// sendMessage is a helper to send a simple text message
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
