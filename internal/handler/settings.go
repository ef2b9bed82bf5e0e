package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"proctor/internal/config"
	"proctor/internal/detection"
	"proctor/internal/models"
)

type SettingsHandler interface {
	GetSettings(c *gin.Context)
}

type settingsHandler struct {
	response SettingsResponse
}

// SettingsResponse represents the scoring configuration in effect.
type SettingsResponse struct {
	Scoring struct {
		CooldownSeconds   int                     `json:"cooldownSeconds"`
		BasePoints        map[models.Category]int `json:"basePoints"`
		HeadcountCooldown bool                    `json:"headcountCooldown"`
		AlertLevels       map[string]int          `json:"alertLevels"`
		Severities        map[string]int          `json:"severities"`
	} `json:"scoring"`
	Notifications struct {
		TelegramEnabled bool            `json:"telegramEnabled"`
		MinSeverity     models.Severity `json:"minSeverity"`
	} `json:"notifications"`
	Ingest struct {
		KafkaEnabled bool   `json:"kafkaEnabled"`
		Topic        string `json:"topic,omitempty"`
	} `json:"ingest"`
	AuthEnabled bool `json:"authEnabled"`
}

// NewSettingsHandler snapshots cfg and points; settings are read-only at runtime.
func NewSettingsHandler(cfg *config.Config, points detection.PointTable) SettingsHandler {
	var r SettingsResponse
	r.Scoring.CooldownSeconds = int(cfg.Cooldown().Seconds())
	r.Scoring.BasePoints = make(map[models.Category]int, len(models.Categories))
	for _, category := range models.Categories {
		r.Scoring.BasePoints[category] = points.Base(category)
	}
	r.Scoring.HeadcountCooldown = cfg.Headcount.ApplyCooldown != nil && *cfg.Headcount.ApplyCooldown

	levels := cfg.Detection.CumulativeThresholds
	r.Scoring.AlertLevels = map[string]int{
		string(models.LevelWatch):      levels.Watch,
		string(models.LevelSuspicious): levels.Suspicious,
		string(models.LevelCritical):   levels.Critical,
	}
	severities := cfg.Detection.SeverityThresholds
	r.Scoring.Severities = map[string]int{
		string(models.SeverityYellow):   severities.Yellow,
		string(models.SeverityOrange):   severities.Orange,
		string(models.SeverityRed):      severities.Red,
		string(models.SeverityCritical): severities.Critical,
	}

	r.Notifications.TelegramEnabled = cfg.Notifications.Telegram.Enabled
	r.Notifications.MinSeverity = cfg.Notifications.Telegram.MinSeverity
	r.Ingest.KafkaEnabled = cfg.Kafka.Enabled
	if cfg.Kafka.Enabled {
		r.Ingest.Topic = cfg.Kafka.Topic
	}
	r.AuthEnabled = cfg.Auth.Enabled
	return &settingsHandler{response: r}
}

// GetSettings handles GET /api/settings
func (h *settingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.response)
}
