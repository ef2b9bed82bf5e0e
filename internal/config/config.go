package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"proctor/internal/detection"
	"proctor/internal/models"
)

// DefaultPath is read when CONFIG_PATH is not set.
const DefaultPath = "configs/config.yml"

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Mode string `yaml:"mode"` // gin mode: debug, release or test
	} `yaml:"server"`
	Logging struct {
		Mode string `yaml:"mode"` // development or production
	} `yaml:"logging"`
	Database struct {
		Driver         string `yaml:"driver"` // postgres or memory
		URL            string `yaml:"url"`
		MigrationsPath string `yaml:"migrations_path"`
		MaxOpenConns   int    `yaml:"max_open_conns"`
		MaxIdleConns   int    `yaml:"max_idle_conns"`
	} `yaml:"database"`
	Auth struct {
		Enabled       bool   `yaml:"enabled"`
		JWTSecret     string `yaml:"jwt_secret"`
		TokenTTLHours int    `yaml:"token_ttl_hours"`
	} `yaml:"auth"`
	Detection struct {
		CooldownSeconds      int                          `yaml:"cooldown_seconds"`
		SweepIntervalSeconds int                          `yaml:"sweep_interval_seconds"`
		BasePoints           map[string]int               `yaml:"base_points"`
		DefaultPoints        int                          `yaml:"default_points"`
		Aliases              map[string]string            `yaml:"aliases"`
		CumulativeThresholds detection.LevelThresholds    `yaml:"cumulative_thresholds"`
		SeverityThresholds   detection.SeverityThresholds `yaml:"severity_thresholds"`
	} `yaml:"detection"`
	Sessions struct {
		DefaultExpectedCount *int `yaml:"default_expected_count"`
	} `yaml:"sessions"`
	Headcount struct {
		ApplyCooldown *bool `yaml:"apply_cooldown"`
	} `yaml:"headcount"`
	Notifications struct {
		Telegram TelegramConfig `yaml:"telegram"`
	} `yaml:"notifications"`
	Broadcast struct {
		Enabled        bool     `yaml:"enabled"`
		AllowedOrigins []string `yaml:"allowed_origins"` // empty accepts any origin
	} `yaml:"broadcast"`
	Kafka struct {
		Enabled            bool     `yaml:"enabled"`
		Brokers            []string `yaml:"brokers"`
		Topic              string   `yaml:"topic"`
		GroupID            string   `yaml:"group_id"`
		PollTimeoutSeconds int      `yaml:"poll_timeout_seconds"`
	} `yaml:"kafka"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// TelegramConfig configures alert delivery to invigilator chats.
type TelegramConfig struct {
	Enabled     bool            `yaml:"enabled"`
	BotToken    string          `yaml:"bot_token"`
	ChatIDs     []int64         `yaml:"chat_ids"`
	MinSeverity models.Severity `yaml:"min_severity"`
	QueueSize   int             `yaml:"queue_size"`
	Breaker     struct {
		MaxFailures    uint32 `yaml:"max_failures"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"breaker"`
}

// LoadConfig reads configuration from the specified YAML file, expands
// ${VAR} references, fills defaults and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// PathFromEnv returns CONFIG_PATH or DefaultPath.
func PathFromEnv() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Logging.Mode == "" {
		c.Logging.Mode = "development"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		c.Database.MaxIdleConns = c.Database.MaxOpenConns / 2
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 24
	}
	if c.Detection.CooldownSeconds <= 0 {
		c.Detection.CooldownSeconds = int(detection.DefaultCooldown / time.Second)
	}
	if c.Detection.SweepIntervalSeconds <= 0 {
		c.Detection.SweepIntervalSeconds = 60
	}
	if c.Detection.DefaultPoints <= 0 {
		c.Detection.DefaultPoints = detection.DefaultBasePoints
	}
	if c.Detection.CumulativeThresholds == (detection.LevelThresholds{}) {
		c.Detection.CumulativeThresholds = detection.DefaultLevelThresholds()
	}
	if c.Detection.SeverityThresholds == (detection.SeverityThresholds{}) {
		c.Detection.SeverityThresholds = detection.DefaultSeverityThresholds()
	}
	if c.Headcount.ApplyCooldown == nil {
		apply := true
		c.Headcount.ApplyCooldown = &apply
	}

	tg := &c.Notifications.Telegram
	if tg.MinSeverity == "" {
		tg.MinSeverity = models.SeverityOrange
	}
	if tg.QueueSize <= 0 {
		tg.QueueSize = 256
	}
	if tg.Breaker.MaxFailures == 0 {
		tg.Breaker.MaxFailures = 5
	}
	if tg.Breaker.TimeoutSeconds <= 0 {
		tg.Breaker.TimeoutSeconds = 30
	}

	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "proctor-detections"
	}
	if c.Kafka.PollTimeoutSeconds <= 0 {
		c.Kafka.PollTimeoutSeconds = 5
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	if err := c.Detection.CumulativeThresholds.Validate(); err != nil {
		return err
	}
	if err := c.Detection.SeverityThresholds.Validate(); err != nil {
		return err
	}
	if c.Sessions.DefaultExpectedCount != nil && *c.Sessions.DefaultExpectedCount < 0 {
		return errors.New("sessions.default_expected_count must not be negative")
	}
	tg := c.Notifications.Telegram
	if tg.Enabled {
		if tg.BotToken == "" {
			return errors.New("notifications.telegram.bot_token is required when telegram is enabled")
		}
		if !tg.MinSeverity.Valid() {
			return fmt.Errorf("unknown notifications.telegram.min_severity %q", tg.MinSeverity)
		}
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}

// Cooldown returns the configured cooldown window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Detection.CooldownSeconds) * time.Second
}

// SweepInterval returns how often expired cooldown keys are dropped.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Detection.SweepIntervalSeconds) * time.Second
}

// TokenTTL returns the lifetime of issued JWTs.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}
