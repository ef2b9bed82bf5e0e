package detection

import (
	"errors"

	"proctor/internal/models"
)

// LevelThresholds classifies a subject's cumulative score. Each field is the
// minimum score for that level.
type LevelThresholds struct {
	Watch      int `yaml:"watch"`
	Suspicious int `yaml:"suspicious"`
	Critical   int `yaml:"critical"`
}

// DefaultLevelThresholds returns the stock cumulative thresholds.
func DefaultLevelThresholds() LevelThresholds {
	return LevelThresholds{Watch: 16, Suspicious: 61, Critical: 86}
}

// Validate requires strictly ascending, positive thresholds.
func (t LevelThresholds) Validate() error {
	if t.Watch <= 0 || t.Suspicious <= t.Watch || t.Critical <= t.Suspicious {
		return errors.New("cumulative thresholds must satisfy 0 < watch < suspicious < critical")
	}
	return nil
}

// Level is a pure function of score.
func (t LevelThresholds) Level(score int) models.AlertLevel {
	switch {
	case score >= t.Critical:
		return models.LevelCritical
	case score >= t.Suspicious:
		return models.LevelSuspicious
	case score >= t.Watch:
		return models.LevelWatch
	default:
		return models.LevelNormal
	}
}

// SeverityThresholds classifies the points of a single event (and the session
// average score in statistics).
type SeverityThresholds struct {
	Yellow   int `yaml:"yellow"`
	Orange   int `yaml:"orange"`
	Red      int `yaml:"red"`
	Critical int `yaml:"critical"`
}

// DefaultSeverityThresholds returns the stock per-event thresholds.
func DefaultSeverityThresholds() SeverityThresholds {
	return SeverityThresholds{Yellow: 16, Orange: 36, Red: 61, Critical: 86}
}

// Validate requires strictly ascending, positive thresholds.
func (t SeverityThresholds) Validate() error {
	if t.Yellow <= 0 || t.Orange <= t.Yellow || t.Red <= t.Orange || t.Critical <= t.Red {
		return errors.New("severity thresholds must satisfy 0 < yellow < orange < red < critical")
	}
	return nil
}

// Severity classifies an integer point value.
func (t SeverityThresholds) Severity(points int) models.Severity {
	return t.SeverityOf(float64(points))
}

// SeverityOf classifies a fractional value such as an average score.
func (t SeverityThresholds) SeverityOf(value float64) models.Severity {
	switch {
	case value >= float64(t.Critical):
		return models.SeverityCritical
	case value >= float64(t.Red):
		return models.SeverityRed
	case value >= float64(t.Orange):
		return models.SeverityOrange
	case value >= float64(t.Yellow):
		return models.SeverityYellow
	default:
		return models.SeverityGreen
	}
}
