package scoring

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"proctor/internal/detection"
	"proctor/internal/models"
)

// RepeatWeight is applied to the points of every violation after a subject's
// score first becomes nonzero.
const RepeatWeight = 0.85

// ScoreStore persists per-subject scores. GetScore returns nil, nil when the
// subject has no row yet.
type ScoreStore interface {
	GetScore(ctx context.Context, sessionID int64, trackingID string) (*models.StudentScore, error)
	SaveScore(ctx context.Context, score *models.StudentScore) error
}

// Accumulator maintains cumulative subject scores. Updates for one
// (session, subject) are serialized so concurrent violations cannot read the
// same prior score and overwrite each other.
type Accumulator struct {
	store      ScoreStore
	thresholds detection.LevelThresholds
	locks      *keyedMutex
	logger     *zap.Logger
}

// NewAccumulator creates an accumulator backed by store.
func NewAccumulator(store ScoreStore, thresholds detection.LevelThresholds, logger *zap.Logger) *Accumulator {
	return &Accumulator{
		store:      store,
		thresholds: thresholds,
		locks:      newKeyedMutex(),
		logger:     logger,
	}
}

// WeightedPoints returns the points actually added to a subject whose score
// before this violation was prior.
func WeightedPoints(prior, points int) int {
	if prior == 0 {
		return points
	}
	return int(math.Round(float64(points) * RepeatWeight))
}

// Apply records one violation against the subject and returns the updated row.
func (a *Accumulator) Apply(ctx context.Context, sessionID int64, subjectID string, category models.Category, points int, at time.Time) (*models.StudentScore, error) {
	unlock := a.locks.Lock(strconv.FormatInt(sessionID, 10) + "/" + subjectID)
	defer unlock()

	score, err := a.store.GetScore(ctx, sessionID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load score: %w", err)
	}
	if score == nil {
		score = &models.StudentScore{
			SessionID:  sessionID,
			TrackingID: subjectID,
			AlertLevel: models.LevelNormal,
			FirstSeen:  at,
		}
	}

	added := WeightedPoints(score.TotalScore, points)
	score.TotalScore += added
	score.ViolationCount++
	score.Increment(category.Tally())
	if at.After(score.LastSeen) {
		score.LastSeen = at
	}
	score.AlertLevel = a.thresholds.Level(score.TotalScore)

	if err := a.store.SaveScore(ctx, score); err != nil {
		return nil, fmt.Errorf("failed to save score: %w", err)
	}

	a.logger.Debug("Score updated",
		zap.Int64("session_id", sessionID),
		zap.String("subject_id", subjectID),
		zap.String("category", string(category)),
		zap.Int("added", added),
		zap.Int("total_score", score.TotalScore),
		zap.String("alert_level", string(score.AlertLevel)),
	)
	return score, nil
}
