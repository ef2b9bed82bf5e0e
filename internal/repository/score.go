package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"proctor/internal/models"
)

// ScoreRepository stores per-subject running scores.
type ScoreRepository interface {
	GetScore(ctx context.Context, sessionID int64, trackingID string) (*models.StudentScore, error)
	SaveScore(ctx context.Context, score *models.StudentScore) error
	ListScores(ctx context.Context, sessionID int64) ([]models.StudentScore, error)
	TopScores(ctx context.Context, sessionID int64, limit int) ([]models.StudentScore, error)
}

type scoreRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewScoreRepository creates a new student score repository
func NewScoreRepository(db *sqlx.DB, logger *zap.Logger) ScoreRepository {
	return &scoreRepository{db: db, logger: logger}
}

const scoreColumns = `id, session_id, tracking_id, total_score, violation_count, alert_level,
		phone_count, earphone_count, watch_count, chit_count, textbook_count, notebook_count, behavior_count,
		first_seen, last_seen, updated_at`

func (r *scoreRepository) GetScore(ctx context.Context, sessionID int64, trackingID string) (*models.StudentScore, error) {
	var score models.StudentScore
	query := `SELECT ` + scoreColumns + ` FROM student_scores WHERE session_id = $1 AND tracking_id = $2`

	if err := r.db.GetContext(ctx, &score, query, sessionID, trackingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get student score",
			zap.Int64("session_id", sessionID),
			zap.String("tracking_id", trackingID),
			zap.Error(err),
		)
		return nil, err
	}
	return &score, nil
}

// SaveScore upserts on (session_id, tracking_id).
func (r *scoreRepository) SaveScore(ctx context.Context, score *models.StudentScore) error {
	query := `
		INSERT INTO student_scores (session_id, tracking_id, total_score, violation_count, alert_level,
			phone_count, earphone_count, watch_count, chit_count, textbook_count, notebook_count, behavior_count,
			first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id, tracking_id) DO UPDATE SET
			total_score = EXCLUDED.total_score,
			violation_count = EXCLUDED.violation_count,
			alert_level = EXCLUDED.alert_level,
			phone_count = EXCLUDED.phone_count,
			earphone_count = EXCLUDED.earphone_count,
			watch_count = EXCLUDED.watch_count,
			chit_count = EXCLUDED.chit_count,
			textbook_count = EXCLUDED.textbook_count,
			notebook_count = EXCLUDED.notebook_count,
			behavior_count = EXCLUDED.behavior_count,
			last_seen = EXCLUDED.last_seen,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		score.SessionID,
		score.TrackingID,
		score.TotalScore,
		score.ViolationCount,
		score.AlertLevel,
		score.PhoneCount,
		score.EarphoneCount,
		score.WatchCount,
		score.ChitCount,
		score.TextbookCount,
		score.NotebookCount,
		score.BehaviorCount,
		score.FirstSeen,
		score.LastSeen,
	).Scan(&score.ID, &score.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to save student score",
			zap.Int64("session_id", score.SessionID),
			zap.String("tracking_id", score.TrackingID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// ListScores returns the session's scores, highest first.
func (r *scoreRepository) ListScores(ctx context.Context, sessionID int64) ([]models.StudentScore, error) {
	return r.selectScores(ctx, `SELECT `+scoreColumns+` FROM student_scores
		WHERE session_id = $1 ORDER BY total_score DESC, tracking_id`, sessionID)
}

func (r *scoreRepository) TopScores(ctx context.Context, sessionID int64, limit int) ([]models.StudentScore, error) {
	return r.selectScores(ctx, `SELECT `+scoreColumns+` FROM student_scores
		WHERE session_id = $1 ORDER BY total_score DESC, tracking_id LIMIT $2`, sessionID, limit)
}

func (r *scoreRepository) selectScores(ctx context.Context, query string, args ...interface{}) ([]models.StudentScore, error) {
	scores := []models.StudentScore{}
	if err := r.db.SelectContext(ctx, &scores, query, args...); err != nil {
		r.logger.Error("Failed to list student scores", zap.Error(err))
		return nil, err
	}
	return scores, nil
}
