package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"proctor/internal/models"
)

// SessionRepository defines the interface for exam session operations
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id int64) (*models.Session, error)
	ListSessions(ctx context.Context) ([]models.Session, error)
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	UpdateActualCount(ctx context.Context, id int64, count int) error
	DeleteSession(ctx context.Context, id int64) error
}

type sessionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new exam session repository
func NewSessionRepository(db *sqlx.DB, logger *zap.Logger) SessionRepository {
	return &sessionRepository{db: db, logger: logger}
}

const sessionColumns = `id, name, expected_count, actual_count, status, stream_url, start_time, end_time,
		total_score, total_violations, created_at, updated_at`

func (r *sessionRepository) CreateSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO exam_sessions (name, expected_count, actual_count, status, stream_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		session.Name,
		session.ExpectedCount,
		session.ActualCount,
		session.Status,
		session.StreamURL,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create session", zap.String("name", session.Name), zap.Error(err))
		return err
	}
	return nil
}

func (r *sessionRepository) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	var session models.Session
	query := `SELECT ` + sessionColumns + ` FROM exam_sessions WHERE id = $1`

	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get session by ID", zap.Int64("session_id", id), zap.Error(err))
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) ListSessions(ctx context.Context) ([]models.Session, error) {
	sessions := []models.Session{}
	query := `SELECT ` + sessionColumns + ` FROM exam_sessions ORDER BY created_at DESC, id DESC`

	if err := r.db.SelectContext(ctx, &sessions, query); err != nil {
		r.logger.Error("Failed to list sessions", zap.Error(err))
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepository) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	sessions := []models.Session{}
	query := `SELECT ` + sessionColumns + ` FROM exam_sessions WHERE status = $1 ORDER BY created_at DESC, id DESC`

	if err := r.db.SelectContext(ctx, &sessions, query, status); err != nil {
		r.logger.Error("Failed to list sessions by status", zap.String("status", string(status)), zap.Error(err))
		return nil, err
	}
	return sessions, nil
}

// UpdateSession writes every mutable column. It returns sql.ErrNoRows when the
// session does not exist.
func (r *sessionRepository) UpdateSession(ctx context.Context, session *models.Session) error {
	query := `
		UPDATE exam_sessions
		SET name = $1, expected_count = $2, actual_count = $3, status = $4, stream_url = $5,
		    start_time = $6, end_time = $7, total_score = $8, total_violations = $9,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $10
		RETURNING updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		session.Name,
		session.ExpectedCount,
		session.ActualCount,
		session.Status,
		session.StreamURL,
		session.StartTime,
		session.EndTime,
		session.TotalScore,
		session.TotalViolations,
		session.ID,
	).Scan(&session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		r.logger.Error("Failed to update session", zap.Int64("session_id", session.ID), zap.Error(err))
		return err
	}
	return nil
}

func (r *sessionRepository) UpdateActualCount(ctx context.Context, id int64, count int) error {
	query := `UPDATE exam_sessions SET actual_count = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, count, id)
	if err != nil {
		r.logger.Error("Failed to update actual count", zap.Int64("session_id", id), zap.Error(err))
		return err
	}
	return expectOneRow(result)
}

// DeleteSession removes the session; events, scores and alerts cascade.
func (r *sessionRepository) DeleteSession(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM exam_sessions WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete session", zap.Int64("session_id", id), zap.Error(err))
		return err
	}
	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
