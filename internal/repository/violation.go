package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"proctor/internal/models"
)

// ViolationRepository stores admitted violation events.
type ViolationRepository interface {
	SaveEvent(ctx context.Context, event *models.ViolationEvent) error
	GetEvent(ctx context.Context, id int64) (*models.ViolationEvent, error)
	ListEvents(ctx context.Context, sessionID int64) ([]models.ViolationEvent, error)
	RecentEvents(ctx context.Context, sessionID int64, limit int) ([]models.ViolationEvent, error)
	ResolveEvent(ctx context.Context, id int64) error
}

type violationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewViolationRepository creates a new violation event repository
func NewViolationRepository(db *sqlx.DB, logger *zap.Logger) ViolationRepository {
	return &violationRepository{db: db, logger: logger}
}

const eventColumns = `id, session_id, timestamp, subject_id, category, description, confidence, points,
		bounding_box_x, bounding_box_y, bounding_box_width, bounding_box_height, is_resolved, created_at`

func (r *violationRepository) SaveEvent(ctx context.Context, event *models.ViolationEvent) error {
	query := `
		INSERT INTO violation_events (session_id, timestamp, subject_id, category, description, confidence, points,
			bounding_box_x, bounding_box_y, bounding_box_width, bounding_box_height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`

	event.SetBoundingBox(event.BoundingBox)
	err := r.db.QueryRowxContext(ctx, query,
		event.SessionID,
		event.Timestamp,
		event.SubjectID,
		event.Category,
		event.Description,
		event.Confidence,
		event.Points,
		event.BoxX,
		event.BoxY,
		event.BoxWidth,
		event.BoxHeight,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to save violation event",
			zap.Int64("session_id", event.SessionID),
			zap.String("subject_id", event.SubjectID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (r *violationRepository) GetEvent(ctx context.Context, id int64) (*models.ViolationEvent, error) {
	var event models.ViolationEvent
	query := `SELECT ` + eventColumns + ` FROM violation_events WHERE id = $1`

	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get violation event", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	event.LoadBoundingBox()
	return &event, nil
}

// ListEvents returns the session's events, newest first.
func (r *violationRepository) ListEvents(ctx context.Context, sessionID int64) ([]models.ViolationEvent, error) {
	return r.selectEvents(ctx, `SELECT `+eventColumns+` FROM violation_events
		WHERE session_id = $1 ORDER BY timestamp DESC, id DESC`, sessionID)
}

func (r *violationRepository) RecentEvents(ctx context.Context, sessionID int64, limit int) ([]models.ViolationEvent, error) {
	return r.selectEvents(ctx, `SELECT `+eventColumns+` FROM violation_events
		WHERE session_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`, sessionID, limit)
}

func (r *violationRepository) selectEvents(ctx context.Context, query string, args ...interface{}) ([]models.ViolationEvent, error) {
	events := []models.ViolationEvent{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		r.logger.Error("Failed to list violation events", zap.Error(err))
		return nil, err
	}
	for i := range events {
		events[i].LoadBoundingBox()
	}
	return events, nil
}

func (r *violationRepository) ResolveEvent(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE violation_events SET is_resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to resolve violation event", zap.Int64("id", id), zap.Error(err))
		return err
	}
	return expectOneRow(result)
}
