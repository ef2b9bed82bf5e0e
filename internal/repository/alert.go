package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"proctor/internal/models"
)

// AlertRepository defines the interface for alert record operations
type AlertRepository interface {
	SaveAlert(ctx context.Context, alert *models.AlertRecord) error
	GetAlert(ctx context.Context, id int64) (*models.AlertRecord, error)
	ListAlerts(ctx context.Context, sessionID int64) ([]models.AlertRecord, error)
	RecentAlerts(ctx context.Context, sessionID int64, limit int) ([]models.AlertRecord, error)
	AcknowledgeAlert(ctx context.Context, id int64, by string, at time.Time) error
}

type alertRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewAlertRepository creates a new alert record repository
func NewAlertRepository(db *sqlx.DB, logger *zap.Logger) AlertRepository {
	return &alertRepository{db: db, logger: logger}
}

const alertColumns = `id, session_id, severity, message, subject_id, category, points,
		is_acknowledged, acknowledged_by, acknowledged_at, timestamp`

func (r *alertRepository) SaveAlert(ctx context.Context, alert *models.AlertRecord) error {
	query := `
		INSERT INTO alert_records (session_id, severity, message, subject_id, category, points, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.db.QueryRowxContext(ctx, query,
		alert.SessionID,
		alert.Severity,
		alert.Message,
		alert.SubjectID,
		alert.Category,
		alert.Points,
		alert.Timestamp,
	).Scan(&alert.ID)
	if err != nil {
		r.logger.Error("Failed to save alert", zap.Int64("session_id", alert.SessionID), zap.Error(err))
		return err
	}
	return nil
}

func (r *alertRepository) GetAlert(ctx context.Context, id int64) (*models.AlertRecord, error) {
	var alert models.AlertRecord
	query := `SELECT ` + alertColumns + ` FROM alert_records WHERE id = $1`

	if err := r.db.GetContext(ctx, &alert, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get alert by ID", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	return &alert, nil
}

// ListAlerts returns the session's alerts, newest first.
func (r *alertRepository) ListAlerts(ctx context.Context, sessionID int64) ([]models.AlertRecord, error) {
	return r.selectAlerts(ctx, `SELECT `+alertColumns+` FROM alert_records
		WHERE session_id = $1 ORDER BY timestamp DESC, id DESC`, sessionID)
}

func (r *alertRepository) RecentAlerts(ctx context.Context, sessionID int64, limit int) ([]models.AlertRecord, error) {
	return r.selectAlerts(ctx, `SELECT `+alertColumns+` FROM alert_records
		WHERE session_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`, sessionID, limit)
}

func (r *alertRepository) selectAlerts(ctx context.Context, query string, args ...interface{}) ([]models.AlertRecord, error) {
	alerts := []models.AlertRecord{}
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		r.logger.Error("Failed to list alerts", zap.Error(err))
		return nil, err
	}
	return alerts, nil
}

// AcknowledgeAlert marks the alert handled. The first acknowledger and time are
// kept if the alert is acknowledged again.
func (r *alertRepository) AcknowledgeAlert(ctx context.Context, id int64, by string, at time.Time) error {
	query := `
		UPDATE alert_records
		SET is_acknowledged = TRUE,
		    acknowledged_by = COALESCE(acknowledged_by, $1),
		    acknowledged_at = COALESCE(acknowledged_at, $2)
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, by, at, id)
	if err != nil {
		r.logger.Error("Failed to acknowledge alert", zap.Int64("id", id), zap.String("by", by), zap.Error(err))
		return err
	}
	return expectOneRow(result)
}
