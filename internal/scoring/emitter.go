package scoring

import (
	"context"
	"fmt"

	"proctor/internal/detection"
	"proctor/internal/models"
)

// AlertStore persists raised alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *models.AlertRecord) error
}

// Emitter raises an alert for a single violation based on that violation's
// points alone. The subject's cumulative score plays no part here.
type Emitter struct {
	store      AlertStore
	thresholds detection.SeverityThresholds
}

// NewEmitter creates an emitter backed by store.
func NewEmitter(store AlertStore, thresholds detection.SeverityThresholds) *Emitter {
	return &Emitter{store: store, thresholds: thresholds}
}

// Severity classifies the points of one event.
func (e *Emitter) Severity(points int) models.Severity {
	return e.thresholds.Severity(points)
}

// AlertMessage is the human-readable text stored with an alert.
func AlertMessage(ev *models.ViolationEvent) string {
	return fmt.Sprintf("%s detected for subject %s (%d points)", ev.Category, ev.SubjectID, ev.Points)
}

// Emit stores and returns an unacknowledged alert, or returns nil, nil when
// the event is GREEN.
func (e *Emitter) Emit(ctx context.Context, ev *models.ViolationEvent) (*models.AlertRecord, error) {
	severity := e.Severity(ev.Points)
	if severity == models.SeverityGreen {
		return nil, nil
	}

	alert := &models.AlertRecord{
		SessionID: ev.SessionID,
		Severity:  severity,
		Message:   AlertMessage(ev),
		SubjectID: ev.SubjectID,
		Category:  ev.Category,
		Points:    ev.Points,
		Timestamp: ev.Timestamp,
	}
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}
	return alert, nil
}
