package detection_processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"proctor/internal/models"
)

// Statuses each lifecycle operation may start from.
var (
	startFrom  = []models.SessionStatus{models.SessionPending}
	pauseFrom  = []models.SessionStatus{models.SessionActive}
	resumeFrom = []models.SessionStatus{models.SessionPaused}
	endFrom    = []models.SessionStatus{models.SessionActive, models.SessionPaused}
	cancelFrom = []models.SessionStatus{models.SessionPending, models.SessionActive, models.SessionPaused}
)

func canTransition(from models.SessionStatus, allowed []models.SessionStatus) bool {
	for _, s := range allowed {
		if s == from {
			return true
		}
	}
	return false
}

// GetSession returns the session or ErrSessionNotFound.
func (p *Processor) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	session, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load session: %w", ErrPersistence, err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

// ListSessions returns every session, newest first.
func (p *Processor) ListSessions(ctx context.Context) ([]models.Session, error) {
	sessions, err := p.sessions.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return sessions, nil
}

// ListActiveSessions returns the sessions currently accepting detections.
func (p *Processor) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	sessions, err := p.sessions.ListSessionsByStatus(ctx, models.SessionActive)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return sessions, nil
}

// CreateSession registers a PENDING session. A nil expected count falls back
// to the configured default, which may itself be unset.
func (p *Processor) CreateSession(ctx context.Context, name string, expected *int, streamURL string) (*models.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: session name is required", ErrInvalidInput)
	}
	if expected == nil && p.defaultExpectedCount != nil {
		v := *p.defaultExpectedCount
		expected = &v
	}
	if expected != nil && *expected < 0 {
		return nil, fmt.Errorf("%w: expected count must not be negative", ErrInvalidInput)
	}

	session := &models.Session{
		Name:          name,
		ExpectedCount: expected,
		Status:        models.SessionPending,
		StreamURL:     streamURL,
	}
	if err := p.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: failed to create session: %w", ErrPersistence, err)
	}

	p.logger.Info("Session created", zap.Int64("session_id", session.ID), zap.String("name", session.Name))
	return session, nil
}

// StartSession moves a PENDING session to ACTIVE. A non-empty streamURL
// replaces the stored one.
func (p *Processor) StartSession(ctx context.Context, sessionID int64, streamURL string) (*models.Session, error) {
	return p.transition(ctx, sessionID, models.SessionActive, startFrom, func(s *models.Session) error {
		now := p.now()
		s.StartTime = &now
		if streamURL != "" {
			s.StreamURL = streamURL
		}
		return nil
	})
}

// PauseSession stops the session from accepting detections. It waits for
// batches already in progress to finish.
func (p *Processor) PauseSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	return p.transition(ctx, sessionID, models.SessionPaused, pauseFrom, nil)
}

// ResumeSession moves a PAUSED session back to ACTIVE.
func (p *Processor) ResumeSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	return p.transition(ctx, sessionID, models.SessionActive, resumeFrom, nil)
}

// EndSession completes the session, stores its average subject score and
// violation total, and releases its cooldown state.
func (p *Processor) EndSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	session, err := p.transition(ctx, sessionID, models.SessionCompleted, endFrom, func(s *models.Session) error {
		scores, err := p.scores.ListScores(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("%w: failed to list scores: %w", ErrPersistence, err)
		}
		total, violations := 0, 0
		for i := range scores {
			total += scores[i].TotalScore
			violations += scores[i].ViolationCount
		}
		s.TotalScore = 0
		if len(scores) > 0 {
			s.TotalScore = float64(total) / float64(len(scores))
		}
		s.TotalViolations = violations
		now := p.now()
		s.EndTime = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stats, err := p.aggregate(ctx, sessionID); err == nil {
		p.broadcast(sessionID, MessageSessionStats, stats)
	}
	return session, nil
}

// CancelSession abandons a session that has not completed.
func (p *Processor) CancelSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	return p.transition(ctx, sessionID, models.SessionCancelled, cancelFrom, func(s *models.Session) error {
		now := p.now()
		s.EndTime = &now
		return nil
	})
}

// DeleteSession removes the session with its events, scores and alerts.
func (p *Processor) DeleteSession(ctx context.Context, sessionID int64) error {
	gate := p.gates.acquire(sessionID)
	defer p.gates.release(sessionID, gate)
	gate.Lock()
	defer gate.Unlock()

	if err := p.sessions.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("%w: failed to delete session: %w", ErrPersistence, err)
	}
	p.gate.Forget(sessionID)
	p.pending.forget(sessionID)

	p.logger.Info("Session deleted", zap.Int64("session_id", sessionID))
	return nil
}

func (p *Processor) transition(ctx context.Context, sessionID int64, to models.SessionStatus, from []models.SessionStatus, mutate func(*models.Session) error) (*models.Session, error) {
	gate := p.gates.acquire(sessionID)
	defer p.gates.release(sessionID, gate)
	gate.Lock()
	defer gate.Unlock()

	session, err := p.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	previous := session.Status
	if !canTransition(previous, from) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, previous, to)
	}

	session.Status = to
	if mutate != nil {
		if err := mutate(session); err != nil {
			return nil, err
		}
	}
	if err := p.sessions.UpdateSession(ctx, session); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: failed to update session: %w", ErrPersistence, err)
	}

	if to == models.SessionCompleted || to == models.SessionCancelled {
		p.gate.Forget(sessionID)
		p.pending.forget(sessionID)
	}

	p.logger.Info("Session status changed",
		zap.Int64("session_id", sessionID),
		zap.String("from", string(previous)),
		zap.String("to", string(to)),
	)
	return session, nil
}

// ResolveEvent marks a violation as reviewed. Category and points are untouched.
func (p *Processor) ResolveEvent(ctx context.Context, eventID int64) error {
	if err := p.events.ResolveEvent(ctx, eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrEventNotFound, eventID)
		}
		return fmt.Errorf("%w: failed to resolve event: %w", ErrPersistence, err)
	}
	return nil
}

// AcknowledgeAlert records who handled an alert.
func (p *Processor) AcknowledgeAlert(ctx context.Context, alertID int64, by string) (*models.AlertRecord, error) {
	if err := p.alerts.AcknowledgeAlert(ctx, alertID, by, p.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrAlertNotFound, alertID)
		}
		return nil, fmt.Errorf("%w: failed to acknowledge alert: %w", ErrPersistence, err)
	}
	alert, err := p.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if alert == nil {
		return nil, fmt.Errorf("%w: %d", ErrAlertNotFound, alertID)
	}
	return alert, nil
}

// ListEvents returns the session's violations, newest first.
func (p *Processor) ListEvents(ctx context.Context, sessionID int64) ([]models.ViolationEvent, error) {
	if _, err := p.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	events, err := p.events.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return events, nil
}

// ListScores returns the session's subject scores, highest first.
func (p *Processor) ListScores(ctx context.Context, sessionID int64) ([]models.StudentScore, error) {
	if _, err := p.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	scores, err := p.scores.ListScores(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return scores, nil
}

// ListAlerts returns the session's alerts, newest first.
func (p *Processor) ListAlerts(ctx context.Context, sessionID int64) ([]models.AlertRecord, error) {
	if _, err := p.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	alerts, err := p.alerts.ListAlerts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return alerts, nil
}
