package detection_processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"proctor/internal/detection"
	"proctor/internal/metrics"
	"proctor/internal/models"
	"proctor/internal/scoring"
)

// HeadCount carries the number of people the pipeline saw in a frame.
type HeadCount struct {
	Detected int `json:"detected"`
}

// Batch is one frame's worth of detections, optionally with a headcount.
type Batch struct {
	SessionID   int64                 `json:"session_id"`
	FrameNumber *int                  `json:"frame_number,omitempty"`
	Timestamp   *time.Time            `json:"timestamp,omitempty"`
	Detections  []detection.Detection `json:"detections"`
	HeadCount   *HeadCount            `json:"head_count,omitempty"`
	// Source labels metrics, e.g. "http" or "kafka".
	Source string `json:"-"`
}

// HeadCountResult reports the reconciliation done for a batch.
type HeadCountResult struct {
	Detected int  `json:"detected"`
	Expected *int `json:"expected"`
	Missing  int  `json:"missing"`
}

// BatchResult is returned to the caller and broadcast to live clients.
type BatchResult struct {
	BatchID       string                         `json:"batch_id"`
	SessionID     int64                          `json:"session_id"`
	FrameNumber   *int                           `json:"frame_number,omitempty"`
	Timestamp     time.Time                      `json:"timestamp"`
	Received      int                            `json:"received"`
	Suppressed    int                            `json:"suppressed"`
	Events        []models.ViolationEvent        `json:"detections"`
	Alerts        []models.AlertRecord           `json:"alerts"`
	HeadCount     *HeadCountResult               `json:"head_count,omitempty"`
	StudentScores map[string]models.StudentScore `json:"student_scores"`
	SessionStats  *models.SessionStats           `json:"session_stats,omitempty"`
}

// outcome is everything one admitted detection produced.
type outcome struct {
	event *models.ViolationEvent
	score *models.StudentScore
	alert *models.AlertRecord
}

// ProcessDetection scores a single raw detection. A detection suppressed by
// the cooldown gate returns nil, nil.
func (p *Processor) ProcessDetection(ctx context.Context, sessionID int64, d detection.Detection) (*models.ViolationEvent, error) {
	gate := p.gates.acquire(sessionID)
	defer p.gates.release(sessionID, gate)
	gate.RLock()
	defer gate.RUnlock()

	session, err := p.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	metrics.DetectionsReceived.WithLabelValues("single").Inc()
	n := detection.Normalize(d, p.classifier, p.now())
	out, err := p.record(ctx, session, n, p.points.Points(n.Category, n.Confidence), true)
	if err != nil || out == nil {
		return nil, err
	}
	p.notify(out.alert)
	return out.event, nil
}

// ProcessBatch scores every detection of a batch in order, then reconciles
// the headcount if one is present. On a storage failure the detections
// already recorded stay recorded and the partial result is returned with the
// error.
func (p *Processor) ProcessBatch(ctx context.Context, batch Batch) (*BatchResult, error) {
	started := time.Now()
	defer func() { metrics.RecordBatch(time.Since(started)) }()

	gate := p.gates.acquire(batch.SessionID)
	defer p.gates.release(batch.SessionID, gate)
	gate.RLock()
	defer gate.RUnlock()

	session, err := p.activeSession(ctx, batch.SessionID)
	if err != nil {
		return nil, err
	}
	if batch.HeadCount != nil && batch.HeadCount.Detected < 0 {
		return nil, fmt.Errorf("%w: detected headcount must not be negative", ErrInvalidInput)
	}

	source := batch.Source
	if source == "" {
		source = "http"
	}
	now := p.now()
	result := &BatchResult{
		BatchID:       uuid.NewString(),
		SessionID:     session.ID,
		FrameNumber:   batch.FrameNumber,
		Timestamp:     now,
		Received:      len(batch.Detections),
		Events:        []models.ViolationEvent{},
		Alerts:        []models.AlertRecord{},
		StudentScores: map[string]models.StudentScore{},
	}
	if batch.Timestamp != nil && !batch.Timestamp.IsZero() {
		result.Timestamp = *batch.Timestamp
	}
	metrics.DetectionsReceived.WithLabelValues(source).Add(float64(len(batch.Detections)))

	for _, d := range batch.Detections {
		if d.Timestamp == nil && batch.Timestamp != nil {
			d.Timestamp = batch.Timestamp
		}
		n := detection.Normalize(d, p.classifier, now)
		out, err := p.record(ctx, session, n, p.points.Points(n.Category, n.Confidence), true)
		if err != nil {
			return result, err
		}
		if out == nil {
			result.Suppressed++
			continue
		}
		result.add(out)
		p.notify(out.alert)
	}

	if batch.HeadCount != nil {
		outs, suppressed, err := p.reconcile(ctx, session, batch.HeadCount.Detected, result.Timestamp)
		result.Suppressed += suppressed
		result.HeadCount = &HeadCountResult{
			Detected: batch.HeadCount.Detected,
			Expected: session.ExpectedCount,
			Missing:  missing(session.ExpectedCount, batch.HeadCount.Detected),
		}
		for _, out := range outs {
			result.add(out)
			p.notify(out.alert)
		}
		if err != nil {
			return result, err
		}
	}

	stats, err := p.aggregate(ctx, session.ID)
	if err != nil {
		return result, err
	}
	result.SessionStats = stats

	p.logger.Debug("Processed detection batch",
		zap.String("batch_id", result.BatchID),
		zap.Int64("session_id", session.ID),
		zap.Int("received", result.Received),
		zap.Int("recorded", len(result.Events)),
		zap.Int("suppressed", result.Suppressed),
	)
	p.broadcast(session.ID, MessageDetectionBatch, result)
	p.broadcast(session.ID, MessageSessionStats, stats)
	return result, nil
}

func (r *BatchResult) add(out *outcome) {
	r.Events = append(r.Events, *out.event)
	if out.score != nil {
		r.StudentScores[out.score.TrackingID] = *out.score
	}
	if out.alert != nil {
		r.Alerts = append(r.Alerts, *out.alert)
	}
}

func missing(expected *int, detected int) int {
	if expected == nil || detected >= *expected {
		return 0
	}
	return *expected - detected
}

// ReconcileHeadcount records the detected population of an active session and
// raises EXTRA_PERSON or HEAD_COUNT_MISMATCH violations for any discrepancy
// with the expected count.
func (p *Processor) ReconcileHeadcount(ctx context.Context, sessionID int64, detected int) ([]models.ViolationEvent, error) {
	if detected < 0 {
		return nil, fmt.Errorf("%w: detected headcount must not be negative", ErrInvalidInput)
	}

	gate := p.gates.acquire(sessionID)
	defer p.gates.release(sessionID, gate)
	gate.RLock()
	defer gate.RUnlock()

	session, err := p.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	outs, _, err := p.reconcile(ctx, session, detected, p.now())
	events := make([]models.ViolationEvent, 0, len(outs))
	for _, out := range outs {
		events = append(events, *out.event)
		p.notify(out.alert)
	}
	return events, err
}

// reconcile also reports how many synthetic events the cooldown gate suppressed.
func (p *Processor) reconcile(ctx context.Context, session *models.Session, detected int, at time.Time) ([]*outcome, int, error) {
	metrics.DetectionsReceived.WithLabelValues("headcount").Inc()
	if err := p.sessions.UpdateActualCount(ctx, session.ID, detected); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to update actual count: %w", ErrPersistence, err)
	}
	session.ActualCount = detected

	synthetic := p.headcount.Reconcile(session.ExpectedCount, detected)
	outs := make([]*outcome, 0, len(synthetic))
	suppressed := 0
	for _, s := range synthetic {
		n := detection.Normalized{
			SubjectID:   s.SubjectID,
			Category:    s.Category,
			Confidence:  1.0,
			Timestamp:   at,
			Description: headcountDescription(s, session.ExpectedCount, detected),
		}
		out, err := p.record(ctx, session, n, s.Points, p.headcountCooldown)
		if err != nil {
			return outs, suppressed, err
		}
		if out == nil {
			suppressed++
			continue
		}
		outs = append(outs, out)
	}

	if len(synthetic) > 0 {
		p.logger.Info("Headcount discrepancy",
			zap.Int64("session_id", session.ID),
			zap.Intp("expected", session.ExpectedCount),
			zap.Int("detected", detected),
			zap.Int("recorded", len(outs)),
			zap.Int("suppressed", suppressed),
		)
	}
	return outs, suppressed, nil
}

func headcountDescription(s scoring.SyntheticEvent, expected *int, detected int) string {
	if s.Category == models.CategoryExtraPerson {
		return fmt.Sprintf("Extra person detected: %d present, %d expected", detected, *expected)
	}
	return fmt.Sprintf("Head count mismatch: %d missing", *expected-detected)
}

// record runs one normalized detection through cooldown, persistence, scoring
// and alerting. It returns nil, nil when the cooldown gate suppresses it.
func (p *Processor) record(ctx context.Context, session *models.Session, n detection.Normalized, points int, cooldown bool) (*outcome, error) {
	key := detection.CooldownKey{SessionID: session.ID, SubjectID: n.SubjectID, Category: n.Category}
	admittedAt := p.now()
	if cooldown && !p.gate.Admit(key, admittedAt) {
		metrics.DetectionsSuppressed.WithLabelValues(string(n.Category)).Inc()
		p.logger.Debug("Detection suppressed by cooldown",
			zap.Int64("session_id", session.ID),
			zap.String("subject_id", n.SubjectID),
			zap.String("category", string(n.Category)),
		)
		return nil, nil
	}

	pending, resumed := p.pending.take(key)
	event, score := pending.event, pending.score
	if resumed {
		p.logger.Info("Completing violation left unscored by an earlier failure",
			zap.Int64("session_id", session.ID),
			zap.Int64("event_id", event.ID),
			zap.String("subject_id", event.SubjectID),
		)
	} else {
		event = &models.ViolationEvent{
			SessionID:   session.ID,
			Timestamp:   n.Timestamp,
			SubjectID:   n.SubjectID,
			Category:    n.Category,
			Description: n.Description,
			Confidence:  n.Confidence,
			Points:      points,
		}
		event.SetBoundingBox(n.BoundingBox)

		if err := p.events.SaveEvent(ctx, event); err != nil {
			if cooldown {
				p.gate.Revert(key, admittedAt)
			}
			metrics.PersistenceFailures.WithLabelValues("event").Inc()
			p.logger.Error("Failed to save violation event, detection dropped",
				zap.Int64("session_id", session.ID),
				zap.String("subject_id", n.SubjectID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: failed to save violation event: %w", ErrPersistence, err)
		}
		metrics.ViolationsRecorded.WithLabelValues(string(event.Category)).Inc()
	}

	// A failure past this point keeps the stored event pending under key and
	// releases the admission, so the retry finishes it.
	fail := func(stage string, err error) (*outcome, error) {
		p.pending.put(key, pendingWrite{event: event, score: score})
		if cooldown {
			p.gate.Revert(key, admittedAt)
		}
		metrics.PersistenceFailures.WithLabelValues(stage).Inc()
		p.logger.Error("Violation stored but not fully processed",
			zap.String("stage", stage),
			zap.Int64("event_id", event.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if score == nil {
		var err error
		score, err = p.accumulator.Apply(ctx, session.ID, event.SubjectID, event.Category, event.Points, event.Timestamp)
		if err != nil {
			return fail("score", err)
		}
	}

	alert, err := p.emitter.Emit(ctx, event)
	if err != nil {
		return fail("alert", err)
	}

	p.logger.Info("Violation recorded",
		zap.Int64("session_id", session.ID),
		zap.Int64("event_id", event.ID),
		zap.String("subject_id", event.SubjectID),
		zap.String("category", string(event.Category)),
		zap.Int("points", event.Points),
		zap.Int("total_score", score.TotalScore),
	)
	return &outcome{event: event, score: score, alert: alert}, nil
}

// SessionStats aggregates the committed events and scores of a session.
func (p *Processor) SessionStats(ctx context.Context, sessionID int64) (*models.SessionStats, error) {
	if _, err := p.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return p.aggregate(ctx, sessionID)
}

func (p *Processor) aggregate(ctx context.Context, sessionID int64) (*models.SessionStats, error) {
	events, err := p.events.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list events: %w", ErrPersistence, err)
	}
	scores, err := p.scores.ListScores(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list scores: %w", ErrPersistence, err)
	}
	stats := scoring.Aggregate(sessionID, events, scores, p.severity)
	return &stats, nil
}

// activeSession loads the session and requires it to accept detections.
func (p *Processor) activeSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	session, err := p.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.AcceptsDetections() {
		return nil, fmt.Errorf("%w: session %d is %s", ErrSessionNotActive, sessionID, session.Status)
	}
	return session, nil
}
