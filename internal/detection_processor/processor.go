package detection_processor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"proctor/internal/detection"
	"proctor/internal/metrics"
	"proctor/internal/models"
	"proctor/internal/repository"
	"proctor/internal/scoring"
)

// Live message types pushed to Broadcaster.
const (
	MessageDetectionBatch = "detection_batch"
	MessageAlert          = "alert"
	MessageSessionStats   = "session_stats"
)

// AlertNotifier delivers raised alerts to humans. NotifyAlert must not block
// the pipeline.
type AlertNotifier interface {
	NotifyAlert(alert models.AlertRecord)
}

// Broadcaster pushes live updates to dashboard clients watching a session.
type Broadcaster interface {
	Broadcast(sessionID int64, messageType string, payload interface{})
}

// Options configures the scoring pipeline.
type Options struct {
	Classifier *detection.Classifier
	Points     detection.PointTable
	Levels     detection.LevelThresholds
	Severity   detection.SeverityThresholds

	Cooldown      time.Duration
	SweepInterval time.Duration
	// HeadcountCooldown routes synthetic headcount events through the cooldown gate.
	HeadcountCooldown bool
	// DefaultExpectedCount is used for sessions created without an expected count.
	DefaultExpectedCount *int

	Notifier    AlertNotifier
	Broadcaster Broadcaster
}

// Processor turns raw detections into scored violations and owns the
// session lifecycle that gates them.
type Processor struct {
	sessions repository.SessionRepository
	events   repository.ViolationRepository
	scores   repository.ScoreRepository
	alerts   repository.AlertRepository

	classifier  *detection.Classifier
	points      detection.PointTable
	severity    detection.SeverityThresholds
	gate        *detection.CooldownGate
	accumulator *scoring.Accumulator
	emitter     *scoring.Emitter
	headcount   scoring.HeadcountReconciler

	headcountCooldown    bool
	defaultExpectedCount *int
	sweepInterval        time.Duration

	notifier    AlertNotifier
	broadcaster Broadcaster
	gates       *sessionGates
	pending     *pendingWrites

	now    func() time.Time
	logger *zap.Logger
}

// NewProcessor creates a new detection processor.
func NewProcessor(repos *repository.Repositories, opts Options, logger *zap.Logger) *Processor {
	if opts.Classifier == nil {
		opts.Classifier, _ = detection.NewClassifier(nil)
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}

	return &Processor{
		sessions:             repos.Sessions,
		events:               repos.Violations,
		scores:               repos.Scores,
		alerts:               repos.Alerts,
		classifier:           opts.Classifier,
		points:               opts.Points,
		severity:             opts.Severity,
		gate:                 detection.NewCooldownGate(opts.Cooldown),
		accumulator:          scoring.NewAccumulator(repos.Scores, opts.Levels, logger),
		emitter:              scoring.NewEmitter(repos.Alerts, opts.Severity),
		headcount:            scoring.NewHeadcountReconciler(),
		headcountCooldown:    opts.HeadcountCooldown,
		defaultExpectedCount: opts.DefaultExpectedCount,
		sweepInterval:        opts.SweepInterval,
		notifier:             opts.Notifier,
		broadcaster:          opts.Broadcaster,
		gates:                newSessionGates(),
		pending:              newPendingWrites(),
		now:                  time.Now,
		logger:               logger,
	}
}

// Run periodically drops expired cooldown keys until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Detection processor started.", zap.Duration("sweep_interval", p.sweepInterval))

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Detection processor stopped.")
			return
		case <-ticker.C:
			removed := p.gate.Sweep(p.now())
			metrics.CooldownKeys.Set(float64(p.gate.Len()))
			if removed > 0 {
				p.logger.Debug("Swept expired cooldown keys", zap.Int("removed", removed), zap.Int("remaining", p.gate.Len()))
			}
		}
	}
}

func (p *Processor) broadcast(sessionID int64, messageType string, payload interface{}) {
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(sessionID, messageType, payload)
	}
}

func (p *Processor) notify(alert *models.AlertRecord) {
	if alert == nil {
		return
	}
	metrics.AlertsRaised.WithLabelValues(string(alert.Severity)).Inc()
	if p.notifier != nil {
		p.notifier.NotifyAlert(*alert)
	}
	p.broadcast(alert.SessionID, MessageAlert, alert)
}

// sessionGate is one session's RW lock plus the number of goroutines holding
// or waiting on it.
type sessionGate struct {
	sync.RWMutex
	refs int
}

// sessionGates hands out one RW lock per session. Detection work holds the
// read side for its whole duration; lifecycle transitions take the write side
// and therefore wait for in-flight work. An entry only exists while someone
// holds it, so requests for unknown or ended sessions leave nothing behind.
type sessionGates struct {
	mu    sync.Mutex
	gates map[int64]*sessionGate
}

func newSessionGates() *sessionGates {
	return &sessionGates{gates: make(map[int64]*sessionGate)}
}

// acquire must be paired with release once the caller has unlocked the gate.
func (g *sessionGates) acquire(sessionID int64) *sessionGate {
	g.mu.Lock()
	defer g.mu.Unlock()
	gate, ok := g.gates[sessionID]
	if !ok {
		gate = &sessionGate{}
		g.gates[sessionID] = gate
	}
	gate.refs++
	return gate
}

func (g *sessionGates) release(sessionID int64, gate *sessionGate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gate.refs--
	if gate.refs == 0 {
		delete(g.gates, sessionID)
	}
}

func (g *sessionGates) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.gates)
}

// pendingWrite is a stored event whose score or alert write failed. The next
// admitted detection for the same key completes it instead of storing a
// second event.
type pendingWrite struct {
	event *models.ViolationEvent
	score *models.StudentScore
}

type pendingWrites struct {
	mu      sync.Mutex
	entries map[detection.CooldownKey]pendingWrite
}

func newPendingWrites() *pendingWrites {
	return &pendingWrites{entries: make(map[detection.CooldownKey]pendingWrite)}
}

func (w *pendingWrites) put(key detection.CooldownKey, pw pendingWrite) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[key] = pw
}

// take removes and returns the pending write for key, if any.
func (w *pendingWrites) take(key detection.CooldownKey) (pendingWrite, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pw, ok := w.entries[key]
	if ok {
		delete(w.entries, key)
	}
	return pw, ok
}

func (w *pendingWrites) forget(sessionID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key := range w.entries {
		if key.SessionID == sessionID {
			delete(w.entries, key)
		}
	}
}

func (w *pendingWrites) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
