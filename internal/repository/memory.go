package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"proctor/internal/models"
)

// MemoryStore implements every repository in process memory. It is used when
// database.driver is "memory" and in tests. Values are copied in and out so
// callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	nextID   int64
	sessions map[int64]models.Session
	events   map[int64]models.ViolationEvent
	scores   map[scoreKey]models.StudentScore
	alerts   map[int64]models.AlertRecord
	users    map[string]models.User
}

type scoreKey struct {
	sessionID  int64
	trackingID string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		sessions: make(map[int64]models.Session),
		events:   make(map[int64]models.ViolationEvent),
		scores:   make(map[scoreKey]models.StudentScore),
		alerts:   make(map[int64]models.AlertRecord),
		users:    make(map[string]models.User),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	session.ID = s.id()
	session.CreatedAt = now
	session.UpdatedAt = now
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id int64) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]models.Session, error) {
	return s.filterSessions(func(models.Session) bool { return true }), nil
}

func (s *MemoryStore) ListSessionsByStatus(_ context.Context, status models.SessionStatus) ([]models.Session, error) {
	return s.filterSessions(func(session models.Session) bool { return session.Status == status }), nil
}

func (s *MemoryStore) filterSessions(keep func(models.Session) bool) []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := []models.Session{}
	for _, session := range s.sessions {
		if keep(session) {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID > sessions[j].ID
	})
	return sessions
}

func (s *MemoryStore) UpdateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok {
		return sql.ErrNoRows
	}
	session.CreatedAt = stored.CreatedAt
	session.UpdatedAt = s.now()
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemoryStore) UpdateActualCount(_ context.Context, id int64, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	session.ActualCount = count
	session.UpdatedAt = s.now()
	s.sessions[id] = session
	return nil
}

// DeleteSession mirrors the ON DELETE CASCADE of the SQL schema.
func (s *MemoryStore) DeleteSession(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.sessions, id)
	for eid, ev := range s.events {
		if ev.SessionID == id {
			delete(s.events, eid)
		}
	}
	for key := range s.scores {
		if key.sessionID == id {
			delete(s.scores, key)
		}
	}
	for aid, alert := range s.alerts {
		if alert.SessionID == id {
			delete(s.alerts, aid)
		}
	}
	return nil
}

func (s *MemoryStore) SaveEvent(_ context.Context, event *models.ViolationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.SetBoundingBox(event.BoundingBox)
	event.ID = s.id()
	event.CreatedAt = s.now()
	stored := *event
	if event.BoundingBox != nil {
		box := *event.BoundingBox
		stored.SetBoundingBox(&box)
	}
	s.events[event.ID] = stored
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id int64) (*models.ViolationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	event.LoadBoundingBox()
	return &event, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, sessionID int64) ([]models.ViolationEvent, error) {
	return s.sessionEvents(sessionID, 0), nil
}

func (s *MemoryStore) RecentEvents(_ context.Context, sessionID int64, limit int) ([]models.ViolationEvent, error) {
	return s.sessionEvents(sessionID, limit), nil
}

func (s *MemoryStore) sessionEvents(sessionID int64, limit int) []models.ViolationEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := []models.ViolationEvent{}
	for _, ev := range s.events {
		if ev.SessionID == sessionID {
			ev.LoadBoundingBox()
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		return events[i].ID > events[j].ID
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

func (s *MemoryStore) ResolveEvent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return sql.ErrNoRows
	}
	event.Resolved = true
	s.events[id] = event
	return nil
}

func (s *MemoryStore) GetScore(_ context.Context, sessionID int64, trackingID string) (*models.StudentScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[scoreKey{sessionID, trackingID}]
	if !ok {
		return nil, nil
	}
	return &score, nil
}

func (s *MemoryStore) SaveScore(_ context.Context, score *models.StudentScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scoreKey{score.SessionID, score.TrackingID}
	if existing, ok := s.scores[key]; ok {
		score.ID = existing.ID
		score.FirstSeen = existing.FirstSeen
	} else {
		score.ID = s.id()
	}
	now := s.now()
	score.UpdatedAt = &now
	s.scores[key] = *score
	return nil
}

func (s *MemoryStore) ListScores(_ context.Context, sessionID int64) ([]models.StudentScore, error) {
	return s.sessionScores(sessionID, 0), nil
}

func (s *MemoryStore) TopScores(_ context.Context, sessionID int64, limit int) ([]models.StudentScore, error) {
	return s.sessionScores(sessionID, limit), nil
}

func (s *MemoryStore) sessionScores(sessionID int64, limit int) []models.StudentScore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scores := []models.StudentScore{}
	for key, score := range s.scores {
		if key.sessionID == sessionID {
			scores = append(scores, score)
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].TotalScore != scores[j].TotalScore {
			return scores[i].TotalScore > scores[j].TotalScore
		}
		return scores[i].TrackingID < scores[j].TrackingID
	})
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}

func (s *MemoryStore) SaveAlert(_ context.Context, alert *models.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert.ID = s.id()
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *MemoryStore) GetAlert(_ context.Context, id int64) (*models.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, nil
	}
	return &alert, nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, sessionID int64) ([]models.AlertRecord, error) {
	return s.sessionAlerts(sessionID, 0), nil
}

func (s *MemoryStore) RecentAlerts(_ context.Context, sessionID int64, limit int) ([]models.AlertRecord, error) {
	return s.sessionAlerts(sessionID, limit), nil
}

func (s *MemoryStore) sessionAlerts(sessionID int64, limit int) []models.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alerts := []models.AlertRecord{}
	for _, alert := range s.alerts {
		if alert.SessionID == sessionID {
			alerts = append(alerts, alert)
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].Timestamp.Equal(alerts[j].Timestamp) {
			return alerts[i].Timestamp.After(alerts[j].Timestamp)
		}
		return alerts[i].ID > alerts[j].ID
	})
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts
}

func (s *MemoryStore) AcknowledgeAlert(_ context.Context, id int64, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return sql.ErrNoRows
	}
	alert.Acknowledged = true
	if alert.AcknowledgedBy == nil {
		alert.AcknowledgedBy = &by
	}
	if alert.AcknowledgedAt == nil {
		alert.AcknowledgedAt = &at
	}
	s.alerts[id] = alert
	return nil
}

// CreateUser fails with ErrDuplicateUser when the name is taken, matching the
// unique constraint on users.username.
func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Username]; ok {
		return ErrDuplicateUser
	}
	user.ID = s.id()
	user.CreatedAt = s.now()
	s.users[user.Username] = *user
	return nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *MemoryStore) CountUsers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}
