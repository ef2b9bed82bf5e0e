package repository

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Repositories bundles every store the service depends on.
type Repositories struct {
	Sessions   SessionRepository
	Violations ViolationRepository
	Scores     ScoreRepository
	Alerts     AlertRepository
	Users      AuthRepository
}

// NewPostgresRepositories builds the sqlx-backed repositories over db.
func NewPostgresRepositories(db *sqlx.DB, logger *zap.Logger) *Repositories {
	return &Repositories{
		Sessions:   NewSessionRepository(db, logger),
		Violations: NewViolationRepository(db, logger),
		Scores:     NewScoreRepository(db, logger),
		Alerts:     NewAlertRepository(db, logger),
		Users:      NewAuthRepository(db, logger),
	}
}

// NewMemoryRepositories builds repositories over a single in-process store.
func NewMemoryRepositories() *Repositories {
	store := NewMemoryStore()
	return &Repositories{
		Sessions:   store,
		Violations: store,
		Scores:     store,
		Alerts:     store,
		Users:      store,
	}
}
