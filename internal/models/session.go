package models

import "time"

// SessionStatus is the lifecycle state of an exam session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// Session represents a monitored exam stored in the 'exam_sessions' table.
type Session struct {
	ID              int64         `db:"id" json:"id"`
	Name            string        `db:"name" json:"name"`
	ExpectedCount   *int          `db:"expected_count" json:"expected_count"` // Nullable: no headcount reconciliation when unset
	ActualCount     int           `db:"actual_count" json:"actual_count"`
	Status          SessionStatus `db:"status" json:"status"`
	StreamURL       string        `db:"stream_url" json:"stream_url,omitempty"`
	StartTime       *time.Time    `db:"start_time" json:"start_time,omitempty"`
	EndTime         *time.Time    `db:"end_time" json:"end_time,omitempty"`
	TotalScore      float64       `db:"total_score" json:"total_score"` // Average subject score, set when the session ends
	TotalViolations int           `db:"total_violations" json:"total_violations"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// AcceptsDetections reports whether new detections may be scored for the session.
func (s *Session) AcceptsDetections() bool {
	return s.Status == SessionActive
}
