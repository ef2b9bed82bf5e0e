package models

import "time"

// SessionStats is the on-demand aggregate of a session's committed events and scores.
type SessionStats struct {
	SessionID          int64    `json:"session_id"`
	TotalDetections    int      `json:"total_detections"`
	PhoneCount         int      `json:"phone_count"`
	EarphoneCount      int      `json:"earphone_count"`
	WatchCount         int      `json:"watch_count"`
	ChitCount          int      `json:"chit_count"`
	TextbookCount      int      `json:"textbook_count"`
	NotebookCount      int      `json:"notebook_count"`
	BehaviorCount      int      `json:"behavior_count"`
	AverageScore       float64  `json:"average_score"`
	MaxScore           int      `json:"max_score"`
	SuspiciousStudents int      `json:"suspicious_students"`
	NormalStudents     int      `json:"normal_students"`
	AlertLevel         Severity `json:"alert_level"`
}

// SummaryStats is the headline block of a session report.
type SummaryStats struct {
	TotalDetections    int     `json:"total_detections"`
	CriticalAlerts     int     `json:"critical_alerts"`
	AverageScore       float64 `json:"average_score"`
	MaxScore           int     `json:"max_score"`
	SuspiciousStudents int     `json:"suspicious_students"`
	NormalStudents     int     `json:"normal_students"`
}

// SessionReport is the post-session (or in-progress) report for one session.
type SessionReport struct {
	SessionID          int64            `json:"session_id"`
	SessionName        string           `json:"session_name"`
	Status             SessionStatus    `json:"status"`
	StartTime          *time.Time       `json:"start_time,omitempty"`
	EndTime            *time.Time       `json:"end_time,omitempty"`
	ExpectedCount      *int             `json:"expected_count"`
	ActualCount        int              `json:"actual_count"`
	MissingCount       int              `json:"missing_count"`
	Summary            SummaryStats     `json:"summary_stats"`
	TopStudents        []StudentScore   `json:"top_students"`
	RecentDetections   []ViolationEvent `json:"recent_detections"`
	RecentAlerts       []AlertRecord    `json:"recent_alerts"`
	ViolationBreakdown map[Category]int `json:"violation_breakdown"`
}

// Dashboard is the cross-session overview.
type Dashboard struct {
	TotalSessions     int       `json:"total_sessions"`
	ActiveSessions    int       `json:"active_sessions"`
	CompletedSessions int       `json:"completed_sessions"`
	RecentSessions    []Session `json:"recent_sessions"`
}
