package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"proctor/internal/detection"
	"proctor/internal/detection_processor"
	"proctor/internal/models"
	"proctor/internal/repository"
	"proctor/internal/scoring"
)

const (
	reportTopStudents      = 10
	reportRecentDetections = 20
	reportRecentAlerts     = 10
	dashboardRecentSession = 5
)

type ReportService interface {
	SessionReport(ctx context.Context, sessionID int64) (*models.SessionReport, error)
	Dashboard(ctx context.Context) (*models.Dashboard, error)
}

type reportService struct {
	repos      *repository.Repositories
	thresholds detection.SeverityThresholds
	logger     *zap.Logger
}

func NewReportService(repos *repository.Repositories, thresholds detection.SeverityThresholds, logger *zap.Logger) ReportService {
	return &reportService{repos: repos, thresholds: thresholds, logger: logger}
}

// SessionReport builds the report of a session in any status. Errors wrap the
// detection_processor sentinels so handlers map them the same way.
func (s *reportService) SessionReport(ctx context.Context, sessionID int64) (*models.SessionReport, error) {
	session, err := s.repos.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, persistence("failed to load session", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %d", detection_processor.ErrSessionNotFound, sessionID)
	}

	events, err := s.repos.Violations.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, persistence("failed to list events", err)
	}
	scores, err := s.repos.Scores.ListScores(ctx, sessionID)
	if err != nil {
		return nil, persistence("failed to list scores", err)
	}
	alerts, err := s.repos.Alerts.ListAlerts(ctx, sessionID)
	if err != nil {
		return nil, persistence("failed to list alerts", err)
	}

	stats := scoring.Aggregate(sessionID, events, scores, s.thresholds)

	breakdown := make(map[models.Category]int)
	for i := range events {
		breakdown[events[i].Category]++
	}
	critical := 0
	for i := range alerts {
		if alerts[i].Severity.AtLeast(models.SeverityRed) {
			critical++
		}
	}

	report := &models.SessionReport{
		SessionID:     session.ID,
		SessionName:   session.Name,
		Status:        session.Status,
		StartTime:     session.StartTime,
		EndTime:       session.EndTime,
		ExpectedCount: session.ExpectedCount,
		ActualCount:   session.ActualCount,
		Summary: models.SummaryStats{
			TotalDetections:    stats.TotalDetections,
			CriticalAlerts:     critical,
			AverageScore:       stats.AverageScore,
			MaxScore:           stats.MaxScore,
			SuspiciousStudents: stats.SuspiciousStudents,
			NormalStudents:     stats.NormalStudents,
		},
		TopStudents:        head(scores, reportTopStudents),
		RecentDetections:   head(events, reportRecentDetections),
		RecentAlerts:       head(alerts, reportRecentAlerts),
		ViolationBreakdown: breakdown,
	}
	if session.ExpectedCount != nil && *session.ExpectedCount > session.ActualCount {
		report.MissingCount = *session.ExpectedCount - session.ActualCount
	}

	s.logger.Debug("Session report generated",
		zap.Int64("session_id", sessionID),
		zap.Int("detections", stats.TotalDetections),
		zap.Int("students", len(scores)),
	)
	return report, nil
}

// Dashboard summarises every session.
func (s *reportService) Dashboard(ctx context.Context) (*models.Dashboard, error) {
	sessions, err := s.repos.Sessions.ListSessions(ctx)
	if err != nil {
		return nil, persistence("failed to list sessions", err)
	}

	dashboard := &models.Dashboard{
		TotalSessions:  len(sessions),
		RecentSessions: head(sessions, dashboardRecentSession),
	}
	for i := range sessions {
		switch sessions[i].Status {
		case models.SessionActive:
			dashboard.ActiveSessions++
		case models.SessionCompleted:
			dashboard.CompletedSessions++
		}
	}
	return dashboard, nil
}

// head relies on the repositories already returning rows in report order.
func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	if items == nil {
		return []T{}
	}
	return items
}

func persistence(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", detection_processor.ErrPersistence, msg, err)
}
