package scoring

import (
	"proctor/internal/detection"
	"proctor/internal/models"
)

// Aggregate computes session statistics from committed events and scores. It
// has no side effects, so repeated calls over the same input are identical.
// The session severity is taken from the average score on the per-event scale.
func Aggregate(sessionID int64, events []models.ViolationEvent, scores []models.StudentScore, thresholds detection.SeverityThresholds) models.SessionStats {
	stats := models.SessionStats{
		SessionID:       sessionID,
		TotalDetections: len(events),
	}

	for i := range events {
		switch events[i].Category.Tally() {
		case models.TallyPhone:
			stats.PhoneCount++
		case models.TallyEarphone:
			stats.EarphoneCount++
		case models.TallyWatch:
			stats.WatchCount++
		case models.TallyChit:
			stats.ChitCount++
		case models.TallyTextbook:
			stats.TextbookCount++
		case models.TallyNotebook:
			stats.NotebookCount++
		default:
			stats.BehaviorCount++
		}
	}

	total := 0
	for i := range scores {
		s := scores[i]
		total += s.TotalScore
		if s.TotalScore > stats.MaxScore {
			stats.MaxScore = s.TotalScore
		}
		if s.AlertLevel.Elevated() {
			stats.SuspiciousStudents++
		}
	}
	stats.NormalStudents = len(scores) - stats.SuspiciousStudents
	if len(scores) > 0 {
		stats.AverageScore = float64(total) / float64(len(scores))
	}
	stats.AlertLevel = thresholds.SeverityOf(stats.AverageScore)
	return stats
}
