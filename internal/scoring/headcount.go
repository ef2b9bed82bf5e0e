package scoring

import (
	"fmt"

	"proctor/internal/models"
)

// MissingSubject is the subject id of the single deficit event.
const MissingSubject = "missing"

// Headcount events carry fixed points. The configurable point table does not
// apply to them.
const (
	SurplusPoints = 50
	DeficitPoints = 40
)

// SyntheticEvent is a violation derived from a headcount discrepancy rather
// than from the classifier.
type SyntheticEvent struct {
	SubjectID string
	Category  models.Category
	Points    int
}

// HeadcountReconciler compares detected and expected population.
type HeadcountReconciler struct{}

func NewHeadcountReconciler() HeadcountReconciler {
	return HeadcountReconciler{}
}

// Reconcile returns one EXTRA_PERSON event per surplus head, exactly one
// HEAD_COUNT_MISMATCH event for any deficit, and nothing when the counts match
// or no expectation is set.
func (r HeadcountReconciler) Reconcile(expected *int, detected int) []SyntheticEvent {
	if expected == nil || detected == *expected {
		return nil
	}

	if detected > *expected {
		surplus := detected - *expected
		events := make([]SyntheticEvent, 0, surplus)
		for i := 1; i <= surplus; i++ {
			events = append(events, SyntheticEvent{
				SubjectID: fmt.Sprintf("extra_%d", i),
				Category:  models.CategoryExtraPerson,
				Points:    SurplusPoints,
			})
		}
		return events
	}

	// A deficit is one event whatever its size; a surplus is one per extra head.
	return []SyntheticEvent{{
		SubjectID: MissingSubject,
		Category:  models.CategoryHeadCountMismatch,
		Points:    DeficitPoints,
	}}
}
