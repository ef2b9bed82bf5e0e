package detection_processor

import "errors"

var (
	// ErrSessionNotFound is returned when the referenced session does not exist.
	// Nothing is mutated.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotActive is returned for detections against a session that is
	// not ACTIVE.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrInvalidTransition is returned for a lifecycle change the current
	// status does not allow.
	ErrInvalidTransition = errors.New("invalid session status transition")
	// ErrInvalidInput covers rejected request values such as a negative headcount.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEventNotFound is returned when resolving an unknown violation event.
	ErrEventNotFound = errors.New("violation event not found")
	// ErrAlertNotFound is returned when acknowledging an unknown alert.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrPersistence wraps storage failures. The caller may retry the same
	// detection: a failed write releases its cooldown admission, and an event
	// that was already stored is completed by the retry rather than stored twice.
	ErrPersistence = errors.New("persistence failure")
)
