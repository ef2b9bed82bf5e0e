package models

import "time"

// Category is the closed set of violation kinds produced by the classifier.
type Category string

const (
	CategoryPhone               Category = "PHONE"
	CategoryEarphone            Category = "EARPHONE"
	CategorySmartwatch          Category = "SMARTWATCH"
	CategoryChit                Category = "CHIT"
	CategoryTextbook            Category = "TEXTBOOK"
	CategoryNotebook            Category = "NOTEBOOK"
	CategoryElectronicDevice    Category = "ELECTRONIC_DEVICE"
	CategoryHeadTurned          Category = "HEAD_TURNED"
	CategoryLookingAtNeighbor   Category = "LOOKING_AT_NEIGHBOR"
	CategoryLeaningTowardOther  Category = "LEANING_TOWARD_OTHER"
	CategoryPassingGesture      Category = "PASSING_GESTURE"
	CategoryHeadCountMismatch   Category = "HEAD_COUNT_MISMATCH"
	CategoryExtraPerson         Category = "EXTRA_PERSON"
	CategoryInteractionDetected Category = "INTERACTION_DETECTED"
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategoryPhone,
	CategoryEarphone,
	CategorySmartwatch,
	CategoryChit,
	CategoryTextbook,
	CategoryNotebook,
	CategoryElectronicDevice,
	CategoryHeadTurned,
	CategoryLookingAtNeighbor,
	CategoryLeaningTowardOther,
	CategoryPassingGesture,
	CategoryHeadCountMismatch,
	CategoryExtraPerson,
	CategoryInteractionDetected,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Tally is the per-subject counter a category is folded into.
type Tally string

const (
	TallyPhone    Tally = "phone"
	TallyEarphone Tally = "earphone"
	TallyWatch    Tally = "watch"
	TallyChit     Tally = "chit"
	TallyTextbook Tally = "textbook"
	TallyNotebook Tally = "notebook"
	TallyBehavior Tally = "behavior"
)

// Tally maps the category onto one of the six named counters; everything else
// is counted as behaviour.
func (c Category) Tally() Tally {
	switch c {
	case CategoryPhone:
		return TallyPhone
	case CategoryEarphone:
		return TallyEarphone
	case CategorySmartwatch:
		return TallyWatch
	case CategoryChit:
		return TallyChit
	case CategoryTextbook:
		return TallyTextbook
	case CategoryNotebook:
		return TallyNotebook
	default:
		return TallyBehavior
	}
}

// BoundingBox is the pixel region reported by the vision pipeline.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ViolationEvent represents an admitted detection stored in the 'violation_events' table.
// Category and Points never change after the row is written.
type ViolationEvent struct {
	ID          int64     `db:"id" json:"id"`
	SessionID   int64     `db:"session_id" json:"session_id"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	Category    Category  `db:"category" json:"category"`
	Description string    `db:"description" json:"description,omitempty"`
	Confidence  float64   `db:"confidence" json:"confidence"`
	Points      int       `db:"points" json:"points"`
	BoxX        *int      `db:"bounding_box_x" json:"-"`
	BoxY        *int      `db:"bounding_box_y" json:"-"`
	BoxWidth    *int      `db:"bounding_box_width" json:"-"`
	BoxHeight   *int      `db:"bounding_box_height" json:"-"`
	Resolved    bool      `db:"is_resolved" json:"resolved"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	BoundingBox *BoundingBox `db:"-" json:"bounding_box,omitempty"`
}

// SetBoundingBox copies box into the nullable column fields.
func (e *ViolationEvent) SetBoundingBox(box *BoundingBox) {
	e.BoundingBox = box
	if box == nil {
		e.BoxX, e.BoxY, e.BoxWidth, e.BoxHeight = nil, nil, nil, nil
		return
	}
	x, y, w, h := box.X, box.Y, box.Width, box.Height
	e.BoxX, e.BoxY, e.BoxWidth, e.BoxHeight = &x, &y, &w, &h
}

// LoadBoundingBox rebuilds BoundingBox from the column fields after a scan.
func (e *ViolationEvent) LoadBoundingBox() {
	if e.BoxX == nil || e.BoxY == nil || e.BoxWidth == nil || e.BoxHeight == nil {
		e.BoundingBox = nil
		return
	}
	e.BoundingBox = &BoundingBox{X: *e.BoxX, Y: *e.BoxY, Width: *e.BoxWidth, Height: *e.BoxHeight}
}

// AlertLevel is the 4-tier cumulative risk of a subject, derived from its total score.
type AlertLevel string

const (
	LevelNormal     AlertLevel = "NORMAL"
	LevelWatch      AlertLevel = "WATCH"
	LevelSuspicious AlertLevel = "SUSPICIOUS"
	LevelCritical   AlertLevel = "CRITICAL"
)

// Elevated reports whether the level counts as a suspicious subject in statistics.
func (l AlertLevel) Elevated() bool {
	return l == LevelSuspicious || l == LevelCritical
}

// StudentScore represents a subject's running score stored in the 'student_scores' table.
type StudentScore struct {
	ID             int64      `db:"id" json:"id"`
	SessionID      int64      `db:"session_id" json:"session_id"`
	TrackingID     string     `db:"tracking_id" json:"tracking_id"`
	TotalScore     int        `db:"total_score" json:"total_score"`
	ViolationCount int        `db:"violation_count" json:"violation_count"`
	AlertLevel     AlertLevel `db:"alert_level" json:"alert_level"`
	PhoneCount     int        `db:"phone_count" json:"phone_count"`
	EarphoneCount  int        `db:"earphone_count" json:"earphone_count"`
	WatchCount     int        `db:"watch_count" json:"watch_count"`
	ChitCount      int        `db:"chit_count" json:"chit_count"`
	TextbookCount  int        `db:"textbook_count" json:"textbook_count"`
	NotebookCount  int        `db:"notebook_count" json:"notebook_count"`
	BehaviorCount  int        `db:"behavior_count" json:"behavior_count"`
	FirstSeen      time.Time  `db:"first_seen" json:"first_seen"`
	LastSeen       time.Time  `db:"last_seen" json:"last_seen"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Increment bumps the counter for the given tally bucket.
func (s *StudentScore) Increment(t Tally) {
	switch t {
	case TallyPhone:
		s.PhoneCount++
	case TallyEarphone:
		s.EarphoneCount++
	case TallyWatch:
		s.WatchCount++
	case TallyChit:
		s.ChitCount++
	case TallyTextbook:
		s.TextbookCount++
	case TallyNotebook:
		s.NotebookCount++
	default:
		s.BehaviorCount++
	}
}

// Severity is the 5-tier classification of a single event's points.
// It is a separate scale from AlertLevel.
type Severity string

const (
	SeverityGreen    Severity = "GREEN"
	SeverityYellow   Severity = "YELLOW"
	SeverityOrange   Severity = "ORANGE"
	SeverityRed      Severity = "RED"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityGreen:    0,
	SeverityYellow:   1,
	SeverityOrange:   2,
	SeverityRed:      3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is the same as or more severe than other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AlertRecord represents a raised alert stored in the 'alert_records' table.
type AlertRecord struct {
	ID             int64      `db:"id" json:"id"`
	SessionID      int64      `db:"session_id" json:"session_id"`
	Severity       Severity   `db:"severity" json:"severity"`
	Message        string     `db:"message" json:"message"`
	SubjectID      string     `db:"subject_id" json:"subject_id"`
	Category       Category   `db:"category" json:"category"`
	Points         int        `db:"points" json:"points"`
	Acknowledged   bool       `db:"is_acknowledged" json:"acknowledged"`
	AcknowledgedBy *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	Timestamp      time.Time  `db:"timestamp" json:"timestamp"`
}
