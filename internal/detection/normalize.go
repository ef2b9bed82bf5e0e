package detection

import (
	"math"
	"strings"
	"time"

	"proctor/internal/models"
)

// Detection is one raw detection as delivered by the vision pipeline.
type Detection struct {
	SubjectID   string              `json:"person_id"`
	Label       string              `json:"class_name"`
	Confidence  *float64            `json:"confidence,omitempty"`
	BoundingBox *models.BoundingBox `json:"bounding_box,omitempty"`
	Timestamp   *time.Time          `json:"timestamp,omitempty"`
	Description string              `json:"description,omitempty"`
}

// Normalized is a detection with every default resolved.
type Normalized struct {
	SubjectID   string
	Category    models.Category
	Confidence  float64
	BoundingBox *models.BoundingBox
	Timestamp   time.Time
	Description string
}

// UnknownSubject is used when the pipeline could not attach a tracking id.
const UnknownSubject = "unknown"

// Normalize resolves missing values in one place: confidence defaults to 1.0
// (also for NaN) and is clamped to [0,1], the label goes through the classifier, the
// timestamp defaults to now.
func Normalize(d Detection, c *Classifier, now time.Time) Normalized {
	confidence := 1.0
	if d.Confidence != nil && !math.IsNaN(*d.Confidence) {
		confidence = *d.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	ts := now
	if d.Timestamp != nil && !d.Timestamp.IsZero() {
		ts = *d.Timestamp
	}

	subject := strings.TrimSpace(d.SubjectID)
	if subject == "" {
		subject = UnknownSubject
	}

	category := c.Classify(d.Label)
	description := d.Description
	if description == "" {
		description = d.Label
	}

	return Normalized{
		SubjectID:   subject,
		Category:    category,
		Confidence:  confidence,
		BoundingBox: d.BoundingBox,
		Timestamp:   ts,
		Description: description,
	}
}
