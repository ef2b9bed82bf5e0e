package detection

import (
	"fmt"
	"math"
	"strings"

	"proctor/internal/models"
)

// DefaultBasePoints is applied to any category missing from the table.
const DefaultBasePoints = 10

// DefaultPointTable returns the stock base points per category.
func DefaultPointTable() map[models.Category]int {
	return map[models.Category]int{
		models.CategoryPhone:               25,
		models.CategoryEarphone:            30,
		models.CategorySmartwatch:          20,
		models.CategoryChit:                20,
		models.CategoryTextbook:            35,
		models.CategoryNotebook:            30,
		models.CategoryElectronicDevice:    25,
		models.CategoryHeadTurned:          10,
		models.CategoryLookingAtNeighbor:   8,
		models.CategoryLeaningTowardOther:  10,
		models.CategoryPassingGesture:      15,
		models.CategoryHeadCountMismatch:   40,
		models.CategoryExtraPerson:         50,
		models.CategoryInteractionDetected: 10,
	}
}

// PointTable holds base points per category.
type PointTable struct {
	base     map[models.Category]int
	fallback int
}

// NewPointTable layers overrides (keyed by category name) on top of the
// default table. A non-positive fallback means DefaultBasePoints.
func NewPointTable(overrides map[string]int, fallback int) (PointTable, error) {
	base := DefaultPointTable()
	for name, points := range overrides {
		category := models.Category(strings.ToUpper(strings.TrimSpace(name)))
		if !category.Valid() {
			return PointTable{}, fmt.Errorf("base points for unknown category %q", name)
		}
		if points < 0 {
			return PointTable{}, fmt.Errorf("base points for %s must not be negative", category)
		}
		base[category] = points
	}
	if fallback <= 0 {
		fallback = DefaultBasePoints
	}
	return PointTable{base: base, fallback: fallback}, nil
}

// Base returns the unweighted points for a category.
func (t PointTable) Base(category models.Category) int {
	if points, ok := t.base[category]; ok {
		return points
	}
	if t.fallback > 0 {
		return t.fallback
	}
	return DefaultBasePoints
}

// Points returns round(base * confidence). Callers pass an already normalized
// confidence; see Normalize.
func (t PointTable) Points(category models.Category, confidence float64) int {
	return int(math.Round(float64(t.Base(category)) * confidence))
}
