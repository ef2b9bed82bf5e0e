package detection

import (
	"fmt"
	"strings"

	"proctor/internal/models"
)

// FallbackCategory is assigned to any label the classifier cannot resolve.
const FallbackCategory = models.CategoryInteractionDetected

// defaultAliases maps the labels emitted by the vision pipeline onto categories.
var defaultAliases = map[string]models.Category{
	"phone":             models.CategoryPhone,
	"mobile":            models.CategoryPhone,
	"cell_phone":        models.CategoryPhone,
	"earphone":          models.CategoryEarphone,
	"earbuds":           models.CategoryEarphone,
	"headphones":        models.CategoryEarphone,
	"smartwatch":        models.CategorySmartwatch,
	"watch":             models.CategorySmartwatch,
	"chit":              models.CategoryChit,
	"paper_slip":        models.CategoryChit,
	"chit_slip":         models.CategoryChit,
	"textbook":          models.CategoryTextbook,
	"book":              models.CategoryTextbook,
	"notebook":          models.CategoryNotebook,
	"notes":             models.CategoryNotebook,
	"electronic_device": models.CategoryElectronicDevice,
	"tablet":            models.CategoryElectronicDevice,
}

// Classifier resolves free-text detection labels to a Category. It is
// read-only after construction and safe for concurrent use.
type Classifier struct {
	aliases map[string]models.Category
}

// NewClassifier builds the alias table from the defaults, the canonical
// category names, and any extra aliases supplied by configuration.
func NewClassifier(extra map[string]string) (*Classifier, error) {
	aliases := make(map[string]models.Category, len(defaultAliases)+len(models.Categories)+len(extra))
	for label, category := range defaultAliases {
		aliases[label] = category
	}
	for _, category := range models.Categories {
		aliases[strings.ToLower(string(category))] = category
	}
	for label, raw := range extra {
		category := models.Category(strings.ToUpper(strings.TrimSpace(raw)))
		if !category.Valid() {
			return nil, fmt.Errorf("alias %q points to unknown category %q", label, raw)
		}
		aliases[normalizeLabel(label)] = category
	}
	return &Classifier{aliases: aliases}, nil
}

// Classify never fails: empty or unknown labels resolve to FallbackCategory.
func (c *Classifier) Classify(label string) models.Category {
	if category, ok := c.aliases[normalizeLabel(label)]; ok {
		return category
	}
	return FallbackCategory
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.ReplaceAll(label, " ", "_")
}
