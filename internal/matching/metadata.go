package matching

import "github.com/hacknation/campus-lost-found/internal/models"

// Metadata field weights. Date and location dominate because they pin down
// when and where an item changed hands; brand is close to noise since most
// items share a handful of mass-market brands.
const (
	WeightDate     = 4.0
	WeightLocation = 3.5
	WeightModel    = 2.5
	WeightCategory = 2.0
	WeightColor    = 1.0
	WeightBrand    = 0.3
)

// Partial-credit scores for one value containing the other
const (
	modelContainment = 0.6
	colorContainment = 0.5
	brandContainment = 0.5
)

// MetadataScore returns the weighted similarity of two items' structured fields.
// A field only enters the average when both sides reported it, so the result is
// normalized by the weight that was actually comparable. It is 0 when nothing was.
func MetadataScore(lost, found models.ItemAttributes) float64 {
	var total, weight float64

	add := func(w, score float64) {
		total += w * score
		weight += w
	}

	if lost.Date != nil && found.Date != nil {
		add(WeightDate, DateProximity(DaysBetween(*lost.Date, *found.Date)))
	}

	if present(lost.Location) && present(found.Location) {
		add(WeightLocation, LocationSimilarity(lost.Location, found.Location))
	}

	if present(lost.Model) && present(found.Model) {
		add(WeightModel, TextSimilarity(lost.Model, found.Model, modelContainment))
	}

	if present(lost.Category) && present(found.Category) {
		add(WeightCategory, TextSimilarity(lost.Category, found.Category, 0))
	}

	if present(lost.Color) && present(found.Color) {
		add(WeightColor, TextSimilarity(lost.Color, found.Color, colorContainment))
	}

	if present(lost.Brand) && present(found.Brand) {
		add(WeightBrand, TextSimilarity(lost.Brand, found.Brand, brandContainment))
	}

	if weight == 0 {
		return 0
	}
	return clamp01(total / weight)
}
