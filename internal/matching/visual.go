package matching

import (
	"math"

	"github.com/hacknation/campus-lost-found/internal/models"
)

// Visual signal weights
const (
	WeightWebEntities = 0.4
	WeightLabels      = 0.4
	WeightColors      = 0.2
)

// topColors is how many dominant colors per image take part in color matching
const topColors = 3

// VisualScore combines web-entity overlap, label overlap and dominant color
// similarity of two image annotations. A signal counts only when both
// annotations carry it; with no shared signal the score is 0.
func VisualScore(lost, found *models.ImageAnnotation) float64 {
	var total, weight float64

	lostEntities, foundEntities := lost.Entities(), found.Entities()
	if len(lostEntities) > 0 && len(foundEntities) > 0 {
		total += WeightWebEntities * Jaccard(lostEntities, foundEntities)
		weight += WeightWebEntities
	}

	lostLabels, foundLabels := lost.Labels(), found.Labels()
	if len(lostLabels) > 0 && len(foundLabels) > 0 {
		total += WeightLabels * Jaccard(lostLabels, foundLabels)
		weight += WeightLabels
	}

	lostColors, foundColors := lost.DominantColors(), found.DominantColors()
	if len(lostColors) > 0 && len(foundColors) > 0 {
		total += WeightColors * bestColorMatch(lostColors, foundColors)
		weight += WeightColors
	}

	if weight == 0 {
		return 0
	}
	return clamp01(total / weight)
}

// bestColorMatch is the highest pairwise similarity among the top colors of each side
func bestColorMatch(a, b []models.RGB) float64 {
	a = a[:min(len(a), topColors)]
	b = b[:min(len(b), topColors)]

	best := 0.0
	for _, ca := range a {
		for _, cb := range b {
			best = math.Max(best, ColorSimilarity(ca, cb))
		}
	}
	return best
}
