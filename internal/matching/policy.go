package matching

import (
	"sort"
	"strings"

	"github.com/hacknation/campus-lost-found/internal/models"
)

// Policy decides how scores are combined and which candidates survive
type Policy struct {
	// IncludeThreshold is the score a candidate must exceed when its model does not conflict
	IncludeThreshold float64 `validate:"gte=0,lte=1"`
	// OverrideThreshold is the score a model-mismatched candidate must exceed to be kept anyway
	OverrideThreshold float64 `validate:"gte=0,lte=1"`
	// ModelVeto enables the model mismatch rule
	ModelVeto bool
	// TopK caps the number of candidates kept per run
	TopK int `validate:"gt=0"`
	// VisualWeight is the visual share of the combined score; metadata gets the rest
	VisualWeight float64 `validate:"gte=0,lte=1"`
}

// DefaultPolicy returns the veto-enabled, 0.4-threshold policy
func DefaultPolicy() Policy {
	return Policy{
		IncludeThreshold:  0.4,
		OverrideThreshold: 0.6,
		ModelVeto:         true,
		TopK:              5,
		VisualWeight:      0.6,
	}
}

// Combine merges metadata and visual scores. Without a visual score the
// metadata score stands alone.
func (p Policy) Combine(metadata, visual float64, hasVisual bool) float64 {
	if !hasVisual {
		return clamp01(metadata)
	}
	return clamp01(p.VisualWeight*clamp01(visual) + (1-p.VisualWeight)*clamp01(metadata))
}

// ModelMismatch reports a hard conflict: both sides name a model and neither
// contains the other.
func ModelMismatch(lostModel, foundModel string) bool {
	if !present(lostModel) || !present(foundModel) {
		return false
	}
	a, b := normalize(lostModel), normalize(foundModel)
	return !strings.Contains(a, b) && !strings.Contains(b, a)
}

// Include applies the threshold and veto rule to a single final score
func (p Policy) Include(score float64, modelMismatch bool) bool {
	if modelMismatch && p.ModelVeto {
		return score > p.OverrideThreshold
	}
	return score > p.IncludeThreshold
}

// Select filters candidates, ranks them by final score and keeps the top K.
// The sort is stable so equal scores keep their pool order.
func (p Policy) Select(lost models.ItemAttributes, candidates []*models.MatchCandidate) []*models.MatchCandidate {
	kept := make([]*models.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		if p.Include(c.FinalScore, ModelMismatch(lost.Model, c.FoundItem.Model)) {
			kept = append(kept, c)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].FinalScore > kept[j].FinalScore
	})

	if p.TopK > 0 && len(kept) > p.TopK {
		kept = kept[:p.TopK]
	}
	return kept
}
