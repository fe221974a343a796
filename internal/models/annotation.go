package models

import "strings"

// ImageAnnotation is the subset of an image-understanding response used for
// visual scoring: web entities, labels and dominant colors. Every section is
// optional; a missing section contributes no signal.
type ImageAnnotation struct {
	WebDetection              *WebDetection      `json:"webDetection,omitempty"`
	LabelAnnotations          []EntityAnnotation `json:"labelAnnotations,omitempty"`
	ImagePropertiesAnnotation *ImageProperties   `json:"imagePropertiesAnnotation,omitempty"`
}

// WebDetection holds entities the service associated with the image
type WebDetection struct {
	WebEntities []WebEntity `json:"webEntities,omitempty"`
}

// WebEntity is a single detected web entity
type WebEntity struct {
	EntityID    string  `json:"entityId,omitempty"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// EntityAnnotation is a single detected label
type EntityAnnotation struct {
	Mid         string  `json:"mid,omitempty"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Topicality  float64 `json:"topicality,omitempty"`
}

// ImageProperties wraps the dominant color extraction
type ImageProperties struct {
	DominantColors *DominantColors `json:"dominantColors,omitempty"`
}

// DominantColors lists colors ordered by the service's prominence ranking
type DominantColors struct {
	Colors []ColorInfo `json:"colors"`
}

// ColorInfo is one dominant color with its weight in the image
type ColorInfo struct {
	Color         RGB     `json:"color"`
	Score         float64 `json:"score"`
	PixelFraction float64 `json:"pixelFraction"`
}

// RGB channels in 0..255. Missing channels decode as zero.
type RGB struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
}

// Entities returns lower-cased web entity descriptions
func (a *ImageAnnotation) Entities() []string {
	if a == nil || a.WebDetection == nil {
		return nil
	}
	out := make([]string, 0, len(a.WebDetection.WebEntities))
	for _, e := range a.WebDetection.WebEntities {
		out = append(out, strings.ToLower(e.Description))
	}
	return out
}

// Labels returns lower-cased label descriptions
func (a *ImageAnnotation) Labels() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.LabelAnnotations))
	for _, l := range a.LabelAnnotations {
		out = append(out, strings.ToLower(l.Description))
	}
	return out
}

// DominantColors returns the dominant colors in service order
func (a *ImageAnnotation) DominantColors() []RGB {
	if a == nil || a.ImagePropertiesAnnotation == nil || a.ImagePropertiesAnnotation.DominantColors == nil {
		return nil
	}
	colors := a.ImagePropertiesAnnotation.DominantColors.Colors
	out := make([]RGB, 0, len(colors))
	for _, c := range colors {
		out = append(out, c.Color)
	}
	return out
}

// IsEmpty reports whether the annotation carries no usable signal
func (a *ImageAnnotation) IsEmpty() bool {
	return len(a.Entities()) == 0 && len(a.Labels()) == 0 && len(a.DominantColors()) == 0
}
