// Package matching scores lost item reports against found item reports and
// drives a lost item's matching run from fetch to persisted match records.
package matching

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hacknation/campus-lost-found/internal/models"
)

// maxColorDistance is the euclidean distance between black and white in RGB space
var maxColorDistance = math.Sqrt(3 * 255 * 255)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

// DaysBetween returns the absolute number of calendar days between two dates.
// Both dates are compared on their UTC calendar day, so time of day is ignored.
func DaysBetween(a, b time.Time) int {
	a, b = a.UTC(), b.UTC()
	dayA := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	dayB := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)

	days := int(dayB.Sub(dayA).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

// DateProximity maps a day distance onto a step score
func DateProximity(days int) float64 {
	if days < 0 {
		days = -days
	}
	switch {
	case days == 0:
		return 1.0
	case days == 1:
		return 0.9
	case days <= 3:
		return 0.7
	case days <= 7:
		return 0.4
	case days <= 14:
		return 0.2
	default:
		return 0.05
	}
}

// LocationSimilarity compares two free-text locations.
// Exact match wins, then containment, then shared words longer than two characters.
func LocationSimilarity(a, b string) float64 {
	if !present(a) || !present(b) {
		return 0
	}

	locA := normalize(a)
	locB := normalize(b)

	if locA == locB {
		return 1.0
	}
	if strings.Contains(locA, locB) || strings.Contains(locB, locA) {
		return 0.7
	}

	wordsB := make(map[string]struct{})
	for _, w := range strings.Fields(locB) {
		wordsB[w] = struct{}{}
	}

	common := 0
	for _, w := range strings.Fields(locA) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, ok := wordsB[w]; ok {
			common++
		}
	}

	if common > 0 {
		return math.Min(0.5, float64(common)*0.2)
	}
	return 0
}

// TextSimilarity scores two attribute values: exact returns 1, containment in
// either direction returns partial, anything else returns 0.
func TextSimilarity(a, b string, partial float64) float64 {
	textA := normalize(a)
	textB := normalize(b)

	if textA == textB {
		return 1.0
	}
	if strings.Contains(textA, textB) || strings.Contains(textB, textA) {
		return partial
	}
	return 0
}

// ColorSimilarity is 1 minus the normalized euclidean RGB distance
func ColorSimilarity(a, b models.RGB) float64 {
	dr := a.Red - b.Red
	dg := a.Green - b.Green
	db := a.Blue - b.Blue
	distance := math.Sqrt(dr*dr + dg*dg + db*db)

	return clamp01(1 - distance/maxColorDistance)
}

// Jaccard returns |A∩B| / |A∪B| over the distinct values of both lists
func Jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, v := range a {
		setA[v] = struct{}{}
	}

	union := make(map[string]struct{}, len(a)+len(b))
	for v := range setA {
		union[v] = struct{}{}
	}

	setB := make(map[string]struct{}, len(b))
	for _, v := range b {
		setB[v] = struct{}{}
		union[v] = struct{}{}
	}

	if len(union) == 0 {
		return 0
	}

	intersection := 0
	for v := range setA {
		if _, ok := setB[v]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(union))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
