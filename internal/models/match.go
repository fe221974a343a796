package models

import (
	"math"
	"time"
)

// MatchStatus is the human review state of a proposed pairing
type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusConfirmed MatchStatus = "confirmed"
	MatchStatusRejected  MatchStatus = "rejected"
)

// Valid reports whether s is a known match status
func (s MatchStatus) Valid() bool {
	return s == MatchStatusPending || s == MatchStatusConfirmed || s == MatchStatusRejected
}

// CanTransitionTo reports whether a reviewer may move a match from s to next.
// A decision is final and nothing returns to pending.
func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	return s == MatchStatusPending && (next == MatchStatusConfirmed || next == MatchStatusRejected)
}

// MatchRecord is a persisted pairing between a lost item and a found item
type MatchRecord struct {
	ID              string      `json:"id"`
	LostItemID      string      `json:"lost_item_id"`
	FoundItemID     string      `json:"found_item_id"`
	ConfidenceScore float64     `json:"confidence_score"`
	Status          MatchStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
}

// MatchWithFoundItem is a match record enriched with the found item it points to
type MatchWithFoundItem struct {
	MatchRecord
	FoundItem *FoundItem `json:"found_items"`
}

// MatchCandidate is a found item scored during a single matching run
type MatchCandidate struct {
	FoundItem     *FoundItem
	MetadataScore float64
	VisualScore   float64
	// HasVisual is false when vision was unavailable for this pair and the
	// final score falls back to metadata only.
	HasVisual  bool
	FinalScore float64
}

// RoundScore rounds a confidence score to two decimals and clamps it to [0,1]
func RoundScore(score float64) float64 {
	rounded := math.Round(score*100) / 100
	return math.Max(0, math.Min(1, rounded))
}
