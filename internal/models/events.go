package models

import "time"

// Routing keys on the lost-found events exchange
const (
	RoutingKeyLostItemReported = "item.lost.reported"
	RoutingKeyMatchesFound     = "matches.found"
)

// LostItemReportedEvent asks the matcher to run for a newly reported lost item
type LostItemReportedEvent struct {
	LostItemID string    `json:"lost_item_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// MatchesFoundEvent is handed to the notifier after a run produced matches
type MatchesFoundEvent struct {
	LostItemID string    `json:"lostItemId"`
	MatchCount int       `json:"matchCount"`
	Timestamp  time.Time `json:"timestamp"`
}
