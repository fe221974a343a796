package matching

import (
	"errors"
	"fmt"
)

var (
	ErrMissingLostItemID = errors.New("lostItemId is required")
	ErrLostItemNotFound  = errors.New("lost item not found")
	ErrFetchLostItem     = errors.New("failed to fetch lost item")
	ErrFetchCandidates   = errors.New("failed to fetch found items")
	ErrPersistMatches    = errors.New("failed to insert matches")
)

// Stage names the point of a run where a fatal error happened
type Stage string

const (
	StageFetchLostItem   Stage = "fetch_lost_item"
	StageFetchCandidates Stage = "fetch_candidates"
	StagePersist         Stage = "persist"
	StagePanic           Stage = "panic"
)

// RunError is returned for every fatal matching failure. The lost item has
// already been marked failed (best effort) when a RunError is returned.
type RunError struct {
	LostItemID string
	Stage      Stage
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("matching %s failed at %s: %v", e.LostItemID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
