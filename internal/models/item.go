package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
)

// MatchingStatus tracks the matching engine's progress for a lost item
type MatchingStatus string

const (
	MatchingStatusUnset      MatchingStatus = ""
	MatchingStatusProcessing MatchingStatus = "processing"
	MatchingStatusCompleted  MatchingStatus = "completed"
	MatchingStatusFailed     MatchingStatus = "failed"
)

// Valid reports whether s is one of the four known matching states
func (s MatchingStatus) Valid() bool {
	switch s {
	case MatchingStatusUnset, MatchingStatusProcessing, MatchingStatusCompleted, MatchingStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the engine may move a lost item from s to next.
// Terminal states may re-enter processing because matching can be re-run.
func (s MatchingStatus) CanTransitionTo(next MatchingStatus) bool {
	switch s {
	case MatchingStatusUnset, MatchingStatusCompleted, MatchingStatusFailed:
		return next == MatchingStatusProcessing
	case MatchingStatusProcessing:
		return next == MatchingStatusCompleted || next == MatchingStatusFailed
	}
	return false
}

// FoundItemStatus is the lifecycle state of a found item report
type FoundItemStatus string

const (
	FoundItemStatusActive  FoundItemStatus = "active"
	FoundItemStatusClaimed FoundItemStatus = "claimed"
)

// LostItemStatus is the lifecycle state of a lost item report, separate from its matching status
type LostItemStatus string

const (
	LostItemStatusActive  LostItemStatus = "active"
	LostItemStatusClaimed LostItemStatus = "claimed"
)

// ImageReference points at an uploaded item photo in object storage
type ImageReference struct {
	Path             string `json:"path"`
	OriginalFilename string `json:"original_filename,omitempty"`
	BucketID         string `json:"bucket_id,omitempty"`
	MimeType         string `json:"mime_type,omitempty"`
	Size             int64  `json:"size,omitempty"`
}

// ImageReferences is the ordered image list stored as a jsonb column
type ImageReferences []ImageReference

// Scan implements sql.Scanner for jsonb columns
func (r *ImageReferences) Scan(src any) error {
	if src == nil {
		*r = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("ImageReferences.Scan: expected []byte, got %T", src)
	}

	var refs []ImageReference
	if err := json.Unmarshal(data, &refs); err != nil {
		return fmt.Errorf("ImageReferences.Scan: %w", err)
	}
	*r = refs
	return nil
}

// Value implements driver.Valuer so an empty list is stored as [] rather than null
func (r ImageReferences) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]ImageReference(r))
}

// Primary returns the first image, which represents the item for visual scoring
func (r ImageReferences) Primary() (ImageReference, bool) {
	if len(r) == 0 {
		return ImageReference{}, false
	}
	return r[0], true
}

// ItemAttributes are the structured fields compared by the metadata scorer.
// Empty strings and a nil Date mean the reporter left the field blank.
type ItemAttributes struct {
	Category string
	Brand    string
	Model    string
	Color    string
	Location string
	Date     *time.Time
}

// LostItem represents a lost item report
type LostItem struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Category       string          `json:"category"`
	Brand          string          `json:"brand,omitempty"`
	Model          string          `json:"model,omitempty"`
	Color          string          `json:"color,omitempty"`
	Description    string          `json:"description"`
	DateLost       *time.Time      `json:"date_lost,omitempty"`
	LocationLost   string          `json:"location_lost,omitempty"`
	Images         ImageReferences `json:"image_metadata"`
	MatchingStatus MatchingStatus  `json:"matching_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Attributes returns the fields used for metadata scoring
func (l *LostItem) Attributes() ItemAttributes {
	return ItemAttributes{
		Category: l.Category,
		Brand:    l.Brand,
		Model:    l.Model,
		Color:    l.Color,
		Location: l.LocationLost,
		Date:     l.DateLost,
	}
}

// FoundItem represents a found item report
type FoundItem struct {
	ID            string          `json:"id"`
	Category      string          `json:"category"`
	Brand         string          `json:"brand,omitempty"`
	Model         string          `json:"model,omitempty"`
	Color         string          `json:"color,omitempty"`
	Description   string          `json:"description"`
	DateFound     *time.Time      `json:"date_found,omitempty"`
	LocationFound string          `json:"location_found,omitempty"`
	Status        FoundItemStatus `json:"status"`
	Images        ImageReferences `json:"image_metadata"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Attributes returns the fields used for metadata scoring
func (f *FoundItem) Attributes() ItemAttributes {
	return ItemAttributes{
		Category: f.Category,
		Brand:    f.Brand,
		Model:    f.Model,
		Color:    f.Color,
		Location: f.LocationFound,
		Date:     f.DateFound,
	}
}

// Eligible reports whether the found item may enter a candidate pool
func (f *FoundItem) Eligible() bool {
	return !strings.EqualFold(string(f.Status), string(FoundItemStatusClaimed)) && len(f.Images) > 0
}
