package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/campus-lost-found/internal/models"
)

// PostgresStorage is the record store for items and matches
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(host, port, user, password, dbName, sslMode string) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbName, sslMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	storage := NewPostgresStorageWithDB(db)
	if err := storage.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize db schema: %w", err)
	}

	return storage, nil
}

// NewPostgresStorageWithDB wraps an already opened connection pool
func NewPostgresStorageWithDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// Init creates necessary tables
func (s *PostgresStorage) Init(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS lost_items (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36),
		category VARCHAR(100) NOT NULL,
		brand VARCHAR(100),
		model VARCHAR(100),
		color VARCHAR(50),
		description TEXT,
		date_lost TIMESTAMPTZ,
		location_lost TEXT,
		image_metadata JSONB NOT NULL DEFAULT '[]'::jsonb,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		matching_status VARCHAR(20),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	ALTER TABLE lost_items ADD COLUMN IF NOT EXISTS status VARCHAR(20) NOT NULL DEFAULT 'active';

	CREATE TABLE IF NOT EXISTS found_items (
		id VARCHAR(36) PRIMARY KEY,
		category VARCHAR(100) NOT NULL,
		brand VARCHAR(100),
		model VARCHAR(100),
		color VARCHAR(50),
		description TEXT,
		date_found TIMESTAMPTZ,
		location_found TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		image_metadata JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS matches (
		id VARCHAR(36) PRIMARY KEY,
		lost_item_id VARCHAR(36) NOT NULL REFERENCES lost_items(id) ON DELETE CASCADE,
		found_item_id VARCHAR(36) NOT NULL REFERENCES found_items(id) ON DELETE CASCADE,
		confidence_score DOUBLE PRECISION NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_found_items_status ON found_items(status);
	CREATE INDEX IF NOT EXISTS idx_matches_lost_item_id ON matches(lost_item_id);
	CREATE INDEX IF NOT EXISTS idx_matches_found_item_id ON matches(found_item_id);`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

const lostItemColumns = `
	id, COALESCE(user_id, ''), category, COALESCE(brand, ''), COALESCE(model, ''),
	COALESCE(color, ''), COALESCE(description, ''), date_lost, COALESCE(location_lost, ''),
	image_metadata, COALESCE(matching_status, ''), created_at`

const foundItemColumns = `
	f.id, f.category, COALESCE(f.brand, ''), COALESCE(f.model, ''), COALESCE(f.color, ''),
	COALESCE(f.description, ''), f.date_found, COALESCE(f.location_found, ''),
	f.status, f.image_metadata, f.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLostItem(row rowScanner) (*models.LostItem, error) {
	item := &models.LostItem{}
	var dateLost sql.NullTime
	var status string

	err := row.Scan(
		&item.ID, &item.UserID, &item.Category, &item.Brand, &item.Model,
		&item.Color, &item.Description, &dateLost, &item.LocationLost,
		&item.Images, &status, &item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dateLost.Valid {
		item.DateLost = &dateLost.Time
	}
	item.MatchingStatus = models.MatchingStatus(status)
	return item, nil
}

func scanFoundItem(row rowScanner, extra ...any) (*models.FoundItem, error) {
	item := &models.FoundItem{}
	var dateFound sql.NullTime
	var status string

	dest := append([]any{
		&item.ID, &item.Category, &item.Brand, &item.Model, &item.Color,
		&item.Description, &dateFound, &item.LocationFound,
		&status, &item.Images, &item.CreatedAt,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if dateFound.Valid {
		item.DateFound = &dateFound.Time
	}
	item.Status = models.FoundItemStatus(status)
	return item, nil
}

// GetLostItem retrieves a lost item by ID
func (s *PostgresStorage) GetLostItem(ctx context.Context, id string) (*models.LostItem, error) {
	query := `SELECT` + lostItemColumns + ` FROM lost_items WHERE id = $1`

	item, err := scanLostItem(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to get lost item from postgres")
		return nil, err
	}

	return item, nil
}

// ListEligibleFoundItems returns found items that are not claimed and carry at
// least one image, oldest report first
func (s *PostgresStorage) ListEligibleFoundItems(ctx context.Context) ([]*models.FoundItem, error) {
	query := `SELECT` + foundItemColumns + `
	FROM found_items f
	WHERE f.status <> $1
	  AND jsonb_array_length(f.image_metadata) > 0
	ORDER BY f.created_at ASC, f.id ASC`

	rows, err := s.db.QueryContext(ctx, query, string(models.FoundItemStatusClaimed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.FoundItem
	for rows.Next() {
		item, err := scanFoundItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// SetMatchingStatus records the engine's progress on a lost item
func (s *PostgresStorage) SetMatchingStatus(ctx context.Context, id string, status models.MatchingStatus) error {
	query := `UPDATE lost_items SET matching_status = $2, updated_at = NOW() WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update matching status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// InsertMatches writes all match records of a run in one statement, so either
// every record lands or none does
func (s *PostgresStorage) InsertMatches(ctx context.Context, matches []*models.MatchRecord) error {
	if len(matches) == 0 {
		return nil
	}

	const columns = 6
	placeholders := make([]string, 0, len(matches))
	args := make([]any, 0, len(matches)*columns)

	for i, m := range matches {
		base := i * columns
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, m.ID, m.LostItemID, m.FoundItemID, m.ConfidenceScore, string(m.Status), m.CreatedAt)
	}

	query := `INSERT INTO matches (id, lost_item_id, found_item_id, confidence_score, status, created_at) VALUES ` +
		strings.Join(placeholders, ", ")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		log.Error().Err(err).Int("count", len(matches)).Msg("Failed to insert matches into postgres")
		return err
	}

	return nil
}

// ListMatchesForLostItem returns a lost item's matches, highest confidence
// first, each joined with the found item it points to
func (s *PostgresStorage) ListMatchesForLostItem(ctx context.Context, lostItemID string) ([]*models.MatchWithFoundItem, error) {
	query := `SELECT` + foundItemColumns + `,
		m.id, m.lost_item_id, m.found_item_id, m.confidence_score, m.status, m.created_at
	FROM matches m
	INNER JOIN found_items f ON f.id = m.found_item_id
	WHERE m.lost_item_id = $1
	ORDER BY m.confidence_score DESC, m.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, lostItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := []*models.MatchWithFoundItem{}
	for rows.Next() {
		m := &models.MatchWithFoundItem{}
		var status string

		found, err := scanFoundItem(rows,
			&m.ID, &m.LostItemID, &m.FoundItemID, &m.ConfidenceScore, &status, &m.CreatedAt)
		if err != nil {
			return nil, err
		}

		m.Status = models.MatchStatus(status)
		m.FoundItem = found
		matches = append(matches, m)
	}

	return matches, rows.Err()
}

// UpdateMatchStatus applies a reviewer decision to a pending match. Confirming
// a match claims both its found item and its lost item in the same transaction.
func (s *PostgresStorage) UpdateMatchStatus(ctx context.Context, matchID string, status models.MatchStatus) (*models.MatchRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	m := &models.MatchRecord{}
	var current string
	err = tx.QueryRowContext(ctx, `
	SELECT id, lost_item_id, found_item_id, confidence_score, status, created_at
	FROM matches WHERE id = $1 FOR UPDATE`, matchID).Scan(
		&m.ID, &m.LostItemID, &m.FoundItemID, &m.ConfidenceScore, &current, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.Status = models.MatchStatus(current)
	if !m.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %q -> %q", models.ErrInvalidTransition, m.Status, status)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE matches SET status = $2, updated_at = NOW() WHERE id = $1`, matchID, string(status)); err != nil {
		return nil, fmt.Errorf("failed to update match: %w", err)
	}

	if status == models.MatchStatusConfirmed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE found_items SET status = $2, updated_at = NOW() WHERE id = $1`,
			m.FoundItemID, string(models.FoundItemStatusClaimed)); err != nil {
			return nil, fmt.Errorf("failed to claim found item: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE lost_items SET status = $2, updated_at = NOW() WHERE id = $1`,
			m.LostItemID, string(models.LostItemStatusClaimed)); err != nil {
			return nil, fmt.Errorf("failed to claim lost item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit match update: %w", err)
	}

	m.Status = status
	log.Info().
		Str("match_id", matchID).
		Str("found_item_id", m.FoundItemID).
		Str("status", string(status)).
		Msg("Match status updated")

	return m, nil
}

// HealthCheck verifies the Postgres connection
func (s *PostgresStorage) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
