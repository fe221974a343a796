package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hacknation/campus-lost-found/internal/metrics"
	"github.com/hacknation/campus-lost-found/internal/models"
)

// Result messages returned to callers
const (
	MessageNoImages      = "No images to match"
	MessageNoFoundItems  = "No found items to match"
	MessageMatchComplete = "Matching completed successfully"
)

// statusWriteTimeout bounds the best-effort failed-status write
const statusWriteTimeout = 5 * time.Second

// ItemStore is the record store the engine reads items from and writes matches to
type ItemStore interface {
	GetLostItem(ctx context.Context, id string) (*models.LostItem, error)
	ListEligibleFoundItems(ctx context.Context) ([]*models.FoundItem, error)
	SetMatchingStatus(ctx context.Context, id string, status models.MatchingStatus) error
	InsertMatches(ctx context.Context, matches []*models.MatchRecord) error
}

// Annotator submits an image URL to the image-understanding service
type Annotator interface {
	Enabled() bool
	Annotate(ctx context.Context, imageURL string) (*models.ImageAnnotation, error)
}

// ImageURLResolver turns a stored image reference into a fetchable URL
type ImageURLResolver interface {
	ImageURL(ctx context.Context, ref models.ImageReference) (string, error)
}

// AnnotationCache stores annotations between runs. Implementations own their TTL.
type AnnotationCache interface {
	Get(ctx context.Context, key string) (*models.ImageAnnotation, bool, error)
	Set(ctx context.Context, key string, annotation *models.ImageAnnotation) error
}

// Notifier is handed the outcome of a run that produced matches
type Notifier interface {
	NotifyMatches(ctx context.Context, lostItemID string, matchCount int) error
}

// EngineConfig contains configuration for the match engine
type EngineConfig struct {
	Policy            Policy
	VisionTimeout     time.Duration // Per-call timeout for image annotation
	VisionConcurrency int           // Maximum concurrent annotation calls per run
}

// DefaultConfig returns default engine configuration
func DefaultConfig() EngineConfig {
	return EngineConfig{
		Policy:            DefaultPolicy(),
		VisionTimeout:     20 * time.Second,
		VisionConcurrency: 4,
	}
}

// Dependencies are the collaborators of an Engine. Vision, Cache and Notifier are optional.
type Dependencies struct {
	Store    ItemStore
	Images   ImageURLResolver
	Vision   Annotator
	Cache    AnnotationCache
	Notifier Notifier
}

// Engine runs lost-item matching
type Engine struct {
	store    ItemStore
	images   ImageURLResolver
	vision   Annotator
	cache    AnnotationCache
	notifier Notifier
	config   EngineConfig
}

// Result is the outcome of a successful run, including the short-circuit cases
type Result struct {
	Message string
	Matches []*models.MatchRecord
}

// MatchesFound returns the number of persisted matches
func (r *Result) MatchesFound() int {
	return len(r.Matches)
}

// NewEngine creates a new match engine
func NewEngine(deps Dependencies, config EngineConfig) *Engine {
	if config.VisionConcurrency < 1 {
		config.VisionConcurrency = 1
	}
	if config.VisionTimeout <= 0 {
		config.VisionTimeout = DefaultConfig().VisionTimeout
	}

	return &Engine{
		store:    deps.Store,
		images:   deps.Images,
		vision:   deps.Vision,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		config:   config,
	}
}

// VisionEnabled reports whether the image-annotation capability is configured
func (e *Engine) VisionEnabled() bool {
	return e.vision != nil && e.vision.Enabled()
}

// Run matches one lost item against the current found-item pool and persists
// the selected matches. Fatal failures return a *RunError after a best-effort
// attempt to mark the lost item failed.
func (e *Engine) Run(ctx context.Context, lostItemID string) (result *Result, err error) {
	lostItemID = strings.TrimSpace(lostItemID)
	if lostItemID == "" {
		return nil, ErrMissingLostItemID
	}

	start := time.Now()
	logger := log.With().Str("lost_item_id", lostItemID).Logger()
	status := &statusTracker{store: e.store, lostItemID: lostItemID, logger: logger}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("Matching run panicked")
			result = nil
			err = &RunError{LostItemID: lostItemID, Stage: StagePanic, Err: fmt.Errorf("%v", rec)}
		}

		outcome := "completed"
		if err != nil {
			outcome = "failed"
			logger.Error().Err(err).Msg("Matching run failed")
			status.markFailed(ctx)
		} else if result.MatchesFound() == 0 {
			outcome = "empty"
		}
		metrics.MatchRunsTotal.WithLabelValues(outcome).Inc()
		metrics.MatchRunDuration.Observe(time.Since(start).Seconds())
	}()

	// Persisted before any scoring so a crashed run stays visibly in progress.
	if err := status.transition(ctx, models.MatchingStatusProcessing); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark lost item as processing")
	}

	lost, err := e.store.GetLostItem(ctx, lostItemID)
	if err != nil {
		cause := ErrFetchLostItem
		if errors.Is(err, models.ErrNotFound) {
			cause = ErrLostItemNotFound
		}
		return nil, &RunError{LostItemID: lostItemID, Stage: StageFetchLostItem, Err: fmt.Errorf("%w: %w", cause, err)}
	}

	lostImage, ok := lost.Images.Primary()
	if !ok {
		logger.Info().Msg("No images found for lost item, skipping matching")
		return e.complete(ctx, status, &Result{Message: MessageNoImages, Matches: []*models.MatchRecord{}}), nil
	}

	pool, err := e.store.ListEligibleFoundItems(ctx)
	if err != nil {
		return nil, &RunError{LostItemID: lostItemID, Stage: StageFetchCandidates, Err: fmt.Errorf("%w: %w", ErrFetchCandidates, err)}
	}

	found := make([]*models.FoundItem, 0, len(pool))
	for _, f := range pool {
		if f.Eligible() {
			found = append(found, f)
		}
	}

	if len(found) == 0 {
		logger.Info().Msg("No found items with images to compare against")
		return e.complete(ctx, status, &Result{Message: MessageNoFoundItems, Matches: []*models.MatchRecord{}}), nil
	}

	logger.Info().Int("candidates", len(found)).Msg("Matching lost item against found items")

	var lostAnnotation *models.ImageAnnotation
	if e.VisionEnabled() {
		ann, err := e.annotate(ctx, lostImage)
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("Failed to analyze lost item image, falling back to metadata only")
		case ann.IsEmpty():
			logger.Warn().Msg("Lost item image annotation is empty, falling back to metadata only")
		default:
			lostAnnotation = ann
			logger.Info().Msg("Lost item image analyzed successfully")
		}
	}

	candidates := e.scoreCandidates(ctx, lost, lostAnnotation, found)
	metrics.CandidatesScored.Observe(float64(len(candidates)))

	selected := e.config.Policy.Select(lost.Attributes(), candidates)
	records := buildRecords(lostItemID, selected)

	logger.Info().Int("matches_found", len(records)).Msg("Found potential matches")

	if len(records) > 0 {
		if err := e.store.InsertMatches(ctx, records); err != nil {
			return nil, &RunError{LostItemID: lostItemID, Stage: StagePersist, Err: fmt.Errorf("%w: %w", ErrPersistMatches, err)}
		}
		metrics.MatchesPersisted.Add(float64(len(records)))
	}

	result = e.complete(ctx, status, &Result{Message: MessageMatchComplete, Matches: records})

	if len(records) > 0 && e.notifier != nil {
		if err := e.notifier.NotifyMatches(ctx, lostItemID, len(records)); err != nil {
			logger.Error().Err(err).Msg("Failed to hand matches to notifier")
		}
	}

	logger.Info().
		Int("matches_found", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Matching completed")

	return result, nil
}

// complete marks the run completed. A failed write is logged: the run's matches
// are already stored, so the caller still gets them.
func (e *Engine) complete(ctx context.Context, status *statusTracker, result *Result) *Result {
	if err := status.transition(ctx, models.MatchingStatusCompleted); err != nil {
		status.logger.Error().Err(err).Msg("Failed to mark lost item as completed")
	}
	return result
}

// scoreCandidates computes metadata scores for every candidate and, when the
// lost image was annotated, visual scores on a bounded worker pool. Each
// goroutine owns one slice element, so completion order does not matter.
func (e *Engine) scoreCandidates(ctx context.Context, lost *models.LostItem, lostAnnotation *models.ImageAnnotation, found []*models.FoundItem) []*models.MatchCandidate {
	lostAttrs := lost.Attributes()
	candidates := make([]*models.MatchCandidate, len(found))
	for i, f := range found {
		candidates[i] = &models.MatchCandidate{
			FoundItem:     f,
			MetadataScore: MetadataScore(lostAttrs, f.Attributes()),
		}
	}

	if lostAnnotation != nil {
		var g errgroup.Group
		g.SetLimit(e.config.VisionConcurrency)

		for _, c := range candidates {
			c := c
			g.Go(func() error {
				defer func() {
					if rec := recover(); rec != nil {
						log.Error().
							Interface("panic", rec).
							Str("lost_item_id", lost.ID).
							Str("found_item_id", c.FoundItem.ID).
							Msg("Found item annotation panicked, scoring on metadata only")
						c.VisualScore, c.HasVisual = 0, false
					}
				}()

				image, _ := c.FoundItem.Images.Primary()
				ann, err := e.annotate(ctx, image)
				if err != nil {
					log.Error().
						Err(err).
						Str("lost_item_id", lost.ID).
						Str("found_item_id", c.FoundItem.ID).
						Msg("Failed to analyze found item image")
					return nil
				}
				c.VisualScore = VisualScore(lostAnnotation, ann)
				c.HasVisual = true
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, c := range candidates {
		c.FinalScore = e.config.Policy.Combine(c.MetadataScore, c.VisualScore, c.HasVisual)
	}
	return candidates
}

// annotate returns the annotation for an image, going through the cache when one is set
func (e *Engine) annotate(ctx context.Context, ref models.ImageReference) (*models.ImageAnnotation, error) {
	key := annotationCacheKey(ref)

	if e.cache != nil {
		ann, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("key", key).Msg("Annotation cache lookup failed")
		case ok:
			metrics.AnnotationCacheLookups.WithLabelValues("hit").Inc()
			return ann, nil
		default:
			metrics.AnnotationCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	imageURL, err := e.images.ImageURL(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image url: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.VisionTimeout)
	defer cancel()

	start := time.Now()
	ann, err := e.vision.Annotate(callCtx, imageURL)
	metrics.VisionRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.VisionRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.VisionRequestsTotal.WithLabelValues("ok").Inc()

	if e.cache != nil && !ann.IsEmpty() {
		if err := e.cache.Set(ctx, key, ann); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache annotation")
		}
	}
	return ann, nil
}

func annotationCacheKey(ref models.ImageReference) string {
	return ref.BucketID + "/" + ref.Path
}

func buildRecords(lostItemID string, selected []*models.MatchCandidate) []*models.MatchRecord {
	now := time.Now().UTC()
	records := make([]*models.MatchRecord, 0, len(selected))
	for _, c := range selected {
		records = append(records, &models.MatchRecord{
			ID:              uuid.NewString(),
			LostItemID:      lostItemID,
			FoundItemID:     c.FoundItem.ID,
			ConfidenceScore: models.RoundScore(c.FinalScore),
			Status:          models.MatchStatusPending,
			CreatedAt:       now,
		})
	}
	return records
}

// statusTracker walks a lost item through its matching states and writes
// each accepted transition to the store.
type statusTracker struct {
	store      ItemStore
	lostItemID string
	current    models.MatchingStatus
	logger     zerolog.Logger
}

func (t *statusTracker) transition(ctx context.Context, next models.MatchingStatus) error {
	if !t.current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %q -> %q", models.ErrInvalidTransition, t.current, next)
	}
	t.current = next
	return t.store.SetMatchingStatus(ctx, t.lostItemID, next)
}

// markFailed is best effort: errors are logged and swallowed. It skips the
// transition check because a run can fail before its processing write landed,
// and it uses a detached context so a cancelled request still records the failure.
func (t *statusTracker) markFailed(ctx context.Context) {
	t.current = models.MatchingStatusFailed

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if err := t.store.SetMatchingStatus(writeCtx, t.lostItemID, models.MatchingStatusFailed); err != nil {
		t.logger.Error().Err(err).Msg("Failed to update error status")
	}
}
