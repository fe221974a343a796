package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hacknation/campus-lost-found/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	lost     map[string]*models.LostItem
	found    []*models.FoundItem
	statuses []models.MatchingStatus
	inserted []*models.MatchRecord

	getErr    error
	listErr   error
	insertErr error
	statusErr map[models.MatchingStatus]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{lost: map[string]*models.LostItem{}, statusErr: map[models.MatchingStatus]error{}}
}

func (s *fakeStore) GetLostItem(_ context.Context, id string) (*models.LostItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	item, ok := s.lost[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return item, nil
}

func (s *fakeStore) ListEligibleFoundItems(_ context.Context) ([]*models.FoundItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.found, nil
}

func (s *fakeStore) SetMatchingStatus(_ context.Context, _ string, status models.MatchingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return s.statusErr[status]
}

func (s *fakeStore) InsertMatches(_ context.Context, matches []*models.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, matches...)
	return nil
}

func (s *fakeStore) recordedStatuses() []models.MatchingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MatchingStatus(nil), s.statuses...)
}

type fakeResolver struct{}

func (fakeResolver) ImageURL(_ context.Context, ref models.ImageReference) (string, error) {
	return "https://img/" + ref.BucketID + "/" + ref.Path, nil
}

type fakeVision struct {
	calls       atomic.Int32
	annotations map[string]*models.ImageAnnotation
	fail        map[string]bool
	panics      map[string]bool
	disabled    bool
}

func (v *fakeVision) Enabled() bool { return !v.disabled }

func (v *fakeVision) Annotate(_ context.Context, imageURL string) (*models.ImageAnnotation, error) {
	v.calls.Add(1)
	if v.panics[imageURL] {
		panic("annotator bug")
	}
	if v.fail[imageURL] {
		return nil, errors.New("vision unavailable")
	}
	if ann, ok := v.annotations[imageURL]; ok {
		return ann, nil
	}
	return &models.ImageAnnotation{}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (n *fakeNotifier) NotifyMatches(_ context.Context, lostItemID string, count int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = map[string]int{}
	}
	n.calls[lostItemID] = count
	return n.err
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string]*models.ImageAnnotation
}

func (c *memoryCache) Get(_ context.Context, key string) (*models.ImageAnnotation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ann, ok := c.data[key]
	return ann, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, ann *models.ImageAnnotation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string]*models.ImageAnnotation{}
	}
	c.data[key] = ann
	return nil
}

var baseDate = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func images(path string) models.ImageReferences {
	return models.ImageReferences{{Path: path, BucketID: "item-images", MimeType: "image/jpeg"}}
}

func lostPhone(id string) *models.LostItem {
	d := baseDate
	return &models.LostItem{
		ID:       id,
		Category: "Phone",
		DateLost: &d,
		Images:   images("lost/" + id + ".jpg"),
	}
}

func foundPhone(id string, dayOffset int) *models.FoundItem {
	d := baseDate.AddDate(0, 0, dayOffset)
	return &models.FoundItem{
		ID:        id,
		Category:  "phone",
		DateFound: &d,
		Status:    models.FoundItemStatusActive,
		Images:    images("found/" + id + ".jpg"),
	}
}

func imageURL(item string) string {
	return "https://img/item-images/" + item
}

func newTestEngine(store *fakeStore, vision Annotator, deps ...func(*Dependencies)) *Engine {
	d := Dependencies{Store: store, Images: fakeResolver{}, Vision: vision}
	for _, fn := range deps {
		fn(&d)
	}
	return NewEngine(d, DefaultConfig())
}

func TestRun_MissingLostItemID(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, nil)

	_, err := engine.Run(context.Background(), "  ")
	require.ErrorIs(t, err, ErrMissingLostItemID)
	assert.Empty(t, store.recordedStatuses())
}

func TestRun_NoImages(t *testing.T) {
	store := newFakeStore()
	lost := lostPhone("l1")
	lost.Images = nil
	store.lost["l1"] = lost
	store.found = []*models.FoundItem{foundPhone("f1", 0)}
	vision := &fakeVision{}

	result, err := newTestEngine(store, vision).Run(context.Background(), "l1")
	require.NoError(t, err)

	assert.Equal(t, MessageNoImages, result.Message)
	assert.Equal(t, 0, result.MatchesFound())
	assert.Equal(t, []models.MatchingStatus{models.MatchingStatusProcessing, models.MatchingStatusCompleted}, store.recordedStatuses())
	assert.Zero(t, vision.calls.Load())
	assert.Empty(t, store.inserted)
}

func TestRun_NoEligibleFoundItems(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")

	claimed := foundPhone("f1", 0)
	claimed.Status = models.FoundItemStatusClaimed
	noImage := foundPhone("f2", 0)
	noImage.Images = nil
	store.found = []*models.FoundItem{claimed, noImage}

	result, err := newTestEngine(store, nil).Run(context.Background(), "l1")
	require.NoError(t, err)

	assert.Equal(t, MessageNoFoundItems, result.Message)
	assert.Equal(t, 0, result.MatchesFound())
	assert.Equal(t, []models.MatchingStatus{models.MatchingStatusProcessing, models.MatchingStatusCompleted}, store.recordedStatuses())
}

func TestRun_MetadataOnlyTopFive(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")
	for i, offset := range []int{8, 0, 4, 1, 2, 0, 8, 1} {
		store.found = append(store.found, foundPhone(fmt.Sprintf("f%d", i), offset))
	}

	result, err := newTestEngine(store, nil).Run(context.Background(), "l1")
	require.NoError(t, err)

	assert.Equal(t, MessageMatchComplete, result.Message)
	require.Equal(t, 5, result.MatchesFound())

	var gotIDs []string
	var gotScores []float64
	for _, m := range result.Matches {
		gotIDs = append(gotIDs, m.FoundItemID)
		gotScores = append(gotScores, m.ConfidenceScore)
		assert.Equal(t, "l1", m.LostItemID)
		assert.Equal(t, models.MatchStatusPending, m.Status)
		assert.NotEmpty(t, m.ID)
	}
	assert.Equal(t, []string{"f1", "f5", "f3", "f7", "f4"}, gotIDs)
	assert.Equal(t, []float64{1, 1, 0.93, 0.93, 0.8}, gotScores)

	assert.Len(t, store.inserted, 5)
	assert.Equal(t, []models.MatchingStatus{models.MatchingStatusProcessing, models.MatchingStatusCompleted}, store.recordedStatuses())
}

func TestRun_ModelVeto(t *testing.T) {
	store := newFakeStore()
	lost := lostPhone("l1")
	lost.Model = "iPhone 13"
	store.lost["l1"] = lost

	// (4*1 + 2.5*0 + 2*1) / 8.5 clears the override threshold
	mismatch := foundPhone("f1", 0)
	mismatch.Model = "Galaxy S21"
	weak := foundPhone("f2", 3)
	weak.Model = "Galaxy S21"
	store.found = []*models.FoundItem{mismatch, weak}

	result, err := newTestEngine(store, nil).Run(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, 1, result.MatchesFound())
	assert.Equal(t, "f1", result.Matches[0].FoundItemID)
	assert.Equal(t, 0.71, result.Matches[0].ConfidenceScore)
}

func TestRun_VisualScoring(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")
	store.found = []*models.FoundItem{foundPhone("f1", 0), foundPhone("f2", 4)}

	phone := annotation([]string{"iPhone"}, []string{"mobile phone", "gadget"})
	vision := &fakeVision{annotations: map[string]*models.ImageAnnotation{
		imageURL("lost/l1.jpg"):  phone,
		imageURL("found/f1.jpg"): phone,
		imageURL("found/f2.jpg"): annotation([]string{"Wallet"}, []string{"leather"}),
	}}

	result, err := newTestEngine(store, vision).Run(context.Background(), "l1")
	require.NoError(t, err)

	assert.Equal(t, int32(3), vision.calls.Load())
	// f1: 0.6*1 + 0.4*1; f2: 0.6*0 + 0.4*0.6
	require.Equal(t, 1, result.MatchesFound())
	assert.Equal(t, "f1", result.Matches[0].FoundItemID)
	assert.Equal(t, 1.0, result.Matches[0].ConfidenceScore)
}

func TestRun_FoundImageFailureFallsBackToMetadata(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")
	store.found = []*models.FoundItem{foundPhone("f1", 0), foundPhone("f2", 4)}

	vision := &fakeVision{
		annotations: map[string]*models.ImageAnnotation{
			imageURL("lost/l1.jpg"):  annotation(nil, []string{"phone"}),
			imageURL("found/f2.jpg"): annotation(nil, []string{"keys"}),
		},
		fail: map[string]bool{imageURL("found/f1.jpg"): true},
	}

	result, err := newTestEngine(store, vision).Run(context.Background(), "l1")
	require.NoError(t, err)

	require.Equal(t, 1, result.MatchesFound())
	assert.Equal(t, "f1", result.Matches[0].FoundItemID)
	assert.Equal(t, 1.0, result.Matches[0].ConfidenceScore)
}

func TestRun_FoundImagePanicFallsBackToMetadata(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")
	store.found = []*models.FoundItem{foundPhone("f1", 0), foundPhone("f2", 4)}

	vision := &fakeVision{
		annotations: map[string]*models.ImageAnnotation{
			imageURL("lost/l1.jpg"):  annotation(nil, []string{"phone"}),
			imageURL("found/f2.jpg"): annotation(nil, []string{"keys"}),
		},
		panics: map[string]bool{imageURL("found/f1.jpg"): true},
	}

	result, err := newTestEngine(store, vision).Run(context.Background(), "l1")
	require.NoError(t, err)

	require.Equal(t, 1, result.MatchesFound())
	assert.Equal(t, "f1", result.Matches[0].FoundItemID)
	assert.Equal(t, 1.0, result.Matches[0].ConfidenceScore)
	assert.Equal(t, []models.MatchingStatus{models.MatchingStatusProcessing, models.MatchingStatusCompleted}, store.recordedStatuses())
}

func TestRun_LostImageFailureSkipsVisualScoring(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")
	store.found = []*models.FoundItem{foundPhone("f1", 0), foundPhone("f2", 1)}

	vision := &fakeVision{fail: map[string]bool{imageURL("lost/l1.jpg"): true}}

	result, err := newTestEngine(store, vision).Run(context.Background(), "l1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), vision.calls.Load())
	require.Equal(t, 2, result.MatchesFound())
	assert.Equal(t, 1.0, result.Matches[0].ConfidenceScore)
	assert.Equal(t, 0.93, result.Matches[1].ConfidenceScore)
}

func TestRun_VisionDisabled(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")
	store.found = []*models.FoundItem{foundPhone("f1", 0)}
	vision := &fakeVision{disabled: true}

	result, err := newTestEngine(store, vision).Run(context.Background(), "l1")
	require.NoError(t, err)

	assert.Zero(t, vision.calls.Load())
	assert.Equal(t, 1, result.MatchesFound())
}

func TestRun_AnnotationCache(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")
	store.found = []*models.FoundItem{foundPhone("f1", 0)}

	ann := annotation(nil, []string{"phone"})
	vision := &fakeVision{annotations: map[string]*models.ImageAnnotation{
		imageURL("lost/l1.jpg"):  ann,
		imageURL("found/f1.jpg"): ann,
	}}
	cache := &memoryCache{}
	engine := newTestEngine(store, vision, func(d *Dependencies) { d.Cache = cache })

	_, err := engine.Run(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), vision.calls.Load())

	_, err = engine.Run(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), vision.calls.Load())
	assert.Contains(t, cache.data, "item-images/found/f1.jpg")
}

func TestRun_NotifiesWhenMatchesFound(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")
	store.found = []*models.FoundItem{foundPhone("f1", 0), foundPhone("f2", 1)}
	notifier := &fakeNotifier{err: errors.New("broker down")}

	result, err := newTestEngine(store, nil, func(d *Dependencies) { d.Notifier = notifier }).Run(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.MatchesFound())
	assert.Equal(t, map[string]int{"l1": 2}, notifier.calls)
}

func TestRun_NoNotificationWithoutMatches(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")
	far := foundPhone("f1", 30)
	far.Category = "Umbrella"
	store.found = []*models.FoundItem{far}
	notifier := &fakeNotifier{}

	result, err := newTestEngine(store, nil, func(d *Dependencies) { d.Notifier = notifier }).Run(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, MessageMatchComplete, result.Message)
	assert.Equal(t, 0, result.MatchesFound())
	assert.Nil(t, notifier.calls)
}

func TestRun_FatalErrors(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(*fakeStore)
		stage   Stage
		wantErr error
	}{
		{
			name:    "LostItemNotFound",
			setup:   func(s *fakeStore) {},
			stage:   StageFetchLostItem,
			wantErr: ErrLostItemNotFound,
		},
		{
			name: "LostItemFetch",
			setup: func(s *fakeStore) {
				s.getErr = errors.New("connection refused")
			},
			stage:   StageFetchLostItem,
			wantErr: ErrFetchLostItem,
		},
		{
			name: "CandidateFetch",
			setup: func(s *fakeStore) {
				s.lost["l1"] = lostPhone("l1")
				s.listErr = errors.New("connection reset")
			},
			stage:   StageFetchCandidates,
			wantErr: ErrFetchCandidates,
		},
		{
			name: "Persist",
			setup: func(s *fakeStore) {
				s.lost["l1"] = lostPhone("l1")
				s.found = []*models.FoundItem{foundPhone("f1", 0)}
				s.insertErr = errors.New("unique violation")
			},
			stage:   StagePersist,
			wantErr: ErrPersistMatches,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			tc.setup(store)

			result, err := newTestEngine(store, nil).Run(context.Background(), "l1")
			assert.Nil(t, result)
			require.ErrorIs(t, err, tc.wantErr)

			var runErr *RunError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, tc.stage, runErr.Stage)
			assert.Equal(t, "l1", runErr.LostItemID)

			assert.Equal(t, []models.MatchingStatus{models.MatchingStatusProcessing, models.MatchingStatusFailed}, store.recordedStatuses())
		})
	}
}

func TestRun_FailedStatusWriteIsSwallowed(t *testing.T) {
	store := newFakeStore()
	store.statusErr[models.MatchingStatusFailed] = errors.New("db gone")

	_, err := newTestEngine(store, nil).Run(context.Background(), "missing")
	require.ErrorIs(t, err, ErrLostItemNotFound)
	assert.NotContains(t, err.Error(), "db gone")
}

func TestRun_StatusWriteFailuresDoNotAbort(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")
	store.found = []*models.FoundItem{foundPhone("f1", 0)}
	store.statusErr[models.MatchingStatusProcessing] = errors.New("timeout")
	store.statusErr[models.MatchingStatusCompleted] = errors.New("timeout")

	result, err := newTestEngine(store, nil).Run(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.MatchesFound())
	assert.Len(t, store.inserted, 1)
}

type panickingStore struct {
	*fakeStore
}

func (panickingStore) ListEligibleFoundItems(context.Context) ([]*models.FoundItem, error) {
	panic("boom")
}

func TestRun_RecoversPanics(t *testing.T) {
	inner := newFakeStore()
	inner.lost["l1"] = lostPhone("l1")

	engine := NewEngine(Dependencies{Store: panickingStore{inner}, Images: fakeResolver{}}, DefaultConfig())
	_, err := engine.Run(context.Background(), "l1")

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StagePanic, runErr.Stage)
	assert.True(t, strings.Contains(err.Error(), "boom"))
	assert.Equal(t, []models.MatchingStatus{models.MatchingStatusProcessing, models.MatchingStatusFailed}, inner.recordedStatuses())
}

func TestRun_ConcurrentScoringIsDeterministic(t *testing.T) {
	store := newFakeStore()
	store.lost["l1"] = lostPhone("l1")

	vision := &fakeVision{annotations: map[string]*models.ImageAnnotation{
		imageURL("lost/l1.jpg"): annotation(nil, []string{"phone", "gadget"}),
	}}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("f%02d", i)
		store.found = append(store.found, foundPhone(id, i%4))
		labels := []string{"phone"}
		if i%3 == 0 {
			labels = append(labels, "gadget")
		}
		vision.annotations[imageURL("found/"+id+".jpg")] = annotation(nil, labels)
	}

	cfg := DefaultConfig()
	cfg.VisionConcurrency = 8
	engine := NewEngine(Dependencies{Store: store, Images: fakeResolver{}, Vision: vision}, cfg)

	var first []string
	for run := 0; run < 5; run++ {
		result, err := engine.Run(context.Background(), "l1")
		require.NoError(t, err)

		var got []string
		for _, m := range result.Matches {
			got = append(got, m.FoundItemID)
		}
		if run == 0 {
			first = got
			require.Len(t, first, 5)
			continue
		}
		assert.Equal(t, first, got)
	}
}
