package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zixofranic/property-sync/internal/model"
	"github.com/zixofranic/property-sync/internal/parser"
)

// memStore is BatchStorage in memory, with the same transition
// validation and counter recount as the Postgres store.
type memStore struct {
	mu      sync.Mutex
	batches map[string]*model.Batch
	items   map[string]*model.BatchItem
}

func newMemStore() *memStore {
	return &memStore{
		batches: make(map[string]*model.Batch),
		items:   make(map[string]*model.BatchItem),
	}
}

func (s *memStore) CreateBatch(_ context.Context, b *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *memStore) GetBatch(_ context.Context, batchID string) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) SetBatchStatus(_ context.Context, batchID string, status model.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	b.Status = status
	if status == model.BatchCompleted {
		now := time.Now().UTC()
		b.CompletedAt = &now
	}
	return nil
}

func (s *memStore) DeleteBatch(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batchID]; !ok {
		return ErrBatchNotFound
	}
	delete(s.batches, batchID)
	for id, it := range s.items {
		if it.BatchID == batchID {
			delete(s.items, id)
		}
	}
	return nil
}

func (s *memStore) InsertItems(_ context.Context, items []model.BatchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range items {
		cp := items[i]
		s.items[cp.ID] = &cp
	}
	if len(items) > 0 {
		s.recount(items[0].BatchID)
	}
	return nil
}

func (s *memStore) NextPosition(_ context.Context, batchID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := 0
	for _, it := range s.items {
		if it.BatchID == batchID && it.Position >= next {
			next = it.Position + 1
		}
	}
	return next, nil
}

func (s *memStore) GetItem(_ context.Context, itemID string) (*model.BatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *memStore) ListItems(_ context.Context, batchID string) ([]model.BatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BatchItem
	for _, it := range s.items {
		if it.BatchID == batchID {
			out = append(out, *it)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Position < out[i].Position {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (s *memStore) ItemsInStatus(ctx context.Context, batchID string, statuses ...model.ParseStatus) ([]model.BatchItem, error) {
	all, err := s.ListItems(ctx, batchID)
	if err != nil {
		return nil, err
	}
	var out []model.BatchItem
	for _, it := range all {
		for _, st := range statuses {
			if it.Status == st {
				out = append(out, it)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) Advance(_ context.Context, itemID string, to model.ParseStatus, mutate func(*model.BatchItem)) (*model.BatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	if err := model.CheckTransition(it.Status, to); err != nil {
		return nil, err
	}
	it.Status = to
	if progress, ok := model.ProgressFor(to); ok {
		it.LoadingProgress = progress
	}
	if mutate != nil {
		mutate(it)
	}
	it.UpdatedAt = time.Now().UTC()
	s.recount(it.BatchID)
	cp := *it
	return &cp, nil
}

func (s *memStore) recount(batchID string) {
	b, ok := s.batches[batchID]
	if !ok {
		return
	}
	b.TotalCount, b.SuccessCount, b.FailureCount = 0, 0, 0
	for _, it := range s.items {
		if it.BatchID != batchID {
			continue
		}
		b.TotalCount++
		if it.Status.Succeeded() {
			b.SuccessCount++
		}
		if it.Status == model.StatusFailed {
			b.FailureCount++
		}
	}
}

// memProps is PropertyStorage plus the lookup side for dedup.
type memProps struct {
	mu     sync.Mutex
	seq    int
	byID   map[string]*model.ParsedProperty
	byURL  map[string]string
	byAddr map[string]string
}

func newMemProps() *memProps {
	return &memProps{
		byID:   make(map[string]*model.ParsedProperty),
		byURL:  make(map[string]string),
		byAddr: make(map[string]string),
	}
}

func scopeKey(ownerID, collectionID, k string) string {
	return ownerID + "|" + collectionID + "|" + k
}

func (m *memProps) Commit(_ context.Context, ownerID, collectionID string, p *model.ParsedProperty) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	urlKey := scopeKey(ownerID, collectionID, p.SourceURL)
	id, existed := m.byURL[urlKey]
	if !existed {
		m.seq++
		id = fmt.Sprintf("prop-%d", m.seq)
		m.byURL[urlKey] = id
	}
	cp := *p
	m.byID[id] = &cp
	if norm := NormalizeAddress(p.Address.Full); norm != "" {
		m.byAddr[scopeKey(ownerID, collectionID, norm)] = id
	}
	return id, !existed, nil
}

func (m *memProps) UpdateParsedData(_ context.Context, propertyID string, p *model.ParsedProperty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[propertyID]; !ok {
		return fmt.Errorf("property %s not found", propertyID)
	}
	cp := *p
	m.byID[propertyID] = &cp
	return nil
}

func (m *memProps) FindBySourceURL(_ context.Context, ownerID, collectionID, sourceURL string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byURL[scopeKey(ownerID, collectionID, sourceURL)]
	return id, ok, nil
}

func (m *memProps) FindByAddress(_ context.Context, ownerID, collectionID, normalized string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byAddr[scopeKey(ownerID, collectionID, normalized)]
	return id, ok, nil
}

func (m *memProps) get(id string) *model.ParsedProperty {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

type memResolver struct {
	allowed map[string]bool
}

func (r *memResolver) Resolve(_ context.Context, ownerID, collectionID string) error {
	if !r.allowed[ownerID+"|"+collectionID] {
		return ErrCollectionNotFound
	}
	return nil
}

// stubParser is a canned site parser.
type stubParser struct {
	src   model.ListingSource
	quick func(ctx context.Context, rawURL string) (*model.ParsedProperty, error)
	full  func(ctx context.Context, rawURL string) (*model.ParsedProperty, error)
}

func (s *stubParser) Source() model.ListingSource { return s.src }

func (s *stubParser) CanHandle(rawURL string) bool {
	return strings.Contains(rawURL, string(s.src))
}

func (s *stubParser) Confidence(rawURL string) float64 {
	if s.CanHandle(rawURL) {
		return 0.9
	}
	return 0
}

func (s *stubParser) ExtractAddressFromURL(rawURL string) (parser.URLAddress, error) {
	return parser.URLAddress{Street: urlTail(rawURL)}, nil
}

func (s *stubParser) QuickParse(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
	if s.quick != nil {
		return s.quick(ctx, rawURL)
	}
	p := mkProp(s.src, rawURL, 0)
	p.IsFullyParsed = false
	return p, nil
}

func (s *stubParser) Parse(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
	if s.full != nil {
		return s.full(ctx, rawURL)
	}
	return mkProp(s.src, rawURL, 450000), nil
}

func urlTail(rawURL string) string {
	return path.Base(strings.TrimRight(rawURL, "/"))
}

func mkProp(src model.ListingSource, rawURL string, price float64) *model.ParsedProperty {
	p := &model.ParsedProperty{
		Source:    src,
		SourceURL: rawURL,
		Address: model.Address{
			Street: urlTail(rawURL), City: "Dallas", State: "TX", Zip: "75201",
		},
		IsFullyParsed: price > 0,
	}
	if price > 0 {
		p.Pricing = model.Pricing{NumericPrice: price, DisplayPrice: fmt.Sprintf("$%.0f", price)}
	}
	p.Normalize()
	return p
}

const (
	testOwner      = "o1"
	testCollection = "c1"
)

func newTestManager(t *testing.T, parsers ...parser.Parser) (*BatchManager, *memStore, *memProps) {
	t.Helper()
	if len(parsers) == 0 {
		parsers = []parser.Parser{&stubParser{src: model.SourceZillow}}
	}
	factory, err := parser.NewFactory(nil, parsers...)
	require.NoError(t, err)

	store := newMemStore()
	props := newMemProps()
	m := NewBatchManager(BatchManagerDeps{
		Store:           store,
		Props:           props,
		Dedup:           NewDuplicateDetector(props, nil),
		Resolver:        &memResolver{allowed: map[string]bool{testOwner + "|" + testCollection: true}},
		Factory:         factory,
		Jobs:            NewJobManager(nil),
		SequentialDelay: time.Millisecond,
	})
	return m, store, props
}

func zurl(tail string) string {
	return "https://www.zillow.com/homedetails/" + tail + "_zpid/"
}

func waitForJob(t *testing.T, m *BatchManager, batchID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !m.jobs.Running(jobKey(batchID))
	}, 2*time.Second, 5*time.Millisecond, "parse run did not finish")
}

func TestCreateBatchUnknownCollection(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, _, err := m.CreateBatch(context.Background(), testOwner, "someone-elses", []string{zurl("1")})
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestCreateBatchSeedsPendingItems(t *testing.T) {
	m, store, _ := newTestManager(t)
	urls := []string{zurl("1"), "  ", zurl("2"), zurl("3")}

	batch, items, err := m.CreateBatch(context.Background(), testOwner, testCollection, urls)
	require.NoError(t, err)
	require.Equal(t, model.BatchPending, batch.Status)
	require.Len(t, items, 3, "blank urls are dropped")

	stored, err := store.ListItems(context.Background(), batch.ID)
	require.NoError(t, err)
	for i, it := range stored {
		require.Equal(t, i, it.Position)
		require.Equal(t, model.StatusPending, it.Status)
		require.Zero(t, it.LoadingProgress)
	}

	got, err := store.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.TotalCount)
}

func TestCreateBatchWithoutURLsStartsEmpty(t *testing.T) {
	m, store, _ := newTestManager(t)

	batch, items, err := m.CreateBatch(context.Background(), testOwner, testCollection, nil)
	require.NoError(t, err)
	require.Empty(t, items)
	require.Equal(t, model.BatchPending, batch.Status)
	require.Zero(t, batch.TotalCount)

	added, err := m.AddURLs(context.Background(), batch.ID, []string{zurl("1"), zurl("2")})
	require.NoError(t, err)
	require.Equal(t, 0, added[0].Position)
	require.Equal(t, 1, added[1].Position)

	got, err := store.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.TotalCount)
}

func TestAddURLsRejectsEmptyInput(t *testing.T) {
	m, _, _ := newTestManager(t)
	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection, nil)
	require.NoError(t, err)

	_, err = m.AddURLs(context.Background(), batch.ID, []string{"", "   "})
	require.ErrorIs(t, err, ErrNoURLs)
}

func TestAddURLsAppendsAfterExistingPositions(t *testing.T) {
	m, store, _ := newTestManager(t)
	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection, []string{zurl("1"), zurl("2")})
	require.NoError(t, err)

	added, err := m.AddURLs(context.Background(), batch.ID, []string{zurl("3"), zurl("4")})
	require.NoError(t, err)
	require.Equal(t, 2, added[0].Position)
	require.Equal(t, 3, added[1].Position)

	got, err := store.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, 4, got.TotalCount)

	require.NoError(t, store.SetBatchStatus(context.Background(), batch.ID, model.BatchCompleted))
	_, err = m.AddURLs(context.Background(), batch.ID, []string{zurl("5")})
	require.ErrorIs(t, err, ErrBatchCompleted)
}

func TestParseRejectsCompletedBatch(t *testing.T) {
	m, store, _ := newTestManager(t)
	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection, []string{zurl("1")})
	require.NoError(t, err)
	require.NoError(t, store.SetBatchStatus(context.Background(), batch.ID, model.BatchCompleted))

	require.ErrorIs(t, m.ParseProgressive(context.Background(), batch.ID), ErrBatchCompleted)
	_, _, err = m.ParseSequential(context.Background(), batch.ID)
	require.ErrorIs(t, err, ErrBatchCompleted)
}

func TestProgressiveRunThenImport(t *testing.T) {
	m, store, props := newTestManager(t,
		&stubParser{src: model.SourceZillow},
		&stubParser{src: model.SourceRedfin},
	)
	urls := []string{
		zurl("100"),
		"https://www.redfin.com/TX/Dallas/200-Oak-St-75201/home/200",
		zurl("300"),
	}
	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection, urls)
	require.NoError(t, err)

	require.NoError(t, m.ParseProgressive(context.Background(), batch.ID))
	waitForJob(t, m, batch.ID)

	items, err := store.ListItems(context.Background(), batch.ID)
	require.NoError(t, err)
	var selections []model.ImportSelection
	for _, it := range items {
		require.Equal(t, model.StatusParsed, it.Status)
		require.Equal(t, 90, it.LoadingProgress)
		require.NotNil(t, it.ParsedData)
		require.True(t, it.ParsedData.IsFullyParsed)
		selections = append(selections, model.ImportSelection{ItemID: it.ID})
	}

	got, err := store.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, model.BatchProcessing, got.Status, "parsed items await import")
	require.Equal(t, 3, got.SuccessCount)

	summary, results, err := m.ImportSelected(context.Background(), batch.ID, selections)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Successful)
	require.Zero(t, summary.Failed)
	for _, res := range results {
		require.True(t, res.Imported)
		require.NotNil(t, props.get(res.PropertyID))
	}

	got, err = store.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, model.BatchCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestProgressiveQuickFailureIsIsolated(t *testing.T) {
	bad := zurl("broken")
	m, store, _ := newTestManager(t, &stubParser{
		src: model.SourceZillow,
		quick: func(_ context.Context, rawURL string) (*model.ParsedProperty, error) {
			if rawURL == bad {
				return nil, errors.New("fetch: connection reset")
			}
			p := mkProp(model.SourceZillow, rawURL, 0)
			p.IsFullyParsed = false
			return p, nil
		},
	})
	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection,
		[]string{zurl("1"), bad, zurl("2")})
	require.NoError(t, err)

	require.NoError(t, m.ParseProgressive(context.Background(), batch.ID))
	waitForJob(t, m, batch.ID)

	items, err := store.ListItems(context.Background(), batch.ID)
	require.NoError(t, err)
	byURL := make(map[string]model.BatchItem)
	for _, it := range items {
		byURL[it.SourceURL] = it
	}
	require.Equal(t, model.StatusFailed, byURL[bad].Status)
	require.Contains(t, byURL[bad].ParseError, "connection reset")
	require.Equal(t, 10, byURL[bad].LoadingProgress, "progress freezes where the item died")
	require.Equal(t, model.StatusParsed, byURL[zurl("1")].Status)
	require.Equal(t, model.StatusParsed, byURL[zurl("2")].Status)

	got, err := store.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.SuccessCount)
	require.Equal(t, 1, got.FailureCount)
}

func TestSequentialKeepsInputOrderAcrossSources(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(rawURL string) {
		mu.Lock()
		order = append(order, rawURL)
		mu.Unlock()
	}
	full := func(src model.ListingSource) func(context.Context, string) (*model.ParsedProperty, error) {
		return func(_ context.Context, rawURL string) (*model.ParsedProperty, error) {
			record(rawURL)
			if strings.Contains(rawURL, "flaky") {
				return nil, errors.New("render timed out")
			}
			return mkProp(src, rawURL, 300000), nil
		}
	}
	m, _, _ := newTestManager(t,
		&stubParser{src: model.SourceZillow, full: full(model.SourceZillow)},
		&stubParser{src: model.SourceRedfin, full: full(model.SourceRedfin)},
	)

	urls := []string{
		zurl("a"),
		"https://www.redfin.com/TX/Dallas/flaky-1/home/1",
		zurl("b"),
		"https://www.redfin.com/TX/Dallas/ok-2/home/2",
	}
	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection, urls)
	require.NoError(t, err)

	results, summary, err := m.ParseSequential(context.Background(), batch.ID)
	require.NoError(t, err)

	mu.Lock()
	require.Equal(t, urls, order, "sequential preserves strict input order")
	mu.Unlock()

	require.Equal(t, &model.ParseSummary{Total: 4, Successful: 3, Failed: 1}, summary)
	require.Len(t, results, 4)
	require.Equal(t, model.StatusParsed, results[0].Status)
	require.Equal(t, model.StatusFailed, results[1].Status)
	require.Equal(t, model.StatusParsed, results[2].Status)
	require.Equal(t, model.StatusParsed, results[3].Status)
	require.Contains(t, results[1].ParseError, "render timed out")
}

func TestInstantCommitsPlaceholdersBeforeReturn(t *testing.T) {
	release := make(chan struct{})
	m, store, props := newTestManager(t, &stubParser{
		src: model.SourceZillow,
		full: func(ctx context.Context, rawURL string) (*model.ParsedProperty, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return mkProp(model.SourceZillow, rawURL, 777000), nil
		},
	})

	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection,
		[]string{zurl("10"), zurl("20")})
	require.NoError(t, err)

	batch, items, err := m.CreateInstant(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, model.BatchProcessing, batch.Status)

	for _, it := range items {
		require.Equal(t, model.StatusQuickParsed, it.Status)
		require.Equal(t, model.ProgressInstantCommit, it.LoadingProgress)
		require.NotEmpty(t, it.CommittedEntityID)

		committed := props.get(it.CommittedEntityID)
		require.NotNil(t, committed, "placeholder visible before any network work")
		require.False(t, committed.IsFullyParsed)
		require.Zero(t, committed.Pricing.NumericPrice)
	}

	close(release)
	waitForJob(t, m, batch.ID)

	final, err := store.ListItems(context.Background(), batch.ID)
	require.NoError(t, err)
	for _, it := range final {
		require.Equal(t, model.StatusImported, it.Status)
		require.Equal(t, 100, it.LoadingProgress)

		committed := props.get(it.CommittedEntityID)
		require.True(t, committed.IsFullyParsed, "backfill upgrades the entity in place")
		require.Equal(t, float64(777000), committed.Pricing.NumericPrice)
	}

	got, err := store.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, model.BatchCompleted, got.Status)
}

func TestInstantBackfillFailureKeepsPlaceholder(t *testing.T) {
	m, store, props := newTestManager(t, &stubParser{
		src: model.SourceZillow,
		full: func(context.Context, string) (*model.ParsedProperty, error) {
			return nil, errors.New("blocked by site")
		},
	})

	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection, []string{zurl("55")})
	require.NoError(t, err)

	_, items, err := m.CreateInstant(context.Background(), batch.ID)
	require.NoError(t, err)
	entityID := items[0].CommittedEntityID
	require.NotEmpty(t, entityID)

	waitForJob(t, m, batch.ID)

	it, err := store.GetItem(context.Background(), items[0].ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, it.Status)
	require.Contains(t, it.ParseError, "blocked")
	require.NotNil(t, props.get(entityID), "failed backfill must not remove the committed placeholder")
}

func TestImportDuplicateFailsItemNotCall(t *testing.T) {
	m, store, props := newTestManager(t)

	// Something with the same address is already in the collection.
	existing := mkProp(model.SourceRedfin, "https://www.redfin.com/TX/Dallas/dup/home/9", 400000)
	existing.Address.Street = urlTail(zurl("dup-1"))
	existing.Address.Full = ""
	existing.Normalize()
	existingID, _, err := props.Commit(context.Background(), testOwner, testCollection, existing)
	require.NoError(t, err)

	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection,
		[]string{zurl("dup-1"), zurl("fresh-1"), zurl("fresh-2")})
	require.NoError(t, err)
	require.NoError(t, m.ParseProgressive(context.Background(), batch.ID))
	waitForJob(t, m, batch.ID)

	items, err := store.ListItems(context.Background(), batch.ID)
	require.NoError(t, err)
	selections := []model.ImportSelection{
		{ItemID: items[0].ID},
		{ItemID: items[1].ID},
		{ItemID: items[2].ID},
	}
	summary, results, err := m.ImportSelected(context.Background(), batch.ID, selections)
	require.NoError(t, err, "a duplicate must never fail the import call")
	require.Equal(t, &model.ImportSummary{Total: 3, Successful: 2, Failed: 1}, summary)

	require.True(t, results[0].Duplicate)
	require.False(t, results[0].Imported)
	require.Equal(t, existingID, results[0].PropertyID, "no second entity committed for the same listing")
	require.True(t, results[1].Imported)
	require.True(t, results[2].Imported)

	it, err := store.GetItem(context.Background(), items[0].ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, it.Status)
	require.Contains(t, it.ParseError, "duplicate")
}

func TestCreateInstantSkipsDuplicates(t *testing.T) {
	m, store, props := newTestManager(t)

	existing := mkProp(model.SourceZillow, zurl("twice"), 315000)
	_, _, err := props.Commit(context.Background(), testOwner, testCollection, existing)
	require.NoError(t, err)

	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection,
		[]string{zurl("twice"), zurl("new")})
	require.NoError(t, err)

	_, items, err := m.CreateInstant(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, model.StatusFailed, items[0].Status)
	require.Contains(t, items[0].ParseError, "duplicate")
	require.Empty(t, items[0].CommittedEntityID, "colliding url must not commit a placeholder")

	require.Equal(t, model.StatusQuickParsed, items[1].Status)
	require.NotEmpty(t, items[1].CommittedEntityID)

	waitForJob(t, m, batch.ID)

	final, err := store.GetItem(context.Background(), items[1].ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusImported, final.Status, "backfill still runs for the fresh item")

	got, err := store.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, model.BatchCompleted, got.Status)
}

func TestImportAppliesOverrides(t *testing.T) {
	m, _, props := newTestManager(t)
	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection, []string{zurl("edit-me")})
	require.NoError(t, err)
	require.NoError(t, m.ParseProgressive(context.Background(), batch.ID))
	waitForJob(t, m, batch.ID)

	items, err := m.store.ListItems(context.Background(), batch.ID)
	require.NoError(t, err)

	price := 999999.0
	beds := 5
	summary, results, err := m.ImportSelected(context.Background(), batch.ID, []model.ImportSelection{{
		ItemID: items[0].ID,
		Overrides: &model.PropertyOverrides{
			NumericPrice: &price,
			Beds:         &beds,
		},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Successful)

	committed := props.get(results[0].PropertyID)
	require.NotNil(t, committed)
	require.Equal(t, price, committed.Pricing.NumericPrice)
	require.NotNil(t, committed.Details.Beds)
	require.Equal(t, beds, *committed.Details.Beds)
}

func TestImportRejectsItemsWithoutParsedData(t *testing.T) {
	m, _, _ := newTestManager(t)
	batch, items, err := m.CreateBatch(context.Background(), testOwner, testCollection, []string{zurl("raw")})
	require.NoError(t, err)

	summary, results, err := m.ImportSelected(context.Background(), batch.ID,
		[]model.ImportSelection{{ItemID: items[0].ID}})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.False(t, results[0].Imported)
	require.Contains(t, results[0].Reason, "pending")
}

func TestDeleteBatchCancelsRunningJob(t *testing.T) {
	started := make(chan struct{}, 1)
	m, store, _ := newTestManager(t, &stubParser{
		src: model.SourceZillow,
		full: func(ctx context.Context, _ string) (*model.ParsedProperty, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection,
		[]string{zurl("1"), zurl("2")})
	require.NoError(t, err)

	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		_, _, _ = m.ParseSequential(context.Background(), batch.ID)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("parse run never started")
	}

	require.NoError(t, m.DeleteBatch(context.Background(), batch.ID))
	waitForJob(t, m, batch.ID)

	select {
	case <-seqDone:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked sequential call did not return after delete")
	}

	_, err = store.GetBatch(context.Background(), batch.ID)
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestUnsupportedURLFailsItemNotBatch(t *testing.T) {
	m, store, _ := newTestManager(t)
	batch, _, err := m.CreateBatch(context.Background(), testOwner, testCollection,
		[]string{zurl("good"), "https://example.com/not-a-listing"})
	require.NoError(t, err)

	require.NoError(t, m.ParseProgressive(context.Background(), batch.ID))
	waitForJob(t, m, batch.ID)

	items, err := store.ListItems(context.Background(), batch.ID)
	require.NoError(t, err)
	byURL := make(map[string]model.BatchItem)
	for _, it := range items {
		byURL[it.SourceURL] = it
	}
	require.Equal(t, model.StatusParsed, byURL[zurl("good")].Status)
	require.Equal(t, model.StatusFailed, byURL["https://example.com/not-a-listing"].Status)
	require.Contains(t, byURL["https://example.com/not-a-listing"].ParseError, "no parser")
}
