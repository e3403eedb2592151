// Package service holds the import pipeline: batch orchestration,
// persistence, duplicate detection and background parse runs.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zixofranic/property-sync/internal/metrics"
	"github.com/zixofranic/property-sync/internal/model"
	"github.com/zixofranic/property-sync/internal/parser"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBatchCompleted rejects writes to a finished batch.
	ErrBatchCompleted = errors.New("batch already completed")
	// ErrNoURLs rejects an append without a single usable URL.
	ErrNoURLs = errors.New("no urls given")
)

// BatchStorage is the persistence surface the manager drives.
type BatchStorage interface {
	CreateBatch(ctx context.Context, b *model.Batch) error
	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
	SetBatchStatus(ctx context.Context, batchID string, status model.BatchStatus) error
	DeleteBatch(ctx context.Context, batchID string) error
	InsertItems(ctx context.Context, items []model.BatchItem) error
	NextPosition(ctx context.Context, batchID string) (int, error)
	GetItem(ctx context.Context, itemID string) (*model.BatchItem, error)
	ListItems(ctx context.Context, batchID string) ([]model.BatchItem, error)
	ItemsInStatus(ctx context.Context, batchID string, statuses ...model.ParseStatus) ([]model.BatchItem, error)
	Advance(ctx context.Context, itemID string, to model.ParseStatus, mutate func(*model.BatchItem)) (*model.BatchItem, error)
}

// PropertyStorage is the committed-property surface the manager drives.
type PropertyStorage interface {
	Commit(ctx context.Context, ownerID, collectionID string, p *model.ParsedProperty) (string, bool, error)
	UpdateParsedData(ctx context.Context, propertyID string, p *model.ParsedProperty) error
}

// CollectionChecker validates batch destinations.
type CollectionChecker interface {
	Resolve(ctx context.Context, ownerID, collectionID string) error
}

// BatchManagerDeps wires the manager's collaborators.
type BatchManagerDeps struct {
	Store    BatchStorage
	Props    PropertyStorage
	Dedup    *DuplicateDetector
	Resolver CollectionChecker
	Factory  *parser.Factory
	Jobs     *JobManager
	Notifier Notifier
	Log      *zap.Logger

	// SequentialDelay spaces items in a sequential run. Zero takes
	// the 500ms default.
	SequentialDelay time.Duration
}

// BatchManager owns the batch lifecycle: creation, the three parse
// strategies, and import into the destination collection.
type BatchManager struct {
	store    BatchStorage
	props    PropertyStorage
	dedup    *DuplicateDetector
	resolver CollectionChecker
	factory  *parser.Factory
	jobs     *JobManager
	notifier Notifier
	log      *zap.Logger
	seqDelay time.Duration
}

// NewBatchManager creates a batch manager.
func NewBatchManager(d BatchManagerDeps) *BatchManager {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = &LogNotifier{Log: log}
	}
	if d.SequentialDelay <= 0 {
		d.SequentialDelay = 500 * time.Millisecond
	}
	return &BatchManager{
		store:    d.Store,
		props:    d.Props,
		dedup:    d.Dedup,
		resolver: d.Resolver,
		factory:  d.Factory,
		jobs:     d.Jobs,
		notifier: notifier,
		log:      log.Named("batches"),
		seqDelay: d.SequentialDelay,
	}
}

func jobKey(batchID string) string { return "batch:" + batchID }

// cleanURLs trims and drops blank entries, preserving order. Repeated
// URLs stay; the duplicate detector flags them at import time.
func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// CreateBatch validates the destination and records the batch, seeding
// one pending item per URL. URLs are optional here; AddURLs appends
// more until the batch completes.
func (m *BatchManager) CreateBatch(ctx context.Context, ownerID, collectionID string, urls []string) (*model.Batch, []model.BatchItem, error) {
	urls = cleanURLs(urls)
	if err := m.resolver.Resolve(ctx, ownerID, collectionID); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	batch := &model.Batch{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		CollectionID: collectionID,
		Status:       model.BatchPending,
		TotalCount:   len(urls),
		StartedAt:    now,
	}
	if err := m.store.CreateBatch(ctx, batch); err != nil {
		return nil, nil, err
	}

	items := newItems(batch.ID, urls, 0, now)
	if err := m.store.InsertItems(ctx, items); err != nil {
		return nil, nil, err
	}

	m.log.Info("batch created",
		zap.String("batch", batch.ID),
		zap.String("owner", ownerID),
		zap.Int("urls", len(urls)),
	)
	m.notifier.Notify(ctx, Event{
		Type: EventBatchCreated, OwnerID: ownerID, BatchID: batch.ID,
		Payload: map[string]any{"total": len(urls)},
	})
	return batch, items, nil
}

// AddURLs appends pending items to an existing, unfinished batch.
func (m *BatchManager) AddURLs(ctx context.Context, batchID string, urls []string) ([]model.BatchItem, error) {
	urls = cleanURLs(urls)
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == model.BatchCompleted {
		return nil, ErrBatchCompleted
	}
	next, err := m.store.NextPosition(ctx, batchID)
	if err != nil {
		return nil, err
	}

	items := newItems(batchID, urls, next, time.Now().UTC())
	if err := m.store.InsertItems(ctx, items); err != nil {
		return nil, err
	}
	m.log.Info("urls appended", zap.String("batch", batchID), zap.Int("urls", len(urls)))
	return items, nil
}

func newItems(batchID string, urls []string, firstPosition int, now time.Time) []model.BatchItem {
	items := make([]model.BatchItem, len(urls))
	for i, u := range urls {
		items[i] = model.BatchItem{
			ID:        uuid.NewString(),
			BatchID:   batchID,
			SourceURL: u,
			Position:  firstPosition + i,
			Status:    model.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return items
}

// CreateInstant runs the instant strategy over the batch's pending
// items: each one gets a URL-derived placeholder property committed to
// the collection before return, then a detached full parse upgrades
// the committed entities in place. No network happens before return.
func (m *BatchManager) CreateInstant(ctx context.Context, batchID string) (*model.Batch, []model.BatchItem, error) {
	batch, err := m.beginRun(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	type commitOutcome struct {
		items []model.BatchItem
		err   error
	}
	outcome := make(chan commitOutcome, 1)
	err = m.jobs.Start(jobKey(batchID), func(jobCtx context.Context) {
		pending, err := m.store.ItemsInStatus(jobCtx, batchID, model.StatusPending)
		if err != nil {
			outcome <- commitOutcome{err: err}
			return
		}
		committed := m.commitPlaceholders(jobCtx, batch, pending)

		// Snapshot before the backfill starts moving items again;
		// the caller sees the instant-commit state.
		snapshot, err := m.store.ListItems(jobCtx, batchID)
		outcome <- commitOutcome{items: snapshot, err: err}
		if err != nil || jobCtx.Err() != nil {
			return
		}
		m.runInstantBackfill(jobCtx, batch, committed)
	})
	if err != nil {
		return nil, nil, err
	}

	select {
	case out := <-outcome:
		if out.err != nil {
			return nil, nil, out.err
		}
		return batch, out.items, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// commitPlaceholders is the synchronous half of the instant strategy:
// one placeholder property per pending item, built from URL text
// alone. Returns the items that actually got an entity committed.
func (m *BatchManager) commitPlaceholders(ctx context.Context, batch *model.Batch, items []model.BatchItem) []model.BatchItem {
	committed := make([]model.BatchItem, 0, len(items))
	for _, it := range items {
		if ctx.Err() != nil {
			return committed
		}
		p, ok := m.factory.GetParser(it.SourceURL)
		if !ok {
			m.failItem(ctx, batch, it.ID, "no parser can handle this url")
			continue
		}

		// URL text is all we have; unparseable slugs still get a
		// placeholder that shows the URL itself.
		addr, _ := p.ExtractAddressFromURL(it.SourceURL)
		prop := parser.PlaceholderProperty(p.Source(), it.SourceURL, addr)

		if _, err := m.store.Advance(ctx, it.ID, model.StatusQuickParsing, nil); err != nil {
			m.log.Warn("instant item skipped", zap.String("item", it.ID), zap.Error(err))
			continue
		}

		// Committing the placeholder would put a second entity with
		// this URL or address into the collection.
		if match, err := m.dedup.Check(ctx, batch.OwnerID, batch.CollectionID, prop); err == nil && match != nil {
			m.failDuplicate(ctx, batch, it.ID, match)
			continue
		}

		entityID, _, err := m.props.Commit(ctx, batch.OwnerID, batch.CollectionID, prop)
		if err != nil {
			m.failItem(ctx, batch, it.ID, "commit placeholder: "+err.Error())
			continue
		}

		updated, err := m.store.Advance(ctx, it.ID, model.StatusQuickParsed, func(bi *model.BatchItem) {
			bi.ParsedData = prop
			bi.CommittedEntityID = entityID
			bi.LoadingProgress = model.ProgressInstantCommit
		})
		if err != nil {
			m.log.Warn("instant item not recorded", zap.String("item", it.ID), zap.Error(err))
			continue
		}
		committed = append(committed, *updated)
	}
	return committed
}

// ParseProgressive runs the quick HTTP pass over every pending item
// before returning, then leaves a detached browser full parse running
// over everything the quick pass got through. The job holds the
// batch's run slot across both passes, so a second strategy call
// during the full pass is rejected, and delete cancels it.
func (m *BatchManager) ParseProgressive(ctx context.Context, batchID string) error {
	batch, err := m.beginRun(ctx, batchID)
	if err != nil {
		return err
	}

	quickDone := make(chan error, 1)
	err = m.jobs.Start(jobKey(batchID), func(jobCtx context.Context) {
		pending, err := m.store.ItemsInStatus(jobCtx, batchID, model.StatusPending)
		if err != nil {
			quickDone <- err
			return
		}
		m.runQuickPass(jobCtx, batch, pending)
		quickDone <- jobCtx.Err()

		if jobCtx.Err() != nil {
			return
		}
		ready, err := m.store.ItemsInStatus(jobCtx, batchID, model.StatusQuickParsed)
		if err != nil {
			m.log.Error("full pass aborted", zap.String("batch", batchID), zap.Error(err))
			return
		}
		m.runFullPass(jobCtx, batch, ready, false)
		m.finishRunIfTerminal(batch)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-quickDone:
		return err
	case <-ctx.Done():
		// The run carries on; the caller polls batch status.
		return ctx.Err()
	}
}

// ParseSequential fully parses every remaining item in input order,
// one at a time with a delay between items, and returns only once the
// whole batch has been walked.
func (m *BatchManager) ParseSequential(ctx context.Context, batchID string) ([]model.BatchItem, *model.ParseSummary, error) {
	batch, err := m.beginRun(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	done := make(chan struct{})
	err = m.jobs.Start(jobKey(batchID), func(jobCtx context.Context) {
		defer close(done)
		todo, err := m.store.ItemsInStatus(jobCtx, batchID, model.StatusPending, model.StatusQuickParsed)
		if err != nil {
			m.log.Error("sequential run aborted", zap.String("batch", batchID), zap.Error(err))
			return
		}
		for i := range todo {
			if i > 0 && !sleepCtx(jobCtx, m.seqDelay) {
				return
			}
			if jobCtx.Err() != nil {
				return
			}
			m.fullParseItem(jobCtx, batch, &todo[i], false)
		}
		m.finishRunIfTerminal(batch)
	})
	if err != nil {
		return nil, nil, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	items, err := m.store.ListItems(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	summary := &model.ParseSummary{Total: len(items)}
	for _, it := range items {
		switch {
		case it.Status.Succeeded():
			summary.Successful++
		case it.Status == model.StatusFailed:
			summary.Failed++
		}
	}
	return items, summary, nil
}

// beginRun validates the batch and marks it processing before the run
// claims the job slot.
func (m *BatchManager) beginRun(ctx context.Context, batchID string) (*model.Batch, error) {
	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == model.BatchCompleted {
		return nil, ErrBatchCompleted
	}
	if batch.Status == model.BatchPending {
		if err := m.store.SetBatchStatus(ctx, batchID, model.BatchProcessing); err != nil {
			m.log.Warn("batch status not updated", zap.String("batch", batchID), zap.Error(err))
		} else {
			batch.Status = model.BatchProcessing
		}
	}
	return batch, nil
}

// sleepCtx waits d or until ctx is cancelled; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runQuickPass does the cheap HTTP extraction, grouped by source so
// sites are paced independently and fetched in parallel across sites.
func (m *BatchManager) runQuickPass(ctx context.Context, batch *model.Batch, items []model.BatchItem) {
	groups := m.groupBySource(ctx, batch, items)

	g, groupCtx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			for i := range group {
				if groupCtx.Err() != nil {
					return nil
				}
				m.quickParseItem(groupCtx, batch, &group[i])
			}
			return nil
		})
	}
	_ = g.Wait()
}

// runFullPass renders and extracts every item, grouped by source. When
// backfilling an instant batch the committed placeholder entity is
// updated and the item lands on imported.
func (m *BatchManager) runFullPass(ctx context.Context, batch *model.Batch, items []model.BatchItem, backfill bool) {
	groups := m.groupBySource(ctx, batch, items)

	g, groupCtx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			for i := range group {
				if groupCtx.Err() != nil {
					return nil
				}
				m.fullParseItem(groupCtx, batch, &group[i], backfill)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *BatchManager) runInstantBackfill(ctx context.Context, batch *model.Batch, items []model.BatchItem) {
	m.runFullPass(ctx, batch, items, true)
	if ctx.Err() != nil {
		return
	}
	m.finishRunIfTerminal(batch)
}

// groupBySource buckets items by their parser's source. Items no
// parser takes are failed immediately.
func (m *BatchManager) groupBySource(ctx context.Context, batch *model.Batch, items []model.BatchItem) map[model.ListingSource][]model.BatchItem {
	groups := make(map[model.ListingSource][]model.BatchItem)
	for _, it := range items {
		p, ok := m.factory.GetParser(it.SourceURL)
		if !ok {
			m.failItem(ctx, batch, it.ID, "no parser can handle this url")
			continue
		}
		src := p.Source()
		groups[src] = append(groups[src], it)
	}
	return groups
}

func (m *BatchManager) quickParseItem(ctx context.Context, batch *model.Batch, it *model.BatchItem) {
	p, ok := m.factory.GetParser(it.SourceURL)
	if !ok {
		m.failItem(ctx, batch, it.ID, "no parser can handle this url")
		return
	}
	src := string(p.Source())

	if _, err := m.store.Advance(ctx, it.ID, model.StatusQuickParsing, nil); err != nil {
		m.log.Debug("quick parse skipped", zap.String("item", it.ID), zap.Error(err))
		return
	}

	start := time.Now()
	prop, err := p.QuickParse(ctx, it.SourceURL)
	metrics.ParseDurationSeconds.WithLabelValues(src, "quick").Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ParsesTotal.WithLabelValues(src, "quick", "error").Inc()
		m.failItem(ctx, batch, it.ID, err.Error())
		return
	}
	metrics.ParsesTotal.WithLabelValues(src, "quick", "ok").Inc()

	if _, err := m.store.Advance(ctx, it.ID, model.StatusQuickParsed, func(bi *model.BatchItem) {
		bi.ParsedData = prop
	}); err != nil {
		m.log.Debug("quick result not recorded", zap.String("item", it.ID), zap.Error(err))
		return
	}
	m.notifier.Notify(ctx, Event{
		Type: EventItemUpdated, OwnerID: batch.OwnerID, BatchID: batch.ID, ItemID: it.ID,
		Payload: map[string]any{"status": string(model.StatusQuickParsed)},
	})
}

func (m *BatchManager) fullParseItem(ctx context.Context, batch *model.Batch, it *model.BatchItem, backfill bool) {
	p, ok := m.factory.GetParser(it.SourceURL)
	if !ok {
		m.failItem(ctx, batch, it.ID, "no parser can handle this url")
		return
	}
	src := string(p.Source())

	if _, err := m.store.Advance(ctx, it.ID, model.StatusFullParsing, nil); err != nil {
		m.log.Debug("full parse skipped", zap.String("item", it.ID), zap.Error(err))
		return
	}

	start := time.Now()
	prop, err := p.Parse(ctx, it.SourceURL)
	metrics.ParseDurationSeconds.WithLabelValues(src, "full").Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ParsesTotal.WithLabelValues(src, "full", "error").Inc()
		m.failItem(ctx, batch, it.ID, err.Error())
		return
	}
	metrics.ParsesTotal.WithLabelValues(src, "full", "ok").Inc()

	updated, err := m.store.Advance(ctx, it.ID, model.StatusParsed, func(bi *model.BatchItem) {
		bi.ParsedData = prop
	})
	if err != nil {
		m.log.Debug("full result not recorded", zap.String("item", it.ID), zap.Error(err))
		return
	}
	m.notifier.Notify(ctx, Event{
		Type: EventItemUpdated, OwnerID: batch.OwnerID, BatchID: batch.ID, ItemID: it.ID,
		Payload: map[string]any{"status": string(model.StatusParsed)},
	})

	if !backfill || updated.CommittedEntityID == "" {
		return
	}
	// Instant flow: the placeholder entity is already in the
	// collection; upgrade it in place and close the item out.
	if err := m.props.UpdateParsedData(ctx, updated.CommittedEntityID, prop); err != nil {
		m.failItem(ctx, batch, it.ID, "upgrade committed entity: "+err.Error())
		return
	}
	if _, err := m.store.Advance(ctx, it.ID, model.StatusImported, nil); err != nil {
		m.log.Debug("backfill import not recorded", zap.String("item", it.ID), zap.Error(err))
	}
}

// failDuplicate marks a colliding item failed and announces the
// existing property it collided with. The import call itself succeeds.
func (m *BatchManager) failDuplicate(ctx context.Context, batch *model.Batch, itemID string, match *DuplicateMatch) {
	_, err := m.store.Advance(ctx, itemID, model.StatusFailed, func(bi *model.BatchItem) {
		bi.ParseError = "duplicate: " + match.Reason
	})
	if err != nil {
		m.log.Debug("duplicate not recorded", zap.String("item", itemID), zap.Error(err))
		return
	}
	m.log.Info("item is a duplicate",
		zap.String("batch", batch.ID), zap.String("item", itemID), zap.String("existing", match.PropertyID))
	m.notifier.Notify(ctx, Event{
		Type: EventItemDuplicate, OwnerID: batch.OwnerID, BatchID: batch.ID, ItemID: itemID,
		Payload: map[string]any{"existing": match.PropertyID, "reason": match.Reason},
	})
}

// failItem marks an item failed; progress freezes where the item died.
func (m *BatchManager) failItem(ctx context.Context, batch *model.Batch, itemID, reason string) {
	if ctx.Err() != nil {
		return
	}
	_, err := m.store.Advance(ctx, itemID, model.StatusFailed, func(bi *model.BatchItem) {
		bi.ParseError = reason
	})
	if err != nil {
		m.log.Debug("failure not recorded", zap.String("item", itemID), zap.Error(err))
		return
	}
	m.log.Warn("item failed",
		zap.String("batch", batch.ID), zap.String("item", itemID), zap.String("reason", reason))
	m.notifier.Notify(ctx, Event{
		Type: EventItemFailed, OwnerID: batch.OwnerID, BatchID: batch.ID, ItemID: itemID,
		Payload: map[string]any{"reason": reason},
	})
}

// finishRunIfTerminal completes the batch when no item can move
// further; otherwise the batch waits for an import call.
func (m *BatchManager) finishRunIfTerminal(batch *model.Batch) {
	ctx := context.Background()
	items, err := m.store.ListItems(ctx, batch.ID)
	if err != nil {
		m.log.Warn("completion check failed", zap.String("batch", batch.ID), zap.Error(err))
		return
	}
	for _, it := range items {
		if !it.Status.Terminal() {
			return
		}
	}
	m.completeBatch(ctx, batch)
}

func (m *BatchManager) completeBatch(ctx context.Context, batch *model.Batch) {
	if err := m.store.SetBatchStatus(ctx, batch.ID, model.BatchCompleted); err != nil {
		m.log.Warn("batch not completed", zap.String("batch", batch.ID), zap.Error(err))
		return
	}
	m.log.Info("batch completed", zap.String("batch", batch.ID))
	m.notifier.Notify(ctx, Event{
		Type: EventBatchCompleted, OwnerID: batch.OwnerID, BatchID: batch.ID,
	})
}

// ImportSelected commits the chosen items into the destination
// collection. A duplicate fails the item with its reason instead of
// raising an error; the batch is completed after the run.
func (m *BatchManager) ImportSelected(ctx context.Context, batchID string, selections []model.ImportSelection) (*model.ImportSummary, []model.ImportResult, error) {
	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	summary := &model.ImportSummary{Total: len(selections)}
	results := make([]model.ImportResult, 0, len(selections))
	duplicates := 0
	for _, sel := range selections {
		res := m.importOne(ctx, batch, sel)
		switch {
		case res.Imported:
			summary.Successful++
			metrics.ImportsTotal.WithLabelValues("ok").Inc()
		case res.Duplicate:
			summary.Failed++
			duplicates++
			metrics.ImportsTotal.WithLabelValues("duplicate").Inc()
		default:
			summary.Failed++
			metrics.ImportsTotal.WithLabelValues("error").Inc()
		}
		results = append(results, res)
	}

	m.completeBatch(ctx, batch)
	m.log.Info("import finished",
		zap.String("batch", batchID),
		zap.Int("imported", summary.Successful),
		zap.Int("duplicates", duplicates),
		zap.Int("failed", summary.Failed),
	)
	return summary, results, nil
}

func (m *BatchManager) importOne(ctx context.Context, batch *model.Batch, sel model.ImportSelection) model.ImportResult {
	res := model.ImportResult{ItemID: sel.ItemID}

	it, err := m.store.GetItem(ctx, sel.ItemID)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	if it.BatchID != batch.ID {
		res.Reason = "item does not belong to this batch"
		return res
	}
	if it.Status == model.StatusImported {
		res.Imported = true
		res.PropertyID = it.CommittedEntityID
		res.Reason = "already imported"
		return res
	}
	if !it.Status.Succeeded() || it.ParsedData == nil {
		res.Reason = fmt.Sprintf("item is %s, nothing to import", it.Status)
		return res
	}

	prop := *it.ParsedData
	sel.Overrides.Apply(&prop)

	match, err := m.dedup.Check(ctx, batch.OwnerID, batch.CollectionID, &prop)
	if err != nil {
		res.Reason = "duplicate check: " + err.Error()
		return res
	}
	// The item's own committed placeholder is not a duplicate of
	// itself; anything else in the collection is.
	if match != nil && match.PropertyID != it.CommittedEntityID {
		res.Duplicate = true
		res.Reason = match.Reason
		res.PropertyID = match.PropertyID
		m.failDuplicate(ctx, batch, it.ID, match)
		return res
	}

	entityID, _, err := m.props.Commit(ctx, batch.OwnerID, batch.CollectionID, &prop)
	if err != nil {
		res.Reason = "commit: " + err.Error()
		return res
	}

	if _, err := m.store.Advance(ctx, it.ID, model.StatusImported, func(bi *model.BatchItem) {
		bi.ParsedData = &prop
		bi.CommittedEntityID = entityID
	}); err != nil {
		res.Reason = "record import: " + err.Error()
		return res
	}

	res.Imported = true
	res.PropertyID = entityID
	return res
}

// GetBatchStatus returns the batch and all its items in input order.
func (m *BatchManager) GetBatchStatus(ctx context.Context, batchID string) (*model.Batch, []model.BatchItem, error) {
	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	items, err := m.store.ListItems(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	return batch, items, nil
}

// DeleteBatch cancels any running parse job and removes the batch and
// its items. Committed properties stay in the collection.
func (m *BatchManager) DeleteBatch(ctx context.Context, batchID string) error {
	if m.jobs.Cancel(jobKey(batchID)) {
		m.log.Info("parse run cancelled by delete", zap.String("batch", batchID))
	}
	return m.store.DeleteBatch(ctx, batchID)
}
