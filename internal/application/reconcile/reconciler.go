// Package reconcile merges per-source records into one quality-scored
// entity per (kind, key).
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/esports/backend/internal/domain/stats"
)

const defaultAdapterTimeout = 60 * time.Second

// Outcome is the result of one reconciliation: the merged entity plus
// the per-source outcome the caller folds into its sync accounting.
type Outcome struct {
	Entity *stats.ReconciledEntity
	// SourceErrors maps every queried source to its fetch error, nil on
	// success. ErrNotFound entries count as responses without data.
	SourceErrors map[stats.SourceName]error
}

// Reconciler fans an entity fetch out to every relevant adapter,
// collects whatever responds, and merges by per-field-group priority.
// One source's failure never aborts the reconciliation.
type Reconciler struct {
	adapters       []stats.SourceAdapter
	logger         *zap.Logger
	adapterTimeout time.Duration
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithAdapterTimeout bounds each individual adapter call.
func WithAdapterTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.adapterTimeout = d
		}
	}
}

// New creates a Reconciler over the given adapters.
func New(adapters []stats.SourceAdapter, opts ...Option) *Reconciler {
	r := &Reconciler{
		adapters:       adapters,
		logger:         zap.NewNop(),
		adapterTimeout: defaultAdapterTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile fetches (kind, key) from every adapter that serves the kind
// and merges the results. It fails only when no source serves the kind
// or no source produced a record; partial coverage is a scored result,
// not an error.
func (r *Reconciler) Reconcile(ctx context.Context, kind stats.EntityKind, key string) (*Outcome, error) {
	if !kind.IsValid() {
		return nil, stats.ErrUnsupportedKind
	}
	if key == "" {
		return nil, stats.ErrInvalidEntityKey
	}

	relevant := r.relevantAdapters(kind)
	if len(relevant) == 0 {
		return nil, fmt.Errorf("%w: %s", stats.ErrNoSources, kind)
	}

	records, sourceErrors := r.collect(ctx, relevant, kind, key)

	outcome := &Outcome{SourceErrors: sourceErrors}
	if len(records) == 0 {
		return outcome, r.emptyResultError(sourceErrors)
	}

	outcome.Entity = merge(kind, key, records, len(relevant))

	r.logger.Debug("entity reconciled",
		zap.String("kind", kind.String()),
		zap.String("key", key),
		zap.Int("sources", len(records)),
		zap.Float64("completeness", outcome.Entity.Quality.Completeness),
		zap.Bool("consistent", outcome.Entity.Quality.Consistent))
	return outcome, nil
}

// SearchEntities fans a free-text search out to every adapter serving
// the kind and merges the hits by entity key, so one entity found at
// two sources comes back as a single merged record.
func (r *Reconciler) SearchEntities(ctx context.Context, kind stats.EntityKind, query string, limit int) ([]*stats.ReconciledEntity, error) {
	if !kind.IsValid() {
		return nil, stats.ErrUnsupportedKind
	}
	if query == "" || limit < 1 {
		return nil, stats.ErrInvalidEntityKey
	}

	relevant := r.relevantAdapters(kind)
	if len(relevant) == 0 {
		return nil, fmt.Errorf("%w: %s", stats.ErrNoSources, kind)
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		byKey  = map[string]map[stats.SourceName]*stats.SourceRecord{}
		hitErr error
	)
	for _, adapter := range relevant {
		wg.Add(1)
		go func(adapter stats.SourceAdapter) {
			defer wg.Done()

			searchCtx, cancel := context.WithTimeout(ctx, r.adapterTimeout)
			defer cancel()

			hits, err := adapter.Search(searchCtx, kind, query, limit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, stats.ErrNotFound) && !errors.Is(err, stats.ErrUnsupportedKind) {
					hitErr = err
				}
				return
			}
			for i := range hits {
				hit := hits[i]
				if byKey[hit.Key] == nil {
					byKey[hit.Key] = map[stats.SourceName]*stats.SourceRecord{}
				}
				byKey[hit.Key][adapter.Name()] = &hit
			}
		}(adapter)
	}
	wg.Wait()

	if len(byKey) == 0 {
		if hitErr != nil {
			return nil, hitErr
		}
		return nil, nil
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entities := make([]*stats.ReconciledEntity, 0, len(keys))
	for _, key := range keys {
		entities = append(entities, merge(kind, key, byKey[key], len(relevant)))
		if len(entities) == limit {
			break
		}
	}
	return entities, nil
}

// relevantAdapters returns the adapters serving the kind.
func (r *Reconciler) relevantAdapters(kind stats.EntityKind) []stats.SourceAdapter {
	var relevant []stats.SourceAdapter
	for _, adapter := range r.adapters {
		if adapter.Supports(kind) {
			relevant = append(relevant, adapter)
		}
	}
	return relevant
}

// collect fans the fetch out concurrently and gathers records keyed by
// source. Results are keyed, never ordered by arrival, so merge output
// is independent of response latency.
func (r *Reconciler) collect(ctx context.Context, adapters []stats.SourceAdapter, kind stats.EntityKind, key string) (map[stats.SourceName]*stats.SourceRecord, map[stats.SourceName]error) {
	var (
		mu           sync.Mutex
		wg           sync.WaitGroup
		records      = make(map[stats.SourceName]*stats.SourceRecord, len(adapters))
		sourceErrors = make(map[stats.SourceName]error, len(adapters))
	)

	for _, adapter := range adapters {
		wg.Add(1)
		go func(adapter stats.SourceAdapter) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, r.adapterTimeout)
			defer cancel()

			record, err := adapter.FetchEntity(fetchCtx, kind, key)

			mu.Lock()
			defer mu.Unlock()
			sourceErrors[adapter.Name()] = err
			if err == nil && record != nil {
				records[adapter.Name()] = record
				return
			}
			if err != nil && !errors.Is(err, stats.ErrNotFound) {
				r.logger.Warn("source fetch failed",
					zap.String("source", adapter.Name().String()),
					zap.String("kind", kind.String()),
					zap.String("key", key),
					zap.Error(err))
			}
		}(adapter)
	}
	wg.Wait()

	return records, sourceErrors
}

// emptyResultError picks the error to surface when nothing responded:
// a transport failure if any source had one, otherwise not-found.
func (r *Reconciler) emptyResultError(sourceErrors map[stats.SourceName]error) error {
	for _, err := range sourceErrors {
		if err != nil && !errors.Is(err, stats.ErrNotFound) {
			return err
		}
	}
	return stats.ErrNotFound
}

// merge builds the reconciled entity from the collected records.
func merge(kind stats.EntityKind, key string, records map[stats.SourceName]*stats.SourceRecord, queried int) *stats.ReconciledEntity {
	entity := &stats.ReconciledEntity{
		Kind:         kind,
		Key:          key,
		Fields:       map[string]any{},
		Provenance:   map[string]stats.SourceName{},
		ReconciledAt: time.Now(),
	}

	// Contributing sources in the stable global order.
	for _, source := range stats.AllSources() {
		if _, ok := records[source]; ok {
			entity.Sources = append(entity.Sources, source)
		}
	}

	// The field universe is the sorted union of all record fields, so
	// merge output never depends on map iteration or response order.
	for _, field := range fieldUnion(records) {
		for _, source := range orderFor(kind, field) {
			record, ok := records[source]
			if !ok || !record.HasField(field) {
				continue
			}
			entity.Fields[field] = record.Field(field)
			entity.Provenance[field] = source
			break
		}
	}

	consistent := true
	for _, field := range authoritativeFields(kind) {
		if disagree(records, field) {
			consistent = false
			break
		}
	}

	expected := stats.ExpectedFields(kind)
	populated := 0
	for _, field := range expected {
		if entity.Fields[field] != nil {
			populated++
		}
	}

	entity.Quality = stats.DataQuality{
		SourceCoverage: float64(len(records)) / float64(queried),
		Consistent:     consistent,
	}
	if len(expected) > 0 {
		entity.Quality.Completeness = float64(populated) / float64(len(expected))
	}
	entity.Quality.Clamp()

	return entity
}

// fieldUnion returns every field any record carries, sorted.
func fieldUnion(records map[stats.SourceName]*stats.SourceRecord) []string {
	set := map[string]struct{}{}
	for _, record := range records {
		for field := range record.Payload {
			set[field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(set))
	for field := range set {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// disagree reports whether two sources carry different non-nil values
// for the field.
func disagree(records map[stats.SourceName]*stats.SourceRecord, field string) bool {
	var first any
	seen := false
	for _, source := range stats.AllSources() {
		record, ok := records[source]
		if !ok || !record.HasField(field) {
			continue
		}
		value := record.Field(field)
		if !seen {
			first = value
			seen = true
			continue
		}
		if !reflect.DeepEqual(first, value) {
			return true
		}
	}
	return false
}
