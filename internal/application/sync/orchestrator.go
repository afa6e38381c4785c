// Package sync runs bounded-concurrency sync passes over a time window:
// seed-list reconciliation per entity kind, a player sweep discovered
// from team rosters, and a lower-priority replay sweep.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/esports/backend/internal/application/reconcile"
	domainreplay "github.com/esports/backend/internal/domain/replay"
	"github.com/esports/backend/internal/domain/stats"
	"github.com/esports/backend/internal/infrastructure/config"
)

// ErrSyncRunning is returned when a trigger arrives while a pass holds
// the running slot.
var ErrSyncRunning = errors.New("sync: a sync pass is already running")

const healthProbeTimeout = 15 * time.Second

// EntityReconciler is the reconciliation collaborator.
type EntityReconciler interface {
	Reconcile(ctx context.Context, kind stats.EntityKind, key string) (*reconcile.Outcome, error)
}

// ReplaySweeper is the replay-pipeline collaborator.
type ReplaySweeper interface {
	SweepMissing(ctx context.Context, from, to time.Time) (*domainreplay.BatchResult, error)
}

// MatchLister provides the recently-completed-match seed for a window.
// Implemented by the REST adapter; the other sources have no bulk listing.
type MatchLister interface {
	ProMatches(ctx context.Context, from, to time.Time) ([]string, error)
}

// Orchestrator is the top-level sync entry point. It holds no mutable
// state across passes beyond the inspectable job state and history.
type Orchestrator struct {
	reconciler EntityReconciler
	sweeper    ReplaySweeper
	matches    MatchLister
	store      stats.EntityStore
	adapters   []stats.SourceAdapter
	cfg        config.SyncConfig
	logger     *zap.Logger

	state   jobState
	history passHistory

	// lifecycle bounds background passes so shutdown can cancel them.
	lifecycle context.Context
	stop      context.CancelFunc
}

// NewOrchestrator creates the sync orchestrator.
func NewOrchestrator(
	reconciler EntityReconciler,
	sweeper ReplaySweeper,
	matches MatchLister,
	store stats.EntityStore,
	adapters []stats.SourceAdapter,
	cfg config.SyncConfig,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	lifecycle, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		reconciler: reconciler,
		sweeper:    sweeper,
		matches:    matches,
		store:      store,
		adapters:   adapters,
		cfg:        cfg,
		logger:     logger.Named("sync"),
		lifecycle:  lifecycle,
		stop:       stop,
	}
}

// SyncAll runs one pass over [from, to). Returns ErrSyncRunning when a
// pass is already in flight. Partial failure is data in the returned
// results, never an error.
func (o *Orchestrator) SyncAll(ctx context.Context, from, to time.Time) (map[stats.SourceName]stats.SyncResult, error) {
	if !o.state.tryStart() {
		return nil, ErrSyncRunning
	}
	return o.run(ctx, from, to), nil
}

// SyncPrevDay runs the T-1 variant: the previous full UTC day.
func (o *Orchestrator) SyncPrevDay(ctx context.Context) (map[stats.SourceName]stats.SyncResult, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	return o.SyncAll(ctx, midnight.Add(-24*time.Hour), midnight)
}

// SyncNow runs the short-lookback variant.
func (o *Orchestrator) SyncNow(ctx context.Context) (map[stats.SourceName]stats.SyncResult, error) {
	now := time.Now()
	return o.SyncAll(ctx, now.Add(-o.cfg.SyncNowWindow), now)
}

// TriggerSyncNow claims the running slot and runs the short-lookback
// pass in the background. Returns ErrSyncRunning on a concurrent
// trigger; the rejection is decided here, not in the goroutine, so the
// caller's answer is never racy.
func (o *Orchestrator) TriggerSyncNow() error {
	if !o.state.tryStart() {
		return ErrSyncRunning
	}
	go func() {
		now := time.Now()
		o.run(o.lifecycle, now.Add(-o.cfg.SyncNowWindow), now)
	}()
	return nil
}

// Close cancels any in-flight background pass so adapter calls and
// decoder subprocesses unwind during shutdown. Foreground passes run on
// their caller's context and are unaffected.
func (o *Orchestrator) Close() {
	o.stop()
}

// Status returns the inspectable job-state snapshot.
func (o *Orchestrator) Status() Status {
	return o.state.snapshot()
}

// History returns the retained pass summaries, oldest first.
func (o *Orchestrator) History() []PassSummary {
	return o.history.recent()
}

// SourceStatuses returns every adapter's health snapshot.
func (o *Orchestrator) SourceStatuses() []stats.SourceStatus {
	statuses := make([]stats.SourceStatus, 0, len(o.adapters))
	for _, adapter := range o.adapters {
		statuses = append(statuses, adapter.Status())
	}
	return statuses
}

// ---------------------------------------------------------------------------
// Pass execution
// ---------------------------------------------------------------------------

// run executes one pass. The caller must already hold the running slot;
// run always releases it.
func (o *Orchestrator) run(ctx context.Context, from, to time.Time) map[stats.SourceName]stats.SyncResult {
	startedAt := time.Now()
	o.logger.Info("sync pass started",
		zap.Time("window_from", from),
		zap.Time("window_to", to))

	acc := newAccountant()

	o.probeHealth(ctx)

	// Teams first: their rosters seed the player sweep.
	playerKeys := o.syncTeams(ctx, acc)

	items := make([]workItem, 0, 64)
	for _, key := range o.matchSeeds(ctx, from, to) {
		items = append(items, workItem{kind: stats.KindMatch, key: key})
	}
	for _, key := range o.cfg.SeedTournaments {
		items = append(items, workItem{kind: stats.KindTournament, key: key})
	}
	for _, key := range playerKeys {
		items = append(items, workItem{kind: stats.KindPlayer, key: key})
	}
	o.syncItems(ctx, items, acc)

	summary := PassSummary{
		StartedAt:  startedAt,
		WindowFrom: from,
		WindowTo:   to,
	}
	sweepErr := o.sweepReplays(ctx, from, to, &summary)

	results := acc.finalize(time.Since(startedAt))
	summary.FinishedAt = time.Now()
	summary.Results = results
	o.history.add(summary)
	// Entity-level failures are data in the results; a failed replay
	// sweep is the one pass-level fault worth surfacing on the status.
	o.state.finish(sweepErr)

	for source, result := range results {
		o.logger.Info("sync pass source result",
			zap.String("source", source.String()),
			zap.Int("processed", result.RecordsProcessed),
			zap.Int("succeeded", result.RecordsSucceeded),
			zap.Int("failed", result.RecordsFailed))
	}
	return results
}

// probeHealth logs degraded sources before the pass. Degradation never
// blocks: a down source just contributes nothing and lowers coverage.
func (o *Orchestrator) probeHealth(ctx context.Context) {
	var wg stdsync.WaitGroup
	for _, adapter := range o.adapters {
		wg.Add(1)
		go func(adapter stats.SourceAdapter) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
			defer cancel()
			if !adapter.TestConnection(probeCtx) {
				o.logger.Warn("source degraded at pass start",
					zap.String("source", adapter.Name().String()))
			}
		}(adapter)
	}
	wg.Wait()
}

// matchSeeds lists recently completed matches inside the window.
func (o *Orchestrator) matchSeeds(ctx context.Context, from, to time.Time) []string {
	if o.matches == nil {
		return nil
	}
	matchIDs, err := o.matches.ProMatches(ctx, from, to)
	if err != nil {
		o.logger.Warn("match seed listing failed", zap.Error(err))
		return nil
	}
	return matchIDs
}

// syncTeams reconciles the team seed list and returns the player keys
// discovered from reconciled rosters, deduplicated and sorted.
func (o *Orchestrator) syncTeams(ctx context.Context, acc *accountant) []string {
	var (
		mu      stdsync.Mutex
		players = map[string]struct{}{}
	)

	items := make([]workItem, 0, len(o.cfg.SeedTeams))
	for _, key := range o.cfg.SeedTeams {
		items = append(items, workItem{
			kind: stats.KindTeam,
			key:  key,
			onEntity: func(entity *stats.ReconciledEntity) {
				mu.Lock()
				defer mu.Unlock()
				for _, accountID := range rosterAccountIDs(entity) {
					players[accountID] = struct{}{}
				}
			},
		})
	}
	o.syncItems(ctx, items, acc)

	keys := make([]string, 0, len(players))
	for key := range players {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type workItem struct {
	kind stats.EntityKind
	key  string
	// onEntity observes the reconciled entity after a successful upsert.
	onEntity func(*stats.ReconciledEntity)
}

// syncItems reconciles and persists the items with bounded concurrency.
func (o *Orchestrator) syncItems(ctx context.Context, items []workItem, acc *accountant) {
	if len(items) == 0 {
		return
	}
	o.state.addTotal(len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.EntityConcurrency)
	for _, item := range items {
		g.Go(func() error {
			o.syncOne(ctx, item, acc)
			o.state.incrCompleted()
			return nil
		})
	}
	// Workers never return errors; failure is folded into the accountant.
	_ = g.Wait()
}

// syncOne reconciles one entity, persists it, and folds the per-source
// outcome into the accounting.
func (o *Orchestrator) syncOne(ctx context.Context, item workItem, acc *accountant) {
	outcome, err := o.reconciler.Reconcile(ctx, item.kind, item.key)
	if err != nil {
		if outcome != nil {
			acc.fold(item.key, outcome.SourceErrors, err)
		}
		o.logger.Warn("entity reconciliation failed",
			zap.String("kind", item.kind.String()),
			zap.String("key", item.key),
			zap.Error(err))
		return
	}

	if err := o.upsert(ctx, item.kind, outcome.Entity); err != nil {
		acc.fold(item.key, outcome.SourceErrors, err)
		o.logger.Error("entity upsert failed",
			zap.String("kind", item.kind.String()),
			zap.String("key", item.key),
			zap.Error(err))
		return
	}

	acc.fold(item.key, outcome.SourceErrors, nil)
	if item.onEntity != nil {
		item.onEntity(outcome.Entity)
	}
}

// upsert dispatches to the kind's persistence port.
func (o *Orchestrator) upsert(ctx context.Context, kind stats.EntityKind, entity *stats.ReconciledEntity) error {
	switch kind {
	case stats.KindMatch:
		return o.store.UpsertMatch(ctx, entity)
	case stats.KindTeam:
		return o.store.UpsertTeam(ctx, entity)
	case stats.KindPlayer:
		return o.store.UpsertPlayer(ctx, entity)
	case stats.KindTournament:
		return o.store.UpsertTournament(ctx, entity)
	default:
		return fmt.Errorf("%w: %s", stats.ErrUnsupportedKind, kind)
	}
}

// sweepReplays feeds matches lacking a replay record into the replay
// batch processor. The pipeline carries its own, smaller, concurrency
// bound; the sweep runs after the primary reconciliation for that reason.
func (o *Orchestrator) sweepReplays(ctx context.Context, from, to time.Time, summary *PassSummary) error {
	if o.sweeper == nil {
		return nil
	}
	batch, err := o.sweeper.SweepMissing(ctx, from, to)
	if err != nil {
		o.logger.Error("replay sweep failed", zap.Error(err))
		return fmt.Errorf("replay sweep: %w", err)
	}
	summary.ReplayTotal = batch.Total
	summary.ReplaySucceeded = batch.Succeeded
	summary.ReplayFailed = batch.Failed
	return nil
}

// rosterAccountIDs pulls numeric account ids out of a reconciled team's
// roster. Scraped rosters carry display names, which cannot seed a
// by-id player fetch and are skipped.
func rosterAccountIDs(entity *stats.ReconciledEntity) []string {
	var ids []string
	appendID := func(v any) {
		s, ok := v.(string)
		if ok && isDigits(s) {
			ids = append(ids, s)
		}
	}
	switch roster := entity.Field(stats.FieldRoster).(type) {
	case []string:
		for _, v := range roster {
			appendID(v)
		}
	case []any:
		for _, v := range roster {
			appendID(v)
		}
	}
	return ids
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Per-source accounting
// ---------------------------------------------------------------------------

// accountant folds per-entity source outcomes into one SyncResult per
// source. A source counts a success when it responded (data or a clean
// not-found) and the entity persisted; everything else is a failure.
type accountant struct {
	mu      stdsync.Mutex
	results map[stats.SourceName]*stats.SyncResult
}

func newAccountant() *accountant {
	return &accountant{results: map[stats.SourceName]*stats.SyncResult{}}
}

func (a *accountant) fold(key string, sourceErrors map[stats.SourceName]error, entityErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for source, srcErr := range sourceErrors {
		result, ok := a.results[source]
		if !ok {
			result = &stats.SyncResult{Source: source}
			a.results[source] = result
		}
		switch {
		case srcErr != nil && !errors.Is(srcErr, stats.ErrNotFound):
			result.RecordFailure(fmt.Sprintf("%s: %v", key, srcErr))
		case entityErr != nil:
			result.RecordFailure(fmt.Sprintf("%s: %v", key, entityErr))
		default:
			result.RecordSuccess()
		}
	}
}

// finalize stamps the pass duration on every result and returns them
// by value; the pass is over and the results are immutable from here.
func (a *accountant) finalize(duration time.Duration) map[stats.SourceName]stats.SyncResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[stats.SourceName]stats.SyncResult, len(a.results))
	for source, result := range a.results {
		result.Duration = duration
		out[source] = *result
	}
	return out
}
