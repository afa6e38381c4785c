package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esports/backend/internal/application/reconcile"
	domainreplay "github.com/esports/backend/internal/domain/replay"
	"github.com/esports/backend/internal/domain/stats"
	"github.com/esports/backend/internal/infrastructure/config"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubReconciler struct {
	mu       stdsync.Mutex
	outcomes map[string]*reconcile.Outcome
	errs     map[string]error
	gate     chan struct{}
	// blockOnCtx parks every call until the caller's context ends.
	blockOnCtx bool
	calls      []string
}

func newStubReconciler() *stubReconciler {
	return &stubReconciler{
		outcomes: map[string]*reconcile.Outcome{},
		errs:     map[string]error{},
	}
}

func itemKey(kind stats.EntityKind, key string) string {
	return kind.String() + "/" + key
}

func (s *stubReconciler) set(kind stats.EntityKind, key string, fields map[string]any, sourceErrors map[stats.SourceName]error) {
	var sources []stats.SourceName
	for _, source := range stats.AllSources() {
		if err, ok := sourceErrors[source]; ok && err == nil {
			sources = append(sources, source)
		}
	}
	s.outcomes[itemKey(kind, key)] = &reconcile.Outcome{
		Entity: &stats.ReconciledEntity{
			Kind:    kind,
			Key:     key,
			Fields:  fields,
			Sources: sources,
		},
		SourceErrors: sourceErrors,
	}
}

func (s *stubReconciler) Reconcile(ctx context.Context, kind stats.EntityKind, key string) (*reconcile.Outcome, error) {
	if s.blockOnCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.calls = append(s.calls, itemKey(kind, key))
	s.mu.Unlock()

	k := itemKey(kind, key)
	if err, ok := s.errs[k]; ok {
		return s.outcomes[k], err
	}
	if outcome, ok := s.outcomes[k]; ok {
		return outcome, nil
	}
	return nil, stats.ErrNotFound
}

type stubSweeper struct {
	mu     stdsync.Mutex
	batch  *domainreplay.BatchResult
	err    error
	gotTo  time.Time
	gotFrm time.Time
}

func (s *stubSweeper) SweepMissing(ctx context.Context, from, to time.Time) (*domainreplay.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotFrm, s.gotTo = from, to
	if s.err != nil {
		return nil, s.err
	}
	if s.batch == nil {
		return &domainreplay.BatchResult{}, nil
	}
	return s.batch, nil
}

type stubLister struct {
	matchIDs []string
	err      error
}

func (s *stubLister) ProMatches(ctx context.Context, from, to time.Time) ([]string, error) {
	return s.matchIDs, s.err
}

type stubStore struct {
	mu        stdsync.Mutex
	upserts   map[stats.EntityKind][]string
	upsertErr map[stats.EntityKind]error
}

func newStubStore() *stubStore {
	return &stubStore{
		upserts:   map[stats.EntityKind][]string{},
		upsertErr: map[stats.EntityKind]error{},
	}
}

func (s *stubStore) record(kind stats.EntityKind, entity *stats.ReconciledEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErr[kind]; err != nil {
		return err
	}
	s.upserts[kind] = append(s.upserts[kind], entity.Key)
	return nil
}

func (s *stubStore) keys(kind stats.EntityKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.upserts[kind]...)
}

func (s *stubStore) UpsertMatch(ctx context.Context, e *stats.ReconciledEntity) error {
	return s.record(stats.KindMatch, e)
}

func (s *stubStore) UpsertTeam(ctx context.Context, e *stats.ReconciledEntity) error {
	return s.record(stats.KindTeam, e)
}

func (s *stubStore) UpsertPlayer(ctx context.Context, e *stats.ReconciledEntity) error {
	return s.record(stats.KindPlayer, e)
}

func (s *stubStore) UpsertTournament(ctx context.Context, e *stats.ReconciledEntity) error {
	return s.record(stats.KindTournament, e)
}

func (s *stubStore) RecordReplayReference(ctx context.Context, matchID, objectKey string, decodedAt time.Time) error {
	return nil
}

func (s *stubStore) FindMatchesMissingReplay(ctx context.Context, from, to time.Time) ([]string, error) {
	return nil, nil
}

type stubSourceAdapter struct {
	name      stats.SourceName
	reachable bool
}

func (s *stubSourceAdapter) Name() stats.SourceName { return s.name }
func (s *stubSourceAdapter) Supports(kind stats.EntityKind) bool { return true }
func (s *stubSourceAdapter) TestConnection(ctx context.Context) bool { return s.reachable }

func (s *stubSourceAdapter) FetchEntity(ctx context.Context, kind stats.EntityKind, key string) (*stats.SourceRecord, error) {
	return nil, stats.ErrNotFound
}

func (s *stubSourceAdapter) Search(ctx context.Context, kind stats.EntityKind, query string, limit int) ([]stats.SourceRecord, error) {
	return nil, stats.ErrUnsupportedKind
}

func (s *stubSourceAdapter) Status() stats.SourceStatus {
	return stats.SourceStatus{Source: s.name, Available: s.reachable}
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type orchestratorFixture struct {
	orchestrator *Orchestrator
	reconciler   *stubReconciler
	sweeper      *stubSweeper
	lister       *stubLister
	store        *stubStore
}

func newOrchestratorFixture(t *testing.T, cfg config.SyncConfig) *orchestratorFixture {
	t.Helper()
	if cfg.EntityConcurrency == 0 {
		cfg.EntityConcurrency = 4
	}
	if cfg.SyncNowWindow == 0 {
		cfg.SyncNowWindow = 4 * time.Hour
	}

	f := &orchestratorFixture{
		reconciler: newStubReconciler(),
		sweeper:    &stubSweeper{},
		lister:     &stubLister{},
		store:      newStubStore(),
	}
	adapters := []stats.SourceAdapter{
		&stubSourceAdapter{name: stats.SourceRest, reachable: true},
		&stubSourceAdapter{name: stats.SourceGraph, reachable: true},
		&stubSourceAdapter{name: stats.SourceScrape, reachable: false},
	}
	f.orchestrator = NewOrchestrator(f.reconciler, f.sweeper, f.lister, f.store, adapters, cfg, nil)
	return f
}

func allOK() map[stats.SourceName]error {
	return map[stats.SourceName]error{
		stats.SourceRest:  nil,
		stats.SourceGraph: nil,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSyncAllSeedsAndPlayerSweep(t *testing.T) {
	f := newOrchestratorFixture(t, config.SyncConfig{
		SeedTeams:       []string{"15"},
		SeedTournaments: []string{"The_International/2026"},
	})
	f.lister.matchIDs = []string{"7000000001"}

	// The team roster carries two account ids and one display name; only
	// the account ids seed the player sweep.
	f.reconciler.set(stats.KindTeam, "15", map[string]any{
		stats.FieldName:   "Team Spirit",
		stats.FieldRoster: []string{"101", "102", "Yatoro"},
	}, allOK())
	f.reconciler.set(stats.KindMatch, "7000000001", map[string]any{
		stats.FieldWinner: "radiant",
	}, allOK())
	f.reconciler.set(stats.KindTournament, "The_International/2026", map[string]any{
		stats.FieldName: "The International 2026",
	}, map[stats.SourceName]error{stats.SourceRest: nil, stats.SourceScrape: nil})
	f.reconciler.set(stats.KindPlayer, "101", map[string]any{stats.FieldName: "Yatoro"}, allOK())
	f.reconciler.set(stats.KindPlayer, "102", map[string]any{stats.FieldName: "Larl"}, allOK())

	results, err := f.orchestrator.SyncAll(context.Background(), time.Now().Add(-24*time.Hour), time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"15"}, f.store.keys(stats.KindTeam))
	assert.Equal(t, []string{"7000000001"}, f.store.keys(stats.KindMatch))
	assert.Equal(t, []string{"The_International/2026"}, f.store.keys(stats.KindTournament))
	assert.ElementsMatch(t, []string{"101", "102"}, f.store.keys(stats.KindPlayer))

	// REST contributed to all five entities, scrape only to the tournament.
	assert.Equal(t, 5, results[stats.SourceRest].RecordsProcessed)
	assert.Equal(t, 5, results[stats.SourceRest].RecordsSucceeded)
	assert.Equal(t, 1, results[stats.SourceScrape].RecordsProcessed)

	status := f.orchestrator.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 5, status.TotalEntities)
	assert.Equal(t, 5, status.CompletedCount)
	require.NotNil(t, status.LastCompletedAt)
}

func TestSyncResultAccountingStaysConsistent(t *testing.T) {
	f := newOrchestratorFixture(t, config.SyncConfig{SeedTeams: []string{"15", "36", "2163"}})

	// Team 15 syncs cleanly, team 36's scrape fetch fails, team 2163 is
	// absent at every source and never reaches persistence.
	f.reconciler.set(stats.KindTeam, "15", map[string]any{stats.FieldName: "Team Spirit"}, allOK())
	f.reconciler.set(stats.KindTeam, "36", map[string]any{stats.FieldName: "Navi"}, map[stats.SourceName]error{
		stats.SourceRest:   nil,
		stats.SourceScrape: stats.ErrUnavailable,
	})

	results, err := f.orchestrator.SyncAll(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	for source, result := range results {
		assert.True(t, result.Consistent(), "source %s accounting inconsistent", source)
		assert.Equal(t, result.RecordsFailed, len(result.Errors))
		assert.Greater(t, result.Duration, time.Duration(0))
	}
	assert.Equal(t, 1, results[stats.SourceScrape].RecordsFailed)
	assert.Contains(t, results[stats.SourceScrape].Errors[0], "36")
}

func TestSyncUpsertFailureCountsAgainstContributingSources(t *testing.T) {
	f := newOrchestratorFixture(t, config.SyncConfig{SeedTeams: []string{"15"}})
	f.reconciler.set(stats.KindTeam, "15", map[string]any{stats.FieldName: "Team Spirit"}, allOK())
	f.store.upsertErr[stats.KindTeam] = assert.AnError

	results, err := f.orchestrator.SyncAll(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	for _, source := range []stats.SourceName{stats.SourceRest, stats.SourceGraph} {
		result := results[source]
		assert.True(t, result.Consistent())
		assert.Equal(t, 1, result.RecordsFailed)
	}
	assert.Empty(t, f.store.keys(stats.KindTeam))
}

func TestSyncAllRejectsConcurrentPass(t *testing.T) {
	f := newOrchestratorFixture(t, config.SyncConfig{SeedTeams: []string{"15"}})
	f.reconciler.gate = make(chan struct{})
	f.reconciler.set(stats.KindTeam, "15", map[string]any{stats.FieldName: "Team Spirit"}, allOK())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.orchestrator.SyncAll(context.Background(), time.Now().Add(-time.Hour), time.Now())
	}()

	require.Eventually(t, func() bool {
		return f.orchestrator.Status().Running
	}, 2*time.Second, 5*time.Millisecond)

	_, err := f.orchestrator.SyncAll(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, ErrSyncRunning)
	assert.ErrorIs(t, f.orchestrator.TriggerSyncNow(), ErrSyncRunning)

	close(f.reconciler.gate)
	<-done
	assert.False(t, f.orchestrator.Status().Running)
}

func TestTriggerSyncNowRunsInBackground(t *testing.T) {
	f := newOrchestratorFixture(t, config.SyncConfig{SeedTeams: []string{"15"}})
	f.reconciler.set(stats.KindTeam, "15", map[string]any{stats.FieldName: "Team Spirit"}, allOK())

	require.NoError(t, f.orchestrator.TriggerSyncNow())

	require.Eventually(t, func() bool {
		status := f.orchestrator.Status()
		return !status.Running && status.LastCompletedAt != nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"15"}, f.store.keys(stats.KindTeam))
}

func TestCloseCancelsBackgroundPass(t *testing.T) {
	f := newOrchestratorFixture(t, config.SyncConfig{SeedTeams: []string{"15"}})
	f.reconciler.blockOnCtx = true

	require.NoError(t, f.orchestrator.TriggerSyncNow())
	require.Eventually(t, func() bool {
		return f.orchestrator.Status().Running
	}, 2*time.Second, 5*time.Millisecond)

	f.orchestrator.Close()

	require.Eventually(t, func() bool {
		return !f.orchestrator.Status().Running
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.store.keys(stats.KindTeam))
}

func TestOverlappingWindowRerunUpsertsSameKeys(t *testing.T) {
	f := newOrchestratorFixture(t, config.SyncConfig{
		SeedTeams:       []string{"15"},
		SeedTournaments: []string{"The_International/2026"},
	})
	f.lister.matchIDs = []string{"7000000001"}
	f.reconciler.set(stats.KindTeam, "15", map[string]any{
		stats.FieldName:   "Team Spirit",
		stats.FieldRoster: []string{"101", "102"},
	}, allOK())
	f.reconciler.set(stats.KindMatch, "7000000001", map[string]any{stats.FieldWinner: "radiant"}, allOK())
	f.reconciler.set(stats.KindTournament, "The_International/2026", map[string]any{
		stats.FieldName: "The International 2026",
	}, allOK())
	f.reconciler.set(stats.KindPlayer, "101", map[string]any{stats.FieldName: "Yatoro"}, allOK())
	f.reconciler.set(stats.KindPlayer, "102", map[string]any{stats.FieldName: "Larl"}, allOK())

	day := 24 * time.Hour
	_, err := f.orchestrator.SyncAll(context.Background(), time.Now().Add(-day), time.Now())
	require.NoError(t, err)

	firstKeys := map[stats.EntityKind][]string{}
	for _, kind := range []stats.EntityKind{stats.KindTeam, stats.KindMatch, stats.KindTournament, stats.KindPlayer} {
		firstKeys[kind] = f.store.keys(kind)
	}

	// Re-run over a window overlapping the first; every entity goes back
	// through the same upsert-by-key path and no new keys appear.
	_, err = f.orchestrator.SyncAll(context.Background(), time.Now().Add(-day/2), time.Now())
	require.NoError(t, err)

	for kind, keys := range firstKeys {
		rerun := f.store.keys(kind)
		assert.Len(t, rerun, 2*len(keys), "kind %s", kind)
		assert.ElementsMatch(t, append(append([]string{}, keys...), keys...), rerun, "kind %s", kind)
	}
}

func TestReplaySweepRecordedInHistory(t *testing.T) {
	f := newOrchestratorFixture(t, config.SyncConfig{})
	f.sweeper.batch = &domainreplay.BatchResult{Total: 3, Succeeded: 2, Failed: 1}

	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()
	_, err := f.orchestrator.SyncAll(context.Background(), from, to)
	require.NoError(t, err)

	history := f.orchestrator.History()
	require.Len(t, history, 1)
	assert.Equal(t, 3, history[0].ReplayTotal)
	assert.Equal(t, 2, history[0].ReplaySucceeded)
	assert.Equal(t, 1, history[0].ReplayFailed)
	assert.Equal(t, from, history[0].WindowFrom)
	assert.Equal(t, to, history[0].WindowTo)

	// The sweep saw the pass window.
	assert.Equal(t, from, f.sweeper.gotFrm)
	assert.Equal(t, to, f.sweeper.gotTo)
}

func TestReplaySweepFailureDoesNotAbortPass(t *testing.T) {
	f := newOrchestratorFixture(t, config.SyncConfig{SeedTeams: []string{"15"}})
	f.reconciler.set(stats.KindTeam, "15", map[string]any{stats.FieldName: "Team Spirit"}, allOK())
	f.sweeper.err = assert.AnError

	results, err := f.orchestrator.SyncAll(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, results[stats.SourceRest].RecordsSucceeded)
	assert.Equal(t, []string{"15"}, f.store.keys(stats.KindTeam))

	// The failure still surfaces on the inspectable status.
	status := f.orchestrator.Status()
	assert.Contains(t, status.LastError, "replay sweep")
}

func TestSourceStatuses(t *testing.T) {
	f := newOrchestratorFixture(t, config.SyncConfig{})

	statuses := f.orchestrator.SourceStatuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, stats.SourceRest, statuses[0].Source)
	assert.True(t, statuses[0].Available)
	assert.Equal(t, stats.SourceScrape, statuses[2].Source)
	assert.False(t, statuses[2].Available)
}

func TestSyncHistoryIsBounded(t *testing.T) {
	var h passHistory
	for i := 0; i < historyCapacity+10; i++ {
		h.add(PassSummary{ReplayTotal: i})
	}
	entries := h.recent()
	require.Len(t, entries, historyCapacity)
	// Oldest entries fell off the front.
	assert.Equal(t, 10, entries[0].ReplayTotal)
}
