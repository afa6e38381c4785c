package stats

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// SourceStatus
// ---------------------------------------------------------------------------

// SourceStatus is the health snapshot of one adapter, read by the
// orchestrator's health gate before a sync pass.
type SourceStatus struct {
	// Source identifies the adapter.
	Source SourceName
	// Available is the result of the last connection test or request.
	Available bool
	// LastSuccessAt is when the adapter last completed a request.
	LastSuccessAt time.Time
	// RequestCount is the total number of requests issued since startup.
	RequestCount int64
}

// ---------------------------------------------------------------------------
// SourceAdapter Port Interface
// ---------------------------------------------------------------------------

// SourceAdapter is the uniform capability set every external source exposes.
// Implementations convert all internal failures into the typed outcomes in
// errors.go and never retry beyond their own transport-level policy.
type SourceAdapter interface {
	// Name returns the source this adapter serves.
	Name() SourceName

	// Supports reports whether the source can serve the given entity kind.
	Supports(kind EntityKind) bool

	// FetchEntity fetches one entity by natural key. Returns ErrNotFound
	// when the entity is absent at the source, ErrUnavailable or
	// ErrRateLimited on exhausted transport failures.
	FetchEntity(ctx context.Context, kind EntityKind, key string) (*SourceRecord, error)

	// Search finds entities matching a free-text query, up to limit.
	Search(ctx context.Context, kind EntityKind, query string, limit int) ([]SourceRecord, error)

	// TestConnection performs a cheap liveness probe against the source.
	TestConnection(ctx context.Context) bool

	// Status returns the adapter's health snapshot.
	Status() SourceStatus
}

// ---------------------------------------------------------------------------
// EntityStore Port Interface
// ---------------------------------------------------------------------------

// EntityStore is the persistence collaborator. All writes are
// upsert-by-natural-key so overlapping sync windows stay idempotent.
type EntityStore interface {
	// UpsertMatch persists a reconciled match keyed by match id.
	UpsertMatch(ctx context.Context, entity *ReconciledEntity) error

	// UpsertTeam persists a reconciled team keyed by team id.
	UpsertTeam(ctx context.Context, entity *ReconciledEntity) error

	// UpsertPlayer persists a reconciled player keyed by account id.
	UpsertPlayer(ctx context.Context, entity *ReconciledEntity) error

	// UpsertTournament persists a reconciled tournament keyed by page name.
	UpsertTournament(ctx context.Context, entity *ReconciledEntity) error

	// RecordReplayReference stores a reference (not the payload) to a
	// decoded replay artifact for a match.
	RecordReplayReference(ctx context.Context, matchID, objectKey string, decodedAt time.Time) error

	// FindMatchesMissingReplay returns match ids inside the window that
	// have no replay-derived record yet.
	FindMatchesMissingReplay(ctx context.Context, from, to time.Time) ([]string, error)
}
