package stats

import (
	"time"
)

// ---------------------------------------------------------------------------
// EntityKind represents the type of esports entity
// ---------------------------------------------------------------------------

// EntityKind represents the type of esports entity being synced.
type EntityKind string

const (
	// KindMatch represents a single played match.
	KindMatch EntityKind = "MATCH"
	// KindTeam represents a professional team.
	KindTeam EntityKind = "TEAM"
	// KindPlayer represents a professional player.
	KindPlayer EntityKind = "PLAYER"
	// KindTournament represents a tournament or league.
	KindTournament EntityKind = "TOURNAMENT"
)

// IsValid returns true if the entity kind is valid.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindMatch, KindTeam, KindPlayer, KindTournament:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityKind.
func (k EntityKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// SourceName identifies one of the external providers
// ---------------------------------------------------------------------------

// SourceName identifies one of the external data providers.
type SourceName string

const (
	// SourceRest is the REST statistics API.
	SourceRest SourceName = "REST"
	// SourceGraph is the GraphQL statistics API.
	SourceGraph SourceName = "GRAPHQL"
	// SourceScrape is the wiki-style site consumed through a headless browser.
	SourceScrape SourceName = "SCRAPE"
)

// IsValid returns true if the source name is valid.
func (s SourceName) IsValid() bool {
	switch s {
	case SourceRest, SourceGraph, SourceScrape:
		return true
	default:
		return false
	}
}

// String returns the string representation of SourceName.
func (s SourceName) String() string {
	return string(s)
}

// AllSources lists every known source in a stable order.
func AllSources() []SourceName {
	return []SourceName{SourceRest, SourceGraph, SourceScrape}
}

// ---------------------------------------------------------------------------
// SourceRecord
// ---------------------------------------------------------------------------

// SourceRecord is the raw payload one adapter produced for one entity.
// It is immutable once created and owned by the producing adapter until
// handed to the reconciler.
type SourceRecord struct {
	// Source identifies the adapter that produced this record.
	Source SourceName
	// Kind is the entity type of the payload.
	Kind EntityKind
	// Key is the natural key of the entity at the source
	// (match id, team id, player id, tournament page name).
	Key string
	// Payload holds the normalized field values keyed by canonical field name.
	Payload map[string]any
	// FetchedAt is when the adapter obtained the payload.
	FetchedAt time.Time
}

// Field returns the named payload field, or nil if absent.
func (r *SourceRecord) Field(name string) any {
	if r == nil || r.Payload == nil {
		return nil
	}
	v, ok := r.Payload[name]
	if !ok {
		return nil
	}
	return v
}

// HasField returns true if the named field is present and non-nil.
func (r *SourceRecord) HasField(name string) bool {
	return r.Field(name) != nil
}

// ---------------------------------------------------------------------------
// DataQuality
// ---------------------------------------------------------------------------

// DataQuality scores a reconciled entity. It is computed during
// reconciliation and never persisted independently of its parent.
type DataQuality struct {
	// Completeness is populated key fields / expected key fields, in [0,1].
	Completeness float64
	// SourceCoverage is responding sources / queried sources, in [0,1].
	SourceCoverage float64
	// Consistent is false when two sources disagreed on an authoritative
	// field. The higher-priority source's value still wins.
	Consistent bool
}

// Clamp forces both ratios into [0,1]. Ratios are computed from counts and
// should already be in range; this guards divide edge cases.
func (q *DataQuality) Clamp() {
	q.Completeness = clamp01(q.Completeness)
	q.SourceCoverage = clamp01(q.SourceCoverage)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ---------------------------------------------------------------------------
// ReconciledEntity
// ---------------------------------------------------------------------------

// ReconciledEntity is the merged view of one entity across sources.
// Every non-nil field value is traceable to exactly one contributing
// source through Provenance.
type ReconciledEntity struct {
	// Kind is the entity type.
	Kind EntityKind
	// Key is the natural key the entity was reconciled under.
	Key string
	// Fields holds the merged field values keyed by canonical field name.
	Fields map[string]any
	// Provenance records which source contributed each field.
	Provenance map[string]SourceName
	// Quality is the computed quality score for this reconciliation.
	Quality DataQuality
	// Sources lists the sources that returned a usable record.
	Sources []SourceName
	// ReconciledAt is when the merge completed.
	ReconciledAt time.Time
}

// Field returns the named merged field, or nil if absent.
func (e *ReconciledEntity) Field(name string) any {
	if e == nil || e.Fields == nil {
		return nil
	}
	return e.Fields[name]
}

// StringField returns the named field as a string, or "" when absent or
// not a string.
func (e *ReconciledEntity) StringField(name string) string {
	s, _ := e.Field(name).(string)
	return s
}

// ---------------------------------------------------------------------------
// SyncResult
// ---------------------------------------------------------------------------

// SyncResult is the per-source outcome of one sync pass. It is created
// fresh each pass and never mutated after the pass completes.
type SyncResult struct {
	// Source identifies the source this result describes.
	Source SourceName
	// RecordsProcessed is the total number of records attempted.
	RecordsProcessed int
	// RecordsSucceeded is the number of records synced successfully.
	RecordsSucceeded int
	// RecordsFailed is the number of records that failed.
	RecordsFailed int
	// Errors holds one message per failed record.
	Errors []string
	// Duration is the wall-clock time of the pass for this source.
	Duration time.Duration
}

// RecordSuccess counts one successful record.
func (r *SyncResult) RecordSuccess() {
	r.RecordsProcessed++
	r.RecordsSucceeded++
}

// RecordFailure counts one failed record and retains its error message.
func (r *SyncResult) RecordFailure(msg string) {
	r.RecordsProcessed++
	r.RecordsFailed++
	r.Errors = append(r.Errors, msg)
}

// Consistent reports whether processed == succeeded + failed.
func (r *SyncResult) Consistent() bool {
	return r.RecordsProcessed == r.RecordsSucceeded+r.RecordsFailed
}

// Merge folds another result for the same source into this one.
func (r *SyncResult) Merge(other SyncResult) {
	r.RecordsProcessed += other.RecordsProcessed
	r.RecordsSucceeded += other.RecordsSucceeded
	r.RecordsFailed += other.RecordsFailed
	r.Errors = append(r.Errors, other.Errors...)
	if other.Duration > r.Duration {
		r.Duration = other.Duration
	}
}
