package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntityKindIsValid(t *testing.T) {
	assert.True(t, KindMatch.IsValid())
	assert.True(t, KindTeam.IsValid())
	assert.True(t, KindPlayer.IsValid())
	assert.True(t, KindTournament.IsValid())
	assert.False(t, EntityKind("HERO").IsValid())
	assert.False(t, EntityKind("").IsValid())
}

func TestSourceNameIsValid(t *testing.T) {
	for _, s := range AllSources() {
		assert.True(t, s.IsValid())
	}
	assert.False(t, SourceName("RSS").IsValid())
}

func TestSourceRecordField(t *testing.T) {
	rec := &SourceRecord{
		Source:    SourceRest,
		Kind:      KindMatch,
		Key:       "7000000001",
		Payload:   map[string]any{"winner": "radiant", "duration": 2150},
		FetchedAt: time.Now(),
	}

	assert.Equal(t, "radiant", rec.Field("winner"))
	assert.True(t, rec.HasField("duration"))
	assert.Nil(t, rec.Field("league"))
	assert.False(t, rec.HasField("league"))

	var nilRec *SourceRecord
	assert.Nil(t, nilRec.Field("winner"))
}

func TestDataQualityClamp(t *testing.T) {
	q := DataQuality{Completeness: 1.2, SourceCoverage: -0.1, Consistent: true}
	q.Clamp()
	assert.Equal(t, 1.0, q.Completeness)
	assert.Equal(t, 0.0, q.SourceCoverage)

	q = DataQuality{Completeness: 0.5, SourceCoverage: 0.66}
	q.Clamp()
	assert.Equal(t, 0.5, q.Completeness)
	assert.Equal(t, 0.66, q.SourceCoverage)
}

func TestSyncResultCounting(t *testing.T) {
	r := SyncResult{Source: SourceRest}

	r.RecordSuccess()
	r.RecordSuccess()
	r.RecordFailure("team 42: source unavailable")

	assert.Equal(t, 3, r.RecordsProcessed)
	assert.Equal(t, 2, r.RecordsSucceeded)
	assert.Equal(t, 1, r.RecordsFailed)
	assert.Len(t, r.Errors, 1)
	assert.True(t, r.Consistent())
}

func TestSyncResultMerge(t *testing.T) {
	a := SyncResult{Source: SourceGraph, Duration: 2 * time.Second}
	a.RecordSuccess()

	b := SyncResult{Source: SourceGraph, Duration: 5 * time.Second}
	b.RecordFailure("player 10: rate limited")

	a.Merge(b)

	assert.Equal(t, 2, a.RecordsProcessed)
	assert.Equal(t, 1, a.RecordsSucceeded)
	assert.Equal(t, 1, a.RecordsFailed)
	assert.Equal(t, 5*time.Second, a.Duration)
	assert.True(t, a.Consistent())
}

func TestReconciledEntityStringField(t *testing.T) {
	e := &ReconciledEntity{
		Kind:   KindTeam,
		Key:    "15",
		Fields: map[string]any{"name": "Team Spirit", "rating": 1450},
	}

	assert.Equal(t, "Team Spirit", e.StringField("name"))
	assert.Equal(t, "", e.StringField("rating"))
	assert.Equal(t, "", e.StringField("missing"))
}
