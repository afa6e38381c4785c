package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/esports/backend/internal/domain/stats"
)

// newMockEntityStore creates a GormEntityStore with a mocked SQL connection.
func newMockEntityStore(t *testing.T) (*GormEntityStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormEntityStore(gormDB), mock, mockDB
}

func reconciledMatch() *stats.ReconciledEntity {
	return &stats.ReconciledEntity{
		Kind: stats.KindMatch,
		Key:  "7000000001",
		Fields: map[string]any{
			stats.FieldWinner:    "radiant",
			stats.FieldDuration:  2150,
			stats.FieldStartedAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		},
		Provenance: map[string]stats.SourceName{
			stats.FieldWinner:   stats.SourceRest,
			stats.FieldDuration: stats.SourceGraph,
		},
		Quality:      stats.DataQuality{Completeness: 0.375, SourceCoverage: 1, Consistent: true},
		Sources:      []stats.SourceName{stats.SourceRest, stats.SourceGraph},
		ReconciledAt: time.Now(),
	}
}

func TestGormEntityStoreUpsertMatch(t *testing.T) {
	store, mock, mockDB := newMockEntityStore(t)
	defer mockDB.Close()

	mock.ExpectExec(`INSERT INTO "matches" .* ON CONFLICT \("match_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertMatch(context.Background(), reconciledMatch())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormEntityStoreUpsertValidation(t *testing.T) {
	store, _, mockDB := newMockEntityStore(t)
	defer mockDB.Close()

	err := store.UpsertMatch(context.Background(), nil)
	assert.ErrorIs(t, err, stats.ErrInvalidEntityKey)

	team := reconciledMatch()
	err = store.UpsertTeam(context.Background(), team)
	assert.ErrorIs(t, err, stats.ErrUnsupportedKind)
}

func TestGormEntityStoreUpsertTeam(t *testing.T) {
	store, mock, mockDB := newMockEntityStore(t)
	defer mockDB.Close()

	mock.ExpectExec(`INSERT INTO "teams" .* ON CONFLICT \("team_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertTeam(context.Background(), &stats.ReconciledEntity{
		Kind:       stats.KindTeam,
		Key:        "15",
		Fields:     map[string]any{stats.FieldName: "Team Spirit"},
		Provenance: map[string]stats.SourceName{stats.FieldName: stats.SourceScrape},
		Sources:    []stats.SourceName{stats.SourceScrape},
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormEntityStoreRecordReplayReference(t *testing.T) {
	store, mock, mockDB := newMockEntityStore(t)
	defer mockDB.Close()

	mock.ExpectExec(`INSERT INTO "replay_artifacts" .* ON CONFLICT \("match_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RecordReplayReference(context.Background(), "7000000001", "replays/2026-08-20/7000000001.json", time.Now())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	err = store.RecordReplayReference(context.Background(), "", "key", time.Now())
	assert.ErrorIs(t, err, stats.ErrInvalidEntityKey)
}

func TestGormEntityStoreFindMatchesMissingReplay(t *testing.T) {
	store, mock, mockDB := newMockEntityStore(t)
	defer mockDB.Close()

	rows := sqlmock.NewRows([]string{"match_id"}).
		AddRow("7000000001").
		AddRow("7000000002")

	mock.ExpectQuery(`SELECT "match_id" FROM "matches" WHERE \(started_at >= \$1 AND started_at <= \$2\) AND NOT EXISTS`).
		WillReturnRows(rows)

	from := time.Now().Add(-24 * time.Hour)
	ids, err := store.FindMatchesMissingReplay(context.Background(), from, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"7000000001", "7000000002"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormEntityStoreFindMatch(t *testing.T) {
	store, mock, mockDB := newMockEntityStore(t)
	defer mockDB.Close()

	reconciledAt := time.Date(2026, 8, 20, 13, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"match_id", "winner", "started_at",
		"fields", "provenance", "sources",
		"completeness", "source_coverage", "consistent", "reconciled_at",
	}).AddRow(
		"7000000001", "radiant", time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		`{"winner":"radiant","duration":2150}`,
		`{"winner":"REST","duration":"GRAPHQL"}`,
		`["REST","GRAPHQL"]`,
		0.375, 1.0, true, reconciledAt,
	)

	mock.ExpectQuery(`SELECT \* FROM "matches" WHERE match_id = \$1`).
		WillReturnRows(rows)

	entity, err := store.FindMatch(context.Background(), "7000000001")
	require.NoError(t, err)

	assert.Equal(t, stats.KindMatch, entity.Kind)
	assert.Equal(t, "radiant", entity.StringField(stats.FieldWinner))
	assert.Equal(t, stats.SourceRest, entity.Provenance[stats.FieldWinner])
	assert.Equal(t, []stats.SourceName{stats.SourceRest, stats.SourceGraph}, entity.Sources)
	assert.InDelta(t, 0.375, entity.Quality.Completeness, 1e-9)
	assert.True(t, entity.Quality.Consistent)
}
