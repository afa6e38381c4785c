package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esports/backend/internal/domain/stats"
	"github.com/esports/backend/internal/infrastructure/config"
)

func newTestRestAdapter(t *testing.T, handler http.Handler) (*RestAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter := NewRestAdapter(config.RestSourceConfig{
		BaseURL:         srv.URL,
		RequestTimeout:  5 * time.Second,
		MinRequestDelay: time.Millisecond,
	}, nil)
	return adapter, srv
}

func TestRestAdapterFetchMatch(t *testing.T) {
	adapter, _ := newTestRestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/matches/7000000001", r.URL.Path)
		w.Write([]byte(`{
			"match_id": 7000000001,
			"radiant_win": true,
			"duration": 2150,
			"start_time": 1755820800,
			"radiant_score": 34,
			"dire_score": 21,
			"radiant_team": {"team_id": 15, "name": "Team Spirit", "tag": "TS"},
			"dire_team": {"team_id": 2163, "name": "Team Liquid", "tag": "TL"},
			"league": {"leagueid": 16935, "name": "The International 2026", "tier": "premium"}
		}`))
	}))

	rec, err := adapter.FetchEntity(context.Background(), stats.KindMatch, "7000000001")
	require.NoError(t, err)

	assert.Equal(t, stats.SourceRest, rec.Source)
	assert.Equal(t, "radiant", rec.Field(stats.FieldWinner))
	assert.Equal(t, 2150, rec.Field(stats.FieldDuration))
	assert.Equal(t, "Team Spirit", rec.Field(stats.FieldRadiantTeam))
	assert.Equal(t, "Team Liquid", rec.Field(stats.FieldDireTeam))
	assert.Equal(t, "The International 2026", rec.Field(stats.FieldLeague))
}

func TestRestAdapterFetchEntityNotFound(t *testing.T) {
	adapter, _ := newTestRestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := adapter.FetchEntity(context.Background(), stats.KindTeam, "99999")
	assert.ErrorIs(t, err, stats.ErrNotFound)
}

func TestRestAdapterRateLimitRetriesOnceThenSurfaces(t *testing.T) {
	var calls int32
	adapter, _ := newTestRestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := adapter.FetchEntity(context.Background(), stats.KindTeam, "15")
	assert.ErrorIs(t, err, stats.ErrRateLimited)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRestAdapterRateLimitRecoversOnRetry(t *testing.T) {
	var calls int32
	adapter, _ := newTestRestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"team_id": 15, "name": "Team Spirit", "tag": "TS", "rating": 1450, "wins": 10, "losses": 2}`))
	}))

	rec, err := adapter.FetchEntity(context.Background(), stats.KindTeam, "15")
	require.NoError(t, err)
	assert.Equal(t, "Team Spirit", rec.Field(stats.FieldName))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRestAdapterServerErrorIsUnavailable(t *testing.T) {
	adapter, _ := newTestRestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := adapter.FetchEntity(context.Background(), stats.KindPlayer, "10")
	assert.ErrorIs(t, err, stats.ErrUnavailable)

	status := adapter.Status()
	assert.False(t, status.Available)
	assert.Equal(t, int64(1), status.RequestCount)
}

func TestRestAdapterThrottleEnforcesMinDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"team_id": 1, "name": "x"}`))
	}))
	defer srv.Close()

	adapter := NewRestAdapter(config.RestSourceConfig{
		BaseURL:         srv.URL,
		RequestTimeout:  5 * time.Second,
		MinRequestDelay: 50 * time.Millisecond,
	}, nil)

	start := time.Now()
	_, err := adapter.FetchEntity(context.Background(), stats.KindTeam, "1")
	require.NoError(t, err)
	_, err = adapter.FetchEntity(context.Background(), stats.KindTeam, "1")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRestAdapterResolveReplayLocator(t *testing.T) {
	adapter, _ := newTestRestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/replays", r.URL.Path)
		assert.Equal(t, "7000000001", r.URL.Query().Get("match_id"))
		w.Write([]byte(`[{"match_id": 7000000001, "cluster": 236, "replay_salt": 12345678}]`))
	}))

	url, err := adapter.ResolveReplayLocator(context.Background(), "7000000001")
	require.NoError(t, err)
	assert.Equal(t, "http://replay236.valve.net/570/7000000001_12345678.dem.bz2", url)
}

func TestRestAdapterResolveReplayLocatorAbsent(t *testing.T) {
	adapter, _ := newTestRestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))

	_, err := adapter.ResolveReplayLocator(context.Background(), "123")
	assert.ErrorIs(t, err, stats.ErrNotFound)
}

func TestRestAdapterProMatchesFiltersWindow(t *testing.T) {
	adapter, _ := newTestRestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"match_id": 1, "start_time": 1000},
			{"match_id": 2, "start_time": 5000},
			{"match_id": 3, "start_time": 9000}
		]`))
	}))

	ids, err := adapter.ProMatches(context.Background(), time.Unix(4000, 0), time.Unix(6000, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)
}

func TestRestAdapterSearchUnsupportedKind(t *testing.T) {
	adapter, _ := newTestRestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := adapter.Search(context.Background(), stats.KindTournament, "TI", 5)
	assert.ErrorIs(t, err, stats.ErrUnsupportedKind)
}
