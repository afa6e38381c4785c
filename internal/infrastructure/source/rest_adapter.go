package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/esports/backend/internal/domain/stats"
	"github.com/esports/backend/internal/infrastructure/config"
)

const (
	// maxResponseBytes limits API response body size to prevent memory exhaustion
	maxResponseBytes = 10 * 1024 * 1024 // 10MB
)

// RestAdapter implements stats.SourceAdapter against the REST statistics
// API. Requests are serialized behind a single-slot throttle with a fixed
// minimum inter-request delay; an HTTP 429 doubles the delay once and
// retries the same request exactly once before surfacing ErrRateLimited.
type RestAdapter struct {
	cfg        config.RestSourceConfig
	httpClient *http.Client
	logger     *zap.Logger
	health     *sourceHealth

	// slotMu serializes requests; lastRequest and delay are guarded by it.
	slotMu      sync.Mutex
	lastRequest time.Time
	delay       time.Duration
}

// NewRestAdapter creates a REST adapter with the given configuration.
func NewRestAdapter(cfg config.RestSourceConfig, logger *zap.Logger) *RestAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RestAdapter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger.Named("rest"),
		health: newSourceHealth(),
		delay:  cfg.MinRequestDelay,
	}
}

// Name returns the source this adapter serves.
func (a *RestAdapter) Name() stats.SourceName {
	return stats.SourceRest
}

// Supports reports which entity kinds the REST API serves.
func (a *RestAdapter) Supports(kind stats.EntityKind) bool {
	switch kind {
	case stats.KindMatch, stats.KindTeam, stats.KindPlayer, stats.KindTournament:
		return true
	default:
		return false
	}
}

// FetchEntity fetches one entity by natural key.
func (a *RestAdapter) FetchEntity(ctx context.Context, kind stats.EntityKind, key string) (*stats.SourceRecord, error) {
	if key == "" {
		return nil, stats.ErrInvalidEntityKey
	}

	var payload map[string]any
	var err error
	switch kind {
	case stats.KindMatch:
		payload, err = a.fetchMatch(ctx, key)
	case stats.KindTeam:
		payload, err = a.fetchTeam(ctx, key)
	case stats.KindPlayer:
		payload, err = a.fetchPlayer(ctx, key)
	case stats.KindTournament:
		payload, err = a.fetchLeague(ctx, key)
	default:
		return nil, stats.ErrUnsupportedKind
	}
	if err != nil {
		return nil, err
	}

	return &stats.SourceRecord{
		Source:    stats.SourceRest,
		Kind:      kind,
		Key:       key,
		Payload:   payload,
		FetchedAt: time.Now(),
	}, nil
}

// Search finds entities matching a free-text query.
func (a *RestAdapter) Search(ctx context.Context, kind stats.EntityKind, query string, limit int) ([]stats.SourceRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	switch kind {
	case stats.KindPlayer:
		return a.searchPlayers(ctx, query, limit)
	default:
		return nil, stats.ErrUnsupportedKind
	}
}

// TestConnection probes the API with a cheap request.
func (a *RestAdapter) TestConnection(ctx context.Context) bool {
	var heroes []map[string]any
	err := a.get(ctx, "/heroes", nil, &heroes)
	return err == nil
}

// Status returns the adapter's health snapshot.
func (a *RestAdapter) Status() stats.SourceStatus {
	return a.health.snapshot(stats.SourceRest)
}

// ---------------------------------------------------------------------------
// Replay Locator
// ---------------------------------------------------------------------------

// ResolveReplayLocator returns the time-limited download URL for a match's
// replay file, or replay.ErrLocatorNotFound via the typed stats.ErrNotFound
// when the match has no recorded replay.
func (a *RestAdapter) ResolveReplayLocator(ctx context.Context, matchID string) (string, error) {
	var locators []restReplayLocator
	err := a.get(ctx, "/replays", url.Values{"match_id": {matchID}}, &locators)
	if err != nil {
		return "", err
	}
	if len(locators) == 0 || locators[0].ReplaySalt == 0 {
		return "", stats.ErrNotFound
	}
	loc := locators[0]
	return fmt.Sprintf("http://replay%d.valve.net/570/%d_%d.dem.bz2", loc.Cluster, loc.MatchID, loc.ReplaySalt), nil
}

// ---------------------------------------------------------------------------
// Entity fetchers
// ---------------------------------------------------------------------------

func (a *RestAdapter) fetchMatch(ctx context.Context, key string) (map[string]any, error) {
	var m restMatch
	if err := a.get(ctx, "/matches/"+key, nil, &m); err != nil {
		return nil, err
	}
	if m.MatchID == 0 {
		return nil, stats.ErrNotFound
	}

	payload := map[string]any{
		stats.FieldDuration:     m.Duration,
		stats.FieldStartedAt:    time.Unix(m.StartTime, 0).UTC(),
		stats.FieldRadiantScore: m.RadiantScore,
		stats.FieldDireScore:    m.DireScore,
	}
	if m.RadiantWin != nil {
		payload[stats.FieldWinner] = winnerString(*m.RadiantWin)
	}
	if m.RadiantTeam != nil && m.RadiantTeam.Name != "" {
		payload[stats.FieldRadiantTeam] = m.RadiantTeam.Name
	} else if m.RadiantName != "" {
		payload[stats.FieldRadiantTeam] = m.RadiantName
	}
	if m.DireTeam != nil && m.DireTeam.Name != "" {
		payload[stats.FieldDireTeam] = m.DireTeam.Name
	} else if m.DireName != "" {
		payload[stats.FieldDireTeam] = m.DireName
	}
	if m.League != nil && m.League.Name != "" {
		payload[stats.FieldLeague] = m.League.Name
	}
	return payload, nil
}

func (a *RestAdapter) fetchTeam(ctx context.Context, key string) (map[string]any, error) {
	var t restTeam
	if err := a.get(ctx, "/teams/"+key, nil, &t); err != nil {
		return nil, err
	}
	if t.TeamID == 0 {
		return nil, stats.ErrNotFound
	}

	payload := map[string]any{
		stats.FieldWins:   t.Wins,
		stats.FieldLosses: t.Losses,
	}
	if t.Name != "" {
		payload[stats.FieldName] = t.Name
	}
	if t.Tag != "" {
		payload[stats.FieldTag] = t.Tag
	}
	if t.Rating > 0 {
		payload[stats.FieldRating] = t.Rating
	}
	return payload, nil
}

func (a *RestAdapter) fetchPlayer(ctx context.Context, key string) (map[string]any, error) {
	var p restPlayer
	if err := a.get(ctx, "/players/"+key, nil, &p); err != nil {
		return nil, err
	}
	if p.Profile == nil {
		return nil, stats.ErrNotFound
	}

	payload := map[string]any{}
	if p.Profile.Name != "" {
		payload[stats.FieldName] = p.Profile.Name
	} else if p.Profile.PersonaName != "" {
		payload[stats.FieldName] = p.Profile.PersonaName
	}
	if p.Profile.CountryCode != "" {
		payload[stats.FieldCountry] = p.Profile.CountryCode
	}
	return payload, nil
}

// fetchLeague resolves a tournament by scanning the league list; the REST
// API has no league-by-id endpoint.
func (a *RestAdapter) fetchLeague(ctx context.Context, key string) (map[string]any, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		// Tournament keys from the scrape source are page names; the REST
		// source only resolves numeric league ids.
		return nil, stats.ErrNotFound
	}

	var leagues []restLeague
	if err := a.get(ctx, "/leagues", nil, &leagues); err != nil {
		return nil, err
	}
	for _, l := range leagues {
		if l.LeagueID == id {
			payload := map[string]any{stats.FieldName: l.Name}
			if l.Tier != "" {
				payload[stats.FieldTier] = l.Tier
			}
			return payload, nil
		}
	}
	return nil, stats.ErrNotFound
}

func (a *RestAdapter) searchPlayers(ctx context.Context, query string, limit int) ([]stats.SourceRecord, error) {
	var hits []restSearchHit
	if err := a.get(ctx, "/search", url.Values{"q": {query}}, &hits); err != nil {
		return nil, err
	}

	records := make([]stats.SourceRecord, 0, limit)
	for _, hit := range hits {
		if len(records) >= limit {
			break
		}
		records = append(records, stats.SourceRecord{
			Source:    stats.SourceRest,
			Kind:      stats.KindPlayer,
			Key:       strconv.FormatInt(hit.AccountID, 10),
			Payload:   map[string]any{stats.FieldName: hit.PersonaName},
			FetchedAt: time.Now(),
		})
	}
	return records, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// ProMatches returns recently completed pro matches inside the window,
// used by the orchestrator to seed the match sweep.
func (a *RestAdapter) ProMatches(ctx context.Context, from, to time.Time) ([]string, error) {
	var matches []restProMatch
	if err := a.get(ctx, "/proMatches", nil, &matches); err != nil {
		return nil, err
	}

	var ids []string
	for _, m := range matches {
		started := time.Unix(m.StartTime, 0)
		if started.Before(from) || started.After(to) {
			continue
		}
		ids = append(ids, strconv.FormatInt(m.MatchID, 10))
	}
	return ids, nil
}

// get performs a throttled GET and decodes the JSON response into out.
// All failures resolve to the typed outcomes in the stats package.
func (a *RestAdapter) get(ctx context.Context, path string, params url.Values, out any) error {
	body, err := a.doThrottled(ctx, path, params, false)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		a.health.recordFailure()
		return fmt.Errorf("%w: malformed response: %v", stats.ErrUnavailable, err)
	}
	a.health.recordSuccess()
	return nil
}

// doThrottled serializes the request behind the single throttle slot.
// retried marks the one permitted 429 retry.
func (a *RestAdapter) doThrottled(ctx context.Context, path string, params url.Values, retried bool) ([]byte, error) {
	a.slotMu.Lock()
	wait := time.Until(a.lastRequest.Add(a.delay))
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.slotMu.Unlock()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	a.lastRequest = time.Now()
	a.slotMu.Unlock()

	body, status, err := a.doRequest(ctx, path, params)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusNotFound:
		return nil, stats.ErrNotFound
	case status == http.StatusTooManyRequests:
		if retried {
			a.health.recordFailure()
			return nil, fmt.Errorf("%w: HTTP 429 after backoff", stats.ErrRateLimited)
		}
		// Double the inter-request delay once and retry the same request
		// exactly once.
		a.slotMu.Lock()
		a.delay = a.cfg.MinRequestDelay * 2
		a.slotMu.Unlock()
		a.logger.Warn("rate limited, doubling request delay",
			zap.String("path", path),
			zap.Duration("delay", a.cfg.MinRequestDelay*2),
		)
		return a.doThrottled(ctx, path, params, true)
	case status >= 400:
		a.health.recordFailure()
		return nil, fmt.Errorf("%w: HTTP %d", stats.ErrUnavailable, status)
	}

	// Restore the configured delay after a clean response.
	a.slotMu.Lock()
	a.delay = a.cfg.MinRequestDelay
	a.slotMu.Unlock()

	return body, nil
}

func (a *RestAdapter) doRequest(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	a.health.recordRequest()

	u := a.cfg.BaseURL + path
	if params == nil {
		params = url.Values{}
	}
	if a.cfg.APIKey != "" {
		params.Set("api_key", a.cfg.APIKey)
	}
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", stats.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.health.recordFailure()
		return nil, 0, fmt.Errorf("%w: %v", stats.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		a.health.recordFailure()
		return nil, 0, fmt.Errorf("%w: %v", stats.ErrUnavailable, err)
	}

	return body, resp.StatusCode, nil
}

// Ensure RestAdapter implements the ports it serves.
var _ stats.SourceAdapter = (*RestAdapter)(nil)
