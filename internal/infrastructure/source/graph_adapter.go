package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/esports/backend/internal/domain/stats"
	"github.com/esports/backend/internal/infrastructure/config"
	"github.com/esports/backend/internal/infrastructure/retry"
)

// netProfile is one client configuration the adapter can speak through.
// The upstream GraphQL API intermittently rejects TLS handshakes or
// stalls HTTP/2 streams, so the adapter rotates through progressively
// more conservative profiles instead of failing on the first.
type netProfile struct {
	name   string
	client *http.Client
}

// graphEnvelope is the standard GraphQL response shape.
type graphEnvelope struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GraphAdapter fetches entities from the GraphQL statistics API.
// Requests carry a bearer token; each call rotates through network
// profiles, remembering the last one that worked.
type GraphAdapter struct {
	cfg     config.GraphSourceConfig
	logger  *zap.Logger
	builder queryBuilder
	health  *sourceHealth
	preset  FieldPreset

	mu       sync.Mutex
	profiles []netProfile
	// lastGood is the profile index that most recently succeeded; the
	// next request starts there instead of from the top.
	lastGood int
}

var _ stats.SourceAdapter = (*GraphAdapter)(nil)

// NewGraphAdapter creates a GraphQL source adapter.
func NewGraphAdapter(cfg config.GraphSourceConfig, logger *zap.Logger, opts ...GraphOption) *GraphAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &GraphAdapter{
		cfg:      cfg,
		logger:   logger,
		health:   newSourceHealth(),
		preset:   PresetFull,
		profiles: defaultProfiles(cfg.RequestTimeout),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GraphOption customizes a GraphAdapter.
type GraphOption func(*GraphAdapter)

// WithFieldPreset sets the query field preset used for entity fetches.
func WithFieldPreset(p FieldPreset) GraphOption {
	return func(a *GraphAdapter) {
		if p.IsValid() {
			a.preset = p
		}
	}
}

// WithProfiles replaces the network profile set. Used by tests to
// point individual profiles at different servers.
func WithProfiles(profiles []netProfile) GraphOption {
	return func(a *GraphAdapter) {
		if len(profiles) > 0 {
			a.profiles = profiles
		}
	}
}

// defaultProfiles returns the production profile ladder: default TLS,
// then TLS without certificate verification, then HTTP/1.1 with
// keep-alive disabled.
func defaultProfiles(timeout time.Duration) []netProfile {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return []netProfile{
		{
			name:   "default",
			client: &http.Client{Timeout: timeout},
		},
		{
			name: "insecure-tls",
			client: &http.Client{
				Timeout: timeout,
				Transport: &http.Transport{
					TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				},
			},
		},
		{
			name: "http1-no-keepalive",
			client: &http.Client{
				Timeout: timeout,
				Transport: &http.Transport{
					DisableKeepAlives: true,
					ForceAttemptHTTP2: false,
					TLSNextProto:      map[string]func(string, *tls.Conn) http.RoundTripper{},
				},
			},
		},
	}
}

// Name returns the source identifier.
func (a *GraphAdapter) Name() stats.SourceName {
	return stats.SourceGraph
}

// Supports reports which entity kinds this source serves. The GraphQL
// API has no tournament endpoint.
func (a *GraphAdapter) Supports(kind stats.EntityKind) bool {
	switch kind {
	case stats.KindMatch, stats.KindTeam, stats.KindPlayer:
		return true
	default:
		return false
	}
}

// FetchEntity fetches one entity and normalizes it into a SourceRecord.
func (a *GraphAdapter) FetchEntity(ctx context.Context, kind stats.EntityKind, key string) (*stats.SourceRecord, error) {
	if !a.Supports(kind) {
		return nil, stats.ErrUnsupportedKind
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a numeric id", stats.ErrInvalidEntityKey, key)
	}

	q, err := a.builder.buildEntityQuery(kind, a.preset, key)
	if err != nil {
		return nil, err
	}
	// GraphQL ids are numeric; the builder carries the key as a string.
	q.Variables["id"] = id

	data, err := a.post(ctx, q)
	if err != nil {
		return nil, err
	}

	payload, err := a.normalize(kind, data)
	if err != nil {
		return nil, err
	}

	return &stats.SourceRecord{
		Source:    stats.SourceGraph,
		Kind:      kind,
		Key:       key,
		Payload:   payload,
		FetchedAt: time.Now(),
	}, nil
}

// Search runs a free-text search for teams or players.
func (a *GraphAdapter) Search(ctx context.Context, kind stats.EntityKind, query string, limit int) ([]stats.SourceRecord, error) {
	q, err := a.builder.buildSearchQuery(kind, query, limit)
	if err != nil {
		return nil, err
	}

	data, err := a.post(ctx, q)
	if err != nil {
		return nil, err
	}

	var search struct {
		Teams []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
			Tag  string `json:"tag"`
		} `json:"teams"`
		Players []struct {
			SteamAccountID int64  `json:"steamAccountId"`
			Name           string `json:"name"`
		} `json:"players"`
	}
	if raw, ok := data["search"]; ok {
		if err := json.Unmarshal(raw, &search); err != nil {
			return nil, fmt.Errorf("decoding search response: %w", err)
		}
	}

	now := time.Now()
	var records []stats.SourceRecord
	for _, t := range search.Teams {
		records = append(records, stats.SourceRecord{
			Source:    stats.SourceGraph,
			Kind:      stats.KindTeam,
			Key:       strconv.FormatInt(t.ID, 10),
			Payload:   map[string]any{stats.FieldName: t.Name, stats.FieldTag: t.Tag},
			FetchedAt: now,
		})
	}
	for _, p := range search.Players {
		records = append(records, stats.SourceRecord{
			Source:    stats.SourceGraph,
			Kind:      stats.KindPlayer,
			Key:       strconv.FormatInt(p.SteamAccountID, 10),
			Payload:   map[string]any{stats.FieldName: p.Name},
			FetchedAt: now,
		})
	}
	return records, nil
}

// TestConnection probes the endpoint with the cheapest possible query.
func (a *GraphAdapter) TestConnection(ctx context.Context) bool {
	_, err := a.post(ctx, graphQuery{Query: "{ __typename }"})
	return err == nil
}

// Status returns the current health snapshot.
func (a *GraphAdapter) Status() stats.SourceStatus {
	return a.health.snapshot(stats.SourceGraph)
}

// ----------------------------------------------------------------------
// Transport
// ----------------------------------------------------------------------

// post sends one GraphQL request, rotating through network profiles.
// Each profile gets AttemptsPerProfile tries with linear backoff before
// the next profile is attempted. Typed outcomes (not found, rate
// limited, bad token) abort the rotation immediately.
func (a *GraphAdapter) post(ctx context.Context, q graphQuery) (map[string]json.RawMessage, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	a.mu.Lock()
	start := a.lastGood
	profiles := a.profiles
	a.mu.Unlock()

	var lastErr error
	for i := 0; i < len(profiles); i++ {
		idx := (start + i) % len(profiles)
		profile := profiles[idx]

		var data map[string]json.RawMessage
		attemptErr := retry.Do(ctx, a.cfg.AttemptsPerProfile, a.cfg.RetryBaseDelay, retry.BackoffLinear, func(ctx context.Context) error {
			var err error
			data, err = a.send(ctx, profile.client, body)
			return err
		})
		if attemptErr == nil {
			a.mu.Lock()
			a.lastGood = idx
			a.mu.Unlock()
			a.health.recordSuccess()
			return data, nil
		}

		lastErr = attemptErr
		// The endpoint answered; switching profiles cannot change a
		// not-found or rate-limit outcome.
		if errors.Is(attemptErr, stats.ErrNotFound) || errors.Is(attemptErr, stats.ErrRateLimited) {
			return nil, attemptErr
		}

		a.logger.Warn("graphql profile exhausted",
			zap.String("profile", profile.name),
			zap.Int("attempts", a.cfg.AttemptsPerProfile),
			zap.Error(attemptErr))
	}

	a.health.recordFailure()
	return nil, fmt.Errorf("%w: all network profiles failed: %v", stats.ErrUnavailable, lastErr)
}

// send performs one HTTP round trip and classifies the outcome.
func (a *GraphAdapter) send(ctx context.Context, client *http.Client, body []byte) (map[string]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Stop(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.BearerToken)

	a.health.recordRequest()

	resp, err := client.Do(req)
	if err != nil {
		// Transport-level failure, the retry loop and profile rotation
		// exist for exactly this case.
		return nil, fmt.Errorf("%w: %v", stats.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", stats.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retry.Stop(stats.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, retry.Stop(fmt.Errorf("%w: bearer token rejected (status %d)", stats.ErrUnavailable, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", stats.ErrUnavailable, resp.StatusCode)
	}

	var envelope graphEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", stats.ErrUnavailable, err)
	}

	if len(envelope.Errors) > 0 {
		msg := envelope.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "not found") {
			return nil, retry.Stop(stats.ErrNotFound)
		}
		return nil, retry.Stop(fmt.Errorf("%w: graphql error: %s", stats.ErrUnavailable, msg))
	}
	return envelope.Data, nil
}

// ----------------------------------------------------------------------
// Normalization
// ----------------------------------------------------------------------

// winnerString maps the radiant-win flag onto the canonical winner value.
func winnerString(radiantWin bool) string {
	if radiantWin {
		return "radiant"
	}
	return "dire"
}

// normalize converts the raw GraphQL data object into canonical fields.
// A null entity object means the id does not exist.
func (a *GraphAdapter) normalize(kind stats.EntityKind, data map[string]json.RawMessage) (map[string]any, error) {
	switch kind {
	case stats.KindMatch:
		return normalizeGraphMatch(data["match"])
	case stats.KindTeam:
		return normalizeGraphTeam(data["team"])
	case stats.KindPlayer:
		return normalizeGraphPlayer(data["player"])
	default:
		return nil, stats.ErrUnsupportedKind
	}
}

func normalizeGraphMatch(raw json.RawMessage) (map[string]any, error) {
	var m *struct {
		ID              int64 `json:"id"`
		DidRadiantWin   *bool `json:"didRadiantWin"`
		DurationSeconds int   `json:"durationSeconds"`
		StartDateTime   int64 `json:"startDateTime"`
		RadiantKills    int   `json:"radiantKills"`
		DireKills       int   `json:"direKills"`
		League          *struct {
			ID          int64  `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"league"`
		RadiantTeam *struct {
			Name string `json:"name"`
			Tag  string `json:"tag"`
		} `json:"radiantTeam"`
		DireTeam *struct {
			Name string `json:"name"`
			Tag  string `json:"tag"`
		} `json:"direTeam"`
	}
	if err := decodeEntity(raw, &m); err != nil {
		return nil, err
	}

	payload := map[string]any{
		stats.FieldDuration:     m.DurationSeconds,
		stats.FieldRadiantScore: m.RadiantKills,
		stats.FieldDireScore:    m.DireKills,
	}
	if m.DidRadiantWin != nil {
		payload[stats.FieldWinner] = winnerString(*m.DidRadiantWin)
	}
	if m.StartDateTime > 0 {
		payload[stats.FieldStartedAt] = time.Unix(m.StartDateTime, 0).UTC()
	}
	if m.League != nil && m.League.DisplayName != "" {
		payload[stats.FieldLeague] = m.League.DisplayName
	}
	if m.RadiantTeam != nil && m.RadiantTeam.Name != "" {
		payload[stats.FieldRadiantTeam] = m.RadiantTeam.Name
	}
	if m.DireTeam != nil && m.DireTeam.Name != "" {
		payload[stats.FieldDireTeam] = m.DireTeam.Name
	}
	return payload, nil
}

func normalizeGraphTeam(raw json.RawMessage) (map[string]any, error) {
	var t *struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		Tag       string `json:"tag"`
		WinCount  int    `json:"winCount"`
		LossCount int    `json:"lossCount"`
		Members   []struct {
			SteamAccountID int64 `json:"steamAccountId"`
		} `json:"members"`
	}
	if err := decodeEntity(raw, &t); err != nil {
		return nil, err
	}

	payload := map[string]any{
		stats.FieldWins:   t.WinCount,
		stats.FieldLosses: t.LossCount,
	}
	if t.Name != "" {
		payload[stats.FieldName] = t.Name
	}
	if t.Tag != "" {
		payload[stats.FieldTag] = t.Tag
	}
	if len(t.Members) > 0 {
		roster := make([]string, 0, len(t.Members))
		for _, m := range t.Members {
			roster = append(roster, strconv.FormatInt(m.SteamAccountID, 10))
		}
		payload[stats.FieldRoster] = roster
	}
	return payload, nil
}

func normalizeGraphPlayer(raw json.RawMessage) (map[string]any, error) {
	var p *struct {
		SteamAccountID  int64 `json:"steamAccountId"`
		ProSteamAccount *struct {
			Name string `json:"name"`
			Team *struct {
				Name string `json:"name"`
			} `json:"team"`
		} `json:"proSteamAccount"`
		SteamAccount *struct {
			CountryCode string `json:"countryCode"`
		} `json:"steamAccount"`
	}
	if err := decodeEntity(raw, &p); err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if p.ProSteamAccount != nil {
		if p.ProSteamAccount.Name != "" {
			payload[stats.FieldName] = p.ProSteamAccount.Name
		}
		if p.ProSteamAccount.Team != nil && p.ProSteamAccount.Team.Name != "" {
			payload[stats.FieldTeam] = p.ProSteamAccount.Team.Name
		}
	}
	if p.SteamAccount != nil && p.SteamAccount.CountryCode != "" {
		payload[stats.FieldCountry] = p.SteamAccount.CountryCode
	}
	return payload, nil
}

// decodeEntity unmarshals raw into target (a pointer to a pointer) and
// converts JSON null or absence into ErrNotFound.
func decodeEntity(raw json.RawMessage, target any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return stats.ErrNotFound
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decoding entity: %w", err)
	}
	return nil
}
