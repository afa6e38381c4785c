package source

import (
	"fmt"
	"strings"

	"github.com/esports/backend/internal/domain/stats"
)

// FieldPreset selects how much of an entity a GraphQL query requests.
// Callers trade payload size for completeness instead of always
// over-fetching one fixed query per entity.
type FieldPreset string

const (
	PresetBasic    FieldPreset = "basic"
	PresetDetailed FieldPreset = "detailed"
	PresetFull     FieldPreset = "full"
)

// IsValid returns true if the preset is known.
func (p FieldPreset) IsValid() bool {
	switch p {
	case PresetBasic, PresetDetailed, PresetFull:
		return true
	default:
		return false
	}
}

// graphQuery is one ready-to-post GraphQL request.
type graphQuery struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// queryBuilder assembles entity queries from per-preset field sets.
// Queries grow by preset: detailed includes basic, full includes detailed.
type queryBuilder struct{}

// matchFields lists the requested selection per preset for match queries.
var matchFields = map[FieldPreset][]string{
	PresetBasic:    {"id", "didRadiantWin", "durationSeconds", "startDateTime"},
	PresetDetailed: {"radiantKills", "direKills", "league { id displayName }"},
	PresetFull:     {"radiantTeam { id name tag }", "direTeam { id name tag }"},
}

// teamFields lists the requested selection per preset for team queries.
var teamFields = map[FieldPreset][]string{
	PresetBasic:    {"id", "name", "tag"},
	PresetDetailed: {"winCount", "lossCount"},
	PresetFull:     {"members { steamAccountId }"},
}

// playerFields lists the requested selection per preset for player queries.
var playerFields = map[FieldPreset][]string{
	PresetBasic:    {"steamAccountId", "proSteamAccount { name team { name } }"},
	PresetDetailed: {"steamAccount { countryCode }"},
	PresetFull:     {"matchCount", "winCount"},
}

// buildEntityQuery returns the query for one entity kind at the given
// preset. The id variable is always `$id`.
func (queryBuilder) buildEntityQuery(kind stats.EntityKind, preset FieldPreset, key string) (graphQuery, error) {
	if !preset.IsValid() {
		preset = PresetDetailed
	}

	switch kind {
	case stats.KindMatch:
		return graphQuery{
			Query:     fmt.Sprintf("query ($id: Long!) { match(id: $id) { %s } }", selection(matchFields, preset)),
			Variables: map[string]any{"id": key},
		}, nil
	case stats.KindTeam:
		return graphQuery{
			Query:     fmt.Sprintf("query ($id: Int!) { team(teamId: $id) { %s } }", selection(teamFields, preset)),
			Variables: map[string]any{"id": key},
		}, nil
	case stats.KindPlayer:
		return graphQuery{
			Query:     fmt.Sprintf("query ($id: Long!) { player(steamAccountId: $id) { %s } }", selection(playerFields, preset)),
			Variables: map[string]any{"id": key},
		}, nil
	default:
		return graphQuery{}, stats.ErrUnsupportedKind
	}
}

// buildSearchQuery returns the free-text search query for a kind.
func (queryBuilder) buildSearchQuery(kind stats.EntityKind, query string, limit int) (graphQuery, error) {
	switch kind {
	case stats.KindTeam:
		return graphQuery{
			Query:     "query ($q: String!, $take: Int!) { search { teams(request: {query: $q, take: $take}) { id name tag } } }",
			Variables: map[string]any{"q": query, "take": limit},
		}, nil
	case stats.KindPlayer:
		return graphQuery{
			Query:     "query ($q: String!, $take: Int!) { search { players(request: {query: $q, take: $take}) { steamAccountId name } } }",
			Variables: map[string]any{"q": query, "take": limit},
		}, nil
	default:
		return graphQuery{}, stats.ErrUnsupportedKind
	}
}

// selection joins the field sets of every preset up to and including the
// requested one, keeping declaration order stable.
func selection(fields map[FieldPreset][]string, preset FieldPreset) string {
	var parts []string
	parts = append(parts, fields[PresetBasic]...)
	if preset == PresetDetailed || preset == PresetFull {
		parts = append(parts, fields[PresetDetailed]...)
	}
	if preset == PresetFull {
		parts = append(parts, fields[PresetFull]...)
	}
	return strings.Join(parts, " ")
}
