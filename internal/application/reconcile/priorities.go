package reconcile

import "github.com/esports/backend/internal/domain/stats"

// priorityTable fixes, per entity kind, which source wins each field
// group. Priority is per field group, not per whole record: a team's
// roster can come from the scrape source while its win counts come from
// the REST source.
type priorityTable struct {
	// defaultOrder applies to any field without a group override.
	defaultOrder []stats.SourceName
	// groupOrder overrides the order for specific canonical fields.
	groupOrder map[string][]stats.SourceName
	// authoritative lists fields where cross-source disagreement marks
	// the result inconsistent. The priority winner's value still stands.
	authoritative []string
}

var priorityTables = map[stats.EntityKind]priorityTable{
	// The REST API is the system of record for match outcomes; the
	// scrape source only ever confirms team names.
	stats.KindMatch: {
		defaultOrder:  []stats.SourceName{stats.SourceRest, stats.SourceGraph, stats.SourceScrape},
		authoritative: []string{stats.FieldWinner},
	},
	// The wiki is curated by humans and carries the canonical team
	// identity and roster; the APIs fill in the numbers.
	stats.KindTeam: {
		defaultOrder: []stats.SourceName{stats.SourceScrape, stats.SourceGraph, stats.SourceRest},
		groupOrder: map[string][]stats.SourceName{
			stats.FieldRating: {stats.SourceRest, stats.SourceGraph},
			stats.FieldWins:   {stats.SourceRest, stats.SourceGraph},
			stats.FieldLosses: {stats.SourceRest, stats.SourceGraph},
		},
		authoritative: []string{stats.FieldName},
	},
	stats.KindPlayer: {
		defaultOrder: []stats.SourceName{stats.SourceRest, stats.SourceGraph},
	},
	stats.KindTournament: {
		defaultOrder: []stats.SourceName{stats.SourceScrape, stats.SourceRest},
	},
}

// orderFor returns the source priority for one field of one kind.
func orderFor(kind stats.EntityKind, field string) []stats.SourceName {
	table, ok := priorityTables[kind]
	if !ok {
		return stats.AllSources()
	}
	if override, ok := table.groupOrder[field]; ok {
		return override
	}
	return table.defaultOrder
}

// authoritativeFields returns the consistency-checked fields of a kind.
func authoritativeFields(kind stats.EntityKind) []string {
	return priorityTables[kind].authoritative
}
