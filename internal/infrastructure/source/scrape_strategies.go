package source

import (
	"strings"
	"time"
	"unicode"

	"github.com/esports/backend/internal/domain/stats"
)

// scrapedPage is the structured snapshot the in-browser extraction
// script returns for one wiki page. Strategies operate on this snapshot
// so extraction stays testable without a browser.
type scrapedPage struct {
	Title     string              `json:"title"`
	NoArticle bool                `json:"noArticle"`
	Infobox   map[string]string   `json:"infobox"`
	Sections  map[string][]string `json:"sections"`
	Links     []string            `json:"links"`
}

// extractStrategy is one fallback extraction approach. Strategies are
// applied in order; the first one that yields a plausible payload wins.
type extractStrategy struct {
	name    string
	extract func(p *scrapedPage) (map[string]any, bool)
}

// strategiesFor returns the ordered strategy list for an entity kind:
// structured infobox first, keyword-labeled sections second, generic
// link harvesting last.
func strategiesFor(kind stats.EntityKind) []extractStrategy {
	switch kind {
	case stats.KindTeam:
		return teamStrategies
	case stats.KindTournament:
		return tournamentStrategies
	default:
		return nil
	}
}

// ----------------------------------------------------------------------
// Team strategies
// ----------------------------------------------------------------------

var teamStrategies = []extractStrategy{
	{name: "infobox", extract: teamFromInfobox},
	{name: "sections", extract: teamFromSections},
	{name: "links", extract: teamFromLinks},
}

func teamFromInfobox(p *scrapedPage) (map[string]any, bool) {
	if len(p.Infobox) == 0 || !plausibleName(p.Title) {
		return nil, false
	}

	payload := map[string]any{stats.FieldName: p.Title}
	if tag := infoboxValue(p.Infobox, "Abbreviation", "Tag", "Short Name"); tag != "" {
		payload[stats.FieldTag] = tag
	}
	if roster := rosterFromSections(p.Sections); len(roster) > 0 {
		payload[stats.FieldRoster] = roster
	}
	return payload, true
}

func teamFromSections(p *scrapedPage) (map[string]any, bool) {
	roster := rosterFromSections(p.Sections)
	if len(roster) == 0 || !plausibleName(p.Title) {
		return nil, false
	}
	return map[string]any{
		stats.FieldName:   p.Title,
		stats.FieldRoster: roster,
	}, true
}

func teamFromLinks(p *scrapedPage) (map[string]any, bool) {
	if !plausibleName(p.Title) {
		return nil, false
	}
	payload := map[string]any{stats.FieldName: p.Title}
	if names := plausibleNames(p.Links, 5); len(names) > 0 {
		payload[stats.FieldRoster] = names
	}
	return payload, true
}

// rosterFromSections finds the first roster-like section and returns its
// plausible member names.
func rosterFromSections(sections map[string][]string) []string {
	for _, keyword := range []string{"active", "roster", "squad"} {
		for heading, entries := range sections {
			if !strings.Contains(strings.ToLower(heading), keyword) {
				continue
			}
			if names := plausibleNames(entries, 10); len(names) > 0 {
				return names
			}
		}
	}
	return nil
}

// ----------------------------------------------------------------------
// Tournament strategies
// ----------------------------------------------------------------------

var tournamentStrategies = []extractStrategy{
	{name: "infobox", extract: tournamentFromInfobox},
	{name: "sections", extract: tournamentFromSections},
	{name: "links", extract: tournamentFromLinks},
}

func tournamentFromInfobox(p *scrapedPage) (map[string]any, bool) {
	if len(p.Infobox) == 0 || !plausibleName(p.Title) {
		return nil, false
	}

	payload := map[string]any{stats.FieldName: p.Title}
	if tier := infoboxValue(p.Infobox, "Liquipedia Tier", "Tier"); tier != "" {
		payload[stats.FieldTier] = tier
	}
	if prize := infoboxValue(p.Infobox, "Prize Pool", "Prize pool"); prize != "" {
		payload[stats.FieldPrizePool] = prize
	}
	if start := parseWikiDate(infoboxValue(p.Infobox, "Start Date", "Start date")); !start.IsZero() {
		payload[stats.FieldStartDate] = start
	}
	if end := parseWikiDate(infoboxValue(p.Infobox, "End Date", "End date")); !end.IsZero() {
		payload[stats.FieldEndDate] = end
	}
	if teams := participantsFromSections(p.Sections); len(teams) > 0 {
		payload[stats.FieldTeams] = teams
	}
	return payload, true
}

func tournamentFromSections(p *scrapedPage) (map[string]any, bool) {
	teams := participantsFromSections(p.Sections)
	if len(teams) == 0 || !plausibleName(p.Title) {
		return nil, false
	}
	return map[string]any{
		stats.FieldName:  p.Title,
		stats.FieldTeams: teams,
	}, true
}

func tournamentFromLinks(p *scrapedPage) (map[string]any, bool) {
	if !plausibleName(p.Title) {
		return nil, false
	}
	payload := map[string]any{stats.FieldName: p.Title}
	if names := plausibleNames(p.Links, 16); len(names) > 0 {
		payload[stats.FieldTeams] = names
	}
	return payload, true
}

// participantsFromSections finds the participating-teams section.
func participantsFromSections(sections map[string][]string) []string {
	for _, keyword := range []string{"participant", "teams"} {
		for heading, entries := range sections {
			if !strings.Contains(strings.ToLower(heading), keyword) {
				continue
			}
			if names := plausibleNames(entries, 32); len(names) > 0 {
				return names
			}
		}
	}
	return nil
}

// ----------------------------------------------------------------------
// Plausibility
// ----------------------------------------------------------------------

// wikiNamespaces are MediaWiki namespace prefixes; a link text carrying
// one is site plumbing, not an entity name.
var wikiNamespaces = []string{"Category:", "Template:", "Special:", "File:", "Module:", "Help:", "Portal:"}

// plausibleName filters scraped strings down to ones that could be a
// real team, player, or tournament name.
func plausibleName(s string) bool {
	s = strings.TrimSpace(s)
	if len([]rune(s)) < 2 {
		return false
	}
	for _, ns := range wikiNamespaces {
		if strings.HasPrefix(s, ns) {
			return false
		}
	}
	allDigits := true
	for _, r := range s {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	return !allDigits
}

// plausibleNames returns up to limit distinct plausible names in input
// order.
func plausibleNames(candidates []string, limit int) []string {
	seen := make(map[string]struct{}, len(candidates))
	var names []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if !plausibleName(c) {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		names = append(names, c)
		if len(names) >= limit {
			break
		}
	}
	return names
}

// infoboxValue returns the first non-empty infobox value among the
// candidate labels, matching case-insensitively.
func infoboxValue(infobox map[string]string, labels ...string) string {
	for _, label := range labels {
		for key, value := range infobox {
			if strings.EqualFold(strings.TrimSuffix(key, ":"), label) && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}

// parseWikiDate parses the date formats the wiki uses. Returns the zero
// time when nothing matches.
func parseWikiDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02", "Jan 2, 2006", "January 2, 2006", "2 Jan 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
