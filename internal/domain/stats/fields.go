package stats

// Canonical payload field names. Adapters normalize their source-specific
// shapes into these names so the reconciler can merge by field group.
const (
	// Match fields
	FieldWinner       = "winner" // "radiant" or "dire"
	FieldDuration     = "duration"
	FieldStartedAt    = "started_at"
	FieldRadiantTeam  = "radiant_team"
	FieldDireTeam     = "dire_team"
	FieldRadiantScore = "radiant_score"
	FieldDireScore    = "dire_score"
	FieldLeague       = "league"

	// Team fields
	FieldName   = "name"
	FieldTag    = "tag"
	FieldRating = "rating"
	FieldWins   = "wins"
	FieldLosses = "losses"
	FieldRoster = "roster"

	// Player fields
	FieldTeam    = "team"
	FieldCountry = "country"

	// Tournament fields
	FieldTier      = "tier"
	FieldPrizePool = "prize_pool"
	FieldStartDate = "start_date"
	FieldEndDate   = "end_date"
	FieldTeams     = "teams"
)

// ExpectedFields is the per-kind key-field set used for the completeness
// ratio. A reconciled entity with every listed field populated scores 1.0.
func ExpectedFields(kind EntityKind) []string {
	switch kind {
	case KindMatch:
		return []string{
			FieldWinner, FieldDuration, FieldStartedAt,
			FieldRadiantTeam, FieldDireTeam,
			FieldRadiantScore, FieldDireScore, FieldLeague,
		}
	case KindTeam:
		return []string{FieldName, FieldTag, FieldRating, FieldWins, FieldLosses, FieldRoster}
	case KindPlayer:
		return []string{FieldName, FieldTeam, FieldCountry}
	case KindTournament:
		return []string{FieldName, FieldTier, FieldStartDate, FieldEndDate, FieldPrizePool, FieldTeams}
	default:
		return nil
	}
}
