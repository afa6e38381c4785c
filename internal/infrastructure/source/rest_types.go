package source

// Response payloads of the REST statistics API. Only the fields the
// reconciler's canonical field set needs are decoded.

// restMatch is the "match detail by id" response.
type restMatch struct {
	MatchID      int64  `json:"match_id"`
	RadiantWin   *bool  `json:"radiant_win"`
	Duration     int    `json:"duration"`
	StartTime    int64  `json:"start_time"`
	RadiantScore int    `json:"radiant_score"`
	DireScore    int    `json:"dire_score"`
	LeagueID     int64  `json:"leagueid"`
	RadiantName  string `json:"radiant_name"`
	DireName     string `json:"dire_name"`
	RadiantTeam  *struct {
		TeamID int64  `json:"team_id"`
		Name   string `json:"name"`
		Tag    string `json:"tag"`
	} `json:"radiant_team"`
	DireTeam *struct {
		TeamID int64  `json:"team_id"`
		Name   string `json:"name"`
		Tag    string `json:"tag"`
	} `json:"dire_team"`
	League *struct {
		LeagueID int64  `json:"leagueid"`
		Name     string `json:"name"`
		Tier     string `json:"tier"`
	} `json:"league"`
}

// restProMatch is one element of the "pro matches list" response.
type restProMatch struct {
	MatchID    int64 `json:"match_id"`
	StartTime  int64 `json:"start_time"`
	Duration   int   `json:"duration"`
	RadiantWin bool  `json:"radiant_win"`
	LeagueID   int64 `json:"leagueid"`
}

// restTeam is the "team by id" response.
type restTeam struct {
	TeamID        int64   `json:"team_id"`
	Name          string  `json:"name"`
	Tag           string  `json:"tag"`
	Rating        float64 `json:"rating"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	LastMatchTime int64   `json:"last_match_time"`
}

// restPlayer is the "player detail" response.
type restPlayer struct {
	Profile *struct {
		AccountID   int64  `json:"account_id"`
		PersonaName string `json:"personaname"`
		Name        string `json:"name"`
		CountryCode string `json:"loccountrycode"`
	} `json:"profile"`
	RankTier int `json:"rank_tier"`
}

// restLeague is one element of the "league list" response.
type restLeague struct {
	LeagueID int64  `json:"leagueid"`
	Name     string `json:"name"`
	Tier     string `json:"tier"`
}

// restSearchHit is one element of the player search response.
type restSearchHit struct {
	AccountID   int64  `json:"account_id"`
	PersonaName string `json:"personaname"`
}

// restReplayLocator is one element of the "replay locator by match id"
// response. The download URL is derived from cluster and salt.
type restReplayLocator struct {
	MatchID    int64 `json:"match_id"`
	Cluster    int   `json:"cluster"`
	ReplaySalt int64 `json:"replay_salt"`
}
