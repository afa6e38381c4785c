// Package models holds the GORM persistence models and their
// conversions to and from the domain types.
package models

import (
	"encoding/json"
	"time"

	"github.com/esports/backend/internal/domain/stats"
)

// ReconciledColumns is the shared persistence shape of a reconciled
// entity: the merged field map, per-field provenance, contributing
// sources, and the quality score.
type ReconciledColumns struct {
	FieldsJSON     string    `gorm:"type:jsonb;column:fields;not null"`
	ProvenanceJSON string    `gorm:"type:jsonb;column:provenance;not null"`
	SourcesJSON    string    `gorm:"type:jsonb;column:sources;not null"`
	Completeness   float64   `gorm:"not null"`
	SourceCoverage float64   `gorm:"not null"`
	Consistent     bool      `gorm:"not null;default:true"`
	ReconciledAt   time.Time `gorm:"not null"`
}

// FromDomain populates the shared columns from a reconciled entity.
func (c *ReconciledColumns) FromDomain(e *stats.ReconciledEntity) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return err
	}
	provenance, err := json.Marshal(e.Provenance)
	if err != nil {
		return err
	}
	sources, err := json.Marshal(e.Sources)
	if err != nil {
		return err
	}
	c.FieldsJSON = string(fields)
	c.ProvenanceJSON = string(provenance)
	c.SourcesJSON = string(sources)
	c.Completeness = e.Quality.Completeness
	c.SourceCoverage = e.Quality.SourceCoverage
	c.Consistent = e.Quality.Consistent
	c.ReconciledAt = e.ReconciledAt
	return nil
}

// PopulateDomain fills the shared parts of a reconciled entity.
func (c *ReconciledColumns) PopulateDomain(e *stats.ReconciledEntity) {
	e.Fields = map[string]any{}
	e.Provenance = map[string]stats.SourceName{}
	if c.FieldsJSON != "" {
		_ = json.Unmarshal([]byte(c.FieldsJSON), &e.Fields)
	}
	if c.ProvenanceJSON != "" {
		_ = json.Unmarshal([]byte(c.ProvenanceJSON), &e.Provenance)
	}
	if c.SourcesJSON != "" {
		_ = json.Unmarshal([]byte(c.SourcesJSON), &e.Sources)
	}
	e.Quality = stats.DataQuality{
		Completeness:   c.Completeness,
		SourceCoverage: c.SourceCoverage,
		Consistent:     c.Consistent,
	}
	e.ReconciledAt = c.ReconciledAt
}

// ----------------------------------------------------------------------
// Match
// ----------------------------------------------------------------------

// MatchModel is the persistence model for reconciled matches. Winner
// and start time are promoted to columns for querying; everything else
// lives in the fields document.
type MatchModel struct {
	MatchID   string     `gorm:"type:varchar(32);primary_key"`
	Winner    string     `gorm:"type:varchar(16)"`
	StartedAt *time.Time `gorm:"index"`
	ReconciledColumns
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (MatchModel) TableName() string {
	return "matches"
}

// FromDomain populates the model from a reconciled match.
func (m *MatchModel) FromDomain(e *stats.ReconciledEntity) error {
	m.MatchID = e.Key
	m.Winner = e.StringField(stats.FieldWinner)
	if started, ok := e.Field(stats.FieldStartedAt).(time.Time); ok {
		m.StartedAt = &started
	}
	return m.ReconciledColumns.FromDomain(e)
}

// ToDomain converts the model back to a reconciled match.
func (m *MatchModel) ToDomain() *stats.ReconciledEntity {
	e := &stats.ReconciledEntity{Kind: stats.KindMatch, Key: m.MatchID}
	m.ReconciledColumns.PopulateDomain(e)
	return e
}

// ----------------------------------------------------------------------
// Team
// ----------------------------------------------------------------------

// TeamModel is the persistence model for reconciled teams.
type TeamModel struct {
	TeamID string `gorm:"type:varchar(64);primary_key"`
	Name   string `gorm:"type:varchar(255);index"`
	ReconciledColumns
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (TeamModel) TableName() string {
	return "teams"
}

// FromDomain populates the model from a reconciled team.
func (m *TeamModel) FromDomain(e *stats.ReconciledEntity) error {
	m.TeamID = e.Key
	m.Name = e.StringField(stats.FieldName)
	return m.ReconciledColumns.FromDomain(e)
}

// ToDomain converts the model back to a reconciled team.
func (m *TeamModel) ToDomain() *stats.ReconciledEntity {
	e := &stats.ReconciledEntity{Kind: stats.KindTeam, Key: m.TeamID}
	m.ReconciledColumns.PopulateDomain(e)
	return e
}

// ----------------------------------------------------------------------
// Player
// ----------------------------------------------------------------------

// PlayerModel is the persistence model for reconciled players, keyed by
// account id.
type PlayerModel struct {
	AccountID string `gorm:"type:varchar(32);primary_key"`
	Name      string `gorm:"type:varchar(255);index"`
	ReconciledColumns
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (PlayerModel) TableName() string {
	return "players"
}

// FromDomain populates the model from a reconciled player.
func (m *PlayerModel) FromDomain(e *stats.ReconciledEntity) error {
	m.AccountID = e.Key
	m.Name = e.StringField(stats.FieldName)
	return m.ReconciledColumns.FromDomain(e)
}

// ToDomain converts the model back to a reconciled player.
func (m *PlayerModel) ToDomain() *stats.ReconciledEntity {
	e := &stats.ReconciledEntity{Kind: stats.KindPlayer, Key: m.AccountID}
	m.ReconciledColumns.PopulateDomain(e)
	return e
}

// ----------------------------------------------------------------------
// Tournament
// ----------------------------------------------------------------------

// TournamentModel is the persistence model for reconciled tournaments,
// keyed by the wiki page name or numeric league id, whichever the
// reconciliation ran under.
type TournamentModel struct {
	TournamentKey string `gorm:"type:varchar(255);primary_key"`
	Name          string `gorm:"type:varchar(255);index"`
	ReconciledColumns
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (TournamentModel) TableName() string {
	return "tournaments"
}

// FromDomain populates the model from a reconciled tournament.
func (m *TournamentModel) FromDomain(e *stats.ReconciledEntity) error {
	m.TournamentKey = e.Key
	m.Name = e.StringField(stats.FieldName)
	return m.ReconciledColumns.FromDomain(e)
}

// ToDomain converts the model back to a reconciled tournament.
func (m *TournamentModel) ToDomain() *stats.ReconciledEntity {
	e := &stats.ReconciledEntity{Kind: stats.KindTournament, Key: m.TournamentKey}
	m.ReconciledColumns.PopulateDomain(e)
	return e
}

// ----------------------------------------------------------------------
// Replay artifact reference
// ----------------------------------------------------------------------

// ReplayArtifactModel references one decoded replay artifact in object
// storage. The artifact payload itself never enters the database.
type ReplayArtifactModel struct {
	MatchID   string    `gorm:"type:varchar(32);primary_key"`
	ObjectKey string    `gorm:"type:varchar(512);not null"`
	DecodedAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (ReplayArtifactModel) TableName() string {
	return "replay_artifacts"
}
