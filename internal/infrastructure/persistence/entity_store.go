package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/esports/backend/internal/domain/stats"
	"github.com/esports/backend/internal/infrastructure/persistence/models"
)

// Ensure GormEntityStore implements the domain port.
var _ stats.EntityStore = (*GormEntityStore)(nil)

// reconciledAssignments lists the columns refreshed on conflict for
// every reconciled-entity table.
var reconciledAssignments = []string{
	"fields", "provenance", "sources",
	"completeness", "source_coverage", "consistent",
	"reconciled_at", "updated_at",
}

// GormEntityStore implements stats.EntityStore using GORM. All writes
// are upsert-by-natural-key so overlapping sync windows stay idempotent.
type GormEntityStore struct {
	db *gorm.DB
}

// NewGormEntityStore creates a new GormEntityStore.
func NewGormEntityStore(db *gorm.DB) *GormEntityStore {
	return &GormEntityStore{db: db}
}

// WithTx returns a store bound to the given transaction.
func (s *GormEntityStore) WithTx(tx *gorm.DB) *GormEntityStore {
	return &GormEntityStore{db: tx}
}

// UpsertMatch persists a reconciled match keyed by match id.
func (s *GormEntityStore) UpsertMatch(ctx context.Context, entity *stats.ReconciledEntity) error {
	if err := validateEntity(entity, stats.KindMatch); err != nil {
		return err
	}

	model := &models.MatchModel{}
	if err := model.FromDomain(entity); err != nil {
		return fmt.Errorf("encoding match %s: %w", entity.Key, err)
	}

	assignments := append([]string{"winner", "started_at"}, reconciledAssignments...)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "match_id"}},
			DoUpdates: clause.AssignmentColumns(assignments),
		}).
		Create(model).Error
}

// UpsertTeam persists a reconciled team keyed by team id.
func (s *GormEntityStore) UpsertTeam(ctx context.Context, entity *stats.ReconciledEntity) error {
	if err := validateEntity(entity, stats.KindTeam); err != nil {
		return err
	}

	model := &models.TeamModel{}
	if err := model.FromDomain(entity); err != nil {
		return fmt.Errorf("encoding team %s: %w", entity.Key, err)
	}

	assignments := append([]string{"name"}, reconciledAssignments...)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "team_id"}},
			DoUpdates: clause.AssignmentColumns(assignments),
		}).
		Create(model).Error
}

// UpsertPlayer persists a reconciled player keyed by account id.
func (s *GormEntityStore) UpsertPlayer(ctx context.Context, entity *stats.ReconciledEntity) error {
	if err := validateEntity(entity, stats.KindPlayer); err != nil {
		return err
	}

	model := &models.PlayerModel{}
	if err := model.FromDomain(entity); err != nil {
		return fmt.Errorf("encoding player %s: %w", entity.Key, err)
	}

	assignments := append([]string{"name"}, reconciledAssignments...)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns(assignments),
		}).
		Create(model).Error
}

// UpsertTournament persists a reconciled tournament keyed by page name.
func (s *GormEntityStore) UpsertTournament(ctx context.Context, entity *stats.ReconciledEntity) error {
	if err := validateEntity(entity, stats.KindTournament); err != nil {
		return err
	}

	model := &models.TournamentModel{}
	if err := model.FromDomain(entity); err != nil {
		return fmt.Errorf("encoding tournament %s: %w", entity.Key, err)
	}

	assignments := append([]string{"name"}, reconciledAssignments...)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tournament_key"}},
			DoUpdates: clause.AssignmentColumns(assignments),
		}).
		Create(model).Error
}

// RecordReplayReference stores a reference to a decoded replay artifact.
// Re-recording the same match refreshes the key and timestamp.
func (s *GormEntityStore) RecordReplayReference(ctx context.Context, matchID, objectKey string, decodedAt time.Time) error {
	if matchID == "" || objectKey == "" {
		return stats.ErrInvalidEntityKey
	}

	model := &models.ReplayArtifactModel{
		MatchID:   matchID,
		ObjectKey: objectKey,
		DecodedAt: decodedAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "match_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"object_key", "decoded_at", "updated_at"}),
		}).
		Create(model).Error
}

// FindMatchesMissingReplay returns match ids inside the window that
// have no replay artifact reference yet, oldest first.
func (s *GormEntityStore) FindMatchesMissingReplay(ctx context.Context, from, to time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.MatchModel{}).
		Where("started_at >= ? AND started_at <= ?", from, to).
		Where("NOT EXISTS (SELECT 1 FROM replay_artifacts WHERE replay_artifacts.match_id = matches.match_id)").
		Order("started_at ASC").
		Pluck("match_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FindMatch loads one reconciled match by id. Returns gorm.ErrRecordNotFound
// when absent.
func (s *GormEntityStore) FindMatch(ctx context.Context, matchID string) (*stats.ReconciledEntity, error) {
	var model models.MatchModel
	if err := s.db.WithContext(ctx).First(&model, "match_id = ?", matchID).Error; err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func validateEntity(entity *stats.ReconciledEntity, kind stats.EntityKind) error {
	if entity == nil || entity.Key == "" {
		return stats.ErrInvalidEntityKey
	}
	if entity.Kind != kind {
		return fmt.Errorf("%w: expected %s, got %s", stats.ErrUnsupportedKind, kind, entity.Kind)
	}
	return nil
}
