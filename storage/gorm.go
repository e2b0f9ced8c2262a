package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cite-guard/models"
)

// upsertColumns werden bei einem Konflikt überschrieben; created_at und die Attestierung nie.
var upsertColumns = []string{
	"bibtex", "provenance_tier", "evidence_type", "evidence_value",
	"source_doi", "source_pmid", "candidate_doi", "verified_at", "metadata", "updated_at",
}

// GormStore speichert Zitationen in PostgreSQL.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore erstellt den Store und migriert die Tabelle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.Citation{}); err != nil {
		return nil, err
	}
	return &GormStore{DB: db}, nil
}

func (s *GormStore) Get(ctx context.Context, projectID, citeKey string) (*models.Citation, error) {
	var c models.Citation
	err := s.DB.WithContext(ctx).Where("project_id = ? AND cite_key = ?", projectID, citeKey).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveIfUnlocked prüft die Sperre in der Datenbank selbst, damit eine parallele Attestierung
// zwischen Lesen und Schreiben nicht überschrieben wird.
func (s *GormStore) SaveIfUnlocked(ctx context.Context, c *models.Citation) (bool, error) {
	res := upsertUnlocked(s.DB.WithContext(ctx), c)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func upsertUnlocked(db *gorm.DB, c *models.Citation) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "cite_key"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "citations.verified_at IS NULL AND citations.attested_at IS NULL"},
		}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(c)
}

func (s *GormStore) ListByProject(ctx context.Context, projectID string) ([]models.Citation, error) {
	var rows []models.Citation
	err := s.DB.WithContext(ctx).Where("project_id = ?", projectID).Order("cite_key").Find(&rows).Error
	return rows, err
}

func (s *GormStore) ListByTier(ctx context.Context, tier models.ProvenanceTier, limit int) ([]models.Citation, error) {
	q := s.DB.WithContext(ctx).Where("provenance_tier = ?", tier).Order("updated_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.Citation
	err := q.Find(&rows).Error
	return rows, err
}

func (s *GormStore) Attest(ctx context.Context, projectID, citeKey, by string, at time.Time) (*models.Citation, error) {
	res := s.DB.WithContext(ctx).Model(&models.Citation{}).
		Where("project_id = ? AND cite_key = ?", projectID, citeKey).
		Updates(map[string]any{"attested_at": at, "attested_by": by, "updated_at": gorm.Expr("NOW()")})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, projectID, citeKey)
}
