package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cite-guard/metrics"
	"cite-guard/models"
	"cite-guard/storage"
)

// SweepLimit begrenzt die Zeilen pro nächtlichem Lauf.
const SweepLimit = 500

// Sweeper löst unaufgelöste Zeilen aller Projekte regelmäßig neu auf und schreibt Upgrades direkt.
type Sweeper struct {
	Store    storage.CitationStore
	Resolver HintedResolver
	Logger   *zap.Logger
	Limit    int
	Now      func() time.Time
}

// NewSweeper erstellt einen Sweeper.
func NewSweeper(store storage.CitationStore, resolver HintedResolver, logger *zap.Logger) *Sweeper {
	return &Sweeper{Store: store, Resolver: resolver, Logger: logger, Limit: SweepLimit, Now: time.Now}
}

// Run liefert die Zahl der auf Stufe A gehobenen Zeilen. Zeilen mit einem Kandidaten aus der
// Autor/Jahr-Suche werden übersprungen: ihr Text stammt nicht aus dem ursprünglichen Eintrag
// und darf nur über den Checkpoint mit Freigabe durch den Nutzer aufsteigen.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	listed, err := s.Store.ListByTier(ctx, models.TierD, s.Limit)
	if err != nil {
		return 0, fmt.Errorf("list unresolved citations: %w", err)
	}
	rows := listed[:0:0]
	for _, row := range listed {
		if row.CandidateDOI != "" {
			s.Logger.Debug("Skipping orphan candidate", zap.String("project_id", row.ProjectID), zap.String("cite_key", row.CiteKey))
			continue
		}
		rows = append(rows, row)
	}
	s.Logger.Info("Sweep started", zap.Int("candidates", len(rows)))

	upgrades := make([]*models.ResolvedCitation, len(rows))
	runChunked(ctx, rows, IngestChunkSize, func(ctx context.Context, i int, row models.Citation) {
		res, err := s.Resolver.ResolveHinted(ctx, row.CiteKey, row.Bibtex, Hint{DOI: row.SourceDOI, PMID: row.SourcePMID})
		if err != nil || res.ProvenanceTier != models.TierA {
			return
		}
		upgrades[i] = &res
	}, nil)

	upgraded := 0
	for i, u := range upgrades {
		if u == nil {
			continue
		}
		row := models.NewCitation(rows[i].ProjectID, *u, s.Now())
		written, err := s.Store.SaveIfUnlocked(ctx, &row)
		if err != nil {
			return upgraded, fmt.Errorf("persist sweep upgrade %q: %w", u.CiteKey, err)
		}
		if written {
			upgraded++
			metrics.SweepUpgrades.Inc()
		}
	}

	s.Logger.Info("Sweep completed", zap.Int("candidates", len(rows)), zap.Int("upgraded", upgraded))
	return upgraded, nil
}
