package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cite-guard/bibtex"
	"cite-guard/metrics"
	"cite-guard/models"
	"cite-guard/providers"
	"cite-guard/storage"
)

// IngestSummary ist die Rückmeldung an den Aufrufer.
type IngestSummary struct {
	Total        int          `json:"total"`
	TierA        int          `json:"tier_a"`
	TierD        int          `json:"tier_d"`
	Errors       int          `json:"errors"`
	Skipped      int          `json:"skipped_locked"`
	Orphans      []string     `json:"orphans"`
	Salvaged     bool         `json:"salvaged"`
	ErrorDetails []BatchError `json:"error_details,omitempty"`
}

func (s *IngestSummary) count(tier models.ProvenanceTier) {
	s.Total++
	switch tier {
	case models.TierA:
		s.TierA++
	case models.TierD:
		s.TierD++
	}
}

// Ingestor verarbeitet ein Generator-Fragment: Trailer auflösen, speichern, Waisen anlegen.
type Ingestor struct {
	Store  storage.CitationStore
	Batch  *BatchResolver
	Search providers.Registry // Register für die Waisensuche (DOI-Register)
	Marker string
	Logger *zap.Logger
	Now    func() time.Time
}

// NewIngestor erstellt einen Ingestor mit Standardmarker.
func NewIngestor(store storage.CitationStore, batch *BatchResolver, search providers.Registry, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		Store:  store,
		Batch:  batch,
		Search: search,
		Marker: DefaultTrailerMarker,
		Logger: logger,
		Now:    time.Now,
	}
}

// Ingest verarbeitet fragment für projectID. Auflösungsfehler einzelner Einträge sind nicht
// fatal, Speicherfehler schon.
func (in *Ingestor) Ingest(ctx context.Context, projectID, fragment string) (*IngestSummary, error) {
	log := in.Logger.With(zap.String("project_id", projectID))
	frag := SplitFragment(fragment, in.Marker)
	summary := &IngestSummary{Salvaged: frag.Salvaged, Orphans: []string{}}
	if frag.Salvaged {
		log.Info("Trailer marker missing or empty, salvaged inline entries")
	}

	result := in.Batch.ResolveAll(ctx, frag.Trailer)
	summary.Errors = len(result.Errors)
	summary.ErrorDetails = result.Errors

	resolvedKeys := make(map[string]bool, len(result.Resolved))
	for _, r := range result.Resolved {
		resolvedKeys[r.CiteKey] = true
		written, err := in.persist(ctx, projectID, r)
		if err != nil {
			return nil, err
		}
		if !written {
			summary.Skipped++
			continue
		}
		summary.count(r.ProvenanceTier)
	}

	// Waisen: Marker ohne aufgelösten Trailer-Eintrag und ohne gespeicherte Zeile.
	var trueOrphans []string
	for _, key := range ExtractMarkerKeys(frag.Body) {
		if resolvedKeys[key] {
			continue
		}
		existing, err := in.Store.Get(ctx, projectID, key)
		if err != nil {
			return nil, fmt.Errorf("lookup orphan %q: %w", key, err)
		}
		if existing == nil {
			trueOrphans = append(trueOrphans, key)
		}
	}
	summary.Orphans = append(summary.Orphans, trueOrphans...)

	rawByKey := map[string]string{}
	for _, e := range bibtex.ParseEntries(frag.Trailer) {
		rawByKey[e.Key] = e.Text
	}
	placeholders := make([]models.ResolvedCitation, len(trueOrphans))
	runChunked(ctx, trueOrphans, IngestChunkSize, func(ctx context.Context, i int, key string) {
		placeholders[i] = in.placeholder(ctx, key, rawByKey[key], log)
	}, nil)

	for i, p := range placeholders {
		// Nicht gestartete Waisen (Kontext beendet) bekommen trotzdem eine Zeile.
		if p.CiteKey == "" {
			p = models.ResolvedCitation{CiteKey: trueOrphans[i], ProvenanceTier: models.TierD}
		}
		written, err := in.persist(ctx, projectID, p)
		if err != nil {
			return nil, err
		}
		if written {
			summary.count(p.ProvenanceTier)
		}
	}

	log.Info("Ingestion completed",
		zap.Int("total", summary.Total),
		zap.Int("tier_a", summary.TierA),
		zap.Int("tier_d", summary.TierD),
		zap.Int("errors", summary.Errors),
		zap.Int("skipped_locked", summary.Skipped),
		zap.Int("orphans", len(summary.Orphans)))
	return summary, nil
}

// persist schreibt r, außer die bestehende Zeile ist gesperrt.
func (in *Ingestor) persist(ctx context.Context, projectID string, r models.ResolvedCitation) (bool, error) {
	row := models.NewCitation(projectID, r, in.Now())
	// Der Store prüft die Sperre selbst atomar, der Kontext darf hier schon beendet sein.
	written, err := in.Store.SaveIfUnlocked(context.WithoutCancel(ctx), &row)
	if err != nil {
		return false, fmt.Errorf("persist citation %q: %w", r.CiteKey, err)
	}
	if !written {
		metrics.LockedSkips.Inc()
		in.Logger.Info("Skipping locked citation",
			zap.String("project_id", projectID), zap.String("cite_key", r.CiteKey))
	}
	return written, nil
}

// placeholder baut die Stufe-D-Zeile für einen Marker ohne Eintrag. Ein Treffer der Suche
// liefert Text und candidate_doi, bleibt aber unbestätigt. source_doi bleibt leer, damit
// Sweep und Checkpoint den Treffer nicht als Identifier-Beleg verwenden.
func (in *Ingestor) placeholder(ctx context.Context, key, raw string, log *zap.Logger) models.ResolvedCitation {
	p := models.ResolvedCitation{
		CiteKey:        key,
		ProvenanceTier: models.TierD,
		Bibtex:         stripIdentifiers(raw),
	}
	query, ok := OrphanQuery(key)
	if !ok || in.Search == nil {
		return p
	}
	log = log.With(zap.String("cite_key", key), zap.String("query", query))

	result, err := in.Search.Search(ctx, query, 1)
	if err != nil {
		log.Warn("Orphan search failed", zap.Error(err))
		return p
	}
	if result == nil || len(result.Items) == 0 {
		return p
	}
	doi := providers.NormalizeDOI(result.Items[0].DOI)
	if doi == "" {
		return p
	}
	p.CandidateDOI = doi

	rec, err := in.Search.LookupByID(ctx, doi)
	if err != nil || rec == nil {
		log.Warn("Orphan candidate fetch failed", zap.String("doi", doi), zap.Error(err))
		return p
	}
	p.Bibtex = serialize(key, rec, raw)
	p.Record = rec
	log.Info("Orphan candidate attached", zap.String("doi", doi))
	return p
}
