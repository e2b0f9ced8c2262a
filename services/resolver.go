package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"cite-guard/bibtex"
	"cite-guard/metrics"
	"cite-guard/models"
	"cite-guard/providers"
)

const (
	// TitleMatchThreshold ist die Mindestähnlichkeit für eine Übernahme über die Titelsuche.
	TitleMatchThreshold = 0.85
	titleSearchLimit    = 3
	minTitleLength      = 10
)

// ErrEmptyCiteKey wird für Einträge ohne Schlüssel geliefert.
var ErrEmptyCiteKey = errors.New("resolver: empty cite key")

// EntryResolver löst einen einzelnen Roh-Eintrag auf.
type EntryResolver interface {
	Resolve(ctx context.Context, citeKey, raw string) (models.ResolvedCitation, error)
}

// Resolver löst einen Eintrag über eine feste Kaskade auf: DOI, PMID, Titelsuche, sonst Stufe D.
type Resolver struct {
	DOI    providers.Registry
	PMID   providers.Registry
	Logger *zap.Logger

	// Similarity ist austauschbar, damit Schwellenwerte testbar sind.
	Similarity func(a, b string) float64
	Threshold  float64
}

// NewResolver erstellt einen Resolver. pmid darf nil sein.
func NewResolver(doi, pmid providers.Registry, logger *zap.Logger) *Resolver {
	return &Resolver{
		DOI:        doi,
		PMID:       pmid,
		Logger:     logger,
		Similarity: Similarity,
		Threshold:  TitleMatchThreshold,
	}
}

// WithCallTimeout liefert eine Kopie, deren Registeraufrufe einzeln gegen timeout laufen.
func (r *Resolver) WithCallTimeout(timeout time.Duration) *Resolver {
	c := *r
	if c.DOI != nil {
		c.DOI = TimeoutRegistry(c.DOI, timeout)
	}
	if c.PMID != nil {
		c.PMID = TimeoutRegistry(c.PMID, timeout)
	}
	return &c
}

type resolveInput struct {
	citeKey string
	raw     string
	hint    Hint
	log     *zap.Logger
}

// step ist ein Glied der Kaskade. found=false heißt: nächster Schritt.
type step func(ctx context.Context, in *resolveInput) (res models.ResolvedCitation, found bool)

func (r *Resolver) steps() []step {
	return []step{r.byDOI, r.byPMID, r.byTitle}
}

// Resolve löst einen Eintrag auf. Netzwerkfehler und fehlende Treffer ergeben Stufe D, einen
// Fehler gibt es nur für einen leeren Schlüssel oder einen beendeten Kontext.
func (r *Resolver) Resolve(ctx context.Context, citeKey, raw string) (models.ResolvedCitation, error) {
	return r.ResolveHinted(ctx, citeKey, raw, Hint{})
}

// ResolveHinted ist Resolve mit zusätzlichen Identifiern, die nicht (mehr) im Text stehen,
// z.B. aus source_doi einer gespeicherten Zeile.
func (r *Resolver) ResolveHinted(ctx context.Context, citeKey, raw string, extra Hint) (models.ResolvedCitation, error) {
	citeKey = strings.TrimSpace(citeKey)
	if citeKey == "" {
		return models.ResolvedCitation{}, ErrEmptyCiteKey
	}
	if err := ctx.Err(); err != nil {
		return models.ResolvedCitation{}, err
	}

	in := &resolveInput{
		citeKey: citeKey,
		raw:     raw,
		hint:    ExtractHint(raw).merge(extra),
		log:     r.Logger.With(zap.String("cite_key", citeKey)),
	}

	for _, s := range r.steps() {
		if res, ok := s(ctx, in); ok {
			metrics.Resolutions.WithLabelValues(string(res.ProvenanceTier), res.EvidenceType).Inc()
			in.log.Info("Citation resolved",
				zap.String("tier", string(res.ProvenanceTier)),
				zap.String("evidence", res.EvidenceType),
				zap.String("value", res.EvidenceValue))
			return res, nil
		}
	}
	// Ein abgebrochener Kontext ist kein "nicht gefunden".
	if err := ctx.Err(); err != nil {
		return models.ResolvedCitation{}, err
	}

	res := unresolved(in)
	metrics.Resolutions.WithLabelValues(string(res.ProvenanceTier), "none").Inc()
	in.log.Info("Citation unresolved", zap.String("doi_hint", in.hint.DOI), zap.String("pmid_hint", in.hint.PMID))
	return res, nil
}

func (r *Resolver) byDOI(ctx context.Context, in *resolveInput) (models.ResolvedCitation, bool) {
	if in.hint.DOI == "" || r.DOI == nil {
		return models.ResolvedCitation{}, false
	}
	rec, err := r.DOI.LookupByID(ctx, in.hint.DOI)
	if err != nil {
		in.log.Warn("DOI lookup failed", zap.String("doi", in.hint.DOI), zap.Error(err))
		return models.ResolvedCitation{}, false
	}
	if rec == nil {
		return models.ResolvedCitation{}, false
	}

	doi := firstNonEmpty(rec.DOI, in.hint.DOI)
	return models.ResolvedCitation{
		CiteKey:        in.citeKey,
		Bibtex:         serialize(in.citeKey, rec, in.raw),
		ProvenanceTier: models.TierA,
		EvidenceType:   models.EvidenceDOI,
		EvidenceValue:  doi,
		SourceDOI:      doi,
		SourcePMID:     firstNonEmpty(in.hint.PMID, rec.PMID),
		Record:         rec,
	}, true
}

// byPMID synthetisiert den Eintrag aus den Feldern des Registers, ohne Umweg über den DOI.
func (r *Resolver) byPMID(ctx context.Context, in *resolveInput) (models.ResolvedCitation, bool) {
	if in.hint.PMID == "" || r.PMID == nil {
		return models.ResolvedCitation{}, false
	}
	rec, err := r.PMID.LookupByID(ctx, in.hint.PMID)
	if err != nil {
		in.log.Warn("PMID lookup failed", zap.String("pmid", in.hint.PMID), zap.Error(err))
		return models.ResolvedCitation{}, false
	}
	if rec == nil {
		return models.ResolvedCitation{}, false
	}

	return models.ResolvedCitation{
		CiteKey:        in.citeKey,
		Bibtex:         bibtex.FromRecord(in.citeKey, *rec, "pmid", "doi"),
		ProvenanceTier: models.TierA,
		EvidenceType:   models.EvidencePMID,
		EvidenceValue:  in.hint.PMID,
		SourceDOI:      firstNonEmpty(rec.DOI, in.hint.DOI),
		SourcePMID:     in.hint.PMID,
		Record:         rec,
	}, true
}

// byTitle sucht den Titel im DOI-Register und übernimmt den ähnlichsten der ersten Treffer.
func (r *Resolver) byTitle(ctx context.Context, in *resolveInput) (models.ResolvedCitation, bool) {
	title := bibtex.Title(in.raw)
	if len([]rune(title)) <= minTitleLength || r.DOI == nil {
		return models.ResolvedCitation{}, false
	}
	result, err := r.DOI.Search(ctx, title, titleSearchLimit)
	if err != nil {
		in.log.Warn("Title search failed", zap.Error(err))
		return models.ResolvedCitation{}, false
	}
	if result == nil || len(result.Items) == 0 {
		return models.ResolvedCitation{}, false
	}

	bestIdx, bestScore := -1, -1.0
	for i := range result.Items[:min(len(result.Items), titleSearchLimit)] {
		if score := r.Similarity(title, result.Items[i].Title); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	best := result.Items[bestIdx]
	if bestScore < r.Threshold {
		in.log.Debug("Best title match below threshold",
			zap.String("candidate", best.Title), zap.Float64("similarity", bestScore))
		return models.ResolvedCitation{}, false
	}

	res := models.ResolvedCitation{
		CiteKey:        in.citeKey,
		ProvenanceTier: models.TierA,
		SourcePMID:     firstNonEmpty(in.hint.PMID, best.PMID),
		Record:         &best,
	}
	doi := providers.NormalizeDOI(best.DOI)
	if doi == "" {
		res.EvidenceType = models.EvidenceTitle
		res.EvidenceValue = best.Title
		res.Bibtex = stripIdentifiers(in.raw)
		return res, true
	}

	res.EvidenceType = models.EvidenceDOI
	res.EvidenceValue = doi
	res.SourceDOI = doi
	res.Bibtex = stripIdentifiers(in.raw)
	if rec, err := r.DOI.LookupByID(ctx, doi); err == nil && rec != nil {
		res.Bibtex = serialize(in.citeKey, rec, in.raw)
		res.Record = rec
	} else if err != nil {
		in.log.Warn("Full fetch of title match failed, keeping original text", zap.String("doi", doi), zap.Error(err))
	}
	return res, true
}

// unresolved bewahrt den Originaltext; Hinweise bleiben als source_doi/source_pmid erhalten.
func unresolved(in *resolveInput) models.ResolvedCitation {
	return models.ResolvedCitation{
		CiteKey:        in.citeKey,
		Bibtex:         stripIdentifiers(in.raw),
		ProvenanceTier: models.TierD,
		SourceDOI:      in.hint.DOI,
		SourcePMID:     in.hint.PMID,
	}
}

// serialize nimmt den Registereintrag mit dem Schlüssel des Aufrufers. Liefert das Register
// keinen Text, bleibt der Originaltext.
func serialize(citeKey string, rec *models.Record, raw string) string {
	text := strings.TrimSpace(rec.Bibtex)
	if text == "" {
		if rec.Title != "" {
			return bibtex.FromRecord(citeKey, *rec, "doi", "pmid")
		}
		return stripIdentifiers(raw)
	}
	return bibtex.RewriteKey(bibtex.StripFields(text, "doi"), citeKey)
}

func stripIdentifiers(raw string) string {
	return bibtex.StripFields(raw, "doi")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
