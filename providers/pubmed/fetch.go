package pubmed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"cite-guard/bibtex"
	"cite-guard/config"
	"cite-guard/models"
	"cite-guard/providers"
)

// Fetcher ist eine Struktur, die die Logik zur Interaktion mit PubMed kapselt.
type Fetcher struct {
	Config *config.RegistryConfig
	Logger *zap.Logger
	req    *providers.Requester
}

// NewFetcher erstellt eine neue Instanz des PubMed-Fetchers.
func NewFetcher(cfg *config.RegistryConfig, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		req:    providers.NewRequester("pubmed", *cfg, logger),
	}
}

// Name gibt den Namen des Registers zurück.
func (f *Fetcher) Name() string {
	return "pubmed"
}

// LookupByID holt die Zusammenfassung einer PMID und synthetisiert daraus einen BibTeX-Eintrag
// ohne pmid-Feld.
func (f *Fetcher) LookupByID(ctx context.Context, pmid string) (*models.Record, error) {
	pmid = providers.NormalizePMID(pmid)
	if pmid == "" {
		return nil, nil
	}
	log := f.Logger.With(zap.String("pmid", pmid))

	docs, err := f.summaries(ctx, []string{pmid})
	if err != nil {
		log.Warn("ESummary failed", zap.Error(err))
		return nil, err
	}
	if len(docs) == 0 {
		log.Debug("PMID not found")
		return nil, nil
	}

	rec := docs[0].toRecord()
	rec.Bibtex = bibtex.FromRecord("pmid"+pmid, rec, "pmid")
	return &rec, nil
}

// BibtexFor liefert den Datensatz einer PMID. Trägt er einen DOI, wird der Eintrag des
// DOI-Registers bevorzugt, weil Content Negotiation vollständigere Einträge liefert.
func (f *Fetcher) BibtexFor(ctx context.Context, pmid string, doiRegistry providers.Registry) (*models.Record, error) {
	rec, err := f.LookupByID(ctx, pmid)
	if err != nil || rec == nil || rec.DOI == "" || doiRegistry == nil {
		return rec, err
	}

	better, err := doiRegistry.LookupByID(ctx, rec.DOI)
	if err != nil || better == nil {
		f.Logger.Debug("DOI cascade unavailable, keeping synthesized bibtex",
			zap.String("pmid", pmid), zap.String("doi", rec.DOI), zap.Error(err))
		return rec, nil
	}
	better.PMID = rec.PMID
	return better, nil
}

// Search führt eine ESearch-Abfrage aus und holt die Zusammenfassungen der Treffer.
func (f *Fetcher) Search(ctx context.Context, query string, limit int) (*models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &models.SearchResult{}, nil
	}
	log := f.Logger.With(zap.String("term", query))

	params := f.baseParams()
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmax", strconv.Itoa(providers.ClampLimit(limit)))
	params.Set("retmode", "json")

	body, err := f.req.Get(ctx, f.Config.PubMedBaseURL+"/esearch.fcgi?"+params.Encode(), nil)
	if errors.Is(err, providers.ErrNotFound) {
		return &models.SearchResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}

	var esearchResp ESearchResponse
	if err := json.Unmarshal(body, &esearchResp); err != nil {
		log.Error("Fehler beim Parsen der ESearch-JSON-Antwort", zap.Error(err))
		return nil, err
	}

	total, _ := strconv.Atoi(esearchResp.ESearchResult.Count)
	result := &models.SearchResult{TotalCount: total}
	ids := esearchResp.ESearchResult.IdList
	if len(ids) == 0 {
		return result, nil
	}

	docs, err := f.summaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		result.Items = append(result.Items, docs[i].toRecord())
	}
	log.Debug("PubMed search completed", zap.Int("items", len(result.Items)), zap.Int("total", total))
	return result, nil
}

func (f *Fetcher) summaries(ctx context.Context, ids []string) ([]DocSum, error) {
	params := f.baseParams()
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "json")

	body, err := f.req.Get(ctx, f.Config.PubMedBaseURL+"/esummary.fcgi?"+params.Encode(), nil)
	if errors.Is(err, providers.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("esummary: %w", err)
	}

	var resp ESummaryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode esummary: %w", err)
	}
	return resp.docs(), nil
}

func (f *Fetcher) baseParams() url.Values {
	params := url.Values{}
	if f.Config.PubMedAPIKey != "" {
		params.Set("api_key", f.Config.PubMedAPIKey)
	}
	if f.Config.PubMedTool != "" {
		params.Set("tool", f.Config.PubMedTool)
	}
	if f.Config.PubMedEmail != "" {
		params.Set("email", f.Config.PubMedEmail)
	}
	return params
}
