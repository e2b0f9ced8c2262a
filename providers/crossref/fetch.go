package crossref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"cite-guard/bibtex"
	"cite-guard/config"
	"cite-guard/models"
	"cite-guard/providers"
)

// Fetcher implementiert das Registry-Interface für DOIs.
type Fetcher struct {
	Config *config.RegistryConfig
	Logger *zap.Logger
	req    *providers.Requester
}

// NewFetcher erstellt einen neuen Crossref-Fetcher.
func NewFetcher(cfg *config.RegistryConfig, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		req:    providers.NewRequester("crossref", *cfg, logger),
	}
}

// Name gibt den Namen des Registers zurück.
func (f *Fetcher) Name() string {
	return "crossref"
}

// LookupByID holt den BibTeX-Eintrag per Content Negotiation über doi.org und reichert die
// strukturierten Felder über die Crossref API an. Scheitert die Anreicherung, bleibt der
// BibTeX-Eintrag gültig und die Felder werden aus DOI und Eintrag befüllt.
func (f *Fetcher) LookupByID(ctx context.Context, doi string) (*models.Record, error) {
	doi = providers.NormalizeDOI(doi)
	if doi == "" {
		return nil, nil
	}
	log := f.Logger.With(zap.String("doi", doi))

	body, err := f.req.Get(ctx, f.Config.DOIBaseURL+"/"+escapeDOI(doi), http.Header{"Accept": {"application/x-bibtex"}})
	if errors.Is(err, providers.ErrNotFound) {
		log.Debug("DOI not registered")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("doi content negotiation: %w", err)
	}

	raw := strings.TrimSpace(string(body))
	if !strings.HasPrefix(raw, "@") {
		return nil, fmt.Errorf("doi content negotiation for %s returned no bibtex", doi)
	}

	rec, err := f.work(ctx, doi)
	if err != nil || rec == nil {
		log.Warn("Crossref metadata enrichment failed, using bibtex fields", zap.Error(err))
		rec = recordFromBibtex(doi, raw)
	}
	rec.DOI = doi
	rec.Bibtex = bibtex.StripFields(raw, "doi")
	return rec, nil
}

// work holt die strukturierten Metadaten eines DOIs.
func (f *Fetcher) work(ctx context.Context, doi string) (*models.Record, error) {
	u := fmt.Sprintf("%s/works/%s", f.Config.CrossrefBaseURL, escapeDOI(doi))
	if f.Config.CrossrefMailto != "" {
		u += "?mailto=" + url.QueryEscape(f.Config.CrossrefMailto)
	}
	body, err := f.req.Get(ctx, u, http.Header{"Accept": {"application/json"}})
	if errors.Is(err, providers.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp WorkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode crossref work: %w", err)
	}
	rec := resp.Message.toRecord()
	return &rec, nil
}

// Search sucht über query.bibliographic.
func (f *Fetcher) Search(ctx context.Context, query string, limit int) (*models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &models.SearchResult{}, nil
	}
	log := f.Logger.With(zap.String("query", query))

	params := url.Values{}
	params.Set("query.bibliographic", query)
	params.Set("rows", strconv.Itoa(providers.ClampLimit(limit)))
	if f.Config.CrossrefMailto != "" {
		params.Set("mailto", f.Config.CrossrefMailto)
	}

	body, err := f.req.Get(ctx, f.Config.CrossrefBaseURL+"/works?"+params.Encode(), http.Header{"Accept": {"application/json"}})
	if errors.Is(err, providers.ErrNotFound) {
		return &models.SearchResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crossref search: %w", err)
	}

	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode crossref search: %w", err)
	}

	result := &models.SearchResult{TotalCount: resp.Message.TotalResults}
	for i := range resp.Message.Items {
		result.Items = append(result.Items, resp.Message.Items[i].toRecord())
	}
	log.Debug("Crossref search completed", zap.Int("items", len(result.Items)), zap.Int("total", result.TotalCount))
	return result, nil
}

// recordFromBibtex befüllt die Felder minimal aus dem DOI und dem BibTeX-Eintrag.
func recordFromBibtex(doi, raw string) *models.Record {
	typ, _, _ := bibtex.Key(raw)
	rec := &models.Record{
		DOI:       doi,
		Title:     bibtex.Title(raw),
		Year:      bibtex.Clean(bibtex.FieldValue(raw, "year")),
		Volume:    bibtex.Clean(bibtex.FieldValue(raw, "volume")),
		Issue:     bibtex.Clean(bibtex.FieldValue(raw, "number")),
		Pages:     bibtex.Clean(bibtex.FieldValue(raw, "pages")),
		Publisher: bibtex.Clean(bibtex.FieldValue(raw, "publisher")),
		WorkType:  typ,
	}
	for _, name := range []string{"journal", "booktitle"} {
		if v := bibtex.Clean(bibtex.FieldValue(raw, name)); v != "" {
			rec.Venue = v
			break
		}
	}
	if authors := bibtex.FieldValue(raw, "author"); authors != "" {
		for _, a := range strings.Split(authors, " and ") {
			if a = bibtex.Clean(a); a != "" {
				rec.Authors = append(rec.Authors, a)
			}
		}
	}
	return rec
}

func escapeDOI(doi string) string {
	return strings.ReplaceAll(url.PathEscape(doi), "%2F", "/")
}
