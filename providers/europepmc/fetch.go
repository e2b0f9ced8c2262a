// Package europepmc implementiert die PMID-Auflösung über Europe PMC als Alternative zu PubMed.
package europepmc

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

// Fetcher implementiert das Registry-Interface für Europe PMC.
type Fetcher struct {
	Config *config.RegistryConfig
	Logger *zap.Logger
	req    *providers.Requester
}

// NewFetcher erstellt einen neuen Europe PMC Fetcher.
func NewFetcher(cfg *config.RegistryConfig, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		req:    providers.NewRequester("europepmc", *cfg, logger),
	}
}

// Name gibt den Namen des Registers zurück.
func (f *Fetcher) Name() string {
	return "europepmc"
}

// LookupByID sucht die PMID im MEDLINE-Bestand von Europe PMC.
func (f *Fetcher) LookupByID(ctx context.Context, pmid string) (*models.Record, error) {
	pmid = providers.NormalizePMID(pmid)
	if pmid == "" {
		return nil, nil
	}

	resp, err := f.query(ctx, fmt.Sprintf("EXT_ID:%s AND SRC:MED", pmid), 1)
	if err != nil {
		return nil, err
	}
	for i := range resp.ResultList.Result {
		a := &resp.ResultList.Result[i]
		if a.PMID != pmid {
			continue
		}
		rec := a.toRecord()
		rec.Bibtex = bibtex.FromRecord("pmid"+pmid, rec, "pmid")
		return &rec, nil
	}
	f.Logger.Debug("PMID not found in Europe PMC", zap.String("pmid", pmid))
	return nil, nil
}

// Search führt die Suche auf Europe PMC aus.
func (f *Fetcher) Search(ctx context.Context, query string, limit int) (*models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &models.SearchResult{}, nil
	}
	resp, err := f.query(ctx, query, providers.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	result := &models.SearchResult{TotalCount: resp.HitCount}
	for i := range resp.ResultList.Result {
		result.Items = append(result.Items, resp.ResultList.Result[i].toRecord())
	}
	return result, nil
}

func (f *Fetcher) query(ctx context.Context, query string, pageSize int) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("format", "json")
	params.Set("resultType", "lite")
	params.Set("pageSize", strconv.Itoa(pageSize))

	searchURL := f.Config.EuropePMCBaseURL + "/search?" + params.Encode()
	body, err := f.req.Get(ctx, searchURL, nil)
	if errors.Is(err, providers.ErrNotFound) {
		return &SearchResponse{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("europe pmc search: %w", err)
	}

	var searchResponse SearchResponse
	if err := json.Unmarshal(body, &searchResponse); err != nil {
		return nil, fmt.Errorf("decode europe pmc response: %w", err)
	}
	return &searchResponse, nil
}
