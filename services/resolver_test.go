package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cite-guard/models"
	"cite-guard/providers"
)

func TestResolveByDOI(t *testing.T) {
	doi := newFakeRegistry("crossref")
	doi.records["10.1/x"] = &models.Record{
		Title:  "T",
		DOI:    "10.1/x",
		Bibtex: "@article{Smith_2024,\n  title = {T},\n  doi = {10.1/x},\n  year = {2024}\n}",
	}
	r := NewResolver(doi, nil, zap.NewNop())

	res, err := r.Resolve(context.Background(), "smith2024", "@article{smith2024, doi={10.1/x}, title={T}}")
	require.NoError(t, err)

	assert.Equal(t, models.TierA, res.ProvenanceTier)
	assert.Equal(t, models.EvidenceDOI, res.EvidenceType)
	assert.Equal(t, "10.1/x", res.EvidenceValue)
	assert.Equal(t, "10.1/x", res.SourceDOI)
	assert.Contains(t, res.Bibtex, "@article{smith2024,")
	assert.NotContains(t, res.Bibtex, "doi =")
	assert.Contains(t, res.Bibtex, "year = {2024}")
}

func TestResolveByPMID(t *testing.T) {
	pmid := newFakeRegistry("pubmed")
	pmid.records["12345"] = &models.Record{
		Title:   "Sleep and memory consolidation",
		Authors: []string{"Doe, Jane"},
		Venue:   "Nature",
		Year:    "2020",
		DOI:     "10.1038/abc",
		PMID:    "12345",
	}
	r := NewResolver(newFakeRegistry("crossref"), pmid, zap.NewNop())

	res, err := r.Resolve(context.Background(), "doe2020", "@article{doe2020,\n  title = {Sleep},\n  pmid = {12345}\n}")
	require.NoError(t, err)

	assert.Equal(t, models.TierA, res.ProvenanceTier)
	assert.Equal(t, models.EvidencePMID, res.EvidenceType)
	assert.Equal(t, "12345", res.SourcePMID)
	assert.Equal(t, "10.1038/abc", res.SourceDOI)
	assert.Contains(t, res.Bibtex, "@article{doe2020,")
	assert.Contains(t, res.Bibtex, "journal = {Nature}")
	assert.NotContains(t, res.Bibtex, "pmid =")
	assert.NotContains(t, res.Bibtex, "doi =")
}

func TestResolveFallsThroughFailedDOI(t *testing.T) {
	doi := newFakeRegistry("crossref")
	doi.errs["10.9/broken"] = providers.ErrTransient
	pmid := newFakeRegistry("pubmed")
	pmid.records["777"] = &models.Record{Title: "Recovered via PMID", Year: "2019"}
	r := NewResolver(doi, pmid, zap.NewNop())

	res, err := r.Resolve(context.Background(), "k", "@article{k,\n  doi = {10.9/broken},\n  pmid = {777}\n}")
	require.NoError(t, err)
	assert.Equal(t, models.TierA, res.ProvenanceTier)
	assert.Equal(t, models.EvidencePMID, res.EvidenceType)
}

func TestResolveTitleThresholdBoundary(t *testing.T) {
	const raw = "@article{lee2021,\n  title = {A sufficiently long title about proteins},\n  year = {2021}\n}"

	newResolver := func(score float64) *Resolver {
		doi := newFakeRegistry("crossref")
		doi.search = func(string, int) (*models.SearchResult, error) {
			return &models.SearchResult{Items: []models.Record{{Title: "Candidate", DOI: "10.5/abc"}}}, nil
		}
		doi.records["10.5/abc"] = &models.Record{Title: "Candidate", DOI: "10.5/abc"}
		r := NewResolver(doi, nil, zap.NewNop())
		r.Similarity = func(string, string) float64 { return score }
		return r
	}

	res, err := newResolver(0.849).Resolve(context.Background(), "lee2021", raw)
	require.NoError(t, err)
	assert.Equal(t, models.TierD, res.ProvenanceTier)

	res, err = newResolver(0.85).Resolve(context.Background(), "lee2021", raw)
	require.NoError(t, err)
	assert.Equal(t, models.TierA, res.ProvenanceTier)
	assert.Equal(t, models.EvidenceDOI, res.EvidenceType)
	assert.Equal(t, "10.5/abc", res.SourceDOI)
}

func TestResolveTitlePicksBestOfTopThree(t *testing.T) {
	title := "Effects of caffeine on working memory in adults"
	doi := newFakeRegistry("crossref")
	doi.search = func(_ string, limit int) (*models.SearchResult, error) {
		assert.Equal(t, 3, limit)
		return &models.SearchResult{Items: []models.Record{
			{Title: "Caffeine and sleep", DOI: "10.1/a"},
			{Title: title, DOI: "10.1/b"},
			{Title: "Working memory in children", DOI: "10.1/c"},
		}}, nil
	}
	doi.records["10.1/b"] = &models.Record{Title: title, DOI: "10.1/b", Year: "2018"}
	r := NewResolver(doi, nil, zap.NewNop())

	res, err := r.Resolve(context.Background(), "k", "@article{k, title={"+title+"}}")
	require.NoError(t, err)
	assert.Equal(t, models.TierA, res.ProvenanceTier)
	assert.Equal(t, "10.1/b", res.EvidenceValue)
}

func TestResolveTitleMatchWithoutDOI(t *testing.T) {
	title := "Effects of caffeine on working memory in adults"
	doi := newFakeRegistry("crossref")
	doi.search = func(string, int) (*models.SearchResult, error) {
		return &models.SearchResult{Items: []models.Record{{Title: title}}}, nil
	}
	r := NewResolver(doi, nil, zap.NewNop())

	res, err := r.Resolve(context.Background(), "k", "@article{k, title={"+title+"}}")
	require.NoError(t, err)
	assert.Equal(t, models.TierA, res.ProvenanceTier)
	assert.Equal(t, models.EvidenceTitle, res.EvidenceType)
	assert.Empty(t, res.SourceDOI)
	assert.Equal(t, 0, doi.lookupCount())
}

func TestResolveUnresolvedKeepsText(t *testing.T) {
	doi := newFakeRegistry("crossref")
	doi.search = func(string, int) (*models.SearchResult, error) {
		return nil, errors.New("search down")
	}
	r := NewResolver(doi, newFakeRegistry("pubmed"), zap.NewNop())

	raw := "@article{ghost2022,\n  title = {An Unfindable Work on Ghosts},\n  doi = {10.9/missing},\n  year = {2022}\n}"
	res, err := r.Resolve(context.Background(), "ghost2022", raw)
	require.NoError(t, err)

	assert.Equal(t, models.TierD, res.ProvenanceTier)
	assert.Empty(t, res.EvidenceType)
	assert.Contains(t, res.Bibtex, "An Unfindable Work on Ghosts")
	assert.NotContains(t, res.Bibtex, "10.9/missing")
	assert.Equal(t, "10.9/missing", res.SourceDOI)
}

func TestResolveShortTitleSkipsSearch(t *testing.T) {
	doi := newFakeRegistry("crossref")
	r := NewResolver(doi, nil, zap.NewNop())

	res, err := r.Resolve(context.Background(), "k", "@misc{k, title={Short}}")
	require.NoError(t, err)
	assert.Equal(t, models.TierD, res.ProvenanceTier)
	assert.Empty(t, doi.searchQueries())
}

func TestResolveHintedUsesStoredIdentifiers(t *testing.T) {
	doi := newFakeRegistry("crossref")
	doi.records["10.4/hint"] = &models.Record{Title: "Hinted", DOI: "10.4/hint"}
	r := NewResolver(doi, nil, zap.NewNop())

	res, err := r.ResolveHinted(context.Background(), "k", "@article{k, title={Hinted}}", Hint{DOI: "10.4/hint"})
	require.NoError(t, err)
	assert.Equal(t, models.TierA, res.ProvenanceTier)
	assert.Equal(t, "10.4/hint", res.SourceDOI)
}

func TestResolveErrors(t *testing.T) {
	r := NewResolver(newFakeRegistry("crossref"), nil, zap.NewNop())

	_, err := r.Resolve(context.Background(), "  ", "@misc{x, title={x}}")
	assert.ErrorIs(t, err, ErrEmptyCiteKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, "k", "@misc{k, doi={10.1/x}}")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolverCallTimeout(t *testing.T) {
	doi := newFakeRegistry("crossref")
	doi.delay = time.Second
	doi.records["10.1/slow"] = &models.Record{Title: "Slow"}
	r := NewResolver(doi, nil, zap.NewNop()).WithCallTimeout(20 * time.Millisecond)

	start := time.Now()
	res, err := r.Resolve(context.Background(), "k", "@misc{k, doi={10.1/slow}}")
	require.NoError(t, err)
	assert.Equal(t, models.TierD, res.ProvenanceTier)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
