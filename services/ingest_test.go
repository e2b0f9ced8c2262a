package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cite-guard/models"
	"cite-guard/storage"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestIngestor(t *testing.T, store storage.CitationStore, doi *fakeRegistry) *Ingestor {
	log := zaptest.NewLogger(t)
	resolver := NewResolver(doi, nil, log)
	in := NewIngestor(store, NewBatchResolver(resolver, log), doi, log)
	in.Now = func() time.Time { return fixedNow }
	return in
}

func TestIngestPersistsTiers(t *testing.T) {
	doi := newFakeRegistry("crossref")
	doi.records["10.1/x"] = &models.Record{Title: "T", DOI: "10.1/x", Year: "2024"}
	store := storage.NewMemoryStore()
	in := newTestIngestor(t, store, doi)

	fragment := "Claims \\cite{smith2024,ghost}.\n---BIBTEX---\n" +
		"@article{smith2024, doi={10.1/x}, title={T}}\n" +
		"@misc{ghost,\n  title = {Nothing}\n}\n"

	summary, err := in.Ingest(context.Background(), "p1", fragment)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.TierA)
	assert.Equal(t, 1, summary.TierD)
	assert.Empty(t, summary.Orphans)

	a, err := store.Get(context.Background(), "p1", "smith2024")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, models.TierA, a.ProvenanceTier)
	require.NotNil(t, a.VerifiedAt)
	assert.Equal(t, fixedNow, *a.VerifiedAt)
	assert.Equal(t, "10.1/x", a.SourceDOI)
	assert.NotEmpty(t, a.Metadata)

	d, err := store.Get(context.Background(), "p1", "ghost")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.TierD, d.ProvenanceTier)
	assert.Nil(t, d.VerifiedAt)
	assert.Contains(t, d.Bibtex, "Nothing")
}

func TestIngestLeavesLockedRowsUntouched(t *testing.T) {
	store := storage.NewMemoryStore()
	verified := fixedNow.Add(-48 * time.Hour)
	store.Put(models.Citation{
		ProjectID:      "p1",
		CiteKey:        "smith2024",
		Bibtex:         "@article{smith2024,\n  title = {Verified Title}\n}",
		ProvenanceTier: models.TierA,
		EvidenceType:   models.EvidenceDOI,
		EvidenceValue:  "10.1/x",
		SourceDOI:      "10.1/x",
		VerifiedAt:     &verified,
	})
	attested := fixedNow.Add(-time.Hour)
	store.Put(models.Citation{
		ProjectID:      "p1",
		CiteKey:        "manual",
		Bibtex:         "@misc{manual, title={Hand entered}}",
		ProvenanceTier: models.TierD,
		AttestedAt:     &attested,
		AttestedBy:     "editor@example.org",
	})
	before, _ := store.Get(context.Background(), "p1", "smith2024")
	beforeManual, _ := store.Get(context.Background(), "p1", "manual")

	in := newTestIngestor(t, store, newFakeRegistry("crossref"))
	fragment := "\\cite{smith2024} \\cite{manual}\n---BIBTEX---\n" +
		"@article{smith2024,\n  title = {Something Else Entirely}\n}\n" +
		"@misc{manual,\n  title = {Overwritten?}\n}\n"

	summary, err := in.Ingest(context.Background(), "p1", fragment)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Total)

	after, _ := store.Get(context.Background(), "p1", "smith2024")
	afterManual, _ := store.Get(context.Background(), "p1", "manual")
	assert.Equal(t, before, after)
	assert.Equal(t, beforeManual, afterManual)
}

func TestIngestOrphanWithEmptyTrailer(t *testing.T) {
	store := storage.NewMemoryStore()
	doi := newFakeRegistry("crossref")
	in := newTestIngestor(t, store, doi)

	summary, err := in.Ingest(context.Background(), "p1", "...claim\\cite{orphan2024}...")
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan2024"}, summary.Orphans)
	assert.Equal(t, 1, summary.TierD)

	rows, err := store.ListByProject(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "orphan2024", rows[0].CiteKey)
	assert.Equal(t, models.TierD, rows[0].ProvenanceTier)
	assert.Equal(t, []string{"orphan 2024"}, doi.searchQueries())
}

func TestIngestOrphanCandidateStaysTierD(t *testing.T) {
	store := storage.NewMemoryStore()
	doi := newFakeRegistry("crossref")
	doi.search = func(query string, limit int) (*models.SearchResult, error) {
		assert.Equal(t, 1, limit)
		return &models.SearchResult{Items: []models.Record{{Title: "Miller et al.", DOI: "10.7/miller"}}}, nil
	}
	doi.records["10.7/miller"] = &models.Record{
		Title:  "Miller et al.",
		DOI:    "10.7/miller",
		Bibtex: "@article{Miller_2019,\n  title = {Miller et al.},\n  doi = {10.7/miller}\n}",
	}
	in := newTestIngestor(t, store, doi)

	_, err := in.Ingest(context.Background(), "p1", "see \\cite{miller2019}")
	require.NoError(t, err)

	row, err := store.Get(context.Background(), "p1", "miller2019")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.TierD, row.ProvenanceTier)
	assert.Nil(t, row.VerifiedAt)
	assert.Equal(t, "10.7/miller", row.CandidateDOI)
	assert.Empty(t, row.SourceDOI)
	assert.Contains(t, row.Bibtex, "@article{miller2019,")
}

func TestIngestOrphanCompleteness(t *testing.T) {
	fragments := map[string]string{
		"trailer":        "\\cite{a2020,b2021} and \\cite{nokey}\n---BIBTEX---\n@misc{a2020, title={A}}\n",
		"no trailer":     "\\cite{a2020} \\citep{b2021,nokey}",
		"salvaged":       "\\cite{a2020,b2021,nokey} @misc{a2020, title={A}}",
		"empty trailer":  "\\cite{a2020,b2021,nokey}\n---BIBTEX---\n",
		"broken trailer": "\\cite{a2020,b2021,nokey}\n---BIBTEX---\n@misc{a2020, title={A",
	}
	for name, fragment := range fragments {
		t.Run(name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			in := newTestIngestor(t, store, newFakeRegistry("crossref"))

			_, err := in.Ingest(context.Background(), "p1", fragment)
			require.NoError(t, err)

			for _, key := range ExtractMarkerKeys(fragment) {
				row, err := store.Get(context.Background(), "p1", key)
				require.NoError(t, err)
				assert.NotNil(t, row, "missing row for %s", key)
			}
		})
	}
}

func TestIngestExistingRowIsNotAnOrphan(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Put(models.Citation{ProjectID: "p1", CiteKey: "old2019", ProvenanceTier: models.TierD, Bibtex: "@misc{old2019, title={Old}}"})
	doi := newFakeRegistry("crossref")
	in := newTestIngestor(t, store, doi)

	summary, err := in.Ingest(context.Background(), "p1", "\\cite{old2019}")
	require.NoError(t, err)
	assert.Empty(t, summary.Orphans)
	assert.Empty(t, doi.searchQueries())

	row, _ := store.Get(context.Background(), "p1", "old2019")
	assert.Equal(t, "@misc{old2019, title={Old}}", row.Bibtex)
}
