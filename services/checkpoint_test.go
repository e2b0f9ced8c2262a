package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cite-guard/models"
	"cite-guard/storage"
)

func completeRow(project, key, title, doi string) models.Citation {
	return models.Citation{
		ProjectID:      project,
		CiteKey:        key,
		ProvenanceTier: models.TierA,
		SourceDOI:      doi,
		Bibtex:         fmt.Sprintf("@article{%s,\n  author = {Doe, Jane},\n  title = {%s},\n  journal = {Journal},\n  year = {2020}\n}", key, title),
	}
}

func newTestCheckpoint(store storage.CitationStore, doi *fakeRegistry) *Checkpoint {
	resolver := NewResolver(doi, nil, zap.NewNop())
	cp := NewCheckpoint(store, doi, resolver, NewPendingUpgrades(0), zap.NewNop())
	cp.NewRunID = func() string { return "run-1" }
	return cp
}

func TestCheckpointUnresolvedRatioBlocks(t *testing.T) {
	store := storage.NewMemoryStore()
	for i := 0; i < 88; i++ {
		store.Put(completeRow("p1", fmt.Sprintf("a%03d", i), fmt.Sprintf("Verified work number %d", i), ""))
	}
	for i := 0; i < 12; i++ {
		store.Put(models.Citation{
			ProjectID:      "p1",
			CiteKey:        fmt.Sprintf("d%02d", i),
			ProvenanceTier: models.TierD,
			Bibtex:         fmt.Sprintf("@misc{d%02d, title={Lost %d}}", i, i),
		})
	}

	report, err := newTestCheckpoint(store, newFakeRegistry("crossref")).Run(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.Equal(t, 100, report.Total)
	assert.Len(t, report.StillUnresolved, 12)
	check, ok := report.Check(CheckUnresolved)
	require.True(t, ok)
	assert.Equal(t, models.StatusFail, check.Status)
	assert.True(t, check.Blocking)
	assert.False(t, report.OKToProceed)
}

func TestCheckpointUnresolvedAtLimitWarns(t *testing.T) {
	store := storage.NewMemoryStore()
	for i := 0; i < 90; i++ {
		store.Put(completeRow("p1", fmt.Sprintf("a%03d", i), fmt.Sprintf("Verified work number %d", i), ""))
	}
	for i := 0; i < 10; i++ {
		store.Put(models.Citation{ProjectID: "p1", CiteKey: fmt.Sprintf("d%02d", i), ProvenanceTier: models.TierD})
	}

	report, err := newTestCheckpoint(store, newFakeRegistry("crossref")).Run(context.Background(), "p1", nil)
	require.NoError(t, err)

	check, _ := report.Check(CheckUnresolved)
	assert.Equal(t, models.StatusWarn, check.Status)
	assert.False(t, check.Blocking)
}

func TestCheckpointDriftThresholds(t *testing.T) {
	cases := []struct {
		name       string
		mismatches int
		want       models.CheckStatus
		blocking   bool
	}{
		{"none", 0, models.StatusPass, false},
		{"below limit", 2, models.StatusWarn, false},
		{"at limit", 3, models.StatusFail, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			doi := newFakeRegistry("crossref")
			for i := 0; i < 5; i++ {
				key := fmt.Sprintf("k%d", i)
				id := fmt.Sprintf("10.1/%d", i)
				title := fmt.Sprintf("Stable title of work %d", i)
				store.Put(completeRow("p1", key, title, id))
				switch {
				case i >= tc.mismatches:
					doi.records[id] = &models.Record{Title: title}
				case i == 0:
					// kein Eintrag: DOI ist verschwunden
				default:
					doi.records[id] = &models.Record{Title: "Completely unrelated retraction notice"}
				}
			}

			report, err := newTestCheckpoint(store, doi).Run(context.Background(), "p1", nil)
			require.NoError(t, err)

			check, ok := report.Check(CheckDOIDrift)
			require.True(t, ok)
			assert.Equal(t, tc.want, check.Status)
			assert.Equal(t, tc.blocking, check.Blocking)
			assert.Equal(t, !tc.blocking, report.OKToProceed)
			assert.Len(t, check.Details, tc.mismatches)

			// Der Lauf schreibt nichts.
			rows, _ := store.ListByProject(context.Background(), "p1")
			for _, row := range rows {
				assert.Equal(t, models.TierA, row.ProvenanceTier)
			}
		})
	}
}

func TestCheckpointStructureWarnsOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Put(completeRow("p1", "full", "A complete work", ""))
	store.Put(models.Citation{
		ProjectID:      "p1",
		CiteKey:        "thin",
		ProvenanceTier: models.TierA,
		Bibtex:         "@book{thin,\n  title = {Thin},\n  publisher = {Springer}\n}",
	})
	rec := models.Record{Title: "From metadata", Authors: []string{"Roe, R."}, Year: "2001", Venue: "Science"}
	store.Put(models.Citation{ProjectID: "p1", CiteKey: "meta", ProvenanceTier: models.TierA, Metadata: rec.JSON()})

	report, err := newTestCheckpoint(store, newFakeRegistry("crossref")).Run(context.Background(), "p1", nil)
	require.NoError(t, err)

	check, ok := report.Check(CheckStructure)
	require.True(t, ok)
	assert.Equal(t, models.StatusWarn, check.Status)
	assert.False(t, check.Blocking)
	assert.Equal(t, []models.MissingFields{{CiteKey: "thin", Missing: []string{"author", "year"}}}, check.Details)
	assert.True(t, report.OKToProceed)
}

func TestCheckpointCollectsAndAppliesUpgrades(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Put(models.Citation{
		ProjectID:      "p1",
		CiteKey:        "late2023",
		ProvenanceTier: models.TierD,
		SourceDOI:      "10.3/late",
		Bibtex:         "@article{late2023,\n  title = {Indexed late}\n}",
	})
	store.Put(models.Citation{ProjectID: "p1", CiteKey: "never", ProvenanceTier: models.TierD, Bibtex: "@misc{never, title={No}}"})
	doi := newFakeRegistry("crossref")
	doi.records["10.3/late"] = &models.Record{Title: "Indexed late", DOI: "10.3/late", Year: "2023"}
	cp := newTestCheckpoint(store, doi)

	var events []models.ProgressEvent
	report, err := cp.Run(context.Background(), "p1", func(e models.ProgressEvent) { events = append(events, e) })
	require.NoError(t, err)

	require.Len(t, report.PendingUpgrades, 1)
	assert.Equal(t, "late2023", report.PendingUpgrades[0].CiteKey)
	assert.Equal(t, models.TierA, report.PendingUpgrades[0].ProvenanceTier)
	assert.Equal(t, []string{"never"}, report.StillUnresolved)
	assert.NotEmpty(t, events)
	assert.Equal(t, "run-1", events[0].RunID)

	row, _ := store.Get(context.Background(), "p1", "late2023")
	assert.Equal(t, models.TierD, row.ProvenanceTier, "checkpoint must not write")

	_, err = ApplyUpgrades(context.Background(), store, cp.Pending, "other", "run-1", nil, fixedNow, zap.NewNop())
	assert.ErrorIs(t, err, ErrUnknownRun)

	summary, err := ApplyUpgrades(context.Background(), store, cp.Pending, "p1", "run-1", []string{"late2023", "never"}, fixedNow, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"late2023"}, summary.Applied)
	assert.Equal(t, []string{"never"}, summary.Unknown)

	row, _ = store.Get(context.Background(), "p1", "late2023")
	assert.Equal(t, models.TierA, row.ProvenanceTier)
	require.NotNil(t, row.VerifiedAt)

	_, err = ApplyUpgrades(context.Background(), store, cp.Pending, "p1", "run-1", nil, fixedNow, zap.NewNop())
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestCheckpointBudgetExhaustedBeforeWork(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Put(completeRow("p1", "a", "Some stable title", "10.1/a"))
	store.Put(completeRow("p1", "b", "Another stable title", "10.1/b"))
	store.Put(models.Citation{ProjectID: "p1", CiteKey: "d", ProvenanceTier: models.TierD, SourceDOI: "10.1/d"})
	doi := newFakeRegistry("crossref")
	doi.delay = 5 * time.Second
	resolver := NewResolver(doi, nil, zap.NewNop())
	cp := newTestCheckpoint(store, doi).WithTimeouts(30*time.Millisecond, time.Second, doi, resolver)

	start := time.Now()
	report, err := cp.Run(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, report.BudgetExceeded)
	assert.Equal(t, 3, report.Skipped)
	check, ok := report.Check(CheckBudget)
	require.True(t, ok)
	assert.Equal(t, models.StatusFail, check.Status)
	assert.True(t, check.Blocking)
	assert.False(t, report.OKToProceed)

	// Phase 3 läuft trotzdem.
	_, ok = report.Check(CheckStructure)
	assert.True(t, ok)
}

func TestCheckpointEmptyProject(t *testing.T) {
	report, err := newTestCheckpoint(storage.NewMemoryStore(), newFakeRegistry("crossref")).Run(context.Background(), "empty", nil)
	require.NoError(t, err)
	assert.True(t, report.OKToProceed)
	assert.Len(t, report.Checks, 4)
	for _, c := range report.Checks {
		assert.Equal(t, models.StatusPass, c.Status, c.Name)
	}
}

func TestCheckpointBudgetExhaustedMidRun(t *testing.T) {
	store := storage.NewMemoryStore()
	doi := newFakeRegistry("crossref")

	// Phase 1: ein Block mit einer Abweichung.
	for i := 0; i < 5; i++ {
		key, id := fmt.Sprintf("a%d", i), fmt.Sprintf("10.1/a%d", i)
		title := fmt.Sprintf("Stable title of work %d", i)
		store.Put(completeRow("p1", key, title, id))
		doi.records[id] = &models.Record{Title: title}
	}
	doi.records["10.1/a0"] = &models.Record{Title: "Completely unrelated retraction notice"}

	// Phase 2: der erste Block läuft durch, der zweite hängt bis zum Budget.
	store.Put(models.Citation{ProjectID: "p1", CiteKey: "d0", ProvenanceTier: models.TierD, SourceDOI: "10.3/d0", Bibtex: "@misc{d0, title={Late}}"})
	doi.records["10.3/d0"] = &models.Record{Title: "Late", DOI: "10.3/d0", Year: "2024"}
	for i := 1; i < 5; i++ {
		store.Put(models.Citation{ProjectID: "p1", CiteKey: fmt.Sprintf("d%d", i), ProvenanceTier: models.TierD, Bibtex: "@misc{x, title={Lost}}"})
	}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("10.5/e%d", i)
		store.Put(models.Citation{ProjectID: "p1", CiteKey: fmt.Sprintf("e%d", i), ProvenanceTier: models.TierD, SourceDOI: id})
		doi.records[id] = &models.Record{Title: "Never seen", DOI: id}
		doi.delays[id] = 5 * time.Second
	}
	// Auffüllen ohne DOI, damit die Quote der unaufgelösten Zeilen unter dem Limit bleibt.
	for i := 0; i < 85; i++ {
		store.Put(completeRow("p1", fmt.Sprintf("z%03d", i), fmt.Sprintf("Verified work number %d", i), ""))
	}

	resolver := NewResolver(doi, nil, zap.NewNop())
	cp := newTestCheckpoint(store, doi).WithTimeouts(300*time.Millisecond, 2*time.Second, doi, resolver)

	start := time.Now()
	report, err := cp.Run(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, 100, report.Total)
	assert.True(t, report.BudgetExceeded)
	assert.Equal(t, 5, report.Skipped)

	budget, ok := report.Check(CheckBudget)
	require.True(t, ok)
	assert.Equal(t, models.StatusWarn, budget.Status)
	assert.False(t, budget.Blocking)

	drift, _ := report.Check(CheckDOIDrift)
	assert.Equal(t, models.StatusWarn, drift.Status)
	require.Len(t, drift.Details, 1)
	assert.Equal(t, "a0", drift.Details.([]models.TitleMismatch)[0].CiteKey)

	require.Len(t, report.PendingUpgrades, 1)
	assert.Equal(t, "d0", report.PendingUpgrades[0].CiteKey)
	assert.ElementsMatch(t, []string{"d1", "d2", "d3", "d4", "e0", "e1", "e2", "e3", "e4"}, report.StillUnresolved)

	unresolved, _ := report.Check(CheckUnresolved)
	assert.Equal(t, models.StatusWarn, unresolved.Status)
	details := unresolved.Details.(map[string]any)
	assert.Equal(t, []string{"e0", "e1", "e2", "e3", "e4"}, details["not_reached"])

	assert.True(t, report.OKToProceed)
}
