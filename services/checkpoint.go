package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cite-guard/bibtex"
	"cite-guard/metrics"
	"cite-guard/models"
	"cite-guard/providers"
	"cite-guard/storage"
)

// Namen der Prüfungen im VerificationReport.
const (
	CheckDOIDrift    = "doi_title_drift"
	CheckUnresolved  = "unresolved_citations"
	CheckStructure   = "structural_integrity"
	CheckBudget      = "checkpoint_budget"
	PhaseDrift       = "drift"
	PhaseReresolve   = "reresolve"
	PhaseStructure   = "structure"
	DriftThreshold   = 0.80
	MismatchLimit    = 3
	UnresolvedPct    = 10
	DefaultBudget    = 60 * time.Second
	DefaultCallLimit = 8 * time.Second
)

var venueFields = []string{"journal", "booktitle", "publisher", "howpublished", "school", "institution", "organization"}

// HintedResolver löst einen Eintrag mit zusätzlichen Identifiern auf.
type HintedResolver interface {
	ResolveHinted(ctx context.Context, citeKey, raw string, extra Hint) (models.ResolvedCitation, error)
}

// Checkpoint ist der vom Nutzer ausgelöste Prüflauf über alle Zitationen eines Projekts.
type Checkpoint struct {
	Store    storage.CitationStore
	DOI      providers.Registry
	Resolver HintedResolver
	Pending  *PendingUpgrades
	Logger   *zap.Logger

	Budget      time.Duration
	CallTimeout time.Duration
	ChunkSize   int

	DriftThreshold float64
	MismatchLimit  int
	UnresolvedPct  int
	Similarity     func(a, b string) float64
	Now            func() time.Time
	NewRunID       func() string
}

// NewCheckpoint erstellt einen Checkpoint mit den Standardgrenzen. Der Resolver bekommt das
// Einzelaufruf-Limit übergestülpt.
func NewCheckpoint(store storage.CitationStore, doi providers.Registry, resolver *Resolver, pending *PendingUpgrades, logger *zap.Logger) *Checkpoint {
	return &Checkpoint{
		Store:          store,
		DOI:            TimeoutRegistry(doi, DefaultCallLimit),
		Resolver:       resolver.WithCallTimeout(DefaultCallLimit),
		Pending:        pending,
		Logger:         logger,
		Budget:         DefaultBudget,
		CallTimeout:    DefaultCallLimit,
		ChunkSize:      CheckpointChunkSize,
		DriftThreshold: DriftThreshold,
		MismatchLimit:  MismatchLimit,
		UnresolvedPct:  UnresolvedPct,
		Similarity:     Similarity,
		Now:            time.Now,
		NewRunID:       uuid.NewString,
	}
}

// WithTimeouts setzt Gesamtbudget und Einzelaufruf-Limit neu.
func (c *Checkpoint) WithTimeouts(budget, call time.Duration, doi providers.Registry, resolver *Resolver) *Checkpoint {
	cp := *c
	cp.Budget = budget
	cp.CallTimeout = call
	cp.DOI = TimeoutRegistry(doi, call)
	cp.Resolver = resolver.WithCallTimeout(call)
	return &cp
}

type checkpointRun struct {
	report   *models.VerificationReport
	progress func(models.ProgressEvent)
	log      *zap.Logger

	processed int // abgeschlossene Elemente mit Registeraufruf
	work      int
}

func (r *checkpointRun) emit(phase string, done, total int, msg string) {
	if r.progress == nil {
		return
	}
	r.progress(models.ProgressEvent{RunID: r.report.RunID, Phase: phase, Processed: done, Total: total, Message: msg})
}

// Run prüft alle Zeilen von projectID in drei Phasen. Der Lauf schreibt nichts; Stufe-D-Zeilen,
// die sich jetzt auflösen lassen, landen als PendingUpgrades im Bericht. progress darf nil sein.
func (c *Checkpoint) Run(ctx context.Context, projectID string, progress func(models.ProgressEvent)) (*models.VerificationReport, error) {
	rows, err := c.Store.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list citations: %w", err)
	}

	run := &checkpointRun{
		report: &models.VerificationReport{
			RunID:           c.NewRunID(),
			ProjectID:       projectID,
			StartedAt:       c.Now(),
			Total:           len(rows),
			PendingUpgrades: []models.ResolvedCitation{},
			StillUnresolved: []string{},
		},
		progress: progress,
	}
	run.log = c.Logger.With(zap.String("project_id", projectID), zap.String("run_id", run.report.RunID))
	run.log.Info("Checkpoint started", zap.Int("citations", len(rows)), zap.Duration("budget", c.Budget))

	budgetCtx, cancel := context.WithTimeout(ctx, c.Budget)
	defer cancel()

	c.phaseDrift(budgetCtx, run, rows)
	c.phaseReresolve(budgetCtx, run, rows)
	// Phase 3 braucht kein Netz und läuft immer.
	c.phaseStructure(run, rows)

	report := run.report
	report.BudgetExceeded = errors.Is(budgetCtx.Err(), context.DeadlineExceeded) && report.Skipped > 0
	report.Checks = append(report.Checks, c.budgetCheck(run))
	report.OKToProceed = !report.Blocking()
	report.FinishedAt = c.Now()

	if c.Pending != nil && len(report.PendingUpgrades) > 0 {
		c.Pending.Put(report)
	}

	outcome := "ok"
	if !report.OKToProceed {
		outcome = "blocked"
	}
	metrics.CheckpointRuns.WithLabelValues(outcome).Inc()
	run.log.Info("Checkpoint finished",
		zap.Bool("ok_to_proceed", report.OKToProceed),
		zap.Int("pending_upgrades", len(report.PendingUpgrades)),
		zap.Int("still_unresolved", len(report.StillUnresolved)),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

type driftOutcome struct {
	checked   bool
	abandoned bool
	mismatch  *models.TitleMismatch
}

// phaseDrift holt den DOI jeder A/B-Zeile neu und vergleicht die Titel.
func (c *Checkpoint) phaseDrift(ctx context.Context, run *checkpointRun, rows []models.Citation) {
	var items []models.Citation
	for _, row := range rows {
		if (row.ProvenanceTier == models.TierA || row.ProvenanceTier == models.TierB) && rowDOI(row) != "" {
			items = append(items, row)
		}
	}

	outcomes := make([]driftOutcome, len(items))
	run.emit(PhaseDrift, 0, len(items), "")
	started := runChunked(ctx, items, c.ChunkSize, func(ctx context.Context, i int, row models.Citation) {
		outcomes[i] = c.checkDrift(ctx, row, run.log)
	}, func(done int) {
		run.emit(PhaseDrift, done, len(items), "")
	})

	var mismatches []models.TitleMismatch
	unchecked, abandoned := 0, len(items)-started
	for i := range items[:started] {
		o := outcomes[i]
		switch {
		case o.mismatch != nil:
			mismatches = append(mismatches, *o.mismatch)
		case o.abandoned:
			abandoned++
		case !o.checked:
			unchecked++
		}
	}
	run.work += len(items)
	run.processed += len(items) - abandoned
	run.report.Skipped += abandoned

	check := models.Check{Name: CheckDOIDrift, Status: models.StatusPass, Details: mismatches}
	switch {
	case len(mismatches) >= c.MismatchLimit:
		check.Status = models.StatusFail
		check.Blocking = true
		check.Message = fmt.Sprintf("%d of %d DOI titles no longer match the registry", len(mismatches), len(items))
	case len(mismatches) > 0:
		check.Status = models.StatusWarn
		check.Message = fmt.Sprintf("%d DOI title mismatch(es) below the blocking limit of %d", len(mismatches), c.MismatchLimit)
	default:
		check.Message = fmt.Sprintf("%d DOI titles checked", len(items)-unchecked-abandoned)
	}
	if unchecked > 0 || abandoned > 0 {
		check.Message += fmt.Sprintf(" (%d unchecked, %d not reached)", unchecked, abandoned)
	}
	run.report.Checks = append(run.report.Checks, check)
}

func (c *Checkpoint) checkDrift(ctx context.Context, row models.Citation, log *zap.Logger) driftOutcome {
	stored := storedTitle(row)
	if stored == "" {
		return driftOutcome{}
	}
	doi := rowDOI(row)
	rec, err := c.DOI.LookupByID(ctx, doi)
	if err != nil {
		if ctx.Err() != nil {
			return driftOutcome{abandoned: true}
		}
		log.Warn("Drift check lookup failed", zap.String("cite_key", row.CiteKey), zap.String("doi", doi), zap.Error(err))
		return driftOutcome{}
	}
	if rec == nil {
		// DOI existiert nicht mehr.
		return driftOutcome{checked: true, mismatch: &models.TitleMismatch{CiteKey: row.CiteKey, DOI: doi, StoredTitle: stored}}
	}
	score := c.Similarity(stored, rec.Title)
	if score >= c.DriftThreshold {
		return driftOutcome{checked: true}
	}
	return driftOutcome{checked: true, mismatch: &models.TitleMismatch{
		CiteKey:       row.CiteKey,
		DOI:           doi,
		StoredTitle:   stored,
		RegistryTitle: rec.Title,
		Similarity:    score,
	}}
}

type reresolveOutcome struct {
	done bool
	res  models.ResolvedCitation
}

// phaseReresolve schickt jede Stufe-D-Zeile erneut durch den Resolver.
func (c *Checkpoint) phaseReresolve(ctx context.Context, run *checkpointRun, rows []models.Citation) {
	var items []models.Citation
	for _, row := range rows {
		if row.ProvenanceTier == models.TierD {
			items = append(items, row)
		}
	}

	outcomes := make([]reresolveOutcome, len(items))
	run.emit(PhaseReresolve, 0, len(items), "")
	runChunked(ctx, items, c.ChunkSize, func(ctx context.Context, i int, row models.Citation) {
		res, err := c.Resolver.ResolveHinted(ctx, row.CiteKey, row.Bibtex, Hint{DOI: row.SourceDOI, PMID: row.SourcePMID})
		if err != nil {
			run.log.Warn("Re-resolution abandoned", zap.String("cite_key", row.CiteKey), zap.Error(err))
			return
		}
		outcomes[i] = reresolveOutcome{done: true, res: res}
	}, func(done int) {
		run.emit(PhaseReresolve, done, len(items), "")
	})

	var notReached []string
	for i, row := range items {
		o := outcomes[i]
		switch {
		case o.done && o.res.ProvenanceTier == models.TierA:
			run.report.PendingUpgrades = append(run.report.PendingUpgrades, o.res)
		case o.done:
			run.report.StillUnresolved = append(run.report.StillUnresolved, row.CiteKey)
		default:
			// Nicht erreichte Zeilen bleiben, was sie sind: unaufgelöst.
			run.report.StillUnresolved = append(run.report.StillUnresolved, row.CiteKey)
			notReached = append(notReached, row.CiteKey)
		}
	}
	run.work += len(items)
	run.processed += len(items) - len(notReached)
	run.report.Skipped += len(notReached)

	still := len(run.report.StillUnresolved)
	limit := (run.report.Total*c.UnresolvedPct + 99) / 100
	check := models.Check{Name: CheckUnresolved, Status: models.StatusPass}
	if len(notReached) > 0 {
		check.Details = map[string]any{"still_unresolved": run.report.StillUnresolved, "not_reached": notReached}
	} else if still > 0 {
		check.Details = run.report.StillUnresolved
	}
	switch {
	case still > limit:
		check.Status = models.StatusFail
		check.Blocking = true
		check.Message = fmt.Sprintf("%d of %d citations remain unresolved (limit %d)", still, run.report.Total, limit)
	case still > 0:
		check.Status = models.StatusWarn
		check.Message = fmt.Sprintf("%d citation(s) remain unresolved", still)
	default:
		check.Message = fmt.Sprintf("%d unresolved citation(s) upgraded", len(run.report.PendingUpgrades))
	}
	run.report.Checks = append(run.report.Checks, check)
}

// phaseStructure prüft Autor, Titel, Jahr und Venue jeder Zeile.
func (c *Checkpoint) phaseStructure(run *checkpointRun, rows []models.Citation) {
	var missing []models.MissingFields
	for i, row := range rows {
		if m := missingFields(row); len(m) > 0 {
			missing = append(missing, models.MissingFields{CiteKey: row.CiteKey, Missing: m})
		}
		if (i+1)%c.chunkSize() == 0 || i == len(rows)-1 {
			run.emit(PhaseStructure, i+1, len(rows), "")
		}
	}

	check := models.Check{Name: CheckStructure, Status: models.StatusPass, Message: "all citations complete"}
	if len(missing) > 0 {
		check.Status = models.StatusWarn
		check.Message = fmt.Sprintf("%d citation(s) with missing fields", len(missing))
		check.Details = missing
	}
	run.report.Checks = append(run.report.Checks, check)
}

func (c *Checkpoint) budgetCheck(run *checkpointRun) models.Check {
	check := models.Check{Name: CheckBudget, Status: models.StatusPass, Message: "completed within budget"}
	if !run.report.BudgetExceeded {
		return check
	}
	if run.processed == 0 && run.work > 0 {
		check.Status = models.StatusFail
		check.Blocking = true
		check.Message = fmt.Sprintf("budget of %s exhausted before any citation was checked", c.Budget)
		return check
	}
	check.Status = models.StatusWarn
	check.Message = fmt.Sprintf("budget of %s exhausted, %d citation(s) not checked this run", c.Budget, run.report.Skipped)
	return check
}

func (c *Checkpoint) chunkSize() int {
	if c.ChunkSize <= 0 {
		return 1
	}
	return c.ChunkSize
}

func rowDOI(row models.Citation) string {
	if doi := providers.NormalizeDOI(row.SourceDOI); doi != "" {
		return doi
	}
	return ExtractHint(row.Bibtex).DOI
}

func storedRecord(row models.Citation) models.Record {
	var rec models.Record
	if len(row.Metadata) > 0 {
		_ = json.Unmarshal(row.Metadata, &rec)
	}
	return rec
}

func storedTitle(row models.Citation) string {
	if t := bibtex.Title(row.Bibtex); t != "" {
		return t
	}
	return strings.TrimSpace(storedRecord(row).Title)
}

// missingFields liefert die fehlenden Pflichtfelder. Die Metadata-Spalte ergänzt den Text.
func missingFields(row models.Citation) []string {
	rec := storedRecord(row)
	has := func(v string, names ...string) bool {
		if strings.TrimSpace(v) != "" {
			return true
		}
		for _, n := range names {
			if bibtex.Clean(bibtex.FieldValue(row.Bibtex, n)) != "" {
				return true
			}
		}
		return false
	}

	var missing []string
	if !has(strings.Join(rec.Authors, ""), "author", "editor") {
		missing = append(missing, "author")
	}
	if !has(rec.Title, "title") {
		missing = append(missing, "title")
	}
	if !has(rec.Year, "year", "date") {
		missing = append(missing, "year")
	}
	if !has(rec.Venue+rec.Publisher, venueFields...) {
		missing = append(missing, "venue")
	}
	return missing
}
