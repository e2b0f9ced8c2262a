package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cite-guard/models"
	"cite-guard/storage"
)

// PendingTTL ist die Zeit, die ein Nutzer hat, um Upgrades eines Laufs zu bestätigen.
const PendingTTL = 30 * time.Minute

// ErrUnknownRun meldet einen unbekannten oder abgelaufenen Checkpoint-Lauf.
var ErrUnknownRun = errors.New("unknown or expired checkpoint run")

type pendingEntry struct {
	projectID string
	upgrades  map[string]models.ResolvedCitation
	expires   time.Time
}

// PendingUpgrades hält die Upgrades eines Laufs, bis der Nutzer sie bestätigt. Der Client schickt
// nur run_id und Schlüssel zurück, nie eigenen BibTeX-Text.
type PendingUpgrades struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewPendingUpgrades erstellt einen leeren Cache.
func NewPendingUpgrades(ttl time.Duration) *PendingUpgrades {
	if ttl <= 0 {
		ttl = PendingTTL
	}
	return &PendingUpgrades{entries: map[string]pendingEntry{}, ttl: ttl, now: time.Now}
}

// Put legt die Upgrades von report ab und räumt abgelaufene Läufe weg.
func (p *PendingUpgrades) Put(report *models.VerificationReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for id, e := range p.entries {
		if now.After(e.expires) {
			delete(p.entries, id)
		}
	}
	upgrades := make(map[string]models.ResolvedCitation, len(report.PendingUpgrades))
	for _, u := range report.PendingUpgrades {
		upgrades[u.CiteKey] = u
	}
	p.entries[report.RunID] = pendingEntry{projectID: report.ProjectID, upgrades: upgrades, expires: now.Add(p.ttl)}
}

// take entfernt den Lauf und liefert seine Upgrades.
func (p *PendingUpgrades) take(projectID, runID string) (map[string]models.ResolvedCitation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[runID]
	if !ok || e.projectID != projectID || p.now().After(e.expires) {
		return nil, ErrUnknownRun
	}
	delete(p.entries, runID)
	return e.upgrades, nil
}

// ApplySummary ist das Ergebnis von ApplyUpgrades.
type ApplySummary struct {
	Applied []string `json:"applied"`
	Locked  []string `json:"locked"`
	Unknown []string `json:"unknown"`
}

// ApplyUpgrades schreibt die vom Nutzer bestätigten Upgrades eines Laufs. Leeres keys heißt: alle.
// Gesperrte Zeilen bleiben unverändert.
func ApplyUpgrades(ctx context.Context, store storage.CitationStore, pending *PendingUpgrades, projectID, runID string, keys []string, now time.Time, logger *zap.Logger) (*ApplySummary, error) {
	upgrades, err := pending.take(projectID, runID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		for k := range upgrades {
			keys = append(keys, k)
		}
	}

	summary := &ApplySummary{Applied: []string{}, Locked: []string{}, Unknown: []string{}}
	for _, key := range keys {
		u, ok := upgrades[key]
		if !ok || u.ProvenanceTier != models.TierA {
			summary.Unknown = append(summary.Unknown, key)
			continue
		}
		row := models.NewCitation(projectID, u, now)
		written, err := store.SaveIfUnlocked(ctx, &row)
		if err != nil {
			return nil, fmt.Errorf("apply upgrade %q: %w", key, err)
		}
		if !written {
			summary.Locked = append(summary.Locked, key)
			continue
		}
		summary.Applied = append(summary.Applied, key)
	}

	logger.Info("Checkpoint upgrades applied",
		zap.String("project_id", projectID),
		zap.String("run_id", runID),
		zap.Int("applied", len(summary.Applied)),
		zap.Int("locked", len(summary.Locked)),
		zap.Int("unknown", len(summary.Unknown)))
	return summary, nil
}
