package models

import "time"

// CheckStatus ist das Ergebnis einer einzelnen Prüfung.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// Check ist eine benannte Prüfung im VerificationReport.
type Check struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Blocking bool        `json:"blocking"`
	Message  string      `json:"message"`
	Details  any         `json:"details,omitempty"`
}

// TitleMismatch beschreibt eine Abweichung zwischen gespeichertem und aktuellem Registertitel.
type TitleMismatch struct {
	CiteKey       string  `json:"cite_key"`
	DOI           string  `json:"doi"`
	StoredTitle   string  `json:"stored_title"`
	RegistryTitle string  `json:"registry_title"`
	Similarity    float64 `json:"similarity"`
}

// MissingFields listet fehlende Pflichtfelder einer Zeile.
type MissingFields struct {
	CiteKey string   `json:"cite_key"`
	Missing []string `json:"missing"`
}

// VerificationReport ist das flüchtige Ergebnis eines Checkpoint-Laufs.
type VerificationReport struct {
	RunID      string    `json:"run_id"`
	ProjectID  string    `json:"project_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Total           int                `json:"total"`
	Checks          []Check            `json:"checks"`
	OKToProceed     bool               `json:"ok_to_proceed"`
	PendingUpgrades []ResolvedCitation `json:"pending_upgrades"`
	StillUnresolved []string           `json:"still_unresolved"`
	BudgetExceeded  bool               `json:"budget_exceeded"`
	Skipped         int                `json:"skipped"`
}

// Blocking meldet, ob mindestens eine Prüfung blockierend fehlgeschlagen ist.
func (r *VerificationReport) Blocking() bool {
	for _, c := range r.Checks {
		if c.Blocking && c.Status == StatusFail {
			return true
		}
	}
	return false
}

// Check sucht eine Prüfung nach Name.
func (r *VerificationReport) Check(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// ProgressEvent wird während des Checkpoints für den SSE-Stream erzeugt.
type ProgressEvent struct {
	RunID     string `json:"run_id"`
	Phase     string `json:"phase"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}
