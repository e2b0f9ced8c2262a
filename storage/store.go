package storage

import (
	"context"
	"errors"
	"time"

	"cite-guard/models"
)

// ErrNotFound meldet eine fehlende Zeile.
var ErrNotFound = errors.New("citation not found")

// CitationStore ist die Persistenz für Zitationen pro (Projekt, CiteKey).
type CitationStore interface {
	// Get liefert (nil, nil), wenn es die Zeile nicht gibt.
	Get(ctx context.Context, projectID, citeKey string) (*models.Citation, error)

	// SaveIfUnlocked legt die Zeile an oder überschreibt sie, solange weder verified_at noch
	// attested_at gesetzt sind. Der Rückgabewert meldet, ob geschrieben wurde.
	SaveIfUnlocked(ctx context.Context, c *models.Citation) (bool, error)

	ListByProject(ctx context.Context, projectID string) ([]models.Citation, error)

	// ListByTier liefert Zeilen einer Stufe über alle Projekte, höchstens limit (0 = alle).
	ListByTier(ctx context.Context, tier models.ProvenanceTier, limit int) ([]models.Citation, error)

	// Attest setzt attested_at/attested_by. Nur menschliche Aktionen rufen das auf.
	Attest(ctx context.Context, projectID, citeKey, by string, at time.Time) (*models.Citation, error)
}
