package providers

import (
	"context"

	"cite-guard/models"
)

// Registry ist das Interface, das jedes bibliographische Register (Crossref, PubMed, Europe PMC) implementieren muss.
type Registry interface {
	// Name gibt den eindeutigen Namen des Registers zurück (z.B. "crossref").
	Name() string

	// LookupByID holt einen Datensatz über den Identifier des Registers. Ein unbekannter
	// Identifier liefert (nil, nil).
	LookupByID(ctx context.Context, id string) (*models.Record, error)

	// Search führt eine Freitextsuche aus. limit wird auf MaxSearchLimit begrenzt.
	Search(ctx context.Context, query string, limit int) (*models.SearchResult, error)
}

// MaxSearchLimit ist die Obergrenze für Suchergebnisse pro Anfrage.
const MaxSearchLimit = 20

// ClampLimit begrenzt limit auf 1..MaxSearchLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 1
	}
	return min(limit, MaxSearchLimit)
}
