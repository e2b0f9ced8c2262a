package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Record enthält die kanonischen Felder eines Werks, wie sie ein Register liefert.
type Record struct {
	Title    string   `json:"title"`
	Authors  []string `json:"authors,omitempty"`
	Venue    string   `json:"venue,omitempty"`
	Year     string   `json:"year,omitempty"`
	Volume   string   `json:"volume,omitempty"`
	Issue    string   `json:"issue,omitempty"`
	Pages    string   `json:"pages,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	PMID     string   `json:"pmid,omitempty"`
	WorkType string   `json:"work_type,omitempty"`

	// Publisher wird nur für die Strukturprüfung gebraucht (Bücher ohne Journal).
	Publisher string `json:"publisher,omitempty"`

	// Bibtex ist der serialisierte Eintrag ohne das eigene Identifier-Feld des Registers.
	Bibtex string `json:"-"`
}

// JSON serialisiert die Felder für die Metadata-Spalte.
func (r *Record) JSON() datatypes.JSON {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// SearchResult ist die Antwort einer Freitextsuche.
type SearchResult struct {
	Items      []Record `json:"items"`
	TotalCount int      `json:"total_count"`
}
