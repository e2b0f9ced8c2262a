package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProvenanceTier beschreibt, wie sicher eine Quelle belegt ist. A ist die stärkste Stufe.
type ProvenanceTier string

const (
	TierA ProvenanceTier = "A"
	// B und C werden von anderen Teilen des Produkts vergeben, nie von der Auflösung selbst.
	TierB ProvenanceTier = "B"
	TierC ProvenanceTier = "C"
	TierD ProvenanceTier = "D"
)

// Rank ordnet die Stufen: A=4 ... D=1, unbekannt=0.
func (t ProvenanceTier) Rank() int {
	switch t {
	case TierA:
		return 4
	case TierB:
		return 3
	case TierC:
		return 2
	case TierD:
		return 1
	}
	return 0
}

// Valid meldet, ob die Stufe zum Schema gehört.
func (t ProvenanceTier) Valid() bool { return t.Rank() > 0 }

const (
	EvidenceDOI   = "doi"
	EvidencePMID  = "pmid"
	EvidenceTitle = "title"
)

// ResolvedCitation ist das Ergebnis einer einzelnen Auflösung.
type ResolvedCitation struct {
	CiteKey        string         `json:"cite_key"`
	Bibtex         string         `json:"bibtex"`
	ProvenanceTier ProvenanceTier `json:"provenance_tier"`
	EvidenceType   string         `json:"evidence_type,omitempty"`
	EvidenceValue  string         `json:"evidence_value,omitempty"`
	SourceDOI      string         `json:"source_doi,omitempty"`
	SourcePMID     string         `json:"source_pmid,omitempty"`
	// Treffer einer Autor/Jahr-Suche für einen Marker ohne Eintrag. Kein Beleg und nie ein Hinweis
	// für die Auflösung.
	CandidateDOI   string         `json:"candidate_doi,omitempty"`

	// Strukturierte Felder aus dem Register, falls vorhanden.
	Record *Record `json:"record,omitempty"`
}

// Verified meldet, ob das Ergebnis maschinell bestätigt ist.
func (r ResolvedCitation) Verified() bool { return r.ProvenanceTier == TierA }

// Citation ist die persistierte Zeile pro (Projekt, CiteKey).
type Citation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectID string `json:"project_id" gorm:"uniqueIndex:idx_citations_project_key;size:128;not null"`
	CiteKey   string `json:"cite_key" gorm:"uniqueIndex:idx_citations_project_key;size:256;not null"`

	Bibtex         string         `json:"bibtex" gorm:"type:text"`
	ProvenanceTier ProvenanceTier `json:"provenance_tier" gorm:"size:1;index;not null;default:'D'"`
	EvidenceType   string         `json:"evidence_type,omitempty" gorm:"size:16"`
	EvidenceValue  string         `json:"evidence_value,omitempty"`
	SourceDOI      string         `json:"source_doi,omitempty" gorm:"column:source_doi;index"`
	SourcePMID     string         `json:"source_pmid,omitempty" gorm:"column:source_pmid"`
	CandidateDOI   string         `json:"candidate_doi,omitempty" gorm:"column:candidate_doi"`

	// Sperren gegen automatisches Überschreiben
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	AttestedAt *time.Time `json:"attested_at,omitempty"`
	AttestedBy string     `json:"attested_by,omitempty"`

	// Kanonische Felder des Registers (Titel, Autoren, ...)
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`
}

// TableName gibt explizit den Tabellennamen an.
func (Citation) TableName() string {
	return "citations"
}

// Locked meldet, ob die Zeile von der Automatik nicht mehr angefasst werden darf.
func (c *Citation) Locked() bool {
	return c.VerifiedAt != nil || c.AttestedAt != nil
}

// Resolved liefert die Zeile als Auflösungsergebnis.
func (c *Citation) Resolved() ResolvedCitation {
	return ResolvedCitation{
		CiteKey:        c.CiteKey,
		Bibtex:         c.Bibtex,
		ProvenanceTier: c.ProvenanceTier,
		EvidenceType:   c.EvidenceType,
		EvidenceValue:  c.EvidenceValue,
		SourceDOI:      c.SourceDOI,
		SourcePMID:     c.SourcePMID,
		CandidateDOI:   c.CandidateDOI,
	}
}

// NewCitation baut eine Zeile aus einem Auflösungsergebnis. verifiedAt wird genau bei Stufe A gesetzt.
func NewCitation(projectID string, r ResolvedCitation, now time.Time) Citation {
	c := Citation{
		ProjectID:      projectID,
		CiteKey:        r.CiteKey,
		Bibtex:         r.Bibtex,
		ProvenanceTier: r.ProvenanceTier,
		EvidenceType:   r.EvidenceType,
		EvidenceValue:  r.EvidenceValue,
		SourceDOI:      r.SourceDOI,
		SourcePMID:     r.SourcePMID,
		CandidateDOI:   r.CandidateDOI,
	}
	if r.ProvenanceTier == TierA {
		t := now
		c.VerifiedAt = &t
	}
	if r.Record != nil {
		c.Metadata = r.Record.JSON()
	}
	return c
}
