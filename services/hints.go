package services

import (
	"regexp"
	"strings"

	"cite-guard/bibtex"
	"cite-guard/providers"
)

var (
	bareDOIRegex  = regexp.MustCompile(`\b10\.\d{4,9}/[^\s,;"{}]+`)
	notePMIDRegex = regexp.MustCompile(`(?i)\bPMID\s*:?\s*(\d{1,9})\b`)
)

// Hint sind die Identifier, die im Rohtext eines Eintrags stecken. Wird nie persistiert.
type Hint struct {
	DOI  string
	PMID string
}

// Empty meldet, ob gar kein Identifier gefunden wurde.
func (h Hint) Empty() bool { return h.DOI == "" && h.PMID == "" }

// merge füllt leere Felder aus fallback.
func (h Hint) merge(fallback Hint) Hint {
	if h.DOI == "" {
		h.DOI = fallback.DOI
	}
	if h.PMID == "" {
		h.PMID = fallback.PMID
	}
	return h
}

// ExtractHint sucht DOI (doi-Feld, doi.org-URL oder nacktes 10.xxxx/...-Muster) und PMID
// (pmid-Feld oder "PMID: n" im note-Feld).
func ExtractHint(raw string) Hint {
	var h Hint

	h.DOI = providers.NormalizeDOI(bibtex.Clean(bibtex.FieldValue(raw, "doi")))
	if h.DOI == "" {
		if u := bibtex.FieldValue(raw, "url"); strings.Contains(strings.ToLower(u), "doi.org/") {
			h.DOI = providers.NormalizeDOI(u)
		}
	}
	if h.DOI == "" {
		h.DOI = providers.NormalizeDOI(bareDOIRegex.FindString(raw))
	}

	h.PMID = providers.NormalizePMID(bibtex.Clean(bibtex.FieldValue(raw, "pmid")))
	if h.PMID == "" {
		if m := notePMIDRegex.FindStringSubmatch(bibtex.FieldValue(raw, "note")); m != nil {
			h.PMID = m[1]
		}
	}
	return h
}
