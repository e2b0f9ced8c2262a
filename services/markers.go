package services

import (
	"regexp"
	"strings"

	"cite-guard/bibtex"
)

// DefaultTrailerMarker trennt Fließtext und BibTeX-Block.
const DefaultTrailerMarker = "---BIBTEX---"

var (
	// \cite{a}, \citep[S. 3]{a,b}, \textcite{a}, \parencite*{a} ...
	citeMarkerRegex = regexp.MustCompile(`\\[a-zA-Z]*cite[a-zA-Z]*\*?(?:\s*\[[^\]]*\]){0,2}\s*\{([^}]*)\}`)
	keyYearRegex    = regexp.MustCompile(`^([a-zA-Z]+)(\d{4})$`)
)

// Fragment ist ein zerlegtes Generator-Fragment.
type Fragment struct {
	Body    string
	Trailer string
	// Salvaged meldet, dass der Trailer aus verstreuten Einträgen zusammengesetzt wurde.
	Salvaged bool
}

// SplitFragment trennt den Text am Marker. Fehlt der Marker oder liefert der Teil dahinter keine
// Einträge, werden vollständige Einträge irgendwo im Text eingesammelt.
func SplitFragment(fragment, marker string) Fragment {
	if marker == "" {
		marker = DefaultTrailerMarker
	}
	if idx := strings.Index(fragment, marker); idx >= 0 {
		f := Fragment{
			Body:    fragment[:idx],
			Trailer: fragment[idx+len(marker):],
		}
		if len(bibtex.ParseEntries(f.Trailer)) > 0 {
			return f
		}
		if salvaged := bibtex.Salvage(fragment); len(salvaged) > 0 {
			f.Trailer = strings.Join(salvaged, "\n\n")
			f.Salvaged = true
		}
		return f
	}

	f := Fragment{Body: fragment}
	if salvaged := bibtex.Salvage(fragment); len(salvaged) > 0 {
		f.Trailer = strings.Join(salvaged, "\n\n")
		f.Salvaged = true
	}
	return f
}

// ExtractMarkerKeys liefert alle Schlüssel aus \cite-Markern, ohne Duplikate, in Reihenfolge
// des ersten Auftretens.
func ExtractMarkerKeys(body string) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range citeMarkerRegex.FindAllStringSubmatch(body, -1) {
		for _, k := range strings.Split(m[1], ",") {
			k = strings.TrimSpace(k)
			// \nocite{*}
			if k == "" || k == "*" || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// OrphanQuery macht aus "smith2023" die Suche "smith 2023". ok=false, wenn der Schlüssel nicht
// dem Muster Name+Jahr folgt.
func OrphanQuery(citeKey string) (query string, ok bool) {
	m := keyYearRegex.FindStringSubmatch(citeKey)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]) + " " + m[2], true
}
