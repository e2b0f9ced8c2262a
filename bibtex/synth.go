package bibtex

import (
	"fmt"
	"strings"

	"cite-guard/models"
)

// entryType bildet Werktypen der Register auf BibTeX-Typen ab.
func entryType(workType string) string {
	switch strings.ToLower(workType) {
	case "journal-article", "article", "journal article", "review":
		return "article"
	case "book", "monograph", "edited-book":
		return "book"
	case "book-chapter", "chapter":
		return "incollection"
	case "proceedings-article", "conference-paper":
		return "inproceedings"
	case "dissertation", "thesis":
		return "phdthesis"
	case "report":
		return "techreport"
	case "":
		return "article"
	}
	return "misc"
}

func venueField(typ string) string {
	switch typ {
	case "incollection", "inproceedings":
		return "booktitle"
	case "book", "misc", "phdthesis", "techreport":
		return ""
	}
	return "journal"
}

// FromRecord erzeugt einen Eintrag Feld für Feld aus strukturierten Daten. Felder in omit
// (z.B. "pmid") werden nicht geschrieben.
func FromRecord(key string, r models.Record, omit ...string) string {
	skip := make(map[string]bool, len(omit))
	for _, o := range omit {
		skip[strings.ToLower(o)] = true
	}

	typ := entryType(r.WorkType)
	var b strings.Builder
	fmt.Fprintf(&b, "@%s{%s,\n", typ, key)

	write := func(name, value string) {
		value = strings.TrimSpace(value)
		if value == "" || skip[name] {
			return
		}
		fmt.Fprintf(&b, "  %s = {%s},\n", name, escapeValue(value))
	}

	write("title", r.Title)
	write("author", strings.Join(r.Authors, " and "))
	if vf := venueField(typ); vf != "" {
		write(vf, r.Venue)
	} else if r.Publisher == "" {
		write("howpublished", r.Venue)
	}
	write("publisher", r.Publisher)
	write("year", r.Year)
	write("volume", r.Volume)
	write("number", r.Issue)
	write("pages", r.Pages)
	write("doi", r.DOI)
	write("pmid", r.PMID)

	out := strings.TrimSuffix(b.String(), ",\n")
	return out + "\n}"
}

// escapeValue entfernt unbalancierte Klammern, damit der Eintrag parsebar bleibt.
func escapeValue(v string) string {
	depth, low := 0, 0
	for _, c := range v {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
		}
		low = min(low, depth)
	}
	if depth != 0 || low < 0 {
		v = strings.NewReplacer("{", "", "}", "").Replace(v)
	}
	return v
}
