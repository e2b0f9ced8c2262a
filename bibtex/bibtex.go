// Package bibtex enthält einen bewusst kleinen Tokenizer für maschinell erzeugte BibTeX-Einträge.
//
// Unterstützt wird die Teilmenge, die Generatoren und Register liefern: ein Eintrag beginnt mit
// `@typ{schlüssel,` am Zeilenanfang, Werte stehen in geschweiften Klammern, Anführungszeichen
// oder sind nackte Tokens.
package bibtex

import (
	"regexp"
	"strings"
)

var (
	entryStartLine = regexp.MustCompile(`^\s*@(\w+)\s*\{\s*([^,\s{}]+)\s*,`)
	entryStartAny  = regexp.MustCompile(`@(\w+)\s*\{\s*([^,\s{}]+)\s*,`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

// Einträge dieser Typen sind keine Literaturangaben.
var ignoredTypes = map[string]bool{"comment": true, "string": true, "preamble": true}

// Entry ist ein einzelner Roh-Eintrag.
type Entry struct {
	Type string
	Key  string
	Text string
}

// ParseEntries zerlegt Text zeilenweise in Einträge. Zeilen werden bis zum nächsten Eintragsbeginn
// gesammelt. Text ohne Eintragsbeginn ergibt keine Einträge. Bei doppelten Schlüsseln gewinnt der
// spätere Text, die Position des ersten bleibt erhalten.
func ParseEntries(text string) []Entry {
	var entries []Entry
	index := make(map[string]int)

	var cur *Entry
	var buf strings.Builder
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = trimToClose(buf.String())
		if i, ok := index[cur.Key]; ok {
			entries[i] = *cur
		} else {
			index[cur.Key] = len(entries)
			entries = append(entries, *cur)
		}
		cur = nil
		buf.Reset()
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if m := entryStartLine.FindStringSubmatch(line); m != nil {
			flush()
			typ := strings.ToLower(m[1])
			if ignoredTypes[typ] {
				continue
			}
			cur = &Entry{Type: typ, Key: m[2]}
			buf.WriteString(strings.TrimLeft(line, " \t"))
			continue
		}
		if cur != nil {
			buf.WriteString("\n")
			buf.WriteString(line)
		}
	}
	flush()
	return entries
}

// trimToClose schneidet alles nach der schließenden Klammer des Eintrags ab.
// Unvollständige Einträge bleiben unverändert (ohne Leerraum am Ende).
func trimToClose(s string) string {
	open := strings.IndexByte(s, '{')
	if open < 0 {
		return strings.TrimSpace(s)
	}
	if end := matchBrace(s, open); end > 0 {
		return s[:end+1]
	}
	return strings.TrimRight(s, " \t\n")
}

// matchBrace liefert den Index der passenden schließenden Klammer zu s[open] oder -1.
func matchBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Salvage sucht vollständige `@typ{schlüssel, ...}`-Einträge an beliebiger Stelle im Text,
// auch mitten in Prosa oder auf einer Zeile hintereinander.
func Salvage(text string) []string {
	var out []string
	pos := 0
	for pos < len(text) {
		loc := entryStartAny.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		typ := strings.ToLower(text[pos+loc[2] : pos+loc[3]])
		open := strings.IndexByte(text[start:], '{') + start
		end := matchBrace(text, open)
		if end < 0 {
			break
		}
		if !ignoredTypes[typ] {
			out = append(out, text[start:end+1])
		}
		pos = end + 1
	}
	return out
}

// Field ist ein geparstes Feld mit seiner Position im Eintragstext.
type Field struct {
	Name  string
	Value string

	// [cut, end) umfasst das vorangehende Komma und das Feld selbst.
	cut, end int
}

// Fields liest die Felder des ersten Eintrags im Text. Bei kaputter Syntax werden die bis dahin
// gelesenen Felder geliefert.
func Fields(entry string) []Field {
	loc := entryStartAny.FindStringIndex(entry)
	if loc == nil {
		return nil
	}
	return scanFields(entry, loc[1]-1)
}

func scanFields(s string, comma int) []Field {
	var fields []Field
	i := comma
	for i < len(s) {
		cut := i // zeigt auf das Komma vor dem Feld
		i++
		i = skipSpace(s, i)
		if i >= len(s) || s[i] == '}' {
			return fields
		}
		nameStart := i
		for i < len(s) && isNameChar(s[i]) {
			i++
		}
		if i == nameStart {
			return fields
		}
		name := strings.ToLower(s[nameStart:i])
		i = skipSpace(s, i)
		if i >= len(s) || s[i] != '=' {
			return fields
		}
		i = skipSpace(s, i+1)

		value, next, ok := readValue(s, i)
		if !ok {
			return fields
		}
		// Konkatenationen mit # werden zusammengefügt.
		for {
			j := skipSpace(s, next)
			if j >= len(s) || s[j] != '#' {
				break
			}
			more, after, ok := readValue(s, skipSpace(s, j+1))
			if !ok {
				break
			}
			value += more
			next = after
		}
		fields = append(fields, Field{Name: name, Value: value, cut: cut, end: next})

		i = skipSpace(s, next)
		if i >= len(s) || s[i] != ',' {
			return fields
		}
	}
	return fields
}

func readValue(s string, i int) (string, int, bool) {
	if i >= len(s) {
		return "", i, false
	}
	switch s[i] {
	case '{':
		end := matchBrace(s, i)
		if end < 0 {
			return "", i, false
		}
		return s[i+1 : end], end + 1, true
	case '"':
		depth := 0
		for j := i + 1; j < len(s); j++ {
			switch s[j] {
			case '\\':
				j++
			case '{':
				depth++
			case '}':
				depth--
			case '"':
				if depth == 0 {
					return s[i+1 : j], j + 1, true
				}
			}
		}
		return "", i, false
	}
	j := i
	for j < len(s) && s[j] != ',' && s[j] != '}' && s[j] != '\n' && s[j] != '#' {
		j++
	}
	return strings.TrimSpace(s[i:j]), j, j > i
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

func isNameChar(c byte) bool {
	return c == '_' || c == '-' || c == ':' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// FieldValue liefert den Rohwert eines Feldes (ohne äußere Klammern) oder "".
func FieldValue(entry, name string) string {
	name = strings.ToLower(name)
	for _, f := range Fields(entry) {
		if f.Name == name {
			return strings.TrimSpace(f.Value)
		}
	}
	return ""
}

// Clean entfernt Klammern und einfache LaTeX-Escapes und fasst Leerraum zusammen.
func Clean(value string) string {
	r := strings.NewReplacer(`\&`, "&", `\%`, "%", `\_`, "_", `\$`, "$", `\#`, "#", "{", "", "}", "", "~", " ")
	return strings.TrimSpace(spaceRun.ReplaceAllString(r.Replace(value), " "))
}

// Title liefert den bereinigten Titel des Eintrags.
func Title(entry string) string {
	return Clean(FieldValue(entry, "title"))
}

// StripFields entfernt die genannten Felder aus allen Einträgen im Text. Ist kein Eintrag
// erkennbar, werden passende `name = ...`-Zeilen entfernt.
func StripFields(text string, names ...string) string {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[strings.ToLower(n)] = true
	}

	starts := entryStartAny.FindAllStringIndex(text, -1)
	if len(starts) == 0 {
		return stripFieldLines(text, drop)
	}

	var b strings.Builder
	last := 0
	for idx, loc := range starts {
		if loc[0] < last {
			continue
		}
		limit := len(text)
		if idx+1 < len(starts) {
			limit = starts[idx+1][0]
		}
		segment := text[loc[0]:limit]
		fields := scanFields(segment, loc[1]-1-loc[0])

		b.WriteString(text[last:loc[0]])
		prev := 0
		for _, f := range fields {
			if !drop[f.Name] {
				continue
			}
			b.WriteString(segment[prev:f.cut])
			prev = f.end
		}
		b.WriteString(segment[prev:])
		last = limit
	}
	b.WriteString(text[last:])
	return b.String()
}

func stripFieldLines(text string, drop map[string]bool) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if eq := strings.IndexByte(trimmed, '='); eq > 0 {
			if drop[strings.ToLower(strings.TrimSpace(trimmed[:eq]))] {
				continue
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// RewriteKey ersetzt den Schlüssel des ersten Eintrags.
func RewriteKey(entry, key string) string {
	loc := entryStartAny.FindStringSubmatchIndex(entry)
	if loc == nil {
		return entry
	}
	return entry[:loc[4]] + key + entry[loc[5]:]
}

// Key liefert Typ und Schlüssel des ersten Eintrags.
func Key(entry string) (typ, key string, ok bool) {
	m := entryStartAny.FindStringSubmatch(entry)
	if m == nil {
		return "", "", false
	}
	return strings.ToLower(m[1]), m[2], true
}
