package providers

import (
	"regexp"
	"strings"
)

var pmidPattern = regexp.MustCompile(`^\d{1,9}$`)

var doiPrefixes = []string{
	"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi.org/", "doi:",
}

// NormalizeDOI entfernt Präfixe wie "https://doi.org/" oder "doi:" und schreibt klein.
// Liefert "" für alles, was nicht mit "10." beginnt.
func NormalizeDOI(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, p := range doiPrefixes {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			lower = strings.ToLower(s)
		}
	}
	s = strings.TrimRight(s, ".,;")
	if !strings.HasPrefix(s, "10.") || strings.ContainsAny(s, " \t\n") {
		return ""
	}
	return strings.ToLower(s)
}

// NormalizePMID liefert die PMID ohne "PMID:"-Präfix oder "".
func NormalizePMID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 5 && strings.EqualFold(s[:5], "pmid:") {
		s = strings.TrimSpace(s[5:])
	}
	if !pmidPattern.MatchString(s) {
		return ""
	}
	return s
}
