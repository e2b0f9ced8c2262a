// Package pubmed enthält die Logik für die Interaktion mit den NCBI E-utilities.
package pubmed

import (
	"encoding/json"
	"regexp"
	"strings"

	"cite-guard/models"
)

// ESearchResponse repräsentiert die JSON-Antwort von ESearch für die ID-Suche.
type ESearchResponse struct {
	ESearchResult struct {
		Count  string   `json:"count"`
		IdList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// ESummaryResponse repräsentiert die JSON-Antwort von ESummary. Die Einträge liegen unter ihrer
// PMID als Schlüssel neben "uids".
type ESummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

// DocSum ist eine einzelne Zusammenfassung aus ESummary.
type DocSum struct {
	UID             string `json:"uid"`
	Error           string `json:"error"`
	Title           string `json:"title"`
	FullJournalName string `json:"fulljournalname"`
	Source          string `json:"source"`
	PubDate         string `json:"pubdate"`
	Volume          string `json:"volume"`
	Issue           string `json:"issue"`
	Pages           string `json:"pages"`
	Authors         []struct {
		Name     string `json:"name"`
		AuthType string `json:"authtype"`
	} `json:"authors"`
	ArticleIDs []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
	PubType []string `json:"pubtype"`
}

var yearRegex = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})\b`)

// docs liefert die Zusammenfassungen in der Reihenfolge von "uids".
func (r *ESummaryResponse) docs() []DocSum {
	var uids []string
	if raw, ok := r.Result["uids"]; ok {
		_ = json.Unmarshal(raw, &uids)
	}
	var out []DocSum
	for _, uid := range uids {
		raw, ok := r.Result[uid]
		if !ok {
			continue
		}
		var d DocSum
		if err := json.Unmarshal(raw, &d); err != nil || d.Error != "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

// toRecord bildet eine Zusammenfassung auf die kanonischen Felder ab.
func (d *DocSum) toRecord() models.Record {
	r := models.Record{
		Title:  strings.TrimRight(strings.TrimSpace(d.Title), "."),
		Venue:  d.FullJournalName,
		Volume: d.Volume,
		Issue:  d.Issue,
		Pages:  d.Pages,
		PMID:   d.UID,
		Year:   yearRegex.FindString(d.PubDate),
	}
	if r.Venue == "" {
		r.Venue = d.Source
	}
	for _, a := range d.Authors {
		if a.AuthType != "" && a.AuthType != "Author" {
			continue
		}
		r.Authors = append(r.Authors, a.Name)
	}
	for _, id := range d.ArticleIDs {
		if id.IDType == "doi" {
			r.DOI = strings.ToLower(strings.TrimSpace(id.Value))
		}
	}
	r.WorkType = "journal-article"
	for _, p := range d.PubType {
		if strings.EqualFold(p, "Book") || strings.EqualFold(p, "Book Chapter") {
			r.WorkType = "book-chapter"
		}
	}
	return r
}
