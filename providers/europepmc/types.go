package europepmc

import (
	"strings"

	"cite-guard/models"
)

// SearchResponse ist die Top-Level-Struktur der Europe PMC API-Antwort.
type SearchResponse struct {
	HitCount   int `json:"hitCount"`
	ResultList struct {
		Result []Article `json:"result"`
	} `json:"resultList"`
}

// Article repräsentiert einen einzelnen Artikel in der API-Antwort (resultType=lite).
type Article struct {
	ID            string `json:"id"`
	Source        string `json:"source"`
	PMID          string `json:"pmid"`
	DOI           string `json:"doi"`
	Title         string `json:"title"`
	AuthorString  string `json:"authorString"`
	JournalTitle  string `json:"journalTitle"`
	PubYear       string `json:"pubYear"`
	JournalVolume string `json:"journalVolume"`
	Issue         string `json:"issue"`
	PageInfo      string `json:"pageInfo"`
	PubType       string `json:"pubType"`
}

// toRecord konvertiert einen Europe PMC Artikel in die kanonischen Felder.
func (a *Article) toRecord() models.Record {
	r := models.Record{
		Title:    strings.TrimRight(strings.TrimSpace(a.Title), "."),
		Venue:    a.JournalTitle,
		Year:     a.PubYear,
		Volume:   a.JournalVolume,
		Issue:    a.Issue,
		Pages:    a.PageInfo,
		PMID:     a.PMID,
		DOI:      strings.ToLower(a.DOI),
		WorkType: "journal-article",
	}
	for _, name := range strings.Split(strings.TrimRight(a.AuthorString, "."), ",") {
		if name = strings.TrimSpace(name); name != "" {
			r.Authors = append(r.Authors, name)
		}
	}
	if strings.Contains(strings.ToLower(a.PubType), "book") {
		r.WorkType = "book-chapter"
	}
	return r
}
