// Package crossref enthält die Logik für doi.org (Content Negotiation) und die Crossref REST API.
package crossref

import (
	"strconv"
	"strings"

	"cite-guard/models"
)

// WorkResponse ist die Antwort von /works/{doi}.
type WorkResponse struct {
	Status  string `json:"status"`
	Message Work   `json:"message"`
}

// SearchResponse ist die Antwort von /works?query.bibliographic=...
type SearchResponse struct {
	Status  string `json:"status"`
	Message struct {
		TotalResults int    `json:"total-results"`
		Items        []Work `json:"items"`
	} `json:"message"`
}

// Work ist ein Crossref-Werk (gekürzt auf die Felder, die wir brauchen).
type Work struct {
	DOI            string   `json:"DOI"`
	Title          []string `json:"title"`
	ContainerTitle []string `json:"container-title"`
	Publisher      string   `json:"publisher"`
	Type           string   `json:"type"`
	Volume         string   `json:"volume"`
	Issue          string   `json:"issue"`
	Page           string   `json:"page"`
	Author         []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
		Name   string `json:"name"`
	} `json:"author"`
	Issued struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
}

// toRecord bildet ein Crossref-Werk auf die kanonischen Felder ab.
func (w *Work) toRecord() models.Record {
	r := models.Record{
		DOI:       strings.ToLower(w.DOI),
		Publisher: w.Publisher,
		WorkType:  w.Type,
		Volume:    w.Volume,
		Issue:     w.Issue,
		Pages:     w.Page,
	}
	if len(w.Title) > 0 {
		r.Title = strings.TrimSpace(w.Title[0])
	}
	if len(w.ContainerTitle) > 0 {
		r.Venue = w.ContainerTitle[0]
	}
	for _, a := range w.Author {
		switch {
		case a.Family != "" && a.Given != "":
			r.Authors = append(r.Authors, a.Family+", "+a.Given)
		case a.Family != "":
			r.Authors = append(r.Authors, a.Family)
		case a.Name != "":
			r.Authors = append(r.Authors, a.Name)
		}
	}
	if len(w.Issued.DateParts) > 0 && len(w.Issued.DateParts[0]) > 0 && w.Issued.DateParts[0][0] > 0 {
		r.Year = strconv.Itoa(w.Issued.DateParts[0][0])
	}
	return r
}
