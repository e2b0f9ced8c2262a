package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"cite-guard/bibtex"
	"cite-guard/models"
	"cite-guard/storage"
)

// ExportKeep ist die Zahl der Exporte, die pro Projekt im Bucket bleiben.
const ExportKeep = 5

// ExportResult ist das Literaturverzeichnis eines Projekts.
type ExportResult struct {
	ProjectID string   `json:"project_id"`
	Entries   int      `json:"entries"`
	Excluded  []string `json:"excluded"`
	Bibtex    string   `json:"bibtex,omitempty"`
	ObjectKey string   `json:"object_key,omitempty"`
	Link      string   `json:"link,omitempty"`
}

// Exporter baut die .bib-Datei aus allen belegten Zeilen. Stufe D kommt nie ins Verzeichnis.
type Exporter struct {
	Store  storage.CitationStore
	Bucket *storage.Bucket // nil: Ergebnis wird direkt zurückgegeben
	Logger *zap.Logger
	Now    func() time.Time
}

// NewExporter erstellt einen Exporter. bucket darf nil sein.
func NewExporter(store storage.CitationStore, bucket *storage.Bucket, logger *zap.Logger) *Exporter {
	return &Exporter{Store: store, Bucket: bucket, Logger: logger, Now: time.Now}
}

// Render liefert den BibTeX-Text, sortiert nach Schlüssel, und die ausgeschlossenen Schlüssel.
func Render(rows []models.Citation) (text string, entries int, excluded []string) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].CiteKey < rows[j].CiteKey })

	var b strings.Builder
	excluded = []string{}
	for _, row := range rows {
		body := strings.TrimSpace(row.Bibtex)
		if row.ProvenanceTier == models.TierD || body == "" {
			excluded = append(excluded, row.CiteKey)
			continue
		}
		if entries > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(bibtex.RewriteKey(body, row.CiteKey))
		entries++
	}
	if entries > 0 {
		b.WriteString("\n")
	}
	return b.String(), entries, excluded
}

// Export rendert das Verzeichnis von projectID und lädt es hoch, falls ein Bucket konfiguriert ist.
func (e *Exporter) Export(ctx context.Context, projectID string) (*ExportResult, error) {
	rows, err := e.Store.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list citations: %w", err)
	}
	text, entries, excluded := Render(rows)
	result := &ExportResult{ProjectID: projectID, Entries: entries, Excluded: excluded}

	if e.Bucket == nil {
		result.Bibtex = text
		return result, nil
	}

	prefix := fmt.Sprintf("exports/%s/", projectID)
	result.ObjectKey = prefix + e.Now().UTC().Format("2006-01-02T15-04-05Z") + ".bib"
	link, err := e.Bucket.Upload(ctx, result.ObjectKey, []byte(text), "application/x-bibtex")
	if err != nil {
		return nil, err
	}
	result.Link = link

	deleted, err := e.Bucket.Rotate(ctx, prefix, ExportKeep)
	if err != nil {
		e.Logger.Warn("Export rotation incomplete", zap.String("project_id", projectID), zap.Error(err))
	}
	e.Logger.Info("Bibliography exported",
		zap.String("project_id", projectID),
		zap.String("object_key", result.ObjectKey),
		zap.Int("entries", entries),
		zap.Int("excluded", len(excluded)),
		zap.Int("rotated", len(deleted)))
	return result, nil
}
