package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cite-guard/bibtex"
	"cite-guard/models"
)

// BatchError ist der Fehler eines einzelnen Eintrags.
type BatchError struct {
	CiteKey string `json:"cite_key"`
	Err     error  `json:"-"`
	Message string `json:"error"`
}

func (e BatchError) Error() string { return fmt.Sprintf("%s: %s", e.CiteKey, e.Message) }

func (e BatchError) Unwrap() error { return e.Err }

// BatchResult enthält alle Ergebnisse. len(Resolved)+len(Errors) entspricht immer der Zahl der
// geparsten Einträge.
type BatchResult struct {
	Resolved []models.ResolvedCitation `json:"resolved"`
	Errors   []BatchError              `json:"errors"`
}

// Keys liefert die Schlüssel aller Einträge, aufgelöst oder fehlerhaft.
func (b *BatchResult) Keys() []string {
	keys := make([]string, 0, len(b.Resolved)+len(b.Errors))
	for _, r := range b.Resolved {
		keys = append(keys, r.CiteKey)
	}
	for _, e := range b.Errors {
		keys = append(keys, e.CiteKey)
	}
	return keys
}

// BatchResolver wendet einen EntryResolver blockweise auf viele Einträge an.
type BatchResolver struct {
	Resolver  EntryResolver
	ChunkSize int
	Logger    *zap.Logger
}

// NewBatchResolver erstellt einen BatchResolver mit Blockgröße 3.
func NewBatchResolver(resolver EntryResolver, logger *zap.Logger) *BatchResolver {
	return &BatchResolver{Resolver: resolver, ChunkSize: IngestChunkSize, Logger: logger}
}

type batchOutcome struct {
	res models.ResolvedCitation
	err error
}

// ResolveAll parst bib und löst alle Einträge auf. Fehler und Panics einzelner Einträge werden
// pro Eintrag erfasst und brechen weder Geschwister noch spätere Blöcke ab.
func (b *BatchResolver) ResolveAll(ctx context.Context, bib string) BatchResult {
	entries := bibtex.ParseEntries(bib)
	outcomes := make([]batchOutcome, len(entries))

	started := runChunked(ctx, entries, b.ChunkSize, func(ctx context.Context, i int, e bibtex.Entry) {
		outcomes[i] = b.resolveOne(ctx, e)
	}, nil)

	result := BatchResult{}
	for i, e := range entries {
		o := outcomes[i]
		if i >= started {
			o.err = fmt.Errorf("not started: %w", context.Cause(ctx))
		}
		if o.err != nil {
			b.Logger.Warn("Citation failed to resolve", zap.String("cite_key", e.Key), zap.Error(o.err))
			result.Errors = append(result.Errors, BatchError{CiteKey: e.Key, Err: o.err, Message: o.err.Error()})
			continue
		}
		result.Resolved = append(result.Resolved, o.res)
	}

	b.Logger.Info("Batch resolution completed",
		zap.Int("entries", len(entries)),
		zap.Int("resolved", len(result.Resolved)),
		zap.Int("errors", len(result.Errors)))
	return result
}

func (b *BatchResolver) resolveOne(ctx context.Context, e bibtex.Entry) (out batchOutcome) {
	defer func() {
		if p := recover(); p != nil {
			out = batchOutcome{err: fmt.Errorf("panic while resolving: %v", p)}
		}
	}()
	res, err := b.Resolver.Resolve(ctx, e.Key, e.Text)
	return batchOutcome{res: res, err: err}
}
