package services

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const (
	// IngestChunkSize begrenzt gleichzeitige Auflösungen bei Ingestion und Sweep.
	IngestChunkSize = 3
	// CheckpointChunkSize begrenzt gleichzeitige Prüfungen im Checkpoint.
	CheckpointChunkSize = 5
)

// runChunked startet jeweils size Elemente gleichzeitig und wartet den ganzen Block ab, bevor
// der nächste beginnt. Vor jedem Block wird ctx geprüft; danach werden keine Elemente mehr
// angefasst. afterChunk (optional) bekommt die Zahl der bisher abgeschlossenen Elemente.
// Rückgabe ist die Zahl der gestarteten Elemente.
func runChunked[T any](ctx context.Context, items []T, size int, fn func(ctx context.Context, i int, item T), afterChunk func(done int)) int {
	if size <= 0 {
		size = 1
	}
	started := 0
	for start := 0; start < len(items); start += size {
		if ctx.Err() != nil {
			return started
		}
		end := min(start+size, len(items))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				fn(ctx, i, items[i])
				return nil
			})
		}
		_ = g.Wait()

		started = end
		if afterChunk != nil {
			afterChunk(end)
		}
	}
	return started
}
