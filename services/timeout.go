package services

import (
	"context"
	"fmt"
	"time"

	"cite-guard/models"
	"cite-guard/providers"
)

// ErrCallTimeout meldet einen Registeraufruf, der gegen den Timer verloren hat.
var ErrCallTimeout = fmt.Errorf("registry call timed out: %w", context.DeadlineExceeded)

// raceCall lässt fn gegen einen Timer laufen. Verliert fn, wird sein Kontext abgebrochen und
// das Ergebnis verworfen; weitere Wiederholungen im Register finden dann nicht mehr statt.
func raceCall[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(cctx)
		done <- outcome{v, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o := <-done:
		return o.v, o.err
	case <-timer.C:
		return zero, ErrCallTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type timeoutRegistry struct {
	inner   providers.Registry
	timeout time.Duration
}

// TimeoutRegistry begrenzt jeden Aufruf von inner einzeln auf timeout.
func TimeoutRegistry(inner providers.Registry, timeout time.Duration) providers.Registry {
	return &timeoutRegistry{inner: inner, timeout: timeout}
}

func (t *timeoutRegistry) Name() string { return t.inner.Name() }

func (t *timeoutRegistry) LookupByID(ctx context.Context, id string) (*models.Record, error) {
	return raceCall(ctx, t.timeout, func(ctx context.Context) (*models.Record, error) {
		return t.inner.LookupByID(ctx, id)
	})
}

func (t *timeoutRegistry) Search(ctx context.Context, query string, limit int) (*models.SearchResult, error) {
	return raceCall(ctx, t.timeout, func(ctx context.Context) (*models.SearchResult, error) {
		return t.inner.Search(ctx, query, limit)
	})
}
