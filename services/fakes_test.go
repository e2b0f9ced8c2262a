package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cite-guard/models"
)

// fakeRegistry ist ein scriptbares providers.Registry.
type fakeRegistry struct {
	name    string
	records map[string]*models.Record
	errs    map[string]error
	search  func(query string, limit int) (*models.SearchResult, error)
	delay   time.Duration
	delays  map[string]time.Duration

	mu       sync.Mutex
	lookups  []string
	queries  []string
	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakeRegistry(name string) *fakeRegistry {
	return &fakeRegistry{
		name:    name,
		records: map[string]*models.Record{},
		errs:    map[string]error{},
		delays:  map[string]time.Duration{},
	}
}

func (f *fakeRegistry) Name() string { return f.name }

func (f *fakeRegistry) enter() func() {
	n := f.inflight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return func() { f.inflight.Add(-1) }
}

func (f *fakeRegistry) wait(ctx context.Context, id string) error {
	d := f.delay
	if v, ok := f.delays[id]; ok {
		d = v
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeRegistry) LookupByID(ctx context.Context, id string) (*models.Record, error) {
	defer f.enter()()
	f.mu.Lock()
	f.lookups = append(f.lookups, id)
	f.mu.Unlock()
	if err := f.wait(ctx, id); err != nil {
		return nil, err
	}
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (f *fakeRegistry) Search(ctx context.Context, query string, limit int) (*models.SearchResult, error) {
	defer f.enter()()
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if err := f.wait(ctx, ""); err != nil {
		return nil, err
	}
	if f.search == nil {
		return &models.SearchResult{}, nil
	}
	return f.search(query, limit)
}

func (f *fakeRegistry) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lookups)
}

func (f *fakeRegistry) searchQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// resolverFunc macht aus einer Funktion einen EntryResolver.
type resolverFunc func(ctx context.Context, citeKey, raw string) (models.ResolvedCitation, error)

func (f resolverFunc) Resolve(ctx context.Context, citeKey, raw string) (models.ResolvedCitation, error) {
	return f(ctx, citeKey, raw)
}
