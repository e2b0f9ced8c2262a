package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"cite-guard/models"
)

// MemoryStore hält Zitationen im Speicher. Für Tests und das CLI.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[string]models.Citation
	nextID uint
	now    func() time.Time
}

// NewMemoryStore erstellt einen leeren Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]models.Citation), now: time.Now}
}

func memKey(projectID, citeKey string) string { return projectID + "\x00" + citeKey }

func clone(c models.Citation) models.Citation {
	if c.VerifiedAt != nil {
		t := *c.VerifiedAt
		c.VerifiedAt = &t
	}
	if c.AttestedAt != nil {
		t := *c.AttestedAt
		c.AttestedAt = &t
	}
	if c.Metadata != nil {
		c.Metadata = append(c.Metadata[:0:0], c.Metadata...)
	}
	return c
}

func (s *MemoryStore) Get(_ context.Context, projectID, citeKey string) (*models.Citation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.rows[memKey(projectID, citeKey)]
	if !ok {
		return nil, nil
	}
	c = clone(c)
	return &c, nil
}

func (s *MemoryStore) SaveIfUnlocked(_ context.Context, c *models.Citation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey(c.ProjectID, c.CiteKey)
	now := s.now()
	if existing, ok := s.rows[k]; ok {
		if existing.Locked() {
			return false, nil
		}
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		// Attestierung wird nur über Attest gesetzt.
		c.AttestedAt = existing.AttestedAt
		c.AttestedBy = existing.AttestedBy
	} else {
		s.nextID++
		c.ID = s.nextID
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.rows[k] = clone(*c)
	return true, nil
}

func (s *MemoryStore) ListByProject(_ context.Context, projectID string) ([]models.Citation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Citation
	for _, c := range s.rows {
		if c.ProjectID == projectID {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CiteKey < out[j].CiteKey })
	return out, nil
}

func (s *MemoryStore) ListByTier(_ context.Context, tier models.ProvenanceTier, limit int) ([]models.Citation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Citation
	for _, c := range s.rows {
		if c.ProvenanceTier == tier {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectID != out[j].ProjectID {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].CiteKey < out[j].CiteKey
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Attest(_ context.Context, projectID, citeKey, by string, at time.Time) (*models.Citation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey(projectID, citeKey)
	c, ok := s.rows[k]
	if !ok {
		return nil, ErrNotFound
	}
	c.AttestedAt = &at
	c.AttestedBy = by
	c.UpdatedAt = s.now()
	s.rows[k] = clone(c)
	out := clone(c)
	return &out, nil
}

// Put legt eine Zeile ohne Sperrprüfung ab, z.B. um Tests vorzubelegen.
func (s *MemoryStore) Put(c models.Citation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		s.nextID++
		c.ID = s.nextID
	}
	s.rows[memKey(c.ProjectID, c.CiteKey)] = clone(c)
}
