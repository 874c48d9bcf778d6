// internal/game/store.go
package game

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/models"
)

// Store is a versioned document store keyed by game id.
//
// Update is conditional: it succeeds only when the stored version equals expected,
// and fails with ErrVersionConflict otherwise. Create fails with ErrVersionConflict
// when the id already exists.
type Store interface {
	Create(ctx context.Context, g *models.Game) error
	Get(ctx context.Context, id uuid.UUID) (*models.Game, error)
	Update(ctx context.Context, g *models.Game, expected int) error
	List(ctx context.Context, statuses ...models.Status) ([]*models.Game, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemoryStore keeps games in process memory. Records are cloned on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu    sync.Mutex
	games map[uuid.UUID]*models.Game
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games: make(map[uuid.UUID]*models.Game),
	}
}

func (s *MemoryStore) Create(_ context.Context, g *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.games[g.ID]; exists {
		return newError(CodeVersionConflict, "game %s already exists", g.ID)
	}
	s.games[g.ID] = g.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, exists := s.games[id]
	if !exists {
		return nil, newError(CodeNotFound, "game %s", id)
	}
	return g.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, g *models.Game, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, exists := s.games[g.ID]
	if !exists {
		return newError(CodeNotFound, "game %s", g.ID)
	}
	if cur.Version != expected {
		return newError(CodeVersionConflict, "game %s is at version %d, expected %d", g.ID, cur.Version, expected)
	}
	s.games[g.ID] = g.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context, statuses ...models.Status) ([]*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Game
	for _, g := range s.games {
		if len(statuses) == 0 || hasStatus(g, statuses) {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, id)
	return nil
}

func hasStatus(g *models.Game, statuses []models.Status) bool {
	for _, st := range statuses {
		if g.Status == st {
			return true
		}
	}
	return false
}
