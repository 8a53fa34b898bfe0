package rdb

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playpool/matchcore/internal/models"
)

// MemoryStore is a non-durable identity store for tests, grounded on the
// teacher's GameManager pattern of guarding in-memory maps with a single
// sync.RWMutex rather than per-entity locks.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	games    map[int]*models.Game
	nextGame int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*models.User),
		games:    make(map[int]*models.Game),
		nextGame: 1,
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, name, email, passHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email || u.Name == name {
			return nil, ErrConstraintViolation
		}
	}

	u := &models.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: passHash,
		CreatedAt:    time.Now(),
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == login || u.Name == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SetUserAdmin(ctx context.Context, id string, admin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsAdmin = admin
	return nil
}

func (s *MemoryStore) SetUserVerified(ctx context.Context, id string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsVerified = verified
	return nil
}

func (s *MemoryStore) CreateGame(ctx context.Context, name, ownerID string, capacity int, image string, ports []int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.games {
		if g.Name == name {
			return 0, ErrConstraintViolation
		}
	}

	id := s.nextGame
	s.nextGame++

	portsCopy := make([]int64, len(ports))
	for i, p := range ports {
		portsCopy[i] = int64(p)
	}

	s.games[id] = &models.Game{
		GameID:        id,
		Name:          name,
		OwnerID:       ownerID,
		Capacity:      capacity,
		Image:         image,
		InternalPorts: portsCopy,
		CreatedAt:     time.Now(),
	}
	return id, nil
}

func (s *MemoryStore) GetGameByID(ctx context.Context, id int) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) GetGameByName(ctx context.Context, name string) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.games {
		if g.Name == name {
			cp := *g
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetAllGames(ctx context.Context) ([]*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Game, 0, len(s.games))
	for _, g := range s.games {
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) GetGamesByOwner(ctx context.Context, ownerID string) ([]*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Game, 0)
	for _, g := range s.games {
		if g.OwnerID == ownerID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}
