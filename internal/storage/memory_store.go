package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/churst90/open-fps-sub000/internal/world"
)

// MemoryStore — потокобезопасное in-memory хранилище для тестов и
// однопроцессных запусков без персистентности. Повторяет семантику
// BadgerStore (ErrNotFound/ErrExists, case-insensitive имена пользователей).
type MemoryStore struct {
	mu      sync.RWMutex
	maps    map[string]*world.MapSnapshot
	users   map[string]*world.User
	ai      map[string]*world.AIEntity
	weapons map[string]*world.Weapon
	items   map[string]*world.Item
	recipes map[string]*world.Recipe
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		maps:    make(map[string]*world.MapSnapshot),
		users:   make(map[string]*world.User),
		ai:      make(map[string]*world.AIEntity),
		weapons: make(map[string]*world.Weapon),
		items:   make(map[string]*world.Item),
		recipes: make(map[string]*world.Recipe),
	}
}

//================ MapRepo =================//

func (s *MemoryStore) Maps() MapRepo { return &memMapRepo{s} }

type memMapRepo struct{ s *MemoryStore }

func (r *memMapRepo) Save(ctx context.Context, snap *world.MapSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.maps[snap.Name] = snap
	return nil
}

func (r *memMapRepo) Load(ctx context.Context, name string) (*world.MapSnapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	snap, ok := r.s.maps[name]
	if !ok {
		return nil, ErrNotFound
	}
	return snap, nil
}

func (r *memMapRepo) Remove(ctx context.Context, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.maps[name]; !ok {
		return ErrNotFound
	}
	delete(r.s.maps, name)
	return nil
}

func (r *memMapRepo) Exists(ctx context.Context, name string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.maps[name]
	return ok, nil
}

func (r *memMapRepo) List(ctx context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	names := make([]string, 0, len(r.s.maps))
	for name := range r.s.maps {
		names = append(names, name)
	}
	return names, nil
}

//================ UserRepo =================//

func (s *MemoryStore) Users() UserRepo { return &memUserRepo{s} }

type memUserRepo struct{ s *MemoryStore }

func (r *memUserRepo) Create(ctx context.Context, u *world.User) error {
	key := strings.ToLower(u.Username)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.users[key]; exists {
		return ErrExists
	}
	r.s.users[key] = u
	return nil
}

func (r *memUserRepo) Save(ctx context.Context, u *world.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[strings.ToLower(u.Username)] = u
	return nil
}

func (r *memUserRepo) Load(ctx context.Context, username string) (*world.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *memUserRepo) Remove(ctx context.Context, username string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := strings.ToLower(username)
	if _, ok := r.s.users[key]; !ok {
		return ErrNotFound
	}
	delete(r.s.users, key)
	return nil
}

func (r *memUserRepo) Exists(ctx context.Context, username string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.users[strings.ToLower(username)]
	return ok, nil
}

//================ Остальные сущности =================//

func (s *MemoryStore) AI() AIRepo { return &memAIRepo{s} }

type memAIRepo struct{ s *MemoryStore }

func (r *memAIRepo) Save(ctx context.Context, e *world.AIEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.ai[e.Key] = e
	return nil
}

func (r *memAIRepo) Load(ctx context.Context, key string) (*world.AIEntity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.ai[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (r *memAIRepo) Remove(ctx context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.ai[key]; !ok {
		return ErrNotFound
	}
	delete(r.s.ai, key)
	return nil
}

func (s *MemoryStore) Weapons() WeaponRepo { return &memWeaponRepo{s} }

type memWeaponRepo struct{ s *MemoryStore }

func (r *memWeaponRepo) Save(ctx context.Context, wp *world.Weapon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.weapons[wp.Key] = wp
	return nil
}

func (r *memWeaponRepo) Load(ctx context.Context, key string) (*world.Weapon, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	wp, ok := r.s.weapons[key]
	if !ok {
		return nil, ErrNotFound
	}
	return wp, nil
}

func (r *memWeaponRepo) Remove(ctx context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.weapons[key]; !ok {
		return ErrNotFound
	}
	delete(r.s.weapons, key)
	return nil
}

func (s *MemoryStore) Items() ItemRepo { return &memItemRepo{s} }

type memItemRepo struct{ s *MemoryStore }

func (r *memItemRepo) Save(ctx context.Context, it *world.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.items[it.Key] = it
	return nil
}

func (r *memItemRepo) Load(ctx context.Context, key string) (*world.Item, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	it, ok := r.s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return it, nil
}

func (r *memItemRepo) Remove(ctx context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.items[key]; !ok {
		return ErrNotFound
	}
	delete(r.s.items, key)
	return nil
}

func (s *MemoryStore) Recipes() RecipeRepo { return &memRecipeRepo{s} }

type memRecipeRepo struct{ s *MemoryStore }

func (r *memRecipeRepo) Save(ctx context.Context, rec *world.Recipe) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.recipes[rec.Key] = rec
	return nil
}

func (r *memRecipeRepo) Load(ctx context.Context, key string) (*world.Recipe, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.recipes[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *memRecipeRepo) Remove(ctx context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.recipes[key]; !ok {
		return ErrNotFound
	}
	delete(r.s.recipes, key)
	return nil
}
