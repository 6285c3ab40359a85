package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/churst90/open-fps-sub000/internal/world"
)

// BadgerStore — постоянное хранилище всех сущностей поверх BadgerDB.
// Одна база, пространство ключей разделено префиксами по типу сущности.
// Путь записи сериализован мьютексом: подтверждение запроса никогда не
// обгоняет долговечность.
type BadgerStore struct {
	db      *badger.DB
	writeMu sync.Mutex
	isReady bool
}

const (
	prefixMap    = "map:"
	prefixUser   = "user:"
	prefixAI     = "ai:"
	prefixWeapon = "weapon:"
	prefixItem   = "item:"
	prefixRecipe = "recipe:"
)

// NewBadgerStore открывает (или создаёт) базу в <dataDir>/world.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataDir, "world")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{db: db, isReady: true}, nil
}

// Close закрывает базу. Дальнейшие операции возвращают ошибку.
func (s *BadgerStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.isReady {
		return nil
	}
	s.isReady = false
	return s.db.Close()
}

func (s *BadgerStore) put(ctx context.Context, key string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("сериализация %s: %w", key, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *BadgerStore) get(ctx context.Context, key string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *BadgerStore) delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *BadgerStore) exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), prefix))
		}
		return nil
	})
	return keys, err
}

//================ MapRepo =================//

// Maps возвращает репозиторий карт поверх этого хранилища.
func (s *BadgerStore) Maps() MapRepo { return &badgerMapRepo{s} }

type badgerMapRepo struct{ s *BadgerStore }

func (r *badgerMapRepo) Save(ctx context.Context, snap *world.MapSnapshot) error {
	return r.s.put(ctx, prefixMap+snap.Name, snap)
}

func (r *badgerMapRepo) Load(ctx context.Context, name string) (*world.MapSnapshot, error) {
	var snap world.MapSnapshot
	if err := r.s.get(ctx, prefixMap+name, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *badgerMapRepo) Remove(ctx context.Context, name string) error {
	return r.s.delete(ctx, prefixMap+name)
}

func (r *badgerMapRepo) Exists(ctx context.Context, name string) (bool, error) {
	return r.s.exists(ctx, prefixMap+name)
}

func (r *badgerMapRepo) List(ctx context.Context) ([]string, error) {
	return r.s.listKeys(ctx, prefixMap)
}

//================ UserRepo =================//

// Users возвращает репозиторий пользователей поверх этого хранилища.
func (s *BadgerStore) Users() UserRepo { return &badgerUserRepo{s} }

type badgerUserRepo struct{ s *BadgerStore }

func userKey(username string) string {
	return prefixUser + strings.ToLower(username)
}

func (r *badgerUserRepo) Create(ctx context.Context, u *world.User) error {
	exists, err := r.s.exists(ctx, userKey(u.Username))
	if err != nil {
		return err
	}
	if exists {
		return ErrExists
	}
	return r.s.put(ctx, userKey(u.Username), u)
}

func (r *badgerUserRepo) Save(ctx context.Context, u *world.User) error {
	return r.s.put(ctx, userKey(u.Username), u)
}

func (r *badgerUserRepo) Load(ctx context.Context, username string) (*world.User, error) {
	var u world.User
	if err := r.s.get(ctx, userKey(username), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *badgerUserRepo) Remove(ctx context.Context, username string) error {
	return r.s.delete(ctx, userKey(username))
}

func (r *badgerUserRepo) Exists(ctx context.Context, username string) (bool, error) {
	return r.s.exists(ctx, userKey(username))
}

//================ Остальные сущности =================//

// AI возвращает репозиторий AI сущностей.
func (s *BadgerStore) AI() AIRepo { return &badgerAIRepo{s} }

type badgerAIRepo struct{ s *BadgerStore }

func (r *badgerAIRepo) Save(ctx context.Context, e *world.AIEntity) error {
	return r.s.put(ctx, prefixAI+e.Key, e)
}

func (r *badgerAIRepo) Load(ctx context.Context, key string) (*world.AIEntity, error) {
	var e world.AIEntity
	if err := r.s.get(ctx, prefixAI+key, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *badgerAIRepo) Remove(ctx context.Context, key string) error {
	return r.s.delete(ctx, prefixAI+key)
}

// Weapons возвращает репозиторий оружия.
func (s *BadgerStore) Weapons() WeaponRepo { return &badgerWeaponRepo{s} }

type badgerWeaponRepo struct{ s *BadgerStore }

func (r *badgerWeaponRepo) Save(ctx context.Context, wp *world.Weapon) error {
	return r.s.put(ctx, prefixWeapon+wp.Key, wp)
}

func (r *badgerWeaponRepo) Load(ctx context.Context, key string) (*world.Weapon, error) {
	var wp world.Weapon
	if err := r.s.get(ctx, prefixWeapon+key, &wp); err != nil {
		return nil, err
	}
	return &wp, nil
}

func (r *badgerWeaponRepo) Remove(ctx context.Context, key string) error {
	return r.s.delete(ctx, prefixWeapon+key)
}

// Items возвращает репозиторий предметов.
func (s *BadgerStore) Items() ItemRepo { return &badgerItemRepo{s} }

type badgerItemRepo struct{ s *BadgerStore }

func (r *badgerItemRepo) Save(ctx context.Context, it *world.Item) error {
	return r.s.put(ctx, prefixItem+it.Key, it)
}

func (r *badgerItemRepo) Load(ctx context.Context, key string) (*world.Item, error) {
	var it world.Item
	if err := r.s.get(ctx, prefixItem+key, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *badgerItemRepo) Remove(ctx context.Context, key string) error {
	return r.s.delete(ctx, prefixItem+key)
}

// Recipes возвращает репозиторий рецептов.
func (s *BadgerStore) Recipes() RecipeRepo { return &badgerRecipeRepo{s} }

type badgerRecipeRepo struct{ s *BadgerStore }

func (r *badgerRecipeRepo) Save(ctx context.Context, rec *world.Recipe) error {
	return r.s.put(ctx, prefixRecipe+rec.Key, rec)
}

func (r *badgerRecipeRepo) Load(ctx context.Context, key string) (*world.Recipe, error) {
	var rec world.Recipe
	if err := r.s.get(ctx, prefixRecipe+key, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *badgerRecipeRepo) Remove(ctx context.Context, key string) error {
	return r.s.delete(ctx, prefixRecipe+key)
}
