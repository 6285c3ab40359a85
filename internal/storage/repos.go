package storage

import (
	"context"
	"errors"

	"github.com/churst90/open-fps-sub000/internal/world"
)

// Доменные ошибки хранилища.
var (
	ErrNotFound = errors.New("record not found")
	ErrExists   = errors.New("record already exists")
)

// Репозитории абстрагированы интерфейсами, чтобы бекенд был заменяем
// (Badger по умолчанию, in-memory для тестов, MariaDB для пользователей).
// Все операции принимают контекст для отмены.

// MapRepo хранит снимки карт.
type MapRepo interface {
	Save(ctx context.Context, snap *world.MapSnapshot) error
	Load(ctx context.Context, name string) (*world.MapSnapshot, error)
	Remove(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

// UserRepo хранит учётные записи.
// Create возвращает ErrExists при конфликте имени (имена сравниваются
// без учёта регистра); это единственная защита от дубликатов аккаунтов.
type UserRepo interface {
	Create(ctx context.Context, u *world.User) error
	Save(ctx context.Context, u *world.User) error
	Load(ctx context.Context, username string) (*world.User, error)
	Remove(ctx context.Context, username string) error
	Exists(ctx context.Context, username string) (bool, error)
}

// AIRepo хранит AI сущности.
type AIRepo interface {
	Save(ctx context.Context, e *world.AIEntity) error
	Load(ctx context.Context, key string) (*world.AIEntity, error)
	Remove(ctx context.Context, key string) error
}

// WeaponRepo хранит описания оружия.
type WeaponRepo interface {
	Save(ctx context.Context, wp *world.Weapon) error
	Load(ctx context.Context, key string) (*world.Weapon, error)
	Remove(ctx context.Context, key string) error
}

// ItemRepo хранит предметы.
type ItemRepo interface {
	Save(ctx context.Context, it *world.Item) error
	Load(ctx context.Context, key string) (*world.Item, error)
	Remove(ctx context.Context, key string) error
}

// RecipeRepo хранит рецепты крафта.
type RecipeRepo interface {
	Save(ctx context.Context, r *world.Recipe) error
	Load(ctx context.Context, key string) (*world.Recipe, error)
	Remove(ctx context.Context, key string) error
}
