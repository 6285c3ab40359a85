package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/churst90/open-fps-sub000/internal/world"
)

// MariaUserRepo реализует UserRepo поверх MariaDB.
// Вариант для инсталляций, где аккаунты разделяются с другими сервисами;
// по умолчанию сервер использует BadgerStore.
type MariaUserRepo struct {
	db *sql.DB
}

// NewMariaUserRepo открывает подключение по DSN
// (формат: user:pass@tcp(host:3306)/openfps?charset=utf8mb4&parseTime=True).
func NewMariaUserRepo(dsn string) (*MariaUserRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaUserRepo{db: db}

	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return repo, nil
}

// createTables создает таблицу users, если её нет.
// Жизненные показатели, инвентарь и ориентация лежат в JSON колонке state —
// схема не меняется при добавлении игровых полей.
func (m *MariaUserRepo) createTables() error {
	createUsersTable := `
	CREATE TABLE IF NOT EXISTS users (
		username VARCHAR(50) NOT NULL PRIMARY KEY,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(20) NOT NULL DEFAULT 'player',
		state JSON NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_login TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createUsersTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу users: %w", err)
	}
	return nil
}

// Close закрывает подключение к БД.
func (m *MariaUserRepo) Close() error {
	return m.db.Close()
}

// Create вставляет нового пользователя; ErrExists при конфликте имени.
func (m *MariaUserRepo) Create(ctx context.Context, u *world.User) error {
	state, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, role, state) VALUES (?, ?, ?, ?)",
		strings.ToLower(u.Username), u.PasswordHash, string(u.Role), state)
	if err != nil {
		// 1062 = duplicate entry
		if strings.Contains(err.Error(), "1062") {
			return ErrExists
		}
		return fmt.Errorf("ошибка вставки пользователя: %w", err)
	}
	return nil
}

// Save обновляет состояние пользователя (upsert).
func (m *MariaUserRepo) Save(ctx context.Context, u *world.User) error {
	state, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, state) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE password_hash=VALUES(password_hash), role=VALUES(role), state=VALUES(state)`,
		strings.ToLower(u.Username), u.PasswordHash, string(u.Role), state)
	if err != nil {
		return fmt.Errorf("ошибка сохранения пользователя: %w", err)
	}
	return nil
}

// Load читает пользователя по имени (case-insensitive).
func (m *MariaUserRepo) Load(ctx context.Context, username string) (*world.User, error) {
	var state []byte
	err := m.db.QueryRowContext(ctx,
		"SELECT state FROM users WHERE username = ?", strings.ToLower(username)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пользователя: %w", err)
	}

	var u world.User
	if err := json.Unmarshal(state, &u); err != nil {
		return nil, fmt.Errorf("ошибка десериализации пользователя %s: %w", username, err)
	}
	return &u, nil
}

// Remove удаляет пользователя.
func (m *MariaUserRepo) Remove(ctx context.Context, username string) error {
	res, err := m.db.ExecContext(ctx,
		"DELETE FROM users WHERE username = ?", strings.ToLower(username))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists проверяет наличие пользователя.
func (m *MariaUserRepo) Exists(ctx context.Context, username string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE username = ?", strings.ToLower(username)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
