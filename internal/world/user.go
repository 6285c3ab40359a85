package world

import (
	"time"

	"github.com/churst90/open-fps-sub000/internal/vec"
)

// Role определяет роль аккаунта для проверок прав.
type Role string

const (
	RolePlayer    Role = "player"
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
)

// IsValidRole проверяет принадлежность роли перечислению.
func IsValidRole(r Role) bool {
	return r == RolePlayer || r == RoleAdmin || r == RoleDeveloper
}

// CanEditMaps — право на создание/удаление карт и редактирование тайлов/зон
// (дополнительно к владению конкретной картой).
func (r Role) CanEditMaps() bool {
	return r == RoleAdmin || r == RoleDeveloper
}

// DefaultVitals — стартовые здоровье и энергия.
const DefaultVitals = 10000

// User — учётная запись и одновременно рантайм-состояние игрока.
// Username уникален; PasswordHash — bcrypt. Позиция и ориентация
// мутируются только MovementService и сохраняются при каждом изменении.
type User struct {
	Username     string         `json:"username"`
	PasswordHash string         `json:"password_hash"`
	Role         Role           `json:"role"`
	CurrentMap   string         `json:"current_map"`
	CurrentZone  string         `json:"current_zone"`
	Position     vec.Vec3       `json:"position"`
	Yaw          float64        `json:"yaw"`
	Pitch        float64        `json:"pitch"`
	Health       int            `json:"health"`
	Energy       int            `json:"energy"`
	Inventory    map[string]int `json:"inventory"`
	Weapon       string         `json:"weapon,omitempty"`
	LoggedIn     bool           `json:"logged_in"`
	CreatedAt    time.Time      `json:"created_at"`
	LastLogin    time.Time      `json:"last_login"`
}

// NewUser создаёт аккаунт с дефолтными жизненными показателями.
func NewUser(username, passwordHash string, role Role) *User {
	return &User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		Health:       DefaultVitals,
		Energy:       DefaultVitals,
		Inventory:    make(map[string]int),
		CreatedAt:    time.Now(),
	}
}
