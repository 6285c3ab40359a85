package world

import (
	"errors"
	"sync"
)

// Ошибки реестра мира.
var (
	ErrMapNotFound = errors.New("map not found")
	ErrMapExists   = errors.New("map already exists")
)

// Manager — авторитетный реестр мира: карты, онлайн-игроки, AI сущности.
// Каждым типом сущности владеет свой сервис; Manager лишь сериализует
// доступ к реестру (мутации под мьютексом, чтение под RLock).
type Manager struct {
	mu     sync.RWMutex
	maps   map[string]*Map
	online map[string]*User
	ai     map[string]*AIEntity
}

// NewManager создаёт пустой реестр мира.
func NewManager() *Manager {
	return &Manager{
		maps:   make(map[string]*Map),
		online: make(map[string]*User),
		ai:     make(map[string]*AIEntity),
	}
}

// AddMap регистрирует карту. Имя — уникальный ключ.
func (w *Manager) AddMap(m *Map) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.maps[m.Name()]; exists {
		return ErrMapExists
	}
	w.maps[m.Name()] = m
	return nil
}

// RemoveMap удаляет карту из реестра.
func (w *Manager) RemoveMap(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.maps[name]; !exists {
		return ErrMapNotFound
	}
	delete(w.maps, name)
	return nil
}

// GetMap возвращает карту по имени.
func (w *Manager) GetMap(name string) (*Map, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	m, ok := w.maps[name]
	if !ok {
		return nil, ErrMapNotFound
	}
	return m, nil
}

// MapNames возвращает имена всех зарегистрированных карт.
func (w *Manager) MapNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.maps))
	for name := range w.maps {
		names = append(names, name)
	}
	return names
}

// SetOnline регистрирует рантайм-экземпляр пользователя после логина.
func (w *Manager) SetOnline(u *User) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.online[u.Username] = u
}

// RemoveOnline убирает пользователя из онлайна (logout/disconnect).
func (w *Manager) RemoveOnline(username string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.online, username)
}

// Online возвращает рантайм-экземпляр залогиненного пользователя.
func (w *Manager) Online(username string) (*User, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	u, ok := w.online[username]
	return u, ok
}

// OnlineUsers возвращает всех залогиненных пользователей.
func (w *Manager) OnlineUsers() []*User {
	w.mu.RLock()
	defer w.mu.RUnlock()
	users := make([]*User, 0, len(w.online))
	for _, u := range w.online {
		users = append(users, u)
	}
	return users
}

// UsersOnMap возвращает залогиненных пользователей на карте.
// Поиск всегда по текущему состоянию, без кеширования.
func (w *Manager) UsersOnMap(mapName string) []*User {
	w.mu.RLock()
	defer w.mu.RUnlock()
	users := make([]*User, 0)
	for _, u := range w.online {
		if u.CurrentMap == mapName {
			users = append(users, u)
		}
	}
	return users
}

// AddAI регистрирует AI сущность.
func (w *Manager) AddAI(e *AIEntity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ai[e.Key] = e
}

// RemoveAI удаляет AI сущность по ключу.
func (w *Manager) RemoveAI(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.ai[key]; !ok {
		return false
	}
	delete(w.ai, key)
	return true
}

// GetAI возвращает AI сущность по ключу.
func (w *Manager) GetAI(key string) (*AIEntity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.ai[key]
	return e, ok
}

// AIOnMap возвращает AI сущности на карте.
func (w *Manager) AIOnMap(mapName string) []*AIEntity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	list := make([]*AIEntity, 0)
	for _, e := range w.ai {
		if e.MapName == mapName {
			list = append(list, e)
		}
	}
	return list
}
