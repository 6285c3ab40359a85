package network

import "sync"

// ConnectionManager сопоставляет стабильную идентичность пользователя
// (username) и транзиентную идентичность соединения (connID).
// Инвариант: в любой момент не более одного connID на username и наоборот.
// Все мутации сериализованы одним мьютексом — их зовут конкурентно из
// множества задач соединений.
type ConnectionManager struct {
	mu         sync.Mutex
	byUsername map[string]string // username -> connID
	byConn     map[string]string // connID -> username
}

// NewConnectionManager создаёт пустой реестр соединений.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byUsername: make(map[string]string),
		byConn:     make(map[string]string),
	}
}

// RegisterLogin идемпотентно заменяет прежнее соединение пользователя.
// Старое соединение здесь НЕ закрывается — это обязанность сетевого
// сервера при дисконнекте.
func (cm *ConnectionManager) RegisterLogin(username, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Повторный логин с другого места вытесняет прежний маппинг.
	if oldConn, ok := cm.byUsername[username]; ok {
		delete(cm.byConn, oldConn)
	}
	// Если на этом соединении уже висел другой пользователь — снимаем.
	if oldUser, ok := cm.byConn[connID]; ok {
		delete(cm.byUsername, oldUser)
	}

	cm.byUsername[username] = connID
	cm.byConn[connID] = username
}

// RegisterLogout снимает оба направления маппинга по имени пользователя.
func (cm *ConnectionManager) RegisterLogout(username string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connID, ok := cm.byUsername[username]; ok {
		delete(cm.byConn, connID)
	}
	delete(cm.byUsername, username)
}

// HandleDisconnect снимает оба направления маппинга по идентичности
// соединения. Возвращает имя пользователя, если оно было привязано.
func (cm *ConnectionManager) HandleDisconnect(connID string) (string, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	username, ok := cm.byConn[connID]
	if ok {
		delete(cm.byUsername, username)
	}
	delete(cm.byConn, connID)
	return username, ok
}

// GetConnectionByUsername возвращает connID пользователя (O(1)).
func (cm *ConnectionManager) GetConnectionByUsername(username string) (string, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	connID, ok := cm.byUsername[username]
	return connID, ok
}

// GetUsernameByConnection возвращает username соединения (O(1)).
func (cm *ConnectionManager) GetUsernameByConnection(connID string) (string, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	username, ok := cm.byConn[connID]
	return username, ok
}

// OnlineCount возвращает число привязанных пользователей.
func (cm *ConnectionManager) OnlineCount() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.byUsername)
}
