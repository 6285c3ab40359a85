package world

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/churst90/open-fps-sub000/internal/vec"
)

// Доменные ошибки карты.
var (
	ErrTileNotFound  = errors.New("tile not found")
	ErrZoneNotFound  = errors.New("zone not found")
	ErrOutOfBounds   = errors.New("extent outside map bounds")
	ErrInvalidTile   = errors.New("invalid tile type")
	ErrInvalidBounds = errors.New("invalid bounds")
)

// PhysicsParams — физические параметры карты.
type PhysicsParams struct {
	Gravity       float64 `json:"gravity"`
	AirResistance float64 `json:"air_resistance"`
	Friction      float64 `json:"friction"`
}

// DefaultPhysics возвращает параметры по умолчанию для новой карты.
func DefaultPhysics() PhysicsParams {
	return PhysicsParams{Gravity: 9.8, AirResistance: 0.1, Friction: 0.5}
}

// Map — именованная ограниченная 3D область с тайлами, зонами и владельцами.
// Мутации идут только через методы под внутренним мьютексом; читатели
// (коллизии, рассылки) получают консистентный снимок через Snapshot().
type Map struct {
	mu sync.RWMutex

	name    string
	bounds  Bounds
	start   vec.Vec3
	visible bool
	owners  map[string]struct{}
	tiles   map[string]*Tile
	zones   map[string]*Zone
	physics PhysicsParams
}

// NewMap создаёт пустую карту. Стартовая позиция обязана лежать в границах.
func NewMap(name string, bounds Bounds, start vec.Vec3, visible bool) (*Map, error) {
	if err := bounds.Validate(); err != nil {
		return nil, ErrInvalidBounds
	}
	if !bounds.Contains(start) {
		return nil, fmt.Errorf("стартовая позиция вне границ карты %s", name)
	}
	return &Map{
		name:    name,
		bounds:  bounds,
		start:   start,
		visible: visible,
		owners:  make(map[string]struct{}),
		tiles:   make(map[string]*Tile),
		zones:   make(map[string]*Zone),
		physics: DefaultPhysics(),
	}, nil
}

// Name возвращает уникальное имя карты.
func (m *Map) Name() string { return m.name }

// Bounds возвращает границы карты.
func (m *Map) Bounds() Bounds { return m.bounds }

// Start возвращает стартовую позицию.
func (m *Map) Start() vec.Vec3 { return m.start }

// AddOwner добавляет владельца карты.
func (m *Map) AddOwner(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[username] = struct{}{}
}

// IsOwner проверяет владение картой.
func (m *Map) IsOwner(username string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.owners[username]
	return ok
}

// AddTile добавляет тайл со сгенерированным ключом.
// Инвариант: объём тайла целиком внутри границ карты.
func (m *Map) AddTile(extent Bounds, tileType TileType, isWall bool) (*Tile, error) {
	if err := extent.Validate(); err != nil {
		return nil, ErrInvalidBounds
	}
	if !IsValidTileType(tileType) {
		return nil, ErrInvalidTile
	}
	if !m.bounds.ContainsBounds(extent) {
		return nil, ErrOutOfBounds
	}

	tile := &Tile{
		Key:    uuid.NewString(),
		Extent: extent,
		Type:   tileType,
		IsWall: isWall,
	}

	m.mu.Lock()
	m.tiles[tile.Key] = tile
	m.mu.Unlock()
	return tile, nil
}

// RemoveTile удаляет тайл по ключу.
func (m *Map) RemoveTile(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tiles[key]; !ok {
		return ErrTileNotFound
	}
	delete(m.tiles, key)
	return nil
}

// AddZone добавляет зону со сгенерированным ключом.
// Инвариант: объём зоны целиком внутри границ карты.
func (m *Map) AddZone(z Zone) (*Zone, error) {
	if err := z.Bounds.Validate(); err != nil {
		return nil, ErrInvalidBounds
	}
	if !m.bounds.ContainsBounds(z.Bounds) {
		return nil, ErrOutOfBounds
	}
	if z.Type == "" {
		z.Type = ZoneNormal
	}

	z.Key = uuid.NewString()
	zone := &z

	m.mu.Lock()
	m.zones[zone.Key] = zone
	m.mu.Unlock()
	return zone, nil
}

// RemoveZone удаляет зону по ключу.
func (m *Map) RemoveZone(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[key]; !ok {
		return ErrZoneNotFound
	}
	delete(m.zones, key)
	return nil
}

// SetPhysics обновляет физические параметры карты.
func (m *Map) SetPhysics(p PhysicsParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.physics = p
}

// Physics возвращает текущие физические параметры.
func (m *Map) Physics() PhysicsParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.physics
}

// ZoneAt возвращает первую зону, содержащую позицию (или nil).
func (m *Map) ZoneAt(pos vec.Vec3) *Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, z := range m.zones {
		if z.Bounds.Contains(pos) {
			return z
		}
	}
	return nil
}

// Snapshot возвращает глубокую копию состояния карты для чтения без блокировок.
// Проверка коллизий обязана выполняться против свежего снимка в момент вызова.
func (m *Map) Snapshot() *MapSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &MapSnapshot{
		Name:    m.name,
		Bounds:  m.bounds,
		Start:   m.start,
		Visible: m.visible,
		Owners:  make([]string, 0, len(m.owners)),
		Tiles:   make(map[string]Tile, len(m.tiles)),
		Zones:   make(map[string]Zone, len(m.zones)),
		Physics: m.physics,
	}
	for owner := range m.owners {
		snap.Owners = append(snap.Owners, owner)
	}
	for k, t := range m.tiles {
		snap.Tiles[k] = *t
	}
	for k, z := range m.zones {
		snap.Zones[k] = *z
	}
	return snap
}

// MapSnapshot — консистентная копия карты на момент вызова Snapshot().
// Сериализуется в полезную нагрузку map_join_ok и в хранилище.
type MapSnapshot struct {
	Name    string          `json:"map_name"`
	Bounds  Bounds          `json:"bounds"`
	Start   vec.Vec3        `json:"start_position"`
	Visible bool            `json:"is_public"`
	Owners  []string        `json:"owners"`
	Tiles   map[string]Tile `json:"tiles"`
	Zones   map[string]Zone `json:"zones"`
	Physics PhysicsParams   `json:"physics"`
}

// Restore собирает карту из снимка (загрузка из хранилища).
func Restore(snap *MapSnapshot) (*Map, error) {
	m, err := NewMap(snap.Name, snap.Bounds, snap.Start, snap.Visible)
	if err != nil {
		return nil, err
	}
	m.physics = snap.Physics
	for _, owner := range snap.Owners {
		m.owners[owner] = struct{}{}
	}
	for k, t := range snap.Tiles {
		tile := t
		m.tiles[k] = &tile
	}
	for k, z := range snap.Zones {
		zone := z
		m.zones[k] = &zone
	}
	return m, nil
}
