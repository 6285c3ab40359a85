package world

import (
	"errors"
	"testing"

	"github.com/churst90/open-fps-sub000/internal/vec"
)

func testMap(t *testing.T) *Map {
	t.Helper()
	m, err := NewMap("arena", NewBounds(0, 10, 0, 10, 0, 10), vec.Vec3{X: 5, Y: 5, Z: 0}, true)
	if err != nil {
		t.Fatalf("Ошибка создания карты: %v", err)
	}
	return m
}

func TestNewMapValidation(t *testing.T) {
	// Стартовая позиция вне границ отклоняется
	if _, err := NewMap("bad", NewBounds(0, 10, 0, 10, 0, 10), vec.Vec3{X: 50, Y: 5, Z: 0}, true); err == nil {
		t.Error("Карта со стартом вне границ создана")
	}

	// NewBounds нормализует перепутанные углы
	b := NewBounds(10, 0, 10, 0, 10, 0)
	if b.MinX != 0 || b.MaxX != 10 {
		t.Errorf("Границы не нормализованы: %+v", b)
	}
}

func TestAddTileInvariant(t *testing.T) {
	m := testMap(t)

	// Тайл целиком внутри границ — принят
	tile, err := m.AddTile(NewBounds(1, 2, 1, 2, 0, 1), TileBrick, true)
	if err != nil {
		t.Fatalf("Ошибка добавления тайла: %v", err)
	}
	if tile.Key == "" {
		t.Error("Тайлу не присвоен ключ")
	}

	// Тайл, выходящий за границы — отклонён
	if _, err := m.AddTile(NewBounds(8, 12, 1, 2, 0, 1), TileBrick, true); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Ожидалась ошибка ErrOutOfBounds, получено %v", err)
	}

	// Неизвестный тип тайла — отклонён
	if _, err := m.AddTile(NewBounds(1, 2, 1, 2, 0, 1), TileType("lava"), true); !errors.Is(err, ErrInvalidTile) {
		t.Errorf("Ожидалась ошибка ErrInvalidTile, получено %v", err)
	}
}

func TestRemoveTile(t *testing.T) {
	m := testMap(t)
	tile, _ := m.AddTile(NewBounds(1, 2, 1, 2, 0, 1), TileBrick, true)

	if err := m.RemoveTile(tile.Key); err != nil {
		t.Fatalf("Ошибка удаления тайла: %v", err)
	}
	if err := m.RemoveTile(tile.Key); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("Повторное удаление: ожидалась ErrTileNotFound, получено %v", err)
	}
}

func TestAddZoneInvariant(t *testing.T) {
	m := testMap(t)

	zone, err := m.AddZone(Zone{Label: "spawn", Bounds: NewBounds(4, 6, 4, 6, 0, 2), IsSafe: true})
	if err != nil {
		t.Fatalf("Ошибка добавления зоны: %v", err)
	}
	if zone.Key == "" {
		t.Error("Зоне не присвоен ключ")
	}
	if zone.Type != ZoneNormal {
		t.Errorf("Ожидался тип normal по умолчанию, получено %s", zone.Type)
	}

	if _, err := m.AddZone(Zone{Label: "bad", Bounds: NewBounds(8, 12, 4, 6, 0, 2)}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Ожидалась ошибка ErrOutOfBounds, получено %v", err)
	}
}

func TestZoneAt(t *testing.T) {
	m := testMap(t)
	m.AddZone(Zone{Label: "spawn", Bounds: NewBounds(4, 6, 4, 6, 0, 2), IsSafe: true})

	z := m.ZoneAt(vec.Vec3{X: 5, Y: 5, Z: 1})
	if z == nil || z.Label != "spawn" {
		t.Fatalf("Зона spawn не найдена в точке (5,5,1): %+v", z)
	}
	if m.ZoneAt(vec.Vec3{X: 9, Y: 9, Z: 9}) != nil {
		t.Error("Найдена зона в точке вне всех зон")
	}
}

// Снимок — глубокая копия: последующие мутации карты его не меняют.
func TestSnapshotIsolation(t *testing.T) {
	m := testMap(t)
	tile, _ := m.AddTile(NewBounds(1, 2, 1, 2, 0, 1), TileBrick, true)

	snap := m.Snapshot()
	if len(snap.Tiles) != 1 {
		t.Fatalf("Ожидался 1 тайл в снимке, получено %d", len(snap.Tiles))
	}

	m.RemoveTile(tile.Key)
	m.SetPhysics(PhysicsParams{Gravity: 1, AirResistance: 0, Friction: 0})

	if len(snap.Tiles) != 1 {
		t.Error("Снимок изменился после мутации карты")
	}
	if snap.Physics.Gravity != DefaultPhysics().Gravity {
		t.Error("Физика снимка изменилась после мутации карты")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	m := testMap(t)
	m.AddOwner("alice")
	m.AddTile(NewBounds(1, 2, 1, 2, 0, 1), TileBrick, true)
	m.AddZone(Zone{Label: "spawn", Bounds: NewBounds(4, 6, 4, 6, 0, 2)})
	m.SetPhysics(PhysicsParams{Gravity: 3.7, AirResistance: 0.2, Friction: 0.9})

	restored, err := Restore(m.Snapshot())
	if err != nil {
		t.Fatalf("Ошибка восстановления: %v", err)
	}

	if restored.Name() != "arena" {
		t.Errorf("Имя не восстановлено: %s", restored.Name())
	}
	if !restored.IsOwner("alice") {
		t.Error("Владелец не восстановлен")
	}
	if restored.Physics().Gravity != 3.7 {
		t.Errorf("Физика не восстановлена: %+v", restored.Physics())
	}
	snap := restored.Snapshot()
	if len(snap.Tiles) != 1 || len(snap.Zones) != 1 {
		t.Errorf("Тайлы/зоны не восстановлены: %d/%d", len(snap.Tiles), len(snap.Zones))
	}
}

func TestManagerOnlineTracking(t *testing.T) {
	mgr := NewManager()
	mgr.AddMap(testMap(t))

	alice := NewUser("alice", "hash", RolePlayer)
	alice.CurrentMap = "arena"
	bob := NewUser("bob", "hash", RolePlayer)
	bob.CurrentMap = "other"

	mgr.SetOnline(alice)
	mgr.SetOnline(bob)

	onArena := mgr.UsersOnMap("arena")
	if len(onArena) != 1 || onArena[0].Username != "alice" {
		t.Fatalf("Ожидалась только alice на arena, получено %d", len(onArena))
	}

	mgr.RemoveOnline("alice")
	if len(mgr.UsersOnMap("arena")) != 0 {
		t.Error("alice осталась на карте после RemoveOnline")
	}
}

func TestRoleCanEditMaps(t *testing.T) {
	if RolePlayer.CanEditMaps() {
		t.Error("player получил право редактирования")
	}
	if !RoleAdmin.CanEditMaps() || !RoleDeveloper.CanEditMaps() {
		t.Error("admin/developer лишены права редактирования")
	}
}
