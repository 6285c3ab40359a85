package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/vec"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// createArena создаёт карту "Arena" от имени админа и возвращает его токен.
func createArena(t *testing.T, te *testEnv, connID string) string {
	t.Helper()
	token := te.loginAs(connID, "admin", world.RoleAdmin)
	te.dispatch(connID, request(t, protocol.MsgMapCreateRequest, "admin", token, protocol.MapCreateRequest{
		Name: "Arena",
		MinX: 0, MaxX: 20,
		MinY: 0, MaxY: 20,
		MinZ: 0, MaxZ: 5,
		Start:  vec.Vec3{X: 5, Y: 5, Z: 0},
		Public: true,
	}))
	if fail := te.net.lastOf(connID, protocol.MsgMapCreateFail); fail != nil {
		t.Fatalf("Ошибка создания карты: %s", fail.Reason)
	}
	return token
}

func TestMapCreate(t *testing.T) {
	te := newTestEnv(t)
	createArena(t, te, "conn-1")

	m, err := te.world.GetMap("Arena")
	if err != nil {
		t.Fatalf("Карта не зарегистрирована: %v", err)
	}
	if !m.IsOwner("admin") {
		t.Error("Создатель не стал владельцем карты")
	}

	// Карта долговечна до подтверждения
	snap, err := te.store.Maps().Load(context.Background(), "Arena")
	if err != nil {
		t.Fatalf("Карта не сохранена: %v", err)
	}
	if snap.Start != (vec.Vec3{X: 5, Y: 5, Z: 0}) {
		t.Errorf("Неожиданный старт: %+v", snap.Start)
	}
}

func TestMapCreateRequiresPermission(t *testing.T) {
	te := newTestEnv(t)
	token := te.loginAs("conn-1", "alice", world.RolePlayer)

	te.dispatch("conn-1", request(t, protocol.MsgMapCreateRequest, "alice", token, protocol.MapCreateRequest{
		Name: "Hideout",
		MinX: 0, MaxX: 10, MinY: 0, MaxY: 10, MinZ: 0, MaxZ: 5,
	}))
	te.expectFail("conn-1", protocol.MsgMapCreateFail, reasonNoPermission)

	if _, err := te.world.GetMap("Hideout"); err == nil {
		t.Error("Карта создана без права редактирования")
	}
}

func TestMapCreateDuplicateName(t *testing.T) {
	te := newTestEnv(t)
	token := createArena(t, te, "conn-1")

	te.dispatch("conn-1", request(t, protocol.MsgMapCreateRequest, "admin", token, protocol.MapCreateRequest{
		Name: "Arena",
		MinX: 0, MaxX: 10, MinY: 0, MaxY: 10, MinZ: 0, MaxZ: 5,
	}))
	te.expectFail("conn-1", protocol.MsgMapCreateFail, "Map name already taken")
}

func TestMapJoinAndLeave(t *testing.T) {
	te := newTestEnv(t)
	createArena(t, te, "conn-1")
	aliceToken := te.loginAs("conn-2", "alice", world.RolePlayer)
	te.loginAs("conn-3", "bob", world.RolePlayer)

	te.dispatch("conn-2", request(t, protocol.MsgMapJoinRequest, "alice", aliceToken, protocol.MapNameRequest{
		Name: "Arena",
	}))

	var joined struct {
		MapName  string          `json:"map_name"`
		Snapshot json.RawMessage `json:"snapshot"`
		Position vec.Vec3        `json:"position"`
	}
	decodePayload(t, te.net.lastOf("conn-2", protocol.MsgMapJoinOK), &joined)
	if joined.MapName != "Arena" || joined.Position != (vec.Vec3{X: 5, Y: 5, Z: 0}) {
		t.Errorf("Неожиданная полезная нагрузка входа: %+v", joined)
	}
	// Маленькая карта — снимок без сжатия
	if len(joined.Snapshot) == 0 {
		t.Error("Снимок карты не приложен")
	}

	alice, _ := te.world.Online("alice")
	if alice.CurrentMap != "Arena" {
		t.Errorf("Текущая карта не обновлена: %s", alice.CurrentMap)
	}

	// Пир прежней карты видит уход
	var left struct {
		Username string `json:"username"`
		MapName  string `json:"map_name"`
	}
	decodePayload(t, te.net.lastOf("conn-3", protocol.MsgUserLeftMap), &left)
	if left.Username != "alice" || left.MapName != DefaultMapName {
		t.Errorf("Неожиданное уведомление об уходе: %+v", left)
	}

	// Выход возвращает на карту по умолчанию
	te.dispatch("conn-2", request(t, protocol.MsgMapLeaveRequest, "alice", aliceToken, nil))
	var leaveOK struct {
		MapName  string   `json:"map_name"`
		Position vec.Vec3 `json:"position"`
	}
	decodePayload(t, te.net.lastOf("conn-2", protocol.MsgMapLeaveOK), &leaveOK)
	if leaveOK.MapName != DefaultMapName || leaveOK.Position != (vec.Vec3{X: 50, Y: 50, Z: 0}) {
		t.Errorf("Неожиданный выход с карты: %+v", leaveOK)
	}

	// Пир карты по умолчанию видит возвращение
	var joinedBack struct {
		Username string `json:"username"`
		MapName  string `json:"map_name"`
	}
	decodePayload(t, te.net.lastOf("conn-3", protocol.MsgUserJoinedMap), &joinedBack)
	if joinedBack.Username != "alice" || joinedBack.MapName != DefaultMapName {
		t.Errorf("Неожиданное уведомление о приходе: %+v", joinedBack)
	}
}

func TestMapJoinUnknown(t *testing.T) {
	te := newTestEnv(t)
	token := te.loginAs("conn-1", "alice", world.RolePlayer)

	te.dispatch("conn-1", request(t, protocol.MsgMapJoinRequest, "alice", token, protocol.MapNameRequest{
		Name: "Nowhere",
	}))
	te.expectFail("conn-1", protocol.MsgMapJoinFail, "Map not found")
}

func TestMapLeaveFromDefault(t *testing.T) {
	te := newTestEnv(t)
	token := te.loginAs("conn-1", "alice", world.RolePlayer)

	te.dispatch("conn-1", request(t, protocol.MsgMapLeaveRequest, "alice", token, nil))
	te.expectFail("conn-1", protocol.MsgMapLeaveFail, "Already on the default map")
}

func TestMapRemove(t *testing.T) {
	te := newTestEnv(t)
	adminToken := createArena(t, te, "conn-1")
	aliceToken := te.loginAs("conn-2", "alice", world.RolePlayer)

	te.dispatch("conn-2", request(t, protocol.MsgMapJoinRequest, "alice", aliceToken, protocol.MapNameRequest{
		Name: "Arena",
	}))

	// Занятая карта не удаляется
	te.dispatch("conn-1", request(t, protocol.MsgMapRemoveRequest, "admin", adminToken, protocol.MapNameRequest{
		Name: "Arena",
	}))
	te.expectFail("conn-1", protocol.MsgMapRemoveFail, "Map is occupied")

	te.dispatch("conn-2", request(t, protocol.MsgMapLeaveRequest, "alice", aliceToken, nil))

	te.dispatch("conn-1", request(t, protocol.MsgMapRemoveRequest, "admin", adminToken, protocol.MapNameRequest{
		Name: "Arena",
	}))
	if env := te.net.lastOf("conn-1", protocol.MsgMapRemoveOK); env == nil {
		t.Fatal("Удаление карты не подтверждено")
	}
	if _, err := te.world.GetMap("Arena"); err == nil {
		t.Error("Карта всё ещё в реестре")
	}
	if _, err := te.store.Maps().Load(context.Background(), "Arena"); err == nil {
		t.Error("Карта всё ещё в репозитории")
	}
}

func TestDefaultMapCannotBeRemoved(t *testing.T) {
	te := newTestEnv(t)
	token := te.loginAs("conn-1", "admin", world.RoleAdmin)

	te.dispatch("conn-1", request(t, protocol.MsgMapRemoveRequest, "admin", token, protocol.MapNameRequest{
		Name: DefaultMapName,
	}))
	te.expectFail("conn-1", protocol.MsgMapRemoveFail, "Default map cannot be removed")
}

func TestTileAddAndRemove(t *testing.T) {
	te := newTestEnv(t)
	token := createArena(t, te, "conn-1")

	te.dispatch("conn-1", request(t, protocol.MsgTileAddRequest, "admin", token, protocol.TileAddRequest{
		MapName:  "Arena",
		TileType: string(world.TileBrick),
		IsWall:   true,
		MinX:     1, MaxX: 2, MinY: 1, MaxY: 2, MinZ: 0, MaxZ: 1,
	}))

	var added struct {
		MapName string `json:"map_name"`
		TileKey string `json:"tile_key"`
	}
	decodePayload(t, te.net.lastOf("conn-1", protocol.MsgTileAddOK), &added)
	if added.TileKey == "" {
		t.Fatal("Тайлу не присвоен ключ")
	}

	// Мутация долговечна
	snap, err := te.store.Maps().Load(context.Background(), "Arena")
	if err != nil {
		t.Fatalf("Ошибка загрузки снимка: %v", err)
	}
	if _, ok := snap.Tiles[added.TileKey]; !ok {
		t.Error("Тайл не попал в сохранённый снимок")
	}

	te.dispatch("conn-1", request(t, protocol.MsgTileRemoveRequest, "admin", token, protocol.TileRemoveRequest{
		MapName: "Arena",
		TileKey: added.TileKey,
	}))
	if env := te.net.lastOf("conn-1", protocol.MsgTileRemoveOK); env == nil {
		t.Fatal("Удаление тайла не подтверждено")
	}

	snap, _ = te.store.Maps().Load(context.Background(), "Arena")
	if _, ok := snap.Tiles[added.TileKey]; ok {
		t.Error("Удалённый тайл остался в снимке")
	}
}

func TestTileAddOutsideBounds(t *testing.T) {
	te := newTestEnv(t)
	token := createArena(t, te, "conn-1")

	te.dispatch("conn-1", request(t, protocol.MsgTileAddRequest, "admin", token, protocol.TileAddRequest{
		MapName:  "Arena",
		TileType: string(world.TileBrick),
		MinX:     15, MaxX: 25, MinY: 1, MaxY: 2, MinZ: 0, MaxZ: 1,
	}))
	te.expectFail("conn-1", protocol.MsgTileAddFail, "Extent outside map bounds")
}

func TestTileAddRequiresPermission(t *testing.T) {
	te := newTestEnv(t)
	createArena(t, te, "conn-1")
	aliceToken := te.loginAs("conn-2", "alice", world.RolePlayer)

	te.dispatch("conn-2", request(t, protocol.MsgTileAddRequest, "alice", aliceToken, protocol.TileAddRequest{
		MapName:  "Arena",
		TileType: string(world.TileBrick),
		MinX:     1, MaxX: 2, MinY: 1, MaxY: 2, MinZ: 0, MaxZ: 1,
	}))
	te.expectFail("conn-2", protocol.MsgTileAddFail, reasonNoPermission)
}

func TestZoneLifecycle(t *testing.T) {
	te := newTestEnv(t)
	token := createArena(t, te, "conn-1")

	te.dispatch("conn-1", request(t, protocol.MsgZoneAddRequest, "admin", token, protocol.ZoneAddRequest{
		MapName: "Arena",
		Label:   "spawn",
		IsSafe:  true,
		MinX:    4, MaxX: 6, MinY: 4, MaxY: 6, MinZ: 0, MaxZ: 2,
	}))

	var added struct {
		ZoneKey string `json:"zone_key"`
	}
	decodePayload(t, te.net.lastOf("conn-1", protocol.MsgZoneAddOK), &added)
	if added.ZoneKey == "" {
		t.Fatal("Зоне не присвоен ключ")
	}

	// Вход на карту попадает в зону спавна
	aliceToken := te.loginAs("conn-2", "alice", world.RolePlayer)
	te.dispatch("conn-2", request(t, protocol.MsgMapJoinRequest, "alice", aliceToken, protocol.MapNameRequest{
		Name: "Arena",
	}))
	alice, _ := te.world.Online("alice")
	if alice.CurrentZone != "spawn" {
		t.Errorf("Зона при входе не определена: %q", alice.CurrentZone)
	}

	te.dispatch("conn-1", request(t, protocol.MsgZoneRemoveRequest, "admin", token, protocol.ZoneRemoveRequest{
		MapName: "Arena",
		ZoneKey: added.ZoneKey,
	}))
	if env := te.net.lastOf("conn-1", protocol.MsgZoneRemoveOK); env == nil {
		t.Fatal("Удаление зоны не подтверждено")
	}
}

func TestPhysicsUpdate(t *testing.T) {
	te := newTestEnv(t)
	adminToken := createArena(t, te, "conn-1")
	aliceToken := te.loginAs("conn-2", "alice", world.RolePlayer)
	te.dispatch("conn-2", request(t, protocol.MsgMapJoinRequest, "alice", aliceToken, protocol.MapNameRequest{
		Name: "Arena",
	}))

	// Отрицательные параметры отклоняются до мутации
	te.dispatch("conn-1", request(t, protocol.MsgPhysicsUpdateRequest, "admin", adminToken, protocol.PhysicsUpdateRequest{
		MapName: "Arena",
		Gravity: -1,
	}))
	te.expectFail("conn-1", protocol.MsgPhysicsUpdateFail, "Physics parameters must be non-negative")

	te.dispatch("conn-1", request(t, protocol.MsgPhysicsUpdateRequest, "admin", adminToken, protocol.PhysicsUpdateRequest{
		MapName:       "Arena",
		Gravity:       9.8,
		AirResistance: 0.1,
		Friction:      0.5,
	}))
	if env := te.net.lastOf("conn-1", protocol.MsgPhysicsUpdateOK); env == nil {
		t.Fatal("Обновление физики не подтверждено")
	}

	m, _ := te.world.GetMap("Arena")
	if got := m.Physics(); got.Gravity != 9.8 {
		t.Errorf("Физика не применена: %+v", got)
	}

	// Находящиеся на карте получают новые параметры
	var bcast struct {
		MapName string              `json:"map_name"`
		Physics world.PhysicsParams `json:"physics"`
	}
	decodePayload(t, te.net.lastOf("conn-2", protocol.MsgPhysicsUpdateBroadcast), &bcast)
	if bcast.Physics.Gravity != 9.8 {
		t.Errorf("Неожиданная рассылка физики: %+v", bcast)
	}
}
