package services

import (
	"testing"

	"github.com/churst90/open-fps-sub000/internal/physics"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/vec"
	"github.com/churst90/open-fps-sub000/internal/world"
)

type movePayload struct {
	Username string   `json:"username"`
	MapName  string   `json:"map_name"`
	Position vec.Vec3 `json:"position"`
	Zone     string   `json:"zone"`
}

func TestMoveForward(t *testing.T) {
	te := newTestEnv(t)
	aliceToken := te.loginAs("conn-1", "alice", world.RolePlayer)
	te.loginAs("conn-2", "bob", world.RolePlayer)

	// Yaw 0, шаг вперёд: +1 по Y от старта (50, 50, 0)
	te.dispatch("conn-1", request(t, protocol.MsgMoveRequest, "alice", aliceToken, protocol.MoveRequest{
		Direction: "forward",
	}))

	var ok movePayload
	decodePayload(t, te.net.lastOf("conn-1", protocol.MsgMoveOK), &ok)
	want := vec.Vec3{X: 50, Y: 51, Z: 0}
	if ok.Position != want {
		t.Errorf("Позиция после шага: ожидалось %+v, получено %+v", want, ok.Position)
	}

	// Пир карты получает рассылку, инициатор — нет
	var bcast movePayload
	decodePayload(t, te.net.lastOf("conn-2", protocol.MsgMoveBroadcast), &bcast)
	if bcast.Username != "alice" || bcast.Position != want {
		t.Errorf("Неожиданная рассылка: %+v", bcast)
	}
	if got := len(te.net.byType("conn-1", protocol.MsgMoveBroadcast)); got != 0 {
		t.Errorf("Инициатор получил собственную рассылку: %d", got)
	}

	user, _ := te.world.Online("alice")
	if user.Position != want {
		t.Errorf("Позиция в памяти не обновлена: %+v", user.Position)
	}
}

func TestMoveBlockedByWall(t *testing.T) {
	te := newTestEnv(t)
	aliceToken := te.loginAs("conn-1", "alice", world.RolePlayer)
	te.loginAs("conn-2", "bob", world.RolePlayer)

	m, err := te.world.GetMap(DefaultMapName)
	if err != nil {
		t.Fatalf("Карта по умолчанию отсутствует: %v", err)
	}
	// Стена прямо перед стартовой позицией
	if _, err := m.AddTile(world.NewBounds(49.5, 50.5, 50.5, 51.5, 0, 1), world.TileBrick, true); err != nil {
		t.Fatalf("Ошибка добавления стены: %v", err)
	}

	baseline := len(te.net.byType("conn-2", protocol.MsgMoveBroadcast))

	te.dispatch("conn-1", request(t, protocol.MsgMoveRequest, "alice", aliceToken, protocol.MoveRequest{
		Direction: "forward",
	}))

	// Отказ приватен: только инициатору, без рассылки и без мутации
	te.expectFail("conn-1", protocol.MsgMoveFail, physics.ReasonBlockedByWall)
	if got := len(te.net.byType("conn-2", protocol.MsgMoveBroadcast)); got != baseline {
		t.Errorf("Пир увидел отклонённое движение: %d рассылок", got-baseline)
	}

	user, _ := te.world.Online("alice")
	if user.Position != (vec.Vec3{X: 50, Y: 50, Z: 0}) {
		t.Errorf("Позиция мутирована при отказе: %+v", user.Position)
	}
}

func TestMoveBlockedByOccupant(t *testing.T) {
	te := newTestEnv(t)
	aliceToken := te.loginAs("conn-1", "alice", world.RolePlayer)
	te.loginAs("conn-2", "bob", world.RolePlayer)

	bob, _ := te.world.Online("bob")
	bob.Position = vec.Vec3{X: 50, Y: 51, Z: 0}

	te.dispatch("conn-1", request(t, protocol.MsgMoveRequest, "alice", aliceToken, protocol.MoveRequest{
		Direction: "forward",
	}))
	te.expectFail("conn-1", protocol.MsgMoveFail, physics.ReasonPositionOccupied)
}

func TestMoveOutOfBounds(t *testing.T) {
	te := newTestEnv(t)
	aliceToken := te.loginAs("conn-1", "alice", world.RolePlayer)

	alice, _ := te.world.Online("alice")
	alice.Position = vec.Vec3{X: 50, Y: 100, Z: 0}

	te.dispatch("conn-1", request(t, protocol.MsgMoveRequest, "alice", aliceToken, protocol.MoveRequest{
		Direction: "forward",
	}))
	te.expectFail("conn-1", protocol.MsgMoveFail, physics.ReasonOutOfBounds)
}

func TestMoveUnknownDirection(t *testing.T) {
	te := newTestEnv(t)
	aliceToken := te.loginAs("conn-1", "alice", world.RolePlayer)

	te.dispatch("conn-1", request(t, protocol.MsgMoveRequest, "alice", aliceToken, protocol.MoveRequest{
		Direction: "sideways",
	}))
	te.expectFail("conn-1", protocol.MsgMoveFail, "Unknown direction")
}

func TestMoveRequiresAuthentication(t *testing.T) {
	te := newTestEnv(t)
	te.loginAs("conn-1", "alice", world.RolePlayer)

	// Валидный токен с чужого соединения отклоняется
	token := te.loginAs("conn-2", "bob", world.RolePlayer)
	te.dispatch("conn-3", request(t, protocol.MsgMoveRequest, "bob", token, protocol.MoveRequest{
		Direction: "forward",
	}))
	te.expectFail("conn-3", protocol.MsgMoveFail, reasonNotAuthenticated)

	// Мусорный токен отклоняется
	te.dispatch("conn-1", request(t, protocol.MsgMoveRequest, "alice", "garbage", protocol.MoveRequest{
		Direction: "forward",
	}))
	te.expectFail("conn-1", protocol.MsgMoveFail, reasonNotAuthenticated)
}

func TestTurnWrapsAndClamps(t *testing.T) {
	te := newTestEnv(t)
	aliceToken := te.loginAs("conn-1", "alice", world.RolePlayer)
	te.loginAs("conn-2", "bob", world.RolePlayer)

	te.dispatch("conn-1", request(t, protocol.MsgTurnRequest, "alice", aliceToken, protocol.TurnRequest{
		YawDelta:   450,
		PitchDelta: -120,
	}))

	var ok struct {
		Username string  `json:"username"`
		Yaw      float64 `json:"yaw"`
		Pitch    float64 `json:"pitch"`
	}
	decodePayload(t, te.net.lastOf("conn-1", protocol.MsgTurnOK), &ok)
	if ok.Yaw != 90 {
		t.Errorf("Yaw не завёрнут: %v", ok.Yaw)
	}
	if ok.Pitch != -90 {
		t.Errorf("Pitch не ограничен: %v", ok.Pitch)
	}

	user, _ := te.world.Online("alice")
	if user.Yaw != 90 || user.Pitch != -90 {
		t.Errorf("Ориентация в памяти не обновлена: yaw=%v pitch=%v", user.Yaw, user.Pitch)
	}

	if env := te.net.lastOf("conn-2", protocol.MsgTurnBroadcast); env == nil {
		t.Error("Пир не получил рассылку поворота")
	}
}

func TestMoveAfterTurn(t *testing.T) {
	te := newTestEnv(t)
	aliceToken := te.loginAs("conn-1", "alice", world.RolePlayer)

	// Yaw 90: вперёд — это +X
	te.dispatch("conn-1", request(t, protocol.MsgTurnRequest, "alice", aliceToken, protocol.TurnRequest{
		YawDelta: 90,
	}))
	te.dispatch("conn-1", request(t, protocol.MsgMoveRequest, "alice", aliceToken, protocol.MoveRequest{
		Direction: "forward",
	}))

	var ok movePayload
	decodePayload(t, te.net.lastOf("conn-1", protocol.MsgMoveOK), &ok)
	want := vec.Vec3{X: 51, Y: 50, Z: 0}
	if ok.Position != want {
		t.Errorf("Движение не учитывает yaw: ожидалось %+v, получено %+v", want, ok.Position)
	}
}
