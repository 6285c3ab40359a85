package services

import (
	"context"

	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/physics"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/storage"
	"github.com/churst90/open-fps-sub000/internal/vec"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// moveStep — длина шага одного запроса движения.
const moveStep = 1.0

// MovementService проверяет и применяет движение и повороты.
//
// Машина состояний на запрос: idle -> validating (дельта из направления и
// ориентации, проверка коллизий против свежего снимка) -> applied (позиция
// мутирована, сохранена, _ok + рассылка по карте) либо rejected (_fail
// только запрашивающему, без мутации и рассылки).
type MovementService struct {
	deps   Deps
	guard  *Guard
	logger *logging.Logger
}

// NewMovementService создаёт сервис движения.
func NewMovementService(deps Deps, guard *Guard) *MovementService {
	return &MovementService{
		deps:   deps,
		guard:  guard,
		logger: logging.GetServiceLogger("movement"),
	}
}

func (s *MovementService) Name() string { return "movement" }

func (s *MovementService) Consumes() []string {
	return []string{
		string(protocol.MsgMoveRequest),
		string(protocol.MsgTurnRequest),
	}
}

func (s *MovementService) Publishes() []string {
	return []string{
		string(protocol.MsgMoveOK),
		string(protocol.MsgMoveFail),
		string(protocol.MsgMoveBroadcast),
		string(protocol.MsgTurnOK),
		string(protocol.MsgTurnFail),
		string(protocol.MsgTurnBroadcast),
	}
}

func (s *MovementService) Register(bus eventbus.Bus) {
	bus.Subscribe(string(protocol.MsgMoveRequest), s.handleMove)
	bus.Subscribe(string(protocol.MsgTurnRequest), s.handleTurn)
}

func (s *MovementService) fail(ctx context.Context, connID string, t protocol.Type, reason string) {
	emit(ctx, s.deps.Bus, s.deps.Net, connID, protocol.NewFail(t, reason))
}

// authedUser возвращает рантайм-пользователя аутентифицированного запроса.
func (s *MovementService) authedUser(ev eventbus.Event) (*world.User, string) {
	if _, err := s.guard.Authenticate(ev.Message, ev.ConnID); err != nil {
		return nil, reasonNotAuthenticated
	}
	user, ok := s.deps.World.Online(ev.Message.Username)
	if !ok {
		return nil, reasonNotAuthenticated
	}
	return user, ""
}

// occupantPositions собирает позиции остальных сущностей на карте
// (игроки и AI) для проверки занятости.
func (s *MovementService) occupantPositions(mapName, exceptUser string) []vec.Vec3 {
	users := s.deps.World.UsersOnMap(mapName)
	ai := s.deps.World.AIOnMap(mapName)
	positions := make([]vec.Vec3, 0, len(users)+len(ai))
	for _, u := range users {
		if u.Username != exceptUser {
			positions = append(positions, u.Position)
		}
	}
	for _, e := range ai {
		positions = append(positions, e.Position)
	}
	return positions
}

// handleMove обрабатывает user_move_request.
func (s *MovementService) handleMove(ctx context.Context, ev eventbus.Event) {
	user, authReason := s.authedUser(ev)
	if user == nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMoveFail, authReason)
		return
	}

	var req protocol.MoveRequest
	if err := ev.Message.DecodeData(&req); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMoveFail, "Malformed request")
		return
	}

	m, err := s.deps.World.GetMap(user.CurrentMap)
	if err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMoveFail, "You are not on a map")
		return
	}

	delta, err := physics.MoveVector(req.Direction, user.Yaw, user.Pitch, moveStep)
	if err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMoveFail, "Unknown direction")
		return
	}
	target := user.Position.Add(delta)

	// Снимок берётся в момент проверки: устаревший снимок — ошибка
	// корректности, а не оптимизация.
	snap := m.Snapshot()
	valid, reason := physics.IsValidPosition(snap, target, s.occupantPositions(user.CurrentMap, user.Username))
	if !valid {
		// Отказ приватен: пиры карты о нём не узнают, позиция не мутируется.
		s.fail(ctx, ev.ConnID, protocol.MsgMoveFail, reason)
		return
	}

	prevPos := user.Position
	prevZone := user.CurrentZone
	user.Position = target
	if z := m.ZoneAt(target); z != nil {
		user.CurrentZone = z.Label
	} else {
		user.CurrentZone = ""
	}

	// Долговечность до подтверждения; при отказе записи откатываем память.
	if err := s.deps.Repos.Users.Save(ctx, user); err != nil {
		user.Position = prevPos
		user.CurrentZone = prevZone
		s.logger.Error("Ошибка сохранения позиции %s: %v", user.Username, err)
		s.fail(ctx, ev.ConnID, protocol.MsgMoveFail, reasonServerError)
		return
	}
	s.cachePosition(ctx, user)

	payload := map[string]interface{}{
		"username": user.Username,
		"map_name": user.CurrentMap,
		"position": user.Position,
		"zone":     user.CurrentZone,
	}

	// Сначала подтверждение инициатору, затем рассылка пирам карты —
	// пир никогда не видит изменение раньше, чем оно подтверждено автору.
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgMoveOK, payload))

	peers := connIDsFor(s.deps.Conns, s.deps.World.UsersOnMap(user.CurrentMap), user.Username)
	if len(peers) > 0 {
		s.deps.Net.Broadcast(peers, protocol.NewOK(protocol.MsgMoveBroadcast, payload))
	}
}

// handleTurn обрабатывает user_turn_request: меняет ориентацию без
// изменения позиции. Yaw заворачивается mod 360, pitch ограничен [-90, 90].
func (s *MovementService) handleTurn(ctx context.Context, ev eventbus.Event) {
	user, authReason := s.authedUser(ev)
	if user == nil {
		s.fail(ctx, ev.ConnID, protocol.MsgTurnFail, authReason)
		return
	}

	var req protocol.TurnRequest
	if err := ev.Message.DecodeData(&req); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgTurnFail, "Malformed request")
		return
	}

	prevYaw, prevPitch := user.Yaw, user.Pitch
	user.Yaw = physics.WrapYaw(user.Yaw + req.YawDelta)
	user.Pitch = physics.ClampPitch(user.Pitch + req.PitchDelta)

	if err := s.deps.Repos.Users.Save(ctx, user); err != nil {
		user.Yaw, user.Pitch = prevYaw, prevPitch
		s.logger.Error("Ошибка сохранения ориентации %s: %v", user.Username, err)
		s.fail(ctx, ev.ConnID, protocol.MsgTurnFail, reasonServerError)
		return
	}
	s.cachePosition(ctx, user)

	payload := map[string]interface{}{
		"username": user.Username,
		"yaw":      user.Yaw,
		"pitch":    user.Pitch,
	}

	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgTurnOK, payload))

	peers := connIDsFor(s.deps.Conns, s.deps.World.UsersOnMap(user.CurrentMap), user.Username)
	if len(peers) > 0 {
		s.deps.Net.Broadcast(peers, protocol.NewOK(protocol.MsgTurnBroadcast, payload))
	}
}

// cachePosition записывает позицию в горячий кеш (best-effort).
func (s *MovementService) cachePosition(ctx context.Context, user *world.User) {
	if s.deps.PosCache == nil {
		return
	}
	err := s.deps.PosCache.Save(ctx, user.Username, storage.CachedPosition{
		MapName:  user.CurrentMap,
		Position: user.Position,
		Yaw:      user.Yaw,
		Pitch:    user.Pitch,
	})
	if err != nil {
		s.logger.Debug("Кеш позиций недоступен: %v", err)
	}
}
