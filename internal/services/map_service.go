package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/klauspost/compress/gzip"

	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// snapshotGzipThreshold — порог (байт), после которого снимок карты
// в map_join_ok отправляется в gzip.
const snapshotGzipThreshold = 8 * 1024

// MapService управляет жизненным циклом карт: создание, удаление,
// вход/выход игроков, тайлы, зоны, физика.
//
// Права: редактировать карту может роль с CanEditMaps() либо владелец.
// Каждая мутация сохраняется в репозиторий ДО подтверждения клиенту;
// при ошибке записи состояние в памяти откатывается.
type MapService struct {
	deps   Deps
	guard  *Guard
	logger *logging.Logger
}

// NewMapService создаёт сервис карт.
func NewMapService(deps Deps, guard *Guard) *MapService {
	return &MapService{
		deps:   deps,
		guard:  guard,
		logger: logging.GetServiceLogger("map"),
	}
}

func (s *MapService) Name() string { return "map" }

func (s *MapService) Consumes() []string {
	return []string{
		string(protocol.MsgMapCreateRequest),
		string(protocol.MsgMapRemoveRequest),
		string(protocol.MsgMapJoinRequest),
		string(protocol.MsgMapLeaveRequest),
		string(protocol.MsgTileAddRequest),
		string(protocol.MsgTileRemoveRequest),
		string(protocol.MsgZoneAddRequest),
		string(protocol.MsgZoneRemoveRequest),
		string(protocol.MsgPhysicsUpdateRequest),
	}
}

func (s *MapService) Publishes() []string {
	return []string{
		string(protocol.MsgMapCreateOK),
		string(protocol.MsgMapCreateFail),
		string(protocol.MsgMapRemoveOK),
		string(protocol.MsgMapRemoveFail),
		string(protocol.MsgMapJoinOK),
		string(protocol.MsgMapJoinFail),
		string(protocol.MsgMapLeaveOK),
		string(protocol.MsgMapLeaveFail),
		string(protocol.MsgTileAddOK),
		string(protocol.MsgTileAddFail),
		string(protocol.MsgTileRemoveOK),
		string(protocol.MsgTileRemoveFail),
		string(protocol.MsgZoneAddOK),
		string(protocol.MsgZoneAddFail),
		string(protocol.MsgZoneRemoveOK),
		string(protocol.MsgZoneRemoveFail),
		string(protocol.MsgPhysicsUpdateOK),
		string(protocol.MsgPhysicsUpdateFail),
		string(protocol.MsgPhysicsUpdateBroadcast),
		string(protocol.MsgUserJoinedMap),
		string(protocol.MsgUserLeftMap),
	}
}

func (s *MapService) Register(bus eventbus.Bus) {
	bus.Subscribe(string(protocol.MsgMapCreateRequest), s.handleCreate)
	bus.Subscribe(string(protocol.MsgMapRemoveRequest), s.handleRemove)
	bus.Subscribe(string(protocol.MsgMapJoinRequest), s.handleJoin)
	bus.Subscribe(string(protocol.MsgMapLeaveRequest), s.handleLeave)
	bus.Subscribe(string(protocol.MsgTileAddRequest), s.handleTileAdd)
	bus.Subscribe(string(protocol.MsgTileRemoveRequest), s.handleTileRemove)
	bus.Subscribe(string(protocol.MsgZoneAddRequest), s.handleZoneAdd)
	bus.Subscribe(string(protocol.MsgZoneRemoveRequest), s.handleZoneRemove)
	bus.Subscribe(string(protocol.MsgPhysicsUpdateRequest), s.handlePhysics)
}

func (s *MapService) fail(ctx context.Context, connID string, t protocol.Type, reason string) {
	emit(ctx, s.deps.Bus, s.deps.Net, connID, protocol.NewFail(t, reason))
}

// authedUser возвращает рантайм-пользователя аутентифицированного запроса.
func (s *MapService) authedUser(ev eventbus.Event) (*world.User, string) {
	if _, err := s.guard.Authenticate(ev.Message, ev.ConnID); err != nil {
		return nil, reasonNotAuthenticated
	}
	user, ok := s.deps.World.Online(ev.Message.Username)
	if !ok {
		return nil, reasonNotAuthenticated
	}
	return user, ""
}

// canEdit: право редактирования карты — роль admin/developer либо владелец.
func canEdit(user *world.User, m *world.Map) bool {
	return user.Role.CanEditMaps() || m.IsOwner(user.Username)
}

// persistMap сохраняет текущий снимок карты в репозиторий.
func (s *MapService) persistMap(ctx context.Context, m *world.Map) error {
	return s.deps.Repos.Maps.Save(ctx, m.Snapshot())
}

//================ Создание и удаление =================//

func (s *MapService) handleCreate(ctx context.Context, ev eventbus.Event) {
	user, authReason := s.authedUser(ev)
	if user == nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMapCreateFail, authReason)
		return
	}
	if !user.Role.CanEditMaps() {
		s.fail(ctx, ev.ConnID, protocol.MsgMapCreateFail, reasonNoPermission)
		return
	}

	var req protocol.MapCreateRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.Name == "" {
		s.fail(ctx, ev.ConnID, protocol.MsgMapCreateFail, "Malformed request")
		return
	}

	bounds := world.NewBounds(req.MinX, req.MaxX, req.MinY, req.MaxY, req.MinZ, req.MaxZ)
	m, err := world.NewMap(req.Name, bounds, req.Start, req.Public)
	if err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMapCreateFail, "Invalid map bounds or start position")
		return
	}
	m.AddOwner(user.Username)

	// Регистрация в реестре гарантирует уникальность имени.
	if err := s.deps.World.AddMap(m); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMapCreateFail, "Map name already taken")
		return
	}
	if err := s.persistMap(ctx, m); err != nil {
		s.deps.World.RemoveMap(m.Name())
		s.logger.Error("Ошибка сохранения карты %s: %v", m.Name(), err)
		s.fail(ctx, ev.ConnID, protocol.MsgMapCreateFail, reasonServerError)
		return
	}

	s.logger.Info("Карта %s создана пользователем %s", m.Name(), user.Username)
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgMapCreateOK, map[string]interface{}{
		"map_name": m.Name(),
	}))
}

func (s *MapService) handleRemove(ctx context.Context, ev eventbus.Event) {
	user, authReason := s.authedUser(ev)
	if user == nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMapRemoveFail, authReason)
		return
	}

	var req protocol.MapNameRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.Name == "" {
		s.fail(ctx, ev.ConnID, protocol.MsgMapRemoveFail, "Malformed request")
		return
	}
	if req.Name == DefaultMapName {
		s.fail(ctx, ev.ConnID, protocol.MsgMapRemoveFail, "Default map cannot be removed")
		return
	}

	m, err := s.deps.World.GetMap(req.Name)
	if err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMapRemoveFail, "Map not found")
		return
	}
	if !canEdit(user, m) {
		s.fail(ctx, ev.ConnID, protocol.MsgMapRemoveFail, reasonNoPermission)
		return
	}
	// Занятая карта не удаляется: сперва игроки должны её покинуть.
	if len(s.deps.World.UsersOnMap(req.Name)) > 0 {
		s.fail(ctx, ev.ConnID, protocol.MsgMapRemoveFail, "Map is occupied")
		return
	}

	if err := s.deps.Repos.Maps.Remove(ctx, req.Name); err != nil {
		s.logger.Error("Ошибка удаления карты %s: %v", req.Name, err)
		s.fail(ctx, ev.ConnID, protocol.MsgMapRemoveFail, reasonServerError)
		return
	}
	s.deps.World.RemoveMap(req.Name)

	s.logger.Info("Карта %s удалена пользователем %s", req.Name, user.Username)
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgMapRemoveOK, map[string]interface{}{
		"map_name": req.Name,
	}))
}

//================ Вход и выход =================//

// snapshotPayload сериализует снимок для map_join_ok.
// Большие карты уходят в gzip: json кодирует []byte как base64.
func snapshotPayload(snap *world.MapSnapshot) (map[string]interface{}, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if len(raw) <= snapshotGzipThreshold {
		return map[string]interface{}{
			"map_name": snap.Name,
			"snapshot": json.RawMessage(raw),
		}, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"map_name":      snap.Name,
		"snapshot_gzip": buf.Bytes(),
	}, nil
}

func (s *MapService) handleJoin(ctx context.Context, ev eventbus.Event) {
	user, authReason := s.authedUser(ev)
	if user == nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMapJoinFail, authReason)
		return
	}

	var req protocol.MapNameRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.Name == "" {
		s.fail(ctx, ev.ConnID, protocol.MsgMapJoinFail, "Malformed request")
		return
	}

	m, err := s.deps.World.GetMap(req.Name)
	if err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMapJoinFail, "Map not found")
		return
	}

	prevMap := user.CurrentMap
	prevPos := user.Position
	prevZone := user.CurrentZone

	user.CurrentMap = m.Name()
	user.Position = m.Start()
	user.CurrentZone = ""
	if z := m.ZoneAt(user.Position); z != nil {
		user.CurrentZone = z.Label
	}

	if err := s.deps.Repos.Users.Save(ctx, user); err != nil {
		user.CurrentMap = prevMap
		user.Position = prevPos
		user.CurrentZone = prevZone
		s.logger.Error("Ошибка сохранения %s при входе на карту: %v", user.Username, err)
		s.fail(ctx, ev.ConnID, protocol.MsgMapJoinFail, reasonServerError)
		return
	}

	snap := m.Snapshot()
	payload, err := snapshotPayload(snap)
	if err != nil {
		s.logger.Error("Ошибка сериализации снимка %s: %v", m.Name(), err)
		s.fail(ctx, ev.ConnID, protocol.MsgMapJoinFail, reasonServerError)
		return
	}
	payload["position"] = user.Position

	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgMapJoinOK, payload))

	// Пиры прежней карты видят уход, пиры новой — приход.
	s.notifyMapChange(ctx, user, prevMap, m.Name())
}

func (s *MapService) handleLeave(ctx context.Context, ev eventbus.Event) {
	user, authReason := s.authedUser(ev)
	if user == nil {
		s.fail(ctx, ev.ConnID, protocol.MsgMapLeaveFail, authReason)
		return
	}
	if user.CurrentMap == DefaultMapName {
		s.fail(ctx, ev.ConnID, protocol.MsgMapLeaveFail, "Already on the default map")
		return
	}

	home, err := s.deps.World.GetMap(DefaultMapName)
	if err != nil {
		s.logger.Error("Карта по умолчанию отсутствует: %v", err)
		s.fail(ctx, ev.ConnID, protocol.MsgMapLeaveFail, reasonServerError)
		return
	}

	prevMap := user.CurrentMap
	prevPos := user.Position
	prevZone := user.CurrentZone

	user.CurrentMap = home.Name()
	user.Position = home.Start()
	user.CurrentZone = ""

	if err := s.deps.Repos.Users.Save(ctx, user); err != nil {
		user.CurrentMap = prevMap
		user.Position = prevPos
		user.CurrentZone = prevZone
		s.logger.Error("Ошибка сохранения %s при выходе с карты: %v", user.Username, err)
		s.fail(ctx, ev.ConnID, protocol.MsgMapLeaveFail, reasonServerError)
		return
	}

	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgMapLeaveOK, map[string]interface{}{
		"map_name": home.Name(),
		"position": user.Position,
	}))

	s.notifyMapChange(ctx, user, prevMap, home.Name())
}

// notifyMapChange рассылает user_left_map пирам старой карты и
// user_joined_map пирам новой.
func (s *MapService) notifyMapChange(ctx context.Context, user *world.User, fromMap, toMap string) {
	if fromMap != "" && fromMap != toMap {
		leftPayload := map[string]interface{}{
			"username": user.Username,
			"map_name": fromMap,
		}
		peers := connIDsFor(s.deps.Conns, s.deps.World.UsersOnMap(fromMap), user.Username)
		if len(peers) > 0 {
			s.deps.Net.Broadcast(peers, protocol.NewOK(protocol.MsgUserLeftMap, leftPayload))
		}
	}

	joinedPayload := map[string]interface{}{
		"username": user.Username,
		"map_name": toMap,
		"position": user.Position,
	}
	peers := connIDsFor(s.deps.Conns, s.deps.World.UsersOnMap(toMap), user.Username)
	if len(peers) > 0 {
		s.deps.Net.Broadcast(peers, protocol.NewOK(protocol.MsgUserJoinedMap, joinedPayload))
	}
}

//================ Тайлы =================//

// editableMap загружает карту и проверяет право редактирования.
func (s *MapService) editableMap(ctx context.Context, ev eventbus.Event, failType protocol.Type, mapName string) (*world.User, *world.Map, bool) {
	user, authReason := s.authedUser(ev)
	if user == nil {
		s.fail(ctx, ev.ConnID, failType, authReason)
		return nil, nil, false
	}
	m, err := s.deps.World.GetMap(mapName)
	if err != nil {
		s.fail(ctx, ev.ConnID, failType, "Map not found")
		return nil, nil, false
	}
	if !canEdit(user, m) {
		s.fail(ctx, ev.ConnID, failType, reasonNoPermission)
		return nil, nil, false
	}
	return user, m, true
}

func (s *MapService) handleTileAdd(ctx context.Context, ev eventbus.Event) {
	var req protocol.TileAddRequest
	if err := ev.Message.DecodeData(&req); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgTileAddFail, "Malformed request")
		return
	}

	user, m, ok := s.editableMap(ctx, ev, protocol.MsgTileAddFail, req.MapName)
	if !ok {
		return
	}

	extent := world.NewBounds(req.MinX, req.MaxX, req.MinY, req.MaxY, req.MinZ, req.MaxZ)
	tile, err := m.AddTile(extent, world.TileType(req.TileType), req.IsWall)
	if err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgTileAddFail, tileErrorReason(err))
		return
	}

	if err := s.persistMap(ctx, m); err != nil {
		m.RemoveTile(tile.Key)
		s.logger.Error("Ошибка сохранения карты %s: %v", m.Name(), err)
		s.fail(ctx, ev.ConnID, protocol.MsgTileAddFail, reasonServerError)
		return
	}

	s.logger.Debug("Тайл %s (%s) добавлен на %s пользователем %s", tile.Key, tile.Type, m.Name(), user.Username)
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgTileAddOK, map[string]interface{}{
		"map_name": m.Name(),
		"tile_key": tile.Key,
	}))
}

func (s *MapService) handleTileRemove(ctx context.Context, ev eventbus.Event) {
	var req protocol.TileRemoveRequest
	if err := ev.Message.DecodeData(&req); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgTileRemoveFail, "Malformed request")
		return
	}

	_, m, ok := s.editableMap(ctx, ev, protocol.MsgTileRemoveFail, req.MapName)
	if !ok {
		return
	}

	// Снимок до мутации нужен для отката при ошибке записи.
	prev := m.Snapshot()
	if err := m.RemoveTile(req.TileKey); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgTileRemoveFail, "Tile not found")
		return
	}

	if err := s.persistMap(ctx, m); err != nil {
		s.rollbackMap(prev)
		s.logger.Error("Ошибка сохранения карты %s: %v", m.Name(), err)
		s.fail(ctx, ev.ConnID, protocol.MsgTileRemoveFail, reasonServerError)
		return
	}

	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgTileRemoveOK, map[string]interface{}{
		"map_name": m.Name(),
		"tile_key": req.TileKey,
	}))
}

//================ Зоны =================//

func (s *MapService) handleZoneAdd(ctx context.Context, ev eventbus.Event) {
	var req protocol.ZoneAddRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.Label == "" {
		s.fail(ctx, ev.ConnID, protocol.MsgZoneAddFail, "Malformed request")
		return
	}

	_, m, ok := s.editableMap(ctx, ev, protocol.MsgZoneAddFail, req.MapName)
	if !ok {
		return
	}

	zone, err := m.AddZone(world.Zone{
		Label:    req.Label,
		Bounds:   world.NewBounds(req.MinX, req.MaxX, req.MinY, req.MaxY, req.MinZ, req.MaxZ),
		IsSafe:   req.IsSafe,
		IsHazard: req.IsHazard,
		Type:     world.ZoneType(req.ZoneType),
		DestMap:  req.DestMap,
		DestPos:  req.DestPos,
	})
	if err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgZoneAddFail, tileErrorReason(err))
		return
	}

	if err := s.persistMap(ctx, m); err != nil {
		m.RemoveZone(zone.Key)
		s.logger.Error("Ошибка сохранения карты %s: %v", m.Name(), err)
		s.fail(ctx, ev.ConnID, protocol.MsgZoneAddFail, reasonServerError)
		return
	}

	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgZoneAddOK, map[string]interface{}{
		"map_name": m.Name(),
		"zone_key": zone.Key,
	}))
}

func (s *MapService) handleZoneRemove(ctx context.Context, ev eventbus.Event) {
	var req protocol.ZoneRemoveRequest
	if err := ev.Message.DecodeData(&req); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgZoneRemoveFail, "Malformed request")
		return
	}

	_, m, ok := s.editableMap(ctx, ev, protocol.MsgZoneRemoveFail, req.MapName)
	if !ok {
		return
	}

	prev := m.Snapshot()
	if err := m.RemoveZone(req.ZoneKey); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgZoneRemoveFail, "Zone not found")
		return
	}

	if err := s.persistMap(ctx, m); err != nil {
		s.rollbackMap(prev)
		s.logger.Error("Ошибка сохранения карты %s: %v", m.Name(), err)
		s.fail(ctx, ev.ConnID, protocol.MsgZoneRemoveFail, reasonServerError)
		return
	}

	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgZoneRemoveOK, map[string]interface{}{
		"map_name": m.Name(),
		"zone_key": req.ZoneKey,
	}))
}

//================ Физика =================//

func (s *MapService) handlePhysics(ctx context.Context, ev eventbus.Event) {
	var req protocol.PhysicsUpdateRequest
	if err := ev.Message.DecodeData(&req); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgPhysicsUpdateFail, "Malformed request")
		return
	}
	if req.Gravity < 0 || req.AirResistance < 0 || req.Friction < 0 {
		s.fail(ctx, ev.ConnID, protocol.MsgPhysicsUpdateFail, "Physics parameters must be non-negative")
		return
	}

	user, m, ok := s.editableMap(ctx, ev, protocol.MsgPhysicsUpdateFail, req.MapName)
	if !ok {
		return
	}

	prev := m.Physics()
	next := world.PhysicsParams{
		Gravity:       req.Gravity,
		AirResistance: req.AirResistance,
		Friction:      req.Friction,
	}
	m.SetPhysics(next)

	if err := s.persistMap(ctx, m); err != nil {
		m.SetPhysics(prev)
		s.logger.Error("Ошибка сохранения карты %s: %v", m.Name(), err)
		s.fail(ctx, ev.ConnID, protocol.MsgPhysicsUpdateFail, reasonServerError)
		return
	}

	payload := map[string]interface{}{
		"map_name": m.Name(),
		"physics":  next,
	}

	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgPhysicsUpdateOK, payload))

	// Все находящиеся на карте получают новые параметры.
	peers := connIDsFor(s.deps.Conns, s.deps.World.UsersOnMap(m.Name()), user.Username)
	if len(peers) > 0 {
		s.deps.Net.Broadcast(peers, protocol.NewOK(protocol.MsgPhysicsUpdateBroadcast, payload))
	}
}

// rollbackMap восстанавливает карту из снимка после неудачной записи.
func (s *MapService) rollbackMap(prev *world.MapSnapshot) {
	restored, err := world.Restore(prev)
	if err != nil {
		s.logger.Error("Откат карты %s не удался: %v", prev.Name, err)
		return
	}
	s.deps.World.RemoveMap(prev.Name)
	if err := s.deps.World.AddMap(restored); err != nil {
		s.logger.Error("Откат карты %s не удался: %v", prev.Name, err)
	}
}

// tileErrorReason переводит доменную ошибку в причину для клиента.
func tileErrorReason(err error) string {
	switch {
	case errors.Is(err, world.ErrOutOfBounds):
		return "Extent outside map bounds"
	case errors.Is(err, world.ErrInvalidTile):
		return "Unknown tile type"
	case errors.Is(err, world.ErrInvalidBounds):
		return "Invalid bounds"
	default:
		return reasonServerError
	}
}
