package services

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/physics"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/vec"
	"github.com/churst90/open-fps-sub000/internal/world"
)

const (
	defaultAISpeed  = 1.0
	aiWanderEvery   = 2 * time.Second
	defaultAIHealth = world.DefaultVitals
)

// AIService управляет серверными сущностями: спавн, удаление и
// периодическое блуждание. Движение AI проходит те же проверки
// коллизий, что и движение игроков.
type AIService struct {
	deps   Deps
	guard  *Guard
	logger *logging.Logger

	mu   sync.Mutex
	rand *rand.Rand
	wg   sync.WaitGroup
}

// NewAIService создаёт сервис AI.
func NewAIService(deps Deps, guard *Guard) *AIService {
	return &AIService{
		deps:   deps,
		guard:  guard,
		logger: logging.GetServiceLogger("ai"),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *AIService) Name() string { return "ai" }

func (s *AIService) Consumes() []string {
	return []string{
		string(protocol.MsgAISpawnRequest),
		string(protocol.MsgAIRemoveRequest),
	}
}

func (s *AIService) Publishes() []string {
	return []string{
		string(protocol.MsgAISpawnOK),
		string(protocol.MsgAISpawnFail),
		string(protocol.MsgAIRemoveOK),
		string(protocol.MsgAIRemoveFail),
		string(protocol.MsgAIMoveBroadcast),
	}
}

func (s *AIService) Register(bus eventbus.Bus) {
	bus.Subscribe(string(protocol.MsgAISpawnRequest), s.handleSpawn)
	bus.Subscribe(string(protocol.MsgAIRemoveRequest), s.handleRemove)
}

func (s *AIService) fail(ctx context.Context, connID string, t protocol.Type, reason string) {
	emit(ctx, s.deps.Bus, s.deps.Net, connID, protocol.NewFail(t, reason))
}

func (s *AIService) handleSpawn(ctx context.Context, ev eventbus.Event) {
	if _, err := s.guard.Authenticate(ev.Message, ev.ConnID); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgAISpawnFail, reasonNotAuthenticated)
		return
	}
	user, ok := s.deps.World.Online(ev.Message.Username)
	if !ok {
		s.fail(ctx, ev.ConnID, protocol.MsgAISpawnFail, reasonNotAuthenticated)
		return
	}
	if !user.Role.CanEditMaps() {
		s.fail(ctx, ev.ConnID, protocol.MsgAISpawnFail, reasonNoPermission)
		return
	}

	var req protocol.AISpawnRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.Name == "" {
		s.fail(ctx, ev.ConnID, protocol.MsgAISpawnFail, "Malformed request")
		return
	}

	m, err := s.deps.World.GetMap(req.MapName)
	if err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgAISpawnFail, "Map not found")
		return
	}

	// Позиция спавна проходит те же проверки, что и движение игрока.
	snap := m.Snapshot()
	if valid, reason := physics.IsValidPosition(snap, req.Position, s.occupantPositions(req.MapName, "")); !valid {
		s.fail(ctx, ev.ConnID, protocol.MsgAISpawnFail, reason)
		return
	}

	speed := req.Speed
	if speed <= 0 {
		speed = defaultAISpeed
	}
	entity := &world.AIEntity{
		Key:      uuid.NewString(),
		Name:     req.Name,
		MapName:  req.MapName,
		Position: req.Position,
		Health:   defaultAIHealth,
		Speed:    speed,
		Role:     req.Role,
	}

	if err := s.deps.Repos.AI.Save(ctx, entity); err != nil {
		s.logger.Error("Ошибка сохранения AI %s: %v", entity.Key, err)
		s.fail(ctx, ev.ConnID, protocol.MsgAISpawnFail, reasonServerError)
		return
	}
	s.deps.World.AddAI(entity)

	s.logger.Info("AI %s (%s) создан на %s", entity.Name, entity.Key, entity.MapName)
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgAISpawnOK, map[string]interface{}{
		"ai_key":   entity.Key,
		"name":     entity.Name,
		"map_name": entity.MapName,
		"position": entity.Position,
	}))

	s.broadcastAIMove(entity)
}

func (s *AIService) handleRemove(ctx context.Context, ev eventbus.Event) {
	if _, err := s.guard.Authenticate(ev.Message, ev.ConnID); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgAIRemoveFail, reasonNotAuthenticated)
		return
	}
	user, ok := s.deps.World.Online(ev.Message.Username)
	if !ok || !user.Role.CanEditMaps() {
		s.fail(ctx, ev.ConnID, protocol.MsgAIRemoveFail, reasonNoPermission)
		return
	}

	var req protocol.AIRemoveRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.AIKey == "" {
		s.fail(ctx, ev.ConnID, protocol.MsgAIRemoveFail, "Malformed request")
		return
	}

	if _, ok := s.deps.World.GetAI(req.AIKey); !ok {
		s.fail(ctx, ev.ConnID, protocol.MsgAIRemoveFail, "AI entity not found")
		return
	}

	if err := s.deps.Repos.AI.Remove(ctx, req.AIKey); err != nil {
		s.logger.Error("Ошибка удаления AI %s: %v", req.AIKey, err)
		s.fail(ctx, ev.ConnID, protocol.MsgAIRemoveFail, reasonServerError)
		return
	}
	s.deps.World.RemoveAI(req.AIKey)

	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgAIRemoveOK, map[string]interface{}{
		"ai_key": req.AIKey,
	}))
}

// occupantPositions собирает позиции игроков и остальных AI на карте.
func (s *AIService) occupantPositions(mapName, exceptAI string) []vec.Vec3 {
	users := s.deps.World.UsersOnMap(mapName)
	ai := s.deps.World.AIOnMap(mapName)
	positions := make([]vec.Vec3, 0, len(users)+len(ai))
	for _, u := range users {
		positions = append(positions, u.Position)
	}
	for _, e := range ai {
		if e.Key != exceptAI {
			positions = append(positions, e.Position)
		}
	}
	return positions
}

// StartWander запускает цикл блуждания: каждый тик каждая сущность
// делает случайный горизонтальный шаг, проходящий проверку коллизий.
// Останавливается по ctx.
func (s *AIService) StartWander(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(aiWanderEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.wanderTick(ctx)
			}
		}
	}()
}

// Wait блокируется до завершения фоновых горутин (graceful shutdown).
func (s *AIService) Wait() {
	s.wg.Wait()
}

func (s *AIService) wanderTick(ctx context.Context) {
	for _, mapName := range s.deps.World.MapNames() {
		entities := s.deps.World.AIOnMap(mapName)
		if len(entities) == 0 {
			continue
		}
		m, err := s.deps.World.GetMap(mapName)
		if err != nil {
			continue
		}
		snap := m.Snapshot()
		for _, e := range entities {
			s.wanderEntity(ctx, snap, e)
		}
	}
}

func (s *AIService) wanderEntity(ctx context.Context, snap *world.MapSnapshot, e *world.AIEntity) {
	s.mu.Lock()
	angle := s.rand.Float64() * 2 * math.Pi
	s.mu.Unlock()

	target := e.Position.Add(vec.Vec3{
		X: math.Cos(angle) * e.Speed,
		Y: math.Sin(angle) * e.Speed,
	})

	valid, _ := physics.IsValidPosition(snap, target, s.occupantPositions(e.MapName, e.Key))
	if !valid {
		// Заблокированный шаг просто пропускается до следующего тика.
		return
	}

	e.Position = target
	if err := s.deps.Repos.AI.Save(ctx, e); err != nil {
		s.logger.Debug("Ошибка сохранения AI %s: %v", e.Key, err)
	}
	s.broadcastAIMove(e)
}

// broadcastAIMove рассылает позицию сущности всем игрокам её карты.
func (s *AIService) broadcastAIMove(e *world.AIEntity) {
	peers := connIDsFor(s.deps.Conns, s.deps.World.UsersOnMap(e.MapName), "")
	if len(peers) == 0 {
		return
	}
	s.deps.Net.Broadcast(peers, protocol.NewOK(protocol.MsgAIMoveBroadcast, map[string]interface{}{
		"ai_key":   e.Key,
		"name":     e.Name,
		"map_name": e.MapName,
		"position": e.Position,
	}))
}
