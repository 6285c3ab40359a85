package services

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"github.com/google/uuid"

	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/world"
)

const (
	weatherTickEvery = 15 * time.Second

	perlinAlpha = 2.0
	perlinBeta  = 2.0
	perlinDepth = 3
)

// weatherRun — активная погодная система с её генератором дрейфа.
type weatherRun struct {
	system *world.WeatherSystem
	noise  *perlin.Perlin
	step   float64
	cancel context.CancelFunc
}

// WeatherService управляет погодными системами карт. Каждая активная
// система дрейфует: интенсивность плавно меняется шумом Перлина, и
// каждый тик все игроки карты получают weather_update.
//
// Погода эфемерна: системы живут в памяти и не переживают рестарт.
type WeatherService struct {
	deps   Deps
	guard  *Guard
	logger *logging.Logger

	mu      sync.Mutex
	active  map[string]*weatherRun // по ключу системы
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewWeatherService создаёт сервис погоды. baseCtx ограничивает время
// жизни всех дрейф-горутин.
func NewWeatherService(baseCtx context.Context, deps Deps, guard *Guard) *WeatherService {
	return &WeatherService{
		deps:    deps,
		guard:   guard,
		logger:  logging.GetServiceLogger("weather"),
		active:  make(map[string]*weatherRun),
		baseCtx: baseCtx,
	}
}

func (s *WeatherService) Name() string { return "weather" }

func (s *WeatherService) Consumes() []string {
	return []string{
		string(protocol.MsgWeatherStartRequest),
		string(protocol.MsgWeatherStopRequest),
	}
}

func (s *WeatherService) Publishes() []string {
	return []string{
		string(protocol.MsgWeatherStartOK),
		string(protocol.MsgWeatherStartFail),
		string(protocol.MsgWeatherStopOK),
		string(protocol.MsgWeatherStopFail),
		string(protocol.MsgWeatherUpdate),
	}
}

func (s *WeatherService) Register(bus eventbus.Bus) {
	bus.Subscribe(string(protocol.MsgWeatherStartRequest), s.handleStart)
	bus.Subscribe(string(protocol.MsgWeatherStopRequest), s.handleStop)
}

func (s *WeatherService) fail(ctx context.Context, connID string, t protocol.Type, reason string) {
	emit(ctx, s.deps.Bus, s.deps.Net, connID, protocol.NewFail(t, reason))
}

// editor проверяет аутентификацию и право редактирования карт.
func (s *WeatherService) editor(ev eventbus.Event) *world.User {
	if _, err := s.guard.Authenticate(ev.Message, ev.ConnID); err != nil {
		return nil
	}
	user, ok := s.deps.World.Online(ev.Message.Username)
	if !ok || !user.Role.CanEditMaps() {
		return nil
	}
	return user
}

func (s *WeatherService) handleStart(ctx context.Context, ev eventbus.Event) {
	user := s.editor(ev)
	if user == nil {
		s.fail(ctx, ev.ConnID, protocol.MsgWeatherStartFail, reasonNoPermission)
		return
	}

	var req protocol.WeatherStartRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.Condition == "" {
		s.fail(ctx, ev.ConnID, protocol.MsgWeatherStartFail, "Malformed request")
		return
	}
	if _, err := s.deps.World.GetMap(req.MapName); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgWeatherStartFail, "Map not found")
		return
	}
	if req.Intensity <= 0 || req.Intensity > 1 {
		s.fail(ctx, ev.ConnID, protocol.MsgWeatherStartFail, "Intensity must be in (0, 1]")
		return
	}

	system := &world.WeatherSystem{
		Key:       uuid.NewString(),
		MapName:   req.MapName,
		Condition: req.Condition,
		Intensity: req.Intensity,
		Active:    true,
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	run := &weatherRun{
		system: system,
		noise:  perlin.NewPerlin(perlinAlpha, perlinBeta, perlinDepth, time.Now().UnixNano()),
		cancel: cancel,
	}

	s.mu.Lock()
	s.active[system.Key] = run
	s.mu.Unlock()

	s.wg.Add(1)
	go s.driftLoop(runCtx, run)

	s.logger.Info("Погода %s (%s) запущена на %s пользователем %s",
		system.Condition, system.Key, system.MapName, user.Username)
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgWeatherStartOK, map[string]interface{}{
		"weather_key": system.Key,
		"map_name":    system.MapName,
		"condition":   system.Condition,
		"intensity":   system.Intensity,
	}))

	s.broadcastUpdate(system)
}

func (s *WeatherService) handleStop(ctx context.Context, ev eventbus.Event) {
	user := s.editor(ev)
	if user == nil {
		s.fail(ctx, ev.ConnID, protocol.MsgWeatherStopFail, reasonNoPermission)
		return
	}

	var req protocol.WeatherStopRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.WeatherKey == "" {
		s.fail(ctx, ev.ConnID, protocol.MsgWeatherStopFail, "Malformed request")
		return
	}

	s.mu.Lock()
	run, ok := s.active[req.WeatherKey]
	if ok {
		delete(s.active, req.WeatherKey)
	}
	s.mu.Unlock()

	if !ok {
		s.fail(ctx, ev.ConnID, protocol.MsgWeatherStopFail, "Weather system not found")
		return
	}

	run.cancel()
	run.system.Active = false

	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgWeatherStopOK, map[string]interface{}{
		"weather_key": run.system.Key,
		"map_name":    run.system.MapName,
	}))

	s.broadcastUpdate(run.system)
}

// StopAll останавливает все системы (graceful shutdown).
func (s *WeatherService) StopAll() {
	s.mu.Lock()
	for key, run := range s.active {
		run.cancel()
		delete(s.active, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// driftLoop каждый тик сдвигает интенсивность шумом Перлина
// и рассылает обновление игрокам карты.
func (s *WeatherService) driftLoop(ctx context.Context, run *weatherRun) {
	defer s.wg.Done()
	ticker := time.NewTicker(weatherTickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run.step += 0.1
			// Noise1D лежит в [-1, 1]; сдвиг масштабируется к ±0.25.
			drift := run.noise.Noise1D(run.step) * 0.25
			run.system.Intensity = math.Min(1, math.Max(0.05, run.system.Intensity+drift))
			s.broadcastUpdate(run.system)
		}
	}
}

// broadcastUpdate доставляет состояние системы всем игрокам её карты.
func (s *WeatherService) broadcastUpdate(system *world.WeatherSystem) {
	peers := connIDsFor(s.deps.Conns, s.deps.World.UsersOnMap(system.MapName), "")
	if len(peers) == 0 {
		return
	}
	s.deps.Net.Broadcast(peers, protocol.NewOK(protocol.MsgWeatherUpdate, map[string]interface{}{
		"weather_key": system.Key,
		"map_name":    system.MapName,
		"condition":   system.Condition,
		"intensity":   system.Intensity,
		"active":      system.Active,
	}))
}
