package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/churst90/open-fps-sub000/internal/api"
	"github.com/churst90/open-fps-sub000/internal/auth"
	"github.com/churst90/open-fps-sub000/internal/config"
	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/network"
	"github.com/churst90/open-fps-sub000/internal/observability"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/services"
	"github.com/churst90/open-fps-sub000/internal/storage"
	"github.com/churst90/open-fps-sub000/internal/vec"
	"github.com/churst90/open-fps-sub000/internal/world"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск Open FPS Server...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	host := cfg.Server.GetHost()
	tcpAddr := fmt.Sprintf("%s:%d", host, cfg.Server.GetTCPPort())
	kcpAddr := fmt.Sprintf("%s:%d", host, cfg.Server.GetKCPPort())
	restAddr := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	dataDir := cfg.Storage.GetDataDir()

	logging.Info("📡 Конфигурация: TLS=%s, KCP=%s, REST=%s, data=%s", tcpAddr, kcpAddr, restAddr, dataDir)

	// Контекст времени жизни процесса
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	var telemetryShutdown func(context.Context) error
	if cfg.Telemetry.OTLPEndpoint != "" {
		telemetryShutdown, err = observability.InitTelemetry(ctx, "open-fps-server", cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			logging.Error("Ошибка инициализации телеметрии: %v", err)
		}
	}

	// === ХРАНИЛИЩЕ ===
	store, err := storage.NewBadgerStore(dataDir)
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища: %v", err)
		log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
	}
	defer store.Close()

	repos := services.Repos{
		Maps:    store.Maps(),
		Users:   store.Users(),
		AI:      store.AI(),
		Weapons: store.Weapons(),
		Items:   store.Items(),
		Recipes: store.Recipes(),
	}

	// Учётные записи опционально живут в MariaDB
	if cfg.Storage.MariaDSN != "" {
		mariaRepo, err := storage.NewMariaUserRepo(cfg.Storage.MariaDSN)
		if err != nil {
			logging.Error("❌ Ошибка подключения к MariaDB: %v", err)
			log.Fatalf("❌ Ошибка подключения к MariaDB: %v", err)
		}
		defer mariaRepo.Close()
		repos.Users = mariaRepo
		logging.Info("✅ Репозиторий пользователей: MariaDB")
	}

	// Горячий кеш позиций (опционален)
	var posCache *storage.RedisPositionCache
	if cfg.Storage.RedisAddr != "" {
		posCache, err = storage.NewRedisPositionCache(cfg.Storage.RedisAddr)
		if err != nil {
			logging.Error("Redis недоступен, кеш позиций отключён: %v", err)
		} else {
			defer posCache.Close()
			logging.Info("✅ Кеш позиций: Redis %s", cfg.Storage.RedisAddr)
		}
	}

	// Журнал чата: Mongo либо файлы
	var chatLog storage.ChatLog
	if cfg.Storage.MongoURI != "" {
		chatLog, err = storage.NewMongoChatLog(cfg.Storage.MongoURI)
		if err != nil {
			logging.Error("❌ Ошибка подключения к MongoDB: %v", err)
			log.Fatalf("❌ Ошибка подключения к MongoDB: %v", err)
		}
		logging.Info("✅ Журнал чата: MongoDB")
	} else {
		chatLog, err = storage.NewFileChatLog(dataDir)
		if err != nil {
			logging.Error("❌ Ошибка создания журнала чата: %v", err)
			log.Fatalf("❌ Ошибка создания журнала чата: %v", err)
		}
	}
	defer chatLog.Close()

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.Bus
	if cfg.EventBus.URL != "" {
		stream := cfg.EventBus.Stream
		if stream == "" {
			stream = "GAME_EVENTS"
		}
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		bus, err = eventbus.NewJetStreamBus(cfg.EventBus.URL, stream, retention)
		if err != nil {
			logging.Error("❌ Ошибка подключения к NATS: %v", err)
			log.Fatalf("❌ Ошибка подключения к NATS: %v", err)
		}
		logging.Info("✅ Шина событий: NATS JetStream (%s)", cfg.EventBus.URL)
	} else {
		bus = eventbus.NewMemoryBus()
		logging.Info("✅ Шина событий: in-memory")
	}
	defer bus.Close()

	registry := prometheus.NewRegistry()
	busExporter := eventbus.NewMetricsExporter(bus, registry)
	busExporter.Start()
	defer busExporter.Stop()

	// === МИР ===
	worldMgr := world.NewManager()
	if err := loadWorld(ctx, worldMgr, repos.Maps); err != nil {
		logging.Error("❌ Ошибка загрузки мира: %v", err)
		log.Fatalf("❌ Ошибка загрузки мира: %v", err)
	}

	// === АУТЕНТИФИКАЦИЯ ===
	tokens, err := auth.NewTokenManager([]byte(os.Getenv("OPENFPS_JWT_SECRET")), 0)
	if err != nil {
		logging.Error("❌ Ошибка инициализации JWT: %v", err)
		log.Fatalf("❌ Ошибка инициализации JWT: %v", err)
	}

	// === СЕТЬ ===
	connMgr := network.NewConnectionManager()
	netMetrics := network.NewMetrics(registry)

	// Каждый входящий кадр становится событием на шине; вся игровая
	// логика живёт в сервисах-подписчиках.
	netServer := network.NewServer(connMgr, func(env *protocol.Envelope, connID string) {
		bus.Dispatch(ctx, string(env.Type), eventbus.Event{ConnID: connID, Message: env})
	}, netMetrics)

	// === СЕРВИСЫ ===
	deps := services.Deps{
		Bus:      bus,
		Net:      netServer,
		Conns:    connMgr,
		World:    worldMgr,
		Repos:    repos,
		Tokens:   tokens,
		ChatLog:  chatLog,
		PosCache: posCache,
	}
	guard := services.NewGuard(tokens, connMgr)

	userSvc := services.NewUserService(deps, guard)
	movementSvc := services.NewMovementService(deps, guard)
	mapSvc := services.NewMapService(deps, guard)
	chatSvc := services.NewChatService(deps, guard)
	aiSvc := services.NewAIService(deps, guard)
	craftSvc := services.NewCraftingService(deps, guard)
	weaponSvc := services.NewWeaponService(deps, guard)
	weatherSvc := services.NewWeatherService(ctx, deps, guard)

	all := []services.Service{
		userSvc, movementSvc, mapSvc, chatSvc, aiSvc, craftSvc, weaponSvc, weatherSvc,
	}
	if err := services.CheckAcyclic(all); err != nil {
		logging.Error("❌ Граф сервисов содержит цикл: %v", err)
		log.Fatalf("❌ Граф сервисов содержит цикл: %v", err)
	}
	for _, svc := range all {
		svc.Register(bus)
		logging.Debug("Сервис %s зарегистрирован", svc.Name())
	}

	// Отладочный слушатель трафика запросов
	var reqTopics []string
	for _, svc := range all {
		reqTopics = append(reqTopics, svc.Consumes()...)
	}
	eventbus.StartLoggingListener(bus, reqTopics)

	// Дисконнект сокета эквивалентен logout
	netServer.SetDisconnectHandler(userSvc.HandleDisconnect)

	// === ЗАПУСК ===
	if err := netServer.ListenTLS(tcpAddr, cfg.Server.CertFile, cfg.Server.KeyFile); err != nil {
		logging.Error("❌ Ошибка запуска TLS листенера: %v", err)
		log.Fatalf("❌ Ошибка запуска TLS листенера: %v", err)
	}
	if cfg.Server.KCPPassword != "" {
		if err := netServer.ListenKCP(kcpAddr, cfg.Server.KCPPassword); err != nil {
			logging.Error("Ошибка запуска KCP листенера: %v", err)
		}
	}
	netServer.Start()
	aiSvc.StartWander(ctx)

	restServer := api.NewRestServer(api.Config{
		Port:     restAddr,
		Tokens:   tokens,
		World:    worldMgr,
		Bus:      bus,
		Console:  chatSvc,
		Registry: registry,
	})
	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ Ошибка REST API: %v", err)
		}
	}()

	logging.Info("✅ Все сервисы запущены и готовы принимать соединения")
	logging.Info("   🎮 Игровой трафик: TLS %s", tcpAddr)
	logging.Info("   🌐 REST API: http://localhost%s", restAddr)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restAddr)

	// Ждем сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	// Порядок: сеть (новых запросов нет) -> REST -> фоновые циклы ->
	// хранилища закрываются в defer.
	netServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := restServer.Stop(shutdownCtx); err != nil {
		logging.Error("Ошибка остановки REST API: %v", err)
	}

	weatherSvc.StopAll()
	cancel()
	aiSvc.Wait()

	if telemetryShutdown != nil {
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logging.Error("Ошибка остановки телеметрии: %v", err)
		}
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// loadWorld восстанавливает карты из хранилища и гарантирует наличие
// карты по умолчанию.
func loadWorld(ctx context.Context, mgr *world.Manager, maps storage.MapRepo) error {
	names, err := maps.List(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		snap, err := maps.Load(ctx, name)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		m, err := world.Restore(snap)
		if err != nil {
			logging.Error("Карта %s повреждена, пропущена: %v", name, err)
			continue
		}
		if err := mgr.AddMap(m); err != nil {
			return err
		}
	}
	logging.Info("🗺  Загружено карт: %d", len(mgr.MapNames()))

	// Карта по умолчанию создаётся при первом старте
	if _, err := mgr.GetMap(services.DefaultMapName); err == nil {
		return nil
	}

	home, err := world.NewMap(
		services.DefaultMapName,
		world.NewBounds(0, 100, 0, 100, 0, 10),
		vec.Vec3{X: 50, Y: 50, Z: 0},
		true,
	)
	if err != nil {
		return err
	}
	if err := mgr.AddMap(home); err != nil {
		return err
	}
	if err := maps.Save(ctx, home.Snapshot()); err != nil {
		return err
	}
	logging.Info("🗺  Создана карта по умолчанию %q", services.DefaultMapName)
	return nil
}
