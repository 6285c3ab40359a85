package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/churst90/open-fps-sub000/internal/auth"
	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// Console — вход для серверных объявлений в чат.
type Console interface {
	SendServerMessage(ctx context.Context, text string) error
}

// RestServer представляет административный REST API сервер
type RestServer struct {
	router  *gin.Engine
	httpSrv *http.Server
	tokens  *auth.TokenManager
	world   *world.Manager
	bus     eventbus.Bus
	console Console
	metrics *ProcessStats
	logger  *logging.Logger
	port    string
}

// Config содержит конфигурацию REST сервера
type Config struct {
	Port     string              // адрес, например ":8088"
	Tokens   *auth.TokenManager  // проверка JWT
	World    *world.Manager      // онлайн и карты
	Bus      eventbus.Bus        // статистика шины
	Console  Console             // серверный чат
	Registry prometheus.Gatherer // экспорт /metrics
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	server := &RestServer{
		router:  router,
		tokens:  config.Tokens,
		world:   config.World,
		bus:     config.Bus,
		console: config.Console,
		metrics: NewProcessStats(),
		logger:  logging.GetComponentLogger("rest_api"),
		port:    config.Port,
	}

	server.setupRoutes(config.Registry)
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes(registry prometheus.Gatherer) {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check и метрики (без аутентификации)
	rs.router.GET("/health", rs.handleHealth)
	if registry != nil {
		rs.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	// Защищенные эндпоинты (требуют JWT)
	protected := rs.router.Group("/api")
	protected.Use(rs.jwtMiddleware())
	{
		protected.GET("/status", rs.handleStatus)
		protected.GET("/users/online", rs.handleOnlineUsers)
		protected.GET("/maps", rs.handleMaps)

		// Только для админов
		admin := protected.Group("/")
		admin.Use(rs.adminMiddleware())
		{
			admin.POST("/chat/server", rs.handleServerChat)
		}
	}
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// jwtMiddleware проверяет заголовок Authorization: Bearer <token>.
func (rs *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Требуется токен авторизации",
			})
			return
		}

		claims, err := rs.tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Недействительный токен",
			})
			return
		}

		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// adminMiddleware пропускает только роль admin.
func (rs *RestServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role, _ := c.Get("role"); role != string(world.RoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, GenericResponse{
				Success: false,
				Message: "Требуются права администратора",
			})
			return
		}
		c.Next()
	}
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleStatus возвращает статистику сервера
func (rs *RestServer) handleStatus(c *gin.Context) {
	stats := map[string]interface{}{
		"server": map[string]interface{}{
			"uptime":      rs.metrics.Uptime(),
			"cpu_percent": fmt.Sprintf("%.2f", rs.metrics.CPUPercent()),
			"server_time": time.Now().Unix(),
		},
		"memory_details": rs.metrics.MemorySnapshot(),
		"online_users":   len(rs.world.OnlineUsers()),
		"maps":           len(rs.world.MapNames()),
	}

	if rs.bus != nil {
		busStats := rs.bus.Metrics()
		stats["event_bus"] = map[string]interface{}{
			"published": busStats.Published,
			"consumed":  busStats.Consumed,
			"dropped":   busStats.Dropped,
		}
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// handleOnlineUsers возвращает список онлайн-игроков
func (rs *RestServer) handleOnlineUsers(c *gin.Context) {
	online := rs.world.OnlineUsers()
	users := make([]map[string]interface{}, 0, len(online))
	for _, u := range online {
		users = append(users, map[string]interface{}{
			"username":    u.Username,
			"role":        u.Role,
			"current_map": u.CurrentMap,
			"position":    u.Position,
		})
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список онлайн-игроков",
		Data: map[string]interface{}{
			"users": users,
			"total": len(users),
		},
	})
}

// handleMaps возвращает имена зарегистрированных карт
func (rs *RestServer) handleMaps(c *gin.Context) {
	names := rs.world.MapNames()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список карт",
		Data: map[string]interface{}{
			"maps":  names,
			"total": len(names),
		},
	})
}

// ServerChatRequest представляет серверное объявление
type ServerChatRequest struct {
	Text string `json:"text" binding:"required"`
}

// handleServerChat рассылает серверное объявление всем онлайн (только админ)
func (rs *RestServer) handleServerChat(c *gin.Context) {
	var req ServerChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	if err := rs.console.SendServerMessage(c.Request.Context(), req.Text); err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка отправки объявления",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Объявление отправлено",
	})
}

// Handler возвращает корневой http.Handler (используется в тестах).
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает REST сервер (блокирующий вызов).
func (rs *RestServer) Start() error {
	rs.httpSrv = &http.Server{Addr: rs.port, Handler: rs.router}
	rs.logger.Info("REST API слушает на %s", rs.port)
	if err := rs.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop останавливает REST сервер.
func (rs *RestServer) Stop(ctx context.Context) error {
	if rs.httpSrv == nil {
		return nil
	}
	return rs.httpSrv.Shutdown(ctx)
}
