package services

import (
	"context"
	"errors"
	"time"

	"github.com/churst90/open-fps-sub000/internal/auth"
	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/storage"
	"github.com/churst90/open-fps-sub000/internal/vec"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// DefaultMapName — каноническая карта, на которую попадают новые аккаунты
// и пользователи с невалидной текущей картой.
const DefaultMapName = "Main"

// UserService обслуживает жизненный цикл аккаунтов: создание, логин,
// логаут. Пароли — bcrypt; сессии — подписанные JWT с ограниченным сроком.
type UserService struct {
	deps   Deps
	guard  *Guard
	logger *logging.Logger
}

// NewUserService создаёт сервис аккаунтов.
func NewUserService(deps Deps, guard *Guard) *UserService {
	return &UserService{
		deps:   deps,
		guard:  guard,
		logger: logging.GetServiceLogger("user"),
	}
}

func (s *UserService) Name() string { return "user" }

func (s *UserService) Consumes() []string {
	return []string{
		string(protocol.MsgAccountCreateRequest),
		string(protocol.MsgAccountLoginRequest),
		string(protocol.MsgAccountLogoutRequest),
	}
}

func (s *UserService) Publishes() []string {
	return []string{
		string(protocol.MsgAccountCreateOK),
		string(protocol.MsgAccountCreateFail),
		string(protocol.MsgAccountLoginOK),
		string(protocol.MsgAccountLoginFail),
		string(protocol.MsgAccountLogoutOK),
	}
}

func (s *UserService) Register(bus eventbus.Bus) {
	bus.Subscribe(string(protocol.MsgAccountCreateRequest), s.handleCreate)
	bus.Subscribe(string(protocol.MsgAccountLoginRequest), s.handleLogin)
	bus.Subscribe(string(protocol.MsgAccountLogoutRequest), s.handleLogout)
}

// fail отправляет приватное _fail событие запрашивающему.
func (s *UserService) fail(ctx context.Context, connID string, t protocol.Type, reason string) {
	emit(ctx, s.deps.Bus, s.deps.Net, connID, protocol.NewFail(t, reason))
}

// handleCreate обрабатывает user_account_create_request.
func (s *UserService) handleCreate(ctx context.Context, ev eventbus.Event) {
	var req protocol.AccountCreateRequest
	if err := ev.Message.DecodeData(&req); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgAccountCreateFail, "Malformed request")
		return
	}
	if req.Username == "" || req.Password == "" {
		s.fail(ctx, ev.ConnID, protocol.MsgAccountCreateFail, "Username and password are required")
		return
	}

	role := world.Role(req.Role)
	if role == "" {
		role = world.RolePlayer
	}
	if !world.IsValidRole(role) {
		s.fail(ctx, ev.ConnID, protocol.MsgAccountCreateFail, "Unknown role")
		return
	}

	// bcrypt намеренно дорогой; выполняется в задаче этого соединения и
	// не блокирует обработку сообщений других клиентов.
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("Ошибка хеширования пароля для %s: %v", req.Username, err)
		s.fail(ctx, ev.ConnID, protocol.MsgAccountCreateFail, reasonServerError)
		return
	}

	user := world.NewUser(req.Username, hash, role)
	user.CurrentMap = DefaultMapName
	if m, err := s.deps.World.GetMap(DefaultMapName); err == nil {
		user.Position = m.Start()
	}

	// Create атомарно отклоняет дубликаты: два конкурентных запроса с одним
	// именем не создадут двух записей.
	if err := s.deps.Repos.Users.Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrExists) {
			s.fail(ctx, ev.ConnID, protocol.MsgAccountCreateFail, reasonAccountExists)
			return
		}
		s.logger.Error("Ошибка сохранения аккаунта %s: %v", req.Username, err)
		s.fail(ctx, ev.ConnID, protocol.MsgAccountCreateFail, reasonServerError)
		return
	}

	s.logger.Info("Создан аккаунт %s (роль %s)", req.Username, role)
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgAccountCreateOK, map[string]interface{}{
		"username": user.Username,
		"role":     user.Role,
	}))
}

// loginResult — полезная нагрузка user_account_login_ok.
type loginResult struct {
	Username string   `json:"username"`
	Token    string   `json:"token"`
	MapName  string   `json:"map_name"`
	Position vec.Vec3 `json:"position"`
	Yaw      float64  `json:"yaw"`
	Pitch    float64  `json:"pitch"`
	Health   int      `json:"health"`
	Energy   int      `json:"energy"`
}

// handleLogin обрабатывает user_account_login_request.
func (s *UserService) handleLogin(ctx context.Context, ev eventbus.Event) {
	var req protocol.AccountLoginRequest
	if err := ev.Message.DecodeData(&req); err != nil {
		s.fail(ctx, ev.ConnID, protocol.MsgAccountLoginFail, "Malformed request")
		return
	}

	user, err := s.deps.Repos.Users.Load(ctx, req.Username)
	if err != nil {
		// Неразличимо с неверным паролем: не раскрываем существование аккаунта.
		s.fail(ctx, ev.ConnID, protocol.MsgAccountLoginFail, reasonBadCredentials)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.fail(ctx, ev.ConnID, protocol.MsgAccountLoginFail, reasonBadCredentials)
		return
	}

	// Гарантируем валидную текущую карту: дефолт — стартовая позиция Main.
	if _, err := s.deps.World.GetMap(user.CurrentMap); err != nil || user.CurrentMap == "" {
		user.CurrentMap = DefaultMapName
		if m, err := s.deps.World.GetMap(DefaultMapName); err == nil {
			user.Position = m.Start()
		}
	}

	// Горячий кеш позиций может держать более свежую позицию (другой узел).
	if s.deps.PosCache != nil {
		if cp, found, err := s.deps.PosCache.Load(ctx, user.Username); err == nil && found {
			if _, err := s.deps.World.GetMap(cp.MapName); err == nil {
				user.CurrentMap = cp.MapName
				user.Position = cp.Position
				user.Yaw = cp.Yaw
				user.Pitch = cp.Pitch
			}
		}
	}

	token, err := s.deps.Tokens.Generate(user.Username, string(user.Role))
	if err != nil {
		s.logger.Error("Ошибка выпуска токена для %s: %v", user.Username, err)
		s.fail(ctx, ev.ConnID, protocol.MsgAccountLoginFail, reasonServerError)
		return
	}

	user.LoggedIn = true
	user.LastLogin = time.Now()
	if err := s.deps.Repos.Users.Save(ctx, user); err != nil {
		s.logger.Error("Ошибка сохранения %s при логине: %v", user.Username, err)
		s.fail(ctx, ev.ConnID, protocol.MsgAccountLoginFail, reasonServerError)
		return
	}

	// Повторный логин с другого места вытесняет прежнее соединение.
	s.deps.World.SetOnline(user)
	s.deps.Conns.RegisterLogin(user.Username, ev.ConnID)

	s.logger.Info("Пользователь %s вошёл (карта %s)", user.Username, user.CurrentMap)
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgAccountLoginOK, loginResult{
		Username: user.Username,
		Token:    token,
		MapName:  user.CurrentMap,
		Position: user.Position,
		Yaw:      user.Yaw,
		Pitch:    user.Pitch,
		Health:   user.Health,
		Energy:   user.Energy,
	}))
}

// handleLogout обрабатывает user_account_logout_request.
// Идемпотентен: _ok уходит независимо от того, была ли активная сессия.
func (s *UserService) handleLogout(ctx context.Context, ev eventbus.Event) {
	username := ev.Message.Username

	authorized := false
	if _, err := s.guard.Authenticate(ev.Message, ev.ConnID); err == nil {
		authorized = true
	} else if bound, ok := s.deps.Conns.GetUsernameByConnection(ev.ConnID); ok && bound == username {
		// Логаут с собственного соединения допустим и без валидного токена.
		authorized = true
	}

	if authorized && username != "" {
		if user, ok := s.deps.World.Online(username); ok {
			user.LoggedIn = false
			if err := s.deps.Repos.Users.Save(ctx, user); err != nil {
				s.logger.Error("Ошибка сохранения %s при логауте: %v", username, err)
			}
			s.deps.World.RemoveOnline(username)
		}
		s.deps.Conns.RegisterLogout(username)
		if s.deps.PosCache != nil {
			_ = s.deps.PosCache.Delete(ctx, username)
		}
		s.logger.Info("Пользователь %s вышел", username)
	}

	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgAccountLogoutOK, map[string]interface{}{
		"username": username,
	}))
}

// HandleDisconnect — вызывается сетевым слоем при разрыве соединения:
// сохраняет состояние пользователя и убирает его из онлайна. Остальные
// соединения и состояние мира не затрагиваются.
func (s *UserService) HandleDisconnect(username string) {
	if user, ok := s.deps.World.Online(username); ok {
		user.LoggedIn = false
		if err := s.deps.Repos.Users.Save(context.Background(), user); err != nil {
			s.logger.Error("Ошибка сохранения %s при дисконнекте: %v", username, err)
		}
		s.deps.World.RemoveOnline(username)
	}
}
