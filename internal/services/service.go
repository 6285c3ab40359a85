package services

import (
	"context"
	"fmt"

	"github.com/churst90/open-fps-sub000/internal/auth"
	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/network"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/storage"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// Sender — примитив доставки исходящих сообщений, предоставляемый сетевым
// слоем. Сервисы не знают о сокетах.
type Sender interface {
	Send(connID string, env *protocol.Envelope) bool
	Broadcast(connIDs []string, env *protocol.Envelope)
}

// Service — общий контракт сервисов: каждый объявляет потребляемые и
// публикуемые топики (для проверки графа зависимостей при конструировании)
// и регистрирует своих слушателей на шине.
type Service interface {
	Name() string
	Consumes() []string
	Publishes() []string
	Register(bus eventbus.Bus)
}

// Repos — набор репозиториев, внедряемый в сервисы.
type Repos struct {
	Maps    storage.MapRepo
	Users   storage.UserRepo
	AI      storage.AIRepo
	Weapons storage.WeaponRepo
	Items   storage.ItemRepo
	Recipes storage.RecipeRepo
}

// Deps — общие зависимости сервисов. Конструируются один раз при старте
// процесса и передаются по ссылке: никакого глобального скрытого состояния.
type Deps struct {
	Bus      eventbus.Bus
	Net      Sender
	Conns    *network.ConnectionManager
	World    *world.Manager
	Repos    Repos
	Tokens   *auth.TokenManager
	ChatLog  storage.ChatLog
	PosCache *storage.RedisPositionCache // опционален (nil — без кеша)
}

// Guard проверяет аутентификацию запроса: подпись и срок токена, совпадение
// встроенного имени с именем запроса и привязку соединения к пользователю.
type Guard struct {
	tokens *auth.TokenManager
	conns  *network.ConnectionManager
}

// NewGuard создаёт проверку аутентификации.
func NewGuard(tokens *auth.TokenManager, conns *network.ConnectionManager) *Guard {
	return &Guard{tokens: tokens, conns: conns}
}

// Authenticate валидирует запрос до каких-либо прикосновений к состоянию.
func (g *Guard) Authenticate(env *protocol.Envelope, connID string) (*auth.Claims, error) {
	if env.Username == "" || env.Token == "" {
		return nil, fmt.Errorf("%w: missing username or token", ErrAuthentication)
	}
	claims, err := g.tokens.VerifyFor(env.Username, env.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	// Запрос обязан приходить с соединения, на котором пользователь
	// залогинен: чужой валидный токен с другого сокета не принимается.
	if cid, ok := g.conns.GetConnectionByUsername(env.Username); !ok || cid != connID {
		return nil, fmt.Errorf("%w: connection is not bound to this session", ErrAuthentication)
	}
	return claims, nil
}

// emit доставляет сообщение получателю и дублирует его в шину событий,
// чтобы слушатели (лог, метрики, другие сервисы) видели исходящий поток.
func emit(ctx context.Context, bus eventbus.Bus, net Sender, connID string, env *protocol.Envelope) {
	net.Send(connID, env)
	bus.Dispatch(ctx, string(env.Type), eventbus.Event{ConnID: connID, Message: env})
}

// connIDsFor возвращает идентичности соединений перечисленных пользователей,
// исключая exclude (пустая строка — без исключений).
func connIDsFor(cm *network.ConnectionManager, users []*world.User, exclude string) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.Username == exclude {
			continue
		}
		if id, ok := cm.GetConnectionByUsername(u.Username); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
