package tests

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/churst90/open-fps-sub000/internal/auth"
	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/network"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/services"
	"github.com/churst90/open-fps-sub000/internal/storage"
	"github.com/churst90/open-fps-sub000/internal/vec"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// recordingSender подменяет сетевой слой: конверты складываются в память.
type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]*protocol.Envelope
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]*protocol.Envelope)}
}

func (r *recordingSender) Send(connID string, env *protocol.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[connID] = append(r.sent[connID], env)
	return true
}

func (r *recordingSender) Broadcast(connIDs []string, env *protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range connIDs {
		r.sent[id] = append(r.sent[id], env)
	}
}

// lastOf возвращает последний конверт данного типа либо nil.
func (r *recordingSender) lastOf(connID string, t protocol.Type) *protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent[connID]) - 1; i >= 0; i-- {
		if r.sent[connID][i].Type == t {
			return r.sent[connID][i]
		}
	}
	return nil
}

// countOf возвращает число конвертов данного типа.
func (r *recordingSender) countOf(connID string, t protocol.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, env := range r.sent[connID] {
		if env.Type == t {
			n++
		}
	}
	return n
}

// gameStack — полный серверный стек на in-memory зависимостях:
// шина, мир, репозитории, токены и все игровые сервисы.
type gameStack struct {
	Bus    eventbus.Bus
	Net    *recordingSender
	Conns  *network.ConnectionManager
	World  *world.Manager
	Store  *storage.MemoryStore
	Tokens *auth.TokenManager
	Chat   *services.ChatService
	All    []services.Service
}

func newGameStack(t *testing.T) *gameStack {
	t.Helper()

	store := storage.NewMemoryStore()
	mgr := world.NewManager()

	home, err := world.NewMap("Main", world.NewBounds(0, 100, 0, 100, 0, 10),
		vec.Vec3{X: 50, Y: 50, Z: 0}, true)
	require.NoError(t, err)
	require.NoError(t, mgr.AddMap(home))

	tokens, err := auth.NewTokenManager([]byte("integration-secret-0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	stack := &gameStack{
		Bus:    eventbus.NewMemoryBus(),
		Net:    newRecordingSender(),
		Conns:  network.NewConnectionManager(),
		World:  mgr,
		Store:  store,
		Tokens: tokens,
	}

	deps := services.Deps{
		Bus:   stack.Bus,
		Net:   stack.Net,
		Conns: stack.Conns,
		World: mgr,
		Repos: services.Repos{
			Maps:    store.Maps(),
			Users:   store.Users(),
			AI:      store.AI(),
			Weapons: store.Weapons(),
			Items:   store.Items(),
			Recipes: store.Recipes(),
		},
		Tokens: tokens,
	}
	guard := services.NewGuard(tokens, stack.Conns)

	stack.Chat = services.NewChatService(deps, guard)
	stack.All = []services.Service{
		services.NewUserService(deps, guard),
		services.NewMovementService(deps, guard),
		services.NewMapService(deps, guard),
		stack.Chat,
		services.NewAIService(deps, guard),
		services.NewCraftingService(deps, guard),
		services.NewWeaponService(deps, guard),
		services.NewWeatherService(context.Background(), deps, guard),
	}
	require.NoError(t, services.CheckAcyclic(stack.All))
	for _, svc := range stack.All {
		svc.Register(stack.Bus)
	}

	t.Cleanup(stack.Bus.Close)
	return stack
}

// send подаёт конверт в шину так же, как сетевой слой после разбора кадра.
func (gs *gameStack) send(t *testing.T, connID string, msgType protocol.Type, username, token string, data interface{}) {
	t.Helper()
	env := &protocol.Envelope{Type: msgType, Username: username, Token: token}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		env.Data = raw
	}

	// Кадр проходит полный цикл кодирования, как по сети
	frame, err := env.Encode()
	require.NoError(t, err)
	decoded, err := protocol.Decode(frame)
	require.NoError(t, err)

	gs.Bus.Dispatch(context.Background(), string(decoded.Type), eventbus.Event{ConnID: connID, Message: decoded})
}

// login создаёт аккаунт и логинит его, возвращая токен сессии.
func (gs *gameStack) login(t *testing.T, connID, username string, role world.Role) string {
	t.Helper()

	gs.send(t, connID, protocol.MsgAccountCreateRequest, "", "", protocol.AccountCreateRequest{
		Username: username,
		Password: "secret",
		Role:     string(role),
	})
	gs.send(t, connID, protocol.MsgAccountLoginRequest, "", "", protocol.AccountLoginRequest{
		Username: username,
		Password: "secret",
	})

	ok := gs.Net.lastOf(connID, protocol.MsgAccountLoginOK)
	require.NotNil(t, ok, "логин %s не подтверждён", username)

	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, ok.DecodeData(&res))
	require.NotEmpty(t, res.Token)
	return res.Token
}
