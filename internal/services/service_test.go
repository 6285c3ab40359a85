package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/churst90/open-fps-sub000/internal/auth"
	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/network"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/storage"
	"github.com/churst90/open-fps-sub000/internal/vec"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// fakeSender записывает исходящие конверты по соединениям вместо сети.
type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]*protocol.Envelope
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]*protocol.Envelope)}
}

func (f *fakeSender) Send(connID string, env *protocol.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connID] = append(f.sent[connID], env)
	return true
}

func (f *fakeSender) Broadcast(connIDs []string, env *protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range connIDs {
		f.sent[id] = append(f.sent[id], env)
	}
}

// byType возвращает все конверты данного типа, отправленные соединению.
func (f *fakeSender) byType(connID string, t protocol.Type) []*protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range f.sent[connID] {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// lastOf возвращает последний конверт данного типа либо nil.
func (f *fakeSender) lastOf(connID string, t protocol.Type) *protocol.Envelope {
	envs := f.byType(connID, t)
	if len(envs) == 0 {
		return nil
	}
	return envs[len(envs)-1]
}

// testEnv — полный стек сервисов на in-memory зависимостях.
type testEnv struct {
	t      *testing.T
	bus    eventbus.Bus
	net    *fakeSender
	conns  *network.ConnectionManager
	world  *world.Manager
	store  *storage.MemoryStore
	tokens *auth.TokenManager
	deps    Deps
	guard   *Guard
	chat    *ChatService
	weather *WeatherService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	mgr := world.NewManager()
	home, err := world.NewMap(DefaultMapName, world.NewBounds(0, 100, 0, 100, 0, 10),
		vec.Vec3{X: 50, Y: 50, Z: 0}, true)
	if err != nil {
		t.Fatalf("Ошибка создания карты по умолчанию: %v", err)
	}
	if err := mgr.AddMap(home); err != nil {
		t.Fatalf("Ошибка регистрации карты по умолчанию: %v", err)
	}

	tokens, err := auth.NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	if err != nil {
		t.Fatalf("Ошибка создания менеджера токенов: %v", err)
	}

	te := &testEnv{
		t:      t,
		bus:    eventbus.NewMemoryBus(),
		net:    newFakeSender(),
		conns:  network.NewConnectionManager(),
		world:  mgr,
		store:  store,
		tokens: tokens,
	}
	te.deps = Deps{
		Bus:   te.bus,
		Net:   te.net,
		Conns: te.conns,
		World: mgr,
		Repos: Repos{
			Maps:    store.Maps(),
			Users:   store.Users(),
			AI:      store.AI(),
			Weapons: store.Weapons(),
			Items:   store.Items(),
			Recipes: store.Recipes(),
		},
		Tokens: tokens,
	}
	te.guard = NewGuard(tokens, te.conns)

	te.chat = NewChatService(te.deps, te.guard)
	te.weather = NewWeatherService(context.Background(), te.deps, te.guard)
	all := []Service{
		NewUserService(te.deps, te.guard),
		NewMovementService(te.deps, te.guard),
		NewMapService(te.deps, te.guard),
		te.chat,
		NewAIService(te.deps, te.guard),
		NewCraftingService(te.deps, te.guard),
		NewWeaponService(te.deps, te.guard),
		te.weather,
	}
	for _, svc := range all {
		svc.Register(te.bus)
	}
	t.Cleanup(func() {
		te.weather.StopAll()
		te.bus.Close()
	})
	return te
}

// dispatch подаёт конверт в шину так же, как это делает сетевой слой.
func (te *testEnv) dispatch(connID string, env *protocol.Envelope) {
	te.bus.Dispatch(context.Background(), string(env.Type), eventbus.Event{ConnID: connID, Message: env})
}

// request собирает конверт запроса с типизированной полезной нагрузкой.
func request(t *testing.T, msgType protocol.Type, username, token string, data interface{}) *protocol.Envelope {
	t.Helper()
	env := &protocol.Envelope{Type: msgType, Username: username, Token: token}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("Ошибка сериализации запроса: %v", err)
		}
		env.Data = raw
	}
	return env
}

// loginAs создаёт аккаунт и логинит его с указанного соединения.
// Возвращает токен сессии.
func (te *testEnv) loginAs(connID, username string, role world.Role) string {
	te.t.Helper()

	te.dispatch(connID, request(te.t, protocol.MsgAccountCreateRequest, "", "", protocol.AccountCreateRequest{
		Username: username,
		Password: "secret",
		Role:     string(role),
	}))
	if fail := te.net.lastOf(connID, protocol.MsgAccountCreateFail); fail != nil {
		te.t.Fatalf("Ошибка создания аккаунта %s: %s", username, fail.Reason)
	}

	te.dispatch(connID, request(te.t, protocol.MsgAccountLoginRequest, "", "", protocol.AccountLoginRequest{
		Username: username,
		Password: "secret",
	}))
	ok := te.net.lastOf(connID, protocol.MsgAccountLoginOK)
	if ok == nil {
		te.t.Fatalf("Логин %s не подтверждён", username)
	}

	var res struct {
		Token string `json:"token"`
	}
	decodePayload(te.t, ok, &res)
	if res.Token == "" {
		te.t.Fatalf("Логин %s без токена", username)
	}
	return res.Token
}

// decodePayload разбирает полезную нагрузку конверта, падая при ошибке.
func decodePayload(t *testing.T, env *protocol.Envelope, out interface{}) {
	t.Helper()
	if env == nil {
		t.Fatal("Ожидаемый конверт отсутствует")
	}
	if err := env.DecodeData(out); err != nil {
		t.Fatalf("Ошибка разбора полезной нагрузки %s: %v", env.Type, err)
	}
}

// expectFail проверяет, что последний ответ данного типа несёт причину reason.
func (te *testEnv) expectFail(connID string, t protocol.Type, reason string) {
	te.t.Helper()
	env := te.net.lastOf(connID, t)
	if env == nil {
		te.t.Fatalf("Ожидался %s, но он не отправлен", t)
	}
	if env.Reason != reason {
		te.t.Errorf("Причина %s: ожидалось %q, получено %q", t, reason, env.Reason)
	}
}
