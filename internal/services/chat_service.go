package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/storage"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// Ограничение частоты чата на пользователя.
const (
	chatRatePerSecond = 5
	chatBurst         = 10
	maxChatTextLen    = 1024
)

// rateBucket — token bucket на одного отправителя.
type rateBucket struct {
	tokens   float64
	lastSeen time.Time
}

// ChatService маршрутизирует сообщения чата по категориям.
//
// private — адресная доставка; офлайн-получатель тихо отбрасывается
// (журналируется, отправитель получает подтверждение).
// map     — все на текущей карте отправителя, кроме него самого.
// global  — все онлайн, кроме отправителя.
// server  — служебные объявления, только роль admin (или консоль сервера
// через SendServerMessage); отправитель в доставке фиксирован как "server".
//
// Каждое сообщение дописывается в журнал ДО доставки.
type ChatService struct {
	deps   Deps
	guard  *Guard
	logger *logging.Logger

	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
}

// NewChatService создаёт сервис чата.
func NewChatService(deps Deps, guard *Guard) *ChatService {
	return &ChatService{
		deps:    deps,
		guard:   guard,
		logger:  logging.GetServiceLogger("chat"),
		buckets: make(map[string]*rateBucket),
		now:     time.Now,
	}
}

func (s *ChatService) Name() string { return "chat" }

func (s *ChatService) Consumes() []string {
	return []string{string(protocol.MsgChatMessage)}
}

func (s *ChatService) Publishes() []string {
	return []string{
		string(protocol.MsgChatReceive),
		string(protocol.MsgChatFail),
	}
}

func (s *ChatService) Register(bus eventbus.Bus) {
	bus.Subscribe(string(protocol.MsgChatMessage), s.handleMessage)
}

func (s *ChatService) fail(ctx context.Context, connID, reason string) {
	emit(ctx, s.deps.Bus, s.deps.Net, connID, protocol.NewFail(protocol.MsgChatFail, reason))
}

// allow списывает токен из бакета отправителя.
func (s *ChatService) allow(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[username]
	if !ok {
		b = &rateBucket{tokens: chatBurst, lastSeen: now}
		s.buckets[username] = b
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * chatRatePerSecond
	if b.tokens > chatBurst {
		b.tokens = chatBurst
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (s *ChatService) handleMessage(ctx context.Context, ev eventbus.Event) {
	if _, err := s.guard.Authenticate(ev.Message, ev.ConnID); err != nil {
		s.fail(ctx, ev.ConnID, reasonNotAuthenticated)
		return
	}
	sender, ok := s.deps.World.Online(ev.Message.Username)
	if !ok {
		s.fail(ctx, ev.ConnID, reasonNotAuthenticated)
		return
	}

	var msg protocol.ChatMessage
	if err := ev.Message.DecodeData(&msg); err != nil {
		s.fail(ctx, ev.ConnID, "Malformed request")
		return
	}
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		s.fail(ctx, ev.ConnID, "Empty message")
		return
	}
	if len(msg.Text) > maxChatTextLen {
		s.fail(ctx, ev.ConnID, "Message too long")
		return
	}

	if !s.allow(sender.Username) {
		s.fail(ctx, ev.ConnID, "Rate limit exceeded")
		return
	}

	switch msg.Category {
	case protocol.ChatPrivate:
		s.deliverPrivate(ctx, ev.ConnID, sender, msg)
	case protocol.ChatMap:
		s.deliverMap(ctx, ev.ConnID, sender, msg)
	case protocol.ChatGlobal:
		s.deliverGlobal(ctx, ev.ConnID, sender, msg)
	case protocol.ChatServer:
		if sender.Role != world.RoleAdmin {
			s.fail(ctx, ev.ConnID, reasonNoPermission)
			return
		}
		if err := s.broadcastServer(ctx, msg.Text); err != nil {
			s.fail(ctx, ev.ConnID, reasonServerError)
		}
	default:
		s.fail(ctx, ev.ConnID, "Unknown chat category")
	}
}

// appendLog пишет запись в журнал. Журнал — часть контракта доставки:
// при ошибке записи сообщение не доставляется.
func (s *ChatService) appendLog(ctx context.Context, entry storage.ChatEntry) error {
	if s.deps.ChatLog == nil {
		return nil
	}
	entry.Timestamp = s.now()
	if err := s.deps.ChatLog.Append(ctx, entry); err != nil {
		s.logger.Error("Ошибка записи журнала чата: %v", err)
		return err
	}
	return nil
}

func (s *ChatService) deliverPrivate(ctx context.Context, connID string, sender *world.User, msg protocol.ChatMessage) {
	if msg.Recipient == "" {
		s.fail(ctx, connID, "Recipient required for private chat")
		return
	}

	if err := s.appendLog(ctx, storage.ChatEntry{
		Category:  string(protocol.ChatPrivate),
		Sender:    sender.Username,
		Recipient: msg.Recipient,
		Text:      msg.Text,
	}); err != nil {
		s.fail(ctx, connID, reasonServerError)
		return
	}

	out := protocol.NewOK(protocol.MsgChatReceive, protocol.ChatReceive{
		Category: protocol.ChatPrivate,
		Sender:   sender.Username,
		Text:     msg.Text,
	})

	// Офлайн-получатель не ошибка: сообщение тихо отброшено.
	if rcptConn, ok := s.deps.Conns.GetConnectionByUsername(msg.Recipient); ok {
		s.deps.Net.Send(rcptConn, out)
	} else {
		s.logger.Debug("Приватное сообщение %s -> %s отброшено: получатель офлайн",
			sender.Username, msg.Recipient)
	}
	s.deps.Net.Send(connID, out)
}

func (s *ChatService) deliverMap(ctx context.Context, connID string, sender *world.User, msg protocol.ChatMessage) {
	// Карта отправителя ищется в момент доставки, не из запроса.
	mapName := sender.CurrentMap
	if mapName == "" {
		s.fail(ctx, connID, "You are not on a map")
		return
	}

	if err := s.appendLog(ctx, storage.ChatEntry{
		Category: string(protocol.ChatMap),
		MapName:  mapName,
		Sender:   sender.Username,
		Text:     msg.Text,
	}); err != nil {
		s.fail(ctx, connID, reasonServerError)
		return
	}

	out := protocol.NewOK(protocol.MsgChatReceive, protocol.ChatReceive{
		Category: protocol.ChatMap,
		Sender:   sender.Username,
		MapName:  mapName,
		Text:     msg.Text,
	})

	peers := connIDsFor(s.deps.Conns, s.deps.World.UsersOnMap(mapName), sender.Username)
	if len(peers) > 0 {
		s.deps.Net.Broadcast(peers, out)
	}
	s.deps.Net.Send(connID, out)
}

func (s *ChatService) deliverGlobal(ctx context.Context, connID string, sender *world.User, msg protocol.ChatMessage) {
	if err := s.appendLog(ctx, storage.ChatEntry{
		Category: string(protocol.ChatGlobal),
		Sender:   sender.Username,
		Text:     msg.Text,
	}); err != nil {
		s.fail(ctx, connID, reasonServerError)
		return
	}

	out := protocol.NewOK(protocol.MsgChatReceive, protocol.ChatReceive{
		Category: protocol.ChatGlobal,
		Sender:   sender.Username,
		Text:     msg.Text,
	})

	peers := connIDsFor(s.deps.Conns, s.deps.World.OnlineUsers(), sender.Username)
	if len(peers) > 0 {
		s.deps.Net.Broadcast(peers, out)
	}
	s.deps.Net.Send(connID, out)
}

// broadcastServer доставляет серверное объявление всем онлайн.
func (s *ChatService) broadcastServer(ctx context.Context, text string) error {
	if err := s.appendLog(ctx, storage.ChatEntry{
		Category: string(protocol.ChatServer),
		Sender:   "server",
		Text:     text,
	}); err != nil {
		return err
	}

	out := protocol.NewOK(protocol.MsgChatReceive, protocol.ChatReceive{
		Category: protocol.ChatServer,
		Sender:   "server",
		Text:     text,
	})

	peers := connIDsFor(s.deps.Conns, s.deps.World.OnlineUsers(), "")
	if len(peers) > 0 {
		s.deps.Net.Broadcast(peers, out)
	}
	return nil
}

// SendServerMessage — вход для серверной консоли (REST): объявление
// всем онлайн от имени "server" без конверта клиента.
func (s *ChatService) SendServerMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrValidation
	}
	return s.broadcastServer(ctx, text)
}
