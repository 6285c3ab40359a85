package eventbus

import (
	"context"
	"sync"

	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/protocol"
)

// Event — полезная нагрузка диспетчера: каждое событие несёт идентификатор
// соединения-источника и структурированное сообщение протокола.
type Event struct {
	ConnID  string
	Message *protocol.Envelope
}

// Listener потребляет события одного топика.
type Listener func(ctx context.Context, ev Event)

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// Bus определяет абстракцию диспетчера событий.
// Топики — строковые имена событий (совпадают с message_type протокола).
// Может иметь разные реализации (in-memory, JetStream).
type Bus interface {
	Subscribe(topic string, l Listener) Subscription
	Dispatch(ctx context.Context, topic string, ev Event)
	Metrics() Stats
	Close()
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[int]Listener
	nextID int
	stats  Stats
	closed bool
}

// NewMemoryBus создаёт in-memory диспетчер.
//
// Dispatch вызывает слушателей последовательно в горутине вызывающего:
// сервис, диспатчащий несколько топиков подряд в рамках одного запроса,
// получает причинный порядок между ними без дополнительной синхронизации.
// Паника слушателя перехватывается и логируется; остальные слушатели и
// вызывающая сторона не затрагиваются.
func NewMemoryBus() Bus {
	return &memoryBus{
		topics: make(map[string]map[int]Listener),
	}
}

func (mb *memoryBus) Subscribe(topic string, l Listener) Subscription {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.topics[topic] == nil {
		mb.topics[topic] = make(map[int]Listener)
	}
	id := mb.nextID
	mb.nextID++
	mb.topics[topic][id] = l

	return &memSub{bus: mb, topic: topic, id: id}
}

func (mb *memoryBus) Dispatch(ctx context.Context, topic string, ev Event) {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return
	}
	listeners := make([]Listener, 0, len(mb.topics[topic]))
	for _, l := range mb.topics[topic] {
		listeners = append(listeners, l)
	}
	mb.mu.RUnlock()

	mb.mu.Lock()
	mb.stats.Published++
	if len(listeners) == 0 {
		mb.stats.Dropped++
	}
	mb.mu.Unlock()

	// Порядок слушателей внутри топика не гарантируется.
	for _, l := range listeners {
		mb.invoke(ctx, topic, l, ev)
	}
}

// invoke изолирует панику слушателя: диспетчеризация никогда не падает
// от имени слушателя.
func (mb *memoryBus) invoke(ctx context.Context, topic string, l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("EventBus: паника слушателя топика %s: %v", topic, r)
		}
	}()
	l(ctx, ev)
	mb.mu.Lock()
	mb.stats.Consumed++
	mb.mu.Unlock()
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.stats
}

func (mb *memoryBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.closed = true
	mb.topics = make(map[string]map[int]Listener)
}

type memSub struct {
	bus   *memoryBus
	topic string
	id    int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if listeners, ok := s.bus.topics[s.topic]; ok {
		delete(listeners, s.id)
		if len(listeners) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
	s.bus.mu.Unlock()
}
