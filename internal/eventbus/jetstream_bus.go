package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/protocol"
)

// JetStreamBus реализует Bus поверх NATS JetStream.
// Используется при горизонтальном масштабировании: несколько игровых узлов
// разделяют один поток событий.
type JetStreamBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	stream    string
	mu        sync.Mutex
	subs      []*nats.Subscription
	published uint64
	consumed  uint64
	dropped   uint64
}

// wireEvent — сериализуемое представление Event для передачи через NATS.
type wireEvent struct {
	ConnID  string             `json:"conn_id"`
	Message *protocol.Envelope `json:"message"`
}

// NewJetStreamBus подключается к кластеру NATS и гарантирует наличие стрима.
// url: nats://127.0.0.1:4222, stream: "GAME_EVENTS".
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if stream == "" {
		stream = "GAME_EVENTS"
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Drain()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Ensure stream exists (subjects: game.*)
	_, err = js.StreamInfo(stream)
	if err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{"game.*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    retention,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			nc.Drain()
			return nil, fmt.Errorf("add stream: %w", err)
		}
	}

	return &JetStreamBus{nc: nc, js: js, stream: stream}, nil
}

// Dispatch сериализует событие в JSON и публикует в subject game.<topic>.
func (jb *JetStreamBus) Dispatch(ctx context.Context, topic string, ev Event) {
	data, err := json.Marshal(wireEvent{ConnID: ev.ConnID, Message: ev.Message})
	if err != nil {
		atomic.AddUint64(&jb.dropped, 1)
		logging.Error("JetStreamBus: ошибка сериализации события %s: %v", topic, err)
		return
	}
	if _, err := jb.js.Publish(fmt.Sprintf("game.%s", topic), data); err != nil {
		atomic.AddUint64(&jb.dropped, 1)
		logging.Error("JetStreamBus: ошибка публикации %s: %v", topic, err)
		return
	}
	atomic.AddUint64(&jb.published, 1)
}

// Subscribe подписывает слушателя на subject game.<topic>.
func (jb *JetStreamBus) Subscribe(topic string, l Listener) Subscription {
	sub, err := jb.js.Subscribe(fmt.Sprintf("game.%s", topic), func(msg *nats.Msg) {
		var we wireEvent
		if err := json.Unmarshal(msg.Data, &we); err != nil {
			atomic.AddUint64(&jb.dropped, 1)
			logging.Error("JetStreamBus: битое событие в %s: %v", msg.Subject, err)
			return
		}
		defer func() {
			if r := recover(); r != nil {
				logging.Error("JetStreamBus: паника слушателя топика %s: %v", topic, r)
			}
		}()
		l(context.Background(), Event{ConnID: we.ConnID, Message: we.Message})
		atomic.AddUint64(&jb.consumed, 1)
	})
	if err != nil {
		logging.Error("JetStreamBus: ошибка подписки на %s: %v", topic, err)
		return nopSubscription{}
	}

	jb.mu.Lock()
	jb.subs = append(jb.subs, sub)
	jb.mu.Unlock()

	return &jsSub{sub: sub}
}

// Metrics возвращает статистику шины.
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: atomic.LoadUint64(&jb.published),
		Consumed:  atomic.LoadUint64(&jb.consumed),
		Dropped:   atomic.LoadUint64(&jb.dropped),
	}
}

// Close отписывает всех слушателей и дренирует соединение.
func (jb *JetStreamBus) Close() {
	jb.mu.Lock()
	for _, s := range jb.subs {
		_ = s.Unsubscribe()
	}
	jb.subs = nil
	jb.mu.Unlock()
	_ = jb.nc.Drain()
}

type jsSub struct{ sub *nats.Subscription }

func (s *jsSub) Unsubscribe() { _ = s.sub.Unsubscribe() }

type nopSubscription struct{}

func (nopSubscription) Unsubscribe() {}
