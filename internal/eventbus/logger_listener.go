package eventbus

import (
	"context"

	"github.com/churst90/open-fps-sub000/internal/logging"
)

// StartLoggingListener подписывается на перечисленные топики и пишет их в лог.
// Функция неблокирующая; используется для отладки трафика запросов.
func StartLoggingListener(bus Bus, topics []string) {
	for _, topic := range topics {
		t := topic
		bus.Subscribe(t, func(ctx context.Context, ev Event) {
			logging.Debug("[EventBus] %s conn=%s user=%s", t, ev.ConnID, ev.Message.Username)
		})
	}
	logging.Info("🪵 LoggingListener: подписка на %d топиков активирована", len(topics))
}
