package network

import "github.com/prometheus/client_golang/prometheus"

// Metrics — Prometheus метрики сетевого слоя.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	MessagesReceived  prometheus.Counter
	MessagesSent      prometheus.Counter
	FrameErrors       prometheus.Counter
}

// NewMetrics создаёт и регистрирует метрики сетевого слоя.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "network",
			Name:      "connections_total",
			Help:      "Общее число принятых соединений.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "network",
			Name:      "connections_active",
			Help:      "Число открытых соединений.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "network",
			Name:      "messages_received_total",
			Help:      "Принятых кадров протокола.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "network",
			Name:      "messages_sent_total",
			Help:      "Отправленных кадров протокола.",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "network",
			Name:      "frame_errors_total",
			Help:      "Битых кадров (пропущены без разрыва соединения).",
		}),
	}
	reg.MustRegister(m.ConnectionsTotal, m.ActiveConnections, m.MessagesReceived, m.MessagesSent, m.FrameErrors)
	return m
}
