package network

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/observability"
	"github.com/churst90/open-fps-sub000/internal/protocol"
)

// Максимальный размер одного кадра протокола.
const maxFrameSize = 1024 * 1024 // 1 МБ

// Соединения без трафика дольше этого срока принудительно закрываются.
const idleTimeout = 5 * time.Minute

// OnMessage — единственная точка входа сообщений в игровую логику.
// Сетевой слой не содержит бизнес-логики.
type OnMessage func(env *protocol.Envelope, connID string)

// Server принимает зашифрованные потоковые соединения (TLS и опционально
// KCP), нарезает входящий поток на кадры и передаёт каждый кадр в callback.
// Предоставляет примитивы Send/Broadcast для исходящего трафика.
type Server struct {
	mu        sync.RWMutex
	conns     map[string]*Conn
	listeners []net.Listener

	cm           *ConnectionManager
	onMessage    OnMessage
	onDisconnect func(username string)
	metrics      *Metrics
	logger       *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Conn — одно открытое соединение с клиентом.
type Conn struct {
	id       string
	conn     net.Conn
	writeMu  sync.Mutex
	lastSeen time.Time
	closing  bool
}

// NewServer создаёт сервер без запущенных листенеров.
func NewServer(cm *ConnectionManager, onMessage OnMessage, metrics *Metrics) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		conns:     make(map[string]*Conn),
		cm:        cm,
		onMessage: onMessage,
		metrics:   metrics,
		logger:    logging.GetNetworkLogger(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetDisconnectHandler задаёт callback, вызываемый после того, как
// HandleDisconnect снял маппинг залогиненного пользователя.
func (s *Server) SetDisconnectHandler(fn func(username string)) {
	s.onDisconnect = fn
}

// ListenTLS запускает TLS листенер на адресе. Сертификат загружается из
// файлов либо генерируется самоподписанный.
func (s *Server) ListenTLS(addr, certFile, keyFile string) error {
	cert, err := LoadOrGenerateCert(certFile, keyFile)
	if err != nil {
		return err
	}

	listener, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(listener, "tls")

	s.logger.Info("TLS листенер запущен на %s", addr)
	return nil
}

// Start запускает фоновую проверку простаивающих соединений.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.idleCheckLoop()
}

// acceptLoop принимает новые соединения одного листенера.
func (s *Server) acceptLoop(listener net.Listener, kind string) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Ошибка принятия соединения (%s): %v", kind, err)
			continue
		}

		c := &Conn{
			id:       uuid.NewString(),
			conn:     conn,
			lastSeen: time.Now(),
		}

		s.mu.Lock()
		s.conns[c.id] = c
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.ConnectionsTotal.Inc()
			s.metrics.ActiveConnections.Inc()
		}

		s.logger.Debug("Соединение %s принято (%s, %s)", c.id, kind, conn.RemoteAddr())

		s.wg.Add(1)
		go s.readLoop(c)
	}
}

// readLoop читает по одному кадру за раз и передаёт его в callback.
// Битые кадры логируются и пропускаются — они никогда не роняют цикл чтения.
// При любом завершении (дисконнект, ошибка, shutdown) HandleDisconnect
// вызывается до освобождения ресурсов соединения.
func (s *Server) readLoop(c *Conn) {
	defer s.wg.Done()
	defer s.dropConn(c)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		frame := scanner.Bytes()
		if len(frame) == 0 {
			continue
		}

		c.writeMu.Lock()
		c.lastSeen = time.Now()
		c.writeMu.Unlock()

		env, err := protocol.Decode(frame)
		if err != nil {
			if s.metrics != nil {
				s.metrics.FrameErrors.Inc()
			}
			logging.LogProtocolError(c.id, err, frame)
			continue
		}

		if s.metrics != nil {
			s.metrics.MessagesReceived.Inc()
		}

		// Корневой span на каждое входящее сообщение: длительность
		// обработки по типу запроса видна в трейсах.
		_, span := observability.Tracer().Start(s.ctx, string(env.Type),
			trace.WithAttributes(attribute.String("conn_id", c.id)))
		s.onMessage(env, c.id)
		span.End()
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("Соединение %s: ошибка чтения: %v", c.id, err)
	}
}

// dropConn закрывает соединение и снимает его маппинги.
// Порядок фиксирован: сначала HandleDisconnect, затем ресурсы.
func (s *Server) dropConn(c *Conn) {
	if username, ok := s.cm.HandleDisconnect(c.id); ok {
		s.logger.Info("Пользователь %s отключён (соединение %s)", username, c.id)
		if s.onDisconnect != nil {
			s.onDisconnect(username)
		}
	}

	_ = c.conn.Close()

	s.mu.Lock()
	_, existed := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()

	if existed && s.metrics != nil {
		s.metrics.ActiveConnections.Dec()
	}

	s.logger.Debug("Соединение %s закрыто", c.id)
}

// idleCheckLoop закрывает соединения без трафика.
func (s *Server) idleCheckLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			stale := make([]*Conn, 0)
			for _, c := range s.conns {
				c.writeMu.Lock()
				idle := time.Since(c.lastSeen) > idleTimeout
				c.writeMu.Unlock()
				if idle {
					stale = append(stale, c)
				}
			}
			s.mu.RUnlock()

			for _, c := range stale {
				s.logger.Info("Соединение %s закрыто по таймауту простоя", c.id)
				// Закрытие сокета завершает readLoop, который вызовет dropConn.
				_ = c.conn.Close()
			}
		}
	}
}

// Send отправляет сообщение в соединение (best-effort).
// Возвращает false, если соединение отсутствует, закрывается или запись
// провалилась; ошибка логируется, но не распространяется.
func (s *Server) Send(connID string, env *protocol.Envelope) bool {
	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Debug("Send: соединение %s не найдено (%s)", connID, env.Type)
		return false
	}

	data, err := env.Encode()
	if err != nil {
		s.logger.Error("Send: ошибка сериализации %s: %v", env.Type, err)
		return false
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closing {
		return false
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(data); err != nil {
		s.logger.Debug("Send: ошибка записи в %s: %v", connID, err)
		return false
	}

	if s.metrics != nil {
		s.metrics.MessagesSent.Inc()
	}
	return true
}

// Broadcast отправляет сообщение каждому из перечисленных соединений.
func (s *Server) Broadcast(connIDs []string, env *protocol.Envelope) {
	for _, id := range connIDs {
		s.Send(id, env)
	}
}

// Stop дренирует сервер: закрывает листенеры (новых соединений больше нет),
// затем все открытые соединения, затем ждёт завершения всех задач чтения.
// После возврата ни одно сообщение доставлено не будет.
func (s *Server) Stop() {
	s.cancel()

	s.mu.Lock()
	for _, l := range s.listeners {
		_ = l.Close()
	}
	s.listeners = nil
	for _, c := range s.conns {
		c.writeMu.Lock()
		c.closing = true
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Сетевой сервер остановлен")
}
