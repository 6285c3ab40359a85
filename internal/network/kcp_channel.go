package network

import (
	"crypto/sha256"
	"fmt"

	kcp "github.com/xtaci/kcp-go/v5"
)

// ListenKCP запускает дополнительный KCP листенер (UDP с FEC) для клиентов
// на каналах с потерями. Поток шифруется AES ключом, выведенным из общего
// пароля; формат кадров тот же, что и на TLS канале.
func (s *Server) ListenKCP(addr, password string) error {
	if password == "" {
		return fmt.Errorf("KCP каналу требуется пароль шифрования")
	}

	key := sha256.Sum256([]byte(password))
	block, err := kcp.NewAESBlockCrypt(key[:])
	if err != nil {
		return fmt.Errorf("инициализация AES для KCP: %w", err)
	}

	// 10/3 — параметры Рида-Соломона (data/parity shards).
	listener, err := kcp.ListenWithOptions(addr, block, 10, 3)
	if err != nil {
		return fmt.Errorf("KCP listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(listener, "kcp")

	s.logger.Info("KCP листенер запущен на %s", addr)
	return nil
}
