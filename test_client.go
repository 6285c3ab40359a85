package main

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/vec"
)

func main() {
	fmt.Println("=== ТЕСТОВЫЙ КЛИЕНТ ДЛЯ АНАЛИЗА ПРОТОКОЛА ===")

	// Подключаемся к серверу (самоподписанный сертификат)
	conn, err := tls.Dial("tcp", "localhost:33288", &tls.Config{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Fatalf("Ошибка подключения: %v", err)
	}
	defer conn.Close()

	fmt.Println("✅ Подключен к серверу")

	reader := bufio.NewReader(conn)

	// Тест 1: Создание аккаунта и вход
	fmt.Println("\n=== ТЕСТ 1: АККАУНТ И ВХОД ===")
	token := testLogin(conn, reader)
	if token == "" {
		return
	}

	// Тест 2: Движение
	fmt.Println("\n=== ТЕСТ 2: ДВИЖЕНИЕ ===")
	testMove(conn, reader, token)

	// Тест 3: Чат
	fmt.Println("\n=== ТЕСТ 3: ЧАТ ===")
	testChat(conn, reader, token)

	fmt.Println("\n=== ТЕСТИРОВАНИЕ ЗАВЕРШЕНО ===")
	time.Sleep(2 * time.Second)
}

// sendEnvelope сериализует конверт и пишет его одной строкой.
func sendEnvelope(conn *tls.Conn, env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	fmt.Printf("📤 Отправка %s (%d байт)\n", env.Type, len(data))
	logFrame("REQUEST", data)
	_, err = conn.Write(append(data, '\n'))
	return err
}

// readEnvelope читает один кадр ответа.
func readEnvelope(conn *tls.Conn, reader *bufio.Reader) (*protocol.Envelope, error) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	fmt.Printf("📥 Получен ответ (%d байт)\n", len(line))
	logFrame("RESPONSE", line)
	return protocol.Decode(line)
}

func testLogin(conn *tls.Conn, reader *bufio.Reader) string {
	// Создаем аккаунт (повторный запуск вернёт *_fail — это нормально)
	createData, _ := json.Marshal(protocol.AccountCreateRequest{
		Username: "probe",
		Password: "ChangeMe123!",
	})
	env := &protocol.Envelope{Type: protocol.MsgAccountCreateRequest, Data: createData}
	if err := sendEnvelope(conn, env); err != nil {
		log.Printf("❌ Ошибка отправки account_create: %v", err)
		return ""
	}

	resp, err := readEnvelope(conn, reader)
	if err != nil {
		log.Printf("❌ Ошибка чтения ответа account_create: %v", err)
		return ""
	}
	if resp.Type == protocol.MsgAccountCreateOK {
		fmt.Println("✅ Аккаунт создан")
	} else {
		fmt.Printf("ℹ️ Аккаунт не создан: %s\n", resp.Reason)
	}

	// Входим
	loginData, _ := json.Marshal(protocol.AccountLoginRequest{
		Username: "probe",
		Password: "ChangeMe123!",
	})
	env = &protocol.Envelope{Type: protocol.MsgAccountLoginRequest, Data: loginData}
	if err := sendEnvelope(conn, env); err != nil {
		log.Printf("❌ Ошибка отправки login: %v", err)
		return ""
	}

	resp, err = readEnvelope(conn, reader)
	if err != nil {
		log.Printf("❌ Ошибка чтения ответа login: %v", err)
		return ""
	}
	if resp.Type != protocol.MsgAccountLoginOK {
		fmt.Printf("❌ Вход неудачен: %s\n", resp.Reason)
		return ""
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := resp.DecodeData(&payload); err != nil {
		log.Printf("❌ Ошибка десериализации login_ok: %v", err)
		return ""
	}

	fmt.Printf("✅ Вход успешен! Токен: %s...\n", payload.Token[:minInt(len(payload.Token), 24)])
	return payload.Token
}

func testMove(conn *tls.Conn, reader *bufio.Reader, token string) {
	moveData, _ := json.Marshal(protocol.MoveRequest{Direction: "forward"})
	env := &protocol.Envelope{
		Type:     protocol.MsgMoveRequest,
		Username: "probe",
		Token:    token,
		Data:     moveData,
	}
	if err := sendEnvelope(conn, env); err != nil {
		log.Printf("❌ Ошибка отправки move: %v", err)
		return
	}

	resp, err := readEnvelope(conn, reader)
	if err != nil {
		log.Printf("❌ Ошибка чтения ответа move: %v", err)
		return
	}
	if resp.Type != protocol.MsgMoveOK {
		fmt.Printf("❌ Движение отклонено: %s\n", resp.Reason)
		return
	}

	var payload struct {
		Position vec.Vec3 `json:"position"`
	}
	if err := resp.DecodeData(&payload); err != nil {
		log.Printf("❌ Ошибка десериализации move_ok: %v", err)
		return
	}

	fmt.Printf("✅ Новая позиция: (%.1f, %.1f, %.1f)\n",
		payload.Position.X, payload.Position.Y, payload.Position.Z)
}

func testChat(conn *tls.Conn, reader *bufio.Reader, token string) {
	chatData, _ := json.Marshal(protocol.ChatMessage{
		Category: protocol.ChatMap,
		Text:     "проверка протокола",
	})
	env := &protocol.Envelope{
		Type:     protocol.MsgChatMessage,
		Username: "probe",
		Token:    token,
		Data:     chatData,
	}
	if err := sendEnvelope(conn, env); err != nil {
		log.Printf("❌ Ошибка отправки chat: %v", err)
		return
	}

	// Отправитель всегда получает собственную копию сообщения.
	resp, err := readEnvelope(conn, reader)
	if err != nil {
		log.Printf("❌ Ошибка чтения ответа chat: %v", err)
		return
	}
	if resp.Type != protocol.MsgChatReceive {
		fmt.Printf("❌ Неожиданный ответ %s: %s\n", resp.Type, resp.Reason)
		return
	}

	var payload protocol.ChatReceive
	if err := resp.DecodeData(&payload); err != nil {
		log.Printf("❌ Ошибка десериализации chat_receive: %v", err)
		return
	}
	fmt.Printf("✅ Получена копия: <%s> [%s] %s\n", payload.Sender, payload.MapName, payload.Text)
}

// logFrame печатает кадр как есть — протокол текстовый, hex не нужен.
func logFrame(title string, data []byte) {
	const maxShown = 300
	shown := data
	if len(shown) > maxShown {
		shown = shown[:maxShown]
	}
	fmt.Printf("=== %s ===\n%s\n", title, shown)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
