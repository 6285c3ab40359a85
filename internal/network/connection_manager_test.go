package network

import "testing"

func TestRegisterLoginLookup(t *testing.T) {
	cm := NewConnectionManager()

	cm.RegisterLogin("alice", "conn-1")

	if conn, ok := cm.GetConnectionByUsername("alice"); !ok || conn != "conn-1" {
		t.Errorf("Ожидалось conn-1 для alice, получено %q (ok=%v)", conn, ok)
	}
	if user, ok := cm.GetUsernameByConnection("conn-1"); !ok || user != "alice" {
		t.Errorf("Ожидалось alice для conn-1, получено %q (ok=%v)", user, ok)
	}
	if cm.OnlineCount() != 1 {
		t.Errorf("OnlineCount: ожидалось 1, получено %d", cm.OnlineCount())
	}
}

// Повторный логин вытесняет старую привязку в обе стороны.
func TestRegisterLoginSupersedes(t *testing.T) {
	cm := NewConnectionManager()

	cm.RegisterLogin("alice", "conn-1")
	cm.RegisterLogin("alice", "conn-2")

	if conn, _ := cm.GetConnectionByUsername("alice"); conn != "conn-2" {
		t.Errorf("Ожидалось conn-2 после повторного логина, получено %q", conn)
	}
	if _, ok := cm.GetUsernameByConnection("conn-1"); ok {
		t.Error("Старое соединение conn-1 всё ещё привязано")
	}
	if cm.OnlineCount() != 1 {
		t.Errorf("OnlineCount: ожидалось 1, получено %d", cm.OnlineCount())
	}
}

func TestRegisterLogout(t *testing.T) {
	cm := NewConnectionManager()

	cm.RegisterLogin("alice", "conn-1")
	cm.RegisterLogout("alice")

	if _, ok := cm.GetConnectionByUsername("alice"); ok {
		t.Error("alice всё ещё привязана после logout")
	}
	if _, ok := cm.GetUsernameByConnection("conn-1"); ok {
		t.Error("conn-1 всё ещё привязано после logout")
	}

	// Повторный logout безопасен
	cm.RegisterLogout("alice")
}

func TestHandleDisconnect(t *testing.T) {
	cm := NewConnectionManager()

	cm.RegisterLogin("alice", "conn-1")

	username, ok := cm.HandleDisconnect("conn-1")
	if !ok || username != "alice" {
		t.Fatalf("Ожидалось alice, получено %q (ok=%v)", username, ok)
	}
	if cm.OnlineCount() != 0 {
		t.Errorf("OnlineCount: ожидалось 0, получено %d", cm.OnlineCount())
	}

	// Дисконнект неизвестного соединения не находит пользователя
	if _, ok := cm.HandleDisconnect("conn-unknown"); ok {
		t.Error("Неизвестное соединение вернуло пользователя")
	}
}
