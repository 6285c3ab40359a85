package services

import (
	"testing"

	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/world"
)

func TestWeatherStartAndStop(t *testing.T) {
	te := newTestEnv(t)
	adminToken := te.loginAs("conn-1", "admin", world.RoleAdmin)
	te.loginAs("conn-2", "bob", world.RolePlayer)

	te.dispatch("conn-1", request(t, protocol.MsgWeatherStartRequest, "admin", adminToken, protocol.WeatherStartRequest{
		MapName:   DefaultMapName,
		Condition: "rain",
		Intensity: 0.7,
	}))

	var started struct {
		WeatherKey string  `json:"weather_key"`
		MapName    string  `json:"map_name"`
		Condition  string  `json:"condition"`
		Intensity  float64 `json:"intensity"`
	}
	decodePayload(t, te.net.lastOf("conn-1", protocol.MsgWeatherStartOK), &started)
	if started.WeatherKey == "" || started.Condition != "rain" || started.Intensity != 0.7 {
		t.Fatalf("Неожиданная полезная нагрузка старта: %+v", started)
	}

	// Игроки карты получают состояние сразу при старте
	var update struct {
		WeatherKey string `json:"weather_key"`
		Condition  string `json:"condition"`
		Active     bool   `json:"active"`
	}
	decodePayload(t, te.net.lastOf("conn-2", protocol.MsgWeatherUpdate), &update)
	if update.WeatherKey != started.WeatherKey || !update.Active {
		t.Errorf("Неожиданное обновление погоды: %+v", update)
	}

	te.dispatch("conn-1", request(t, protocol.MsgWeatherStopRequest, "admin", adminToken, protocol.WeatherStopRequest{
		WeatherKey: started.WeatherKey,
	}))
	if env := te.net.lastOf("conn-1", protocol.MsgWeatherStopOK); env == nil {
		t.Fatal("Остановка погоды не подтверждена")
	}

	// Финальное обновление помечает систему неактивной
	decodePayload(t, te.net.lastOf("conn-2", protocol.MsgWeatherUpdate), &update)
	if update.Active {
		t.Errorf("Система всё ещё активна после остановки: %+v", update)
	}

	// Повторная остановка — ошибка
	te.dispatch("conn-1", request(t, protocol.MsgWeatherStopRequest, "admin", adminToken, protocol.WeatherStopRequest{
		WeatherKey: started.WeatherKey,
	}))
	te.expectFail("conn-1", protocol.MsgWeatherStopFail, "Weather system not found")
}

func TestWeatherStartValidation(t *testing.T) {
	te := newTestEnv(t)
	token := te.loginAs("conn-1", "admin", world.RoleAdmin)

	te.dispatch("conn-1", request(t, protocol.MsgWeatherStartRequest, "admin", token, protocol.WeatherStartRequest{
		MapName:   DefaultMapName,
		Condition: "rain",
		Intensity: 1.5,
	}))
	te.expectFail("conn-1", protocol.MsgWeatherStartFail, "Intensity must be in (0, 1]")

	te.dispatch("conn-1", request(t, protocol.MsgWeatherStartRequest, "admin", token, protocol.WeatherStartRequest{
		MapName:   "Nowhere",
		Condition: "rain",
		Intensity: 0.5,
	}))
	te.expectFail("conn-1", protocol.MsgWeatherStartFail, "Map not found")
}

func TestWeatherRequiresPermission(t *testing.T) {
	te := newTestEnv(t)
	token := te.loginAs("conn-1", "alice", world.RolePlayer)

	te.dispatch("conn-1", request(t, protocol.MsgWeatherStartRequest, "alice", token, protocol.WeatherStartRequest{
		MapName:   DefaultMapName,
		Condition: "fog",
		Intensity: 0.3,
	}))
	te.expectFail("conn-1", protocol.MsgWeatherStartFail, reasonNoPermission)
}
