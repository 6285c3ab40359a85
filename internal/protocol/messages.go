package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/churst90/open-fps-sub000/internal/vec"
)

// Type определяет тип сообщения протокола.
// Запросы заканчиваются на _request, ответы на _ok/_fail,
// серверные рассылки на _broadcast (или имеют собственные имена).
type Type string

const (
	// Аккаунты
	MsgAccountCreateRequest Type = "user_account_create_request"
	MsgAccountCreateOK      Type = "user_account_create_ok"
	MsgAccountCreateFail    Type = "user_account_create_fail"
	MsgAccountLoginRequest  Type = "user_account_login_request"
	MsgAccountLoginOK       Type = "user_account_login_ok"
	MsgAccountLoginFail     Type = "user_account_login_fail"
	MsgAccountLogoutRequest Type = "user_account_logout_request"
	MsgAccountLogoutOK      Type = "user_account_logout_ok"

	// Движение и повороты
	MsgMoveRequest    Type = "user_move_request"
	MsgMoveOK         Type = "user_move_ok"
	MsgMoveFail       Type = "user_move_fail"
	MsgMoveBroadcast  Type = "user_move_broadcast"
	MsgTurnRequest    Type = "user_turn_request"
	MsgTurnOK         Type = "user_turn_ok"
	MsgTurnFail       Type = "user_turn_fail"
	MsgTurnBroadcast  Type = "user_turn_broadcast"
	MsgUserJoinedMap  Type = "user_joined_map"
	MsgUserLeftMap    Type = "user_left_map"

	// Карты
	MsgMapCreateRequest        Type = "map_create_request"
	MsgMapCreateOK             Type = "map_create_ok"
	MsgMapCreateFail           Type = "map_create_fail"
	MsgMapRemoveRequest        Type = "map_remove_request"
	MsgMapRemoveOK             Type = "map_remove_ok"
	MsgMapRemoveFail           Type = "map_remove_fail"
	MsgMapJoinRequest          Type = "map_join_request"
	MsgMapJoinOK               Type = "map_join_ok"
	MsgMapJoinFail             Type = "map_join_fail"
	MsgMapLeaveRequest         Type = "map_leave_request"
	MsgMapLeaveOK              Type = "map_leave_ok"
	MsgMapLeaveFail            Type = "map_leave_fail"
	MsgTileAddRequest          Type = "map_tile_add_request"
	MsgTileAddOK               Type = "map_tile_add_ok"
	MsgTileAddFail             Type = "map_tile_add_fail"
	MsgTileRemoveRequest       Type = "map_tile_remove_request"
	MsgTileRemoveOK            Type = "map_tile_remove_ok"
	MsgTileRemoveFail          Type = "map_tile_remove_fail"
	MsgZoneAddRequest          Type = "map_zone_add_request"
	MsgZoneAddOK               Type = "map_zone_add_ok"
	MsgZoneAddFail             Type = "map_zone_add_fail"
	MsgZoneRemoveRequest       Type = "map_zone_remove_request"
	MsgZoneRemoveOK            Type = "map_zone_remove_ok"
	MsgZoneRemoveFail          Type = "map_zone_remove_fail"
	MsgPhysicsUpdateRequest    Type = "map_physics_update_request"
	MsgPhysicsUpdateOK         Type = "map_physics_update_ok"
	MsgPhysicsUpdateFail       Type = "map_physics_update_fail"
	MsgPhysicsUpdateBroadcast  Type = "map_physics_update_broadcast"

	// Чат
	MsgChatMessage Type = "chat_message"
	MsgChatReceive Type = "chat_receive"
	MsgChatFail    Type = "chat_fail"

	// AI
	MsgAISpawnRequest  Type = "ai_spawn_request"
	MsgAISpawnOK       Type = "ai_spawn_ok"
	MsgAISpawnFail     Type = "ai_spawn_fail"
	MsgAIRemoveRequest Type = "ai_remove_request"
	MsgAIRemoveOK      Type = "ai_remove_ok"
	MsgAIRemoveFail    Type = "ai_remove_fail"
	MsgAIMoveBroadcast Type = "ai_move_broadcast"

	// Оружие, крафт, погода
	MsgWeaponCreateRequest Type = "weapon_create_request"
	MsgWeaponCreateOK      Type = "weapon_create_ok"
	MsgWeaponCreateFail    Type = "weapon_create_fail"
	MsgWeaponEquipRequest  Type = "weapon_equip_request"
	MsgWeaponEquipOK       Type = "weapon_equip_ok"
	MsgWeaponEquipFail     Type = "weapon_equip_fail"
	MsgCraftRequest        Type = "craft_request"
	MsgCraftOK             Type = "craft_ok"
	MsgCraftFail           Type = "craft_fail"
	MsgWeatherStartRequest Type = "weather_start_request"
	MsgWeatherStartOK      Type = "weather_start_ok"
	MsgWeatherStartFail    Type = "weather_start_fail"
	MsgWeatherStopRequest  Type = "weather_stop_request"
	MsgWeatherStopOK       Type = "weather_stop_ok"
	MsgWeatherStopFail     Type = "weather_stop_fail"
	MsgWeatherUpdate       Type = "weather_update"
)

// Envelope — единица обмена по сети: один JSON объект на строку.
// Username/Token присутствуют во всех запросах кроме создания аккаунта и логина.
type Envelope struct {
	Type     Type            `json:"message_type"`
	Username string          `json:"username,omitempty"`
	Token    string          `json:"token,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewOK собирает ответ об успехе с полезной нагрузкой.
func NewOK(t Type, data interface{}) *Envelope {
	env := &Envelope{Type: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			env.Data = raw
		}
	}
	return env
}

// NewFail собирает ответ об ошибке с человекочитаемой причиной.
func NewFail(t Type, reason string) *Envelope {
	return &Envelope{Type: t, Reason: reason}
}

// DecodeData разбирает полезную нагрузку конверта в типизированную структуру.
func (e *Envelope) DecodeData(out interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("сообщение %s без полезной нагрузки", e.Type)
	}
	return json.Unmarshal(e.Data, out)
}

// Encode сериализует конверт в JSON без завершающего перевода строки.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode разбирает один кадр протокола.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame without message_type")
	}
	return &env, nil
}

//================ Полезные нагрузки запросов =================//

type AccountCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type AccountLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type MoveRequest struct {
	Direction string `json:"direction"`
}

type TurnRequest struct {
	YawDelta   float64 `json:"yaw_delta"`
	PitchDelta float64 `json:"pitch_delta"`
}

type MapCreateRequest struct {
	Name   string     `json:"map_name"`
	MinX   float64    `json:"min_x"`
	MaxX   float64    `json:"max_x"`
	MinY   float64    `json:"min_y"`
	MaxY   float64    `json:"max_y"`
	MinZ   float64    `json:"min_z"`
	MaxZ   float64    `json:"max_z"`
	Start  vec.Vec3   `json:"start_position"`
	Public bool       `json:"is_public"`
}

type MapNameRequest struct {
	Name string `json:"map_name"`
}

type TileAddRequest struct {
	MapName  string  `json:"map_name"`
	TileType string  `json:"tile_type"`
	IsWall   bool    `json:"is_wall"`
	MinX     float64 `json:"min_x"`
	MaxX     float64 `json:"max_x"`
	MinY     float64 `json:"min_y"`
	MaxY     float64 `json:"max_y"`
	MinZ     float64 `json:"min_z"`
	MaxZ     float64 `json:"max_z"`
}

type TileRemoveRequest struct {
	MapName string `json:"map_name"`
	TileKey string `json:"tile_key"`
}

type ZoneAddRequest struct {
	MapName  string    `json:"map_name"`
	Label    string    `json:"label"`
	ZoneType string    `json:"zone_type"`
	IsSafe   bool      `json:"is_safe"`
	IsHazard bool      `json:"is_hazard"`
	MinX     float64   `json:"min_x"`
	MaxX     float64   `json:"max_x"`
	MinY     float64   `json:"min_y"`
	MaxY     float64   `json:"max_y"`
	MinZ     float64   `json:"min_z"`
	MaxZ     float64   `json:"max_z"`
	DestMap  string    `json:"destination_map,omitempty"`
	DestPos  *vec.Vec3 `json:"destination_position,omitempty"`
}

type ZoneRemoveRequest struct {
	MapName string `json:"map_name"`
	ZoneKey string `json:"zone_key"`
}

type PhysicsUpdateRequest struct {
	MapName       string  `json:"map_name"`
	Gravity       float64 `json:"gravity"`
	AirResistance float64 `json:"air_resistance"`
	Friction      float64 `json:"friction"`
}

// ChatCategory определяет область доставки сообщения чата.
type ChatCategory string

const (
	ChatPrivate ChatCategory = "private"
	ChatMap     ChatCategory = "map"
	ChatGlobal  ChatCategory = "global"
	ChatServer  ChatCategory = "server"
)

type ChatMessage struct {
	Category  ChatCategory `json:"chat_category"`
	Recipient string       `json:"recipient,omitempty"`
	Text      string       `json:"text"`
}

type ChatReceive struct {
	Category ChatCategory `json:"chat_category"`
	Sender   string       `json:"sender"`
	MapName  string       `json:"map_name,omitempty"`
	Text     string       `json:"text"`
}

type AISpawnRequest struct {
	MapName  string   `json:"map_name"`
	Name     string   `json:"name"`
	Role     string   `json:"role,omitempty"`
	Speed    float64  `json:"speed,omitempty"`
	Position vec.Vec3 `json:"position"`
}

type AIRemoveRequest struct {
	AIKey string `json:"ai_key"`
}

type WeaponCreateRequest struct {
	Name     string  `json:"name"`
	Damage   int     `json:"damage"`
	Range    float64 `json:"range"`
	FireRate float64 `json:"fire_rate"`
}

type WeaponEquipRequest struct {
	WeaponKey string `json:"weapon_key"`
}

type CraftRequest struct {
	RecipeKey string `json:"recipe_key"`
}

type WeatherStartRequest struct {
	MapName   string  `json:"map_name"`
	Condition string  `json:"condition"`
	Intensity float64 `json:"intensity"`
}

type WeatherStopRequest struct {
	WeatherKey string `json:"weather_key"`
}
