package world

import "github.com/churst90/open-fps-sub000/internal/vec"

// Независимые сущности со сгенерированными ключами. Жизненный цикл у всех
// одинаковый: create/load/save/remove через соответствующий репозиторий.
// Кросс-сущностных инвариантов нет, кроме ссылок на существующие ключи.

// AIEntity — серверная сущность с простым поведением блуждания.
type AIEntity struct {
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	MapName  string   `json:"map_name"`
	Position vec.Vec3 `json:"position"`
	Health   int      `json:"health"`
	Speed    float64  `json:"speed"`
	Role     string   `json:"role"`
}

// Weapon — описание оружия.
type Weapon struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	Damage   int     `json:"damage"`
	Range    float64 `json:"range"`
	FireRate float64 `json:"fire_rate"`
}

// WeatherSystem — активная погодная система на карте.
type WeatherSystem struct {
	Key       string             `json:"key"`
	MapName   string             `json:"map_name"`
	Condition string             `json:"condition"`
	Intensity float64            `json:"intensity"`
	Active    bool               `json:"active"`
	Props     map[string]string  `json:"properties,omitempty"`
}

// Item — предмет инвентаря.
type Item struct {
	Key   string            `json:"key"`
	Name  string            `json:"name"`
	Props map[string]string `json:"properties,omitempty"`
}

// Recipe — рецепт крафта: результат и количество ингредиентов по ключам предметов.
type Recipe struct {
	Key         string         `json:"key"`
	Name        string         `json:"name"`
	ResultItem  string         `json:"result_item"`
	Ingredients map[string]int `json:"ingredients"`
}
