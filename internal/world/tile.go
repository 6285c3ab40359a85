package world

// TileType — тип поверхности тайла из фиксированного перечисления.
type TileType string

const (
	TileAir      TileType = "air"
	TileBrick    TileType = "brick"
	TileConcrete TileType = "concrete"
	TileCement   TileType = "cement"
	TileDirt     TileType = "dirt"
	TileGrass    TileType = "grass"
	TileGlass    TileType = "glass"
	TileIce      TileType = "ice"
	TileLeaves   TileType = "leaves"
	TileMud      TileType = "mud"
	TileWood     TileType = "wood"
	TileWater    TileType = "water"
)

var validTileTypes = map[TileType]struct{}{
	TileAir: {}, TileBrick: {}, TileConcrete: {}, TileCement: {},
	TileDirt: {}, TileGrass: {}, TileGlass: {}, TileIce: {},
	TileLeaves: {}, TileMud: {}, TileWood: {}, TileWater: {},
}

// IsValidTileType проверяет принадлежность типа перечислению.
func IsValidTileType(t TileType) bool {
	_, ok := validTileTypes[t]
	return ok
}

// Tile — объёмная ячейка карты с типом поверхности и флагом стены.
// Неизменяем после создания (кроме явного обновления); удаляется по ключу.
type Tile struct {
	Key    string   `json:"key"`
	Extent Bounds   `json:"extent"`
	Type   TileType `json:"tile_type"`
	IsWall bool     `json:"is_wall"`
}
