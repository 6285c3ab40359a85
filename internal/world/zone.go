package world

import "github.com/churst90/open-fps-sub000/internal/vec"

// ZoneType — семантика зоны.
type ZoneType string

const (
	ZoneNormal ZoneType = "normal"
	ZoneDoor   ZoneType = "door"
	ZoneTravel ZoneType = "travel"
)

// Zone — помеченная подобласть карты с поведенческими флагами.
// Зоны не блокируют движение; они используются для областных эффектов
// и телепортации (zone_type == travel).
type Zone struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Bounds   Bounds    `json:"bounds"`
	IsSafe   bool      `json:"is_safe"`
	IsHazard bool      `json:"is_hazard"`
	Type     ZoneType  `json:"zone_type"`
	DestMap  string    `json:"destination_map,omitempty"`
	DestPos  *vec.Vec3 `json:"destination_position,omitempty"`
}
