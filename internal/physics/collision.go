package physics

import (
	"github.com/churst90/open-fps-sub000/internal/vec"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// CollisionEpsilon — покомпонентный порог «совпадения» двух позиций.
// Позиции с плавающей точкой никогда не равны точно.
const CollisionEpsilon = 1e-4

// Стандартные причины отказа проверки позиции.
// Эти строки уходят клиенту в поле reason без изменений.
const (
	ReasonOutOfBounds      = "out of bounds"
	ReasonBlockedByWall    = "blocked by wall"
	ReasonPositionOccupied = "position occupied"
)

// IsValidPosition проверяет позицию против снимка карты.
// Порядок проверок фиксирован: границы -> тайлы-стены -> занятость.
// Снимок обязан быть свежим на момент вызова: проверка против устаревшего
// снимка — ошибка корректности, а не оптимизация.
func IsValidPosition(snap *world.MapSnapshot, pos vec.Vec3, occupants []vec.Vec3) (bool, string) {
	if !snap.Bounds.Contains(pos) {
		return false, ReasonOutOfBounds
	}

	for _, tile := range snap.Tiles {
		if tile.IsWall && tile.Extent.Contains(pos) {
			return false, ReasonBlockedByWall
		}
	}

	for _, occ := range occupants {
		if pos.WithinEpsilon(occ, CollisionEpsilon) {
			return false, ReasonPositionOccupied
		}
	}

	return true, ""
}
