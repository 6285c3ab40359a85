package world

import (
	"fmt"

	"github.com/churst90/open-fps-sub000/internal/vec"
)

// Bounds описывает прямоугольный объём в пространстве карты
// шестёркой координат (два противоположных угла).
type Bounds struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
	MinZ float64 `json:"min_z"`
	MaxZ float64 `json:"max_z"`
}

// NewBounds нормализует порядок углов: min всегда меньше либо равен max.
func NewBounds(minX, maxX, minY, maxY, minZ, maxZ float64) Bounds {
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	if minZ > maxZ {
		minZ, maxZ = maxZ, minZ
	}
	return Bounds{MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY, MinZ: minZ, MaxZ: maxZ}
}

// Contains проверяет, находится ли точка внутри объёма (границы включительно).
func (b Bounds) Contains(p vec.Vec3) bool {
	return p.X >= b.MinX && p.X <= b.MaxX &&
		p.Y >= b.MinY && p.Y <= b.MaxY &&
		p.Z >= b.MinZ && p.Z <= b.MaxZ
}

// ContainsBounds проверяет, что внутренний объём целиком лежит в этом.
func (b Bounds) ContainsBounds(inner Bounds) bool {
	return inner.MinX >= b.MinX && inner.MaxX <= b.MaxX &&
		inner.MinY >= b.MinY && inner.MaxY <= b.MaxY &&
		inner.MinZ >= b.MinZ && inner.MaxZ <= b.MaxZ
}

// Validate проверяет, что объём невырожден.
func (b Bounds) Validate() error {
	if b.MinX > b.MaxX || b.MinY > b.MaxY || b.MinZ > b.MaxZ {
		return fmt.Errorf("некорректные границы: min больше max")
	}
	return nil
}
