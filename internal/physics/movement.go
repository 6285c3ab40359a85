package physics

import (
	"fmt"
	"math"

	"github.com/churst90/open-fps-sub000/internal/vec"
)

const degToRad = math.Pi / 180.0

// Именованные направления движения.
const (
	DirForward  = "forward"
	DirBackward = "backward"
	DirLeft     = "left"
	DirRight    = "right"
	DirUp       = "up"
	DirDown     = "down"
)

// MoveVector вычисляет дельту перемещения для именованного направления
// при заданной ориентации (yaw/pitch в градусах) и длине шага.
//
// forward/backward — сферическое преобразование (yaw, pitch); pitch
// инвертирован, чтобы взгляд вверх двигал вверх. left/right —
// перпендикуляр к горизонтальной проекции forward (pitch игнорируется).
// up/down — всегда вдоль оси Z независимо от ориентации.
func MoveVector(direction string, yaw, pitch, step float64) (vec.Vec3, error) {
	yawRad := yaw * degToRad
	pitchRad := -pitch * degToRad // инверсия для интуитивного управления

	switch direction {
	case DirForward:
		return vec.Vec3{
			X: math.Cos(pitchRad) * math.Sin(yawRad),
			Y: math.Cos(pitchRad) * math.Cos(yawRad),
			Z: math.Sin(pitchRad),
		}.Scale(step), nil
	case DirBackward:
		return vec.Vec3{
			X: -math.Cos(pitchRad) * math.Sin(yawRad),
			Y: -math.Cos(pitchRad) * math.Cos(yawRad),
			Z: -math.Sin(pitchRad),
		}.Scale(step), nil
	case DirLeft:
		return vec.Vec3{X: -math.Cos(yawRad), Y: math.Sin(yawRad)}.Scale(step), nil
	case DirRight:
		return vec.Vec3{X: math.Cos(yawRad), Y: -math.Sin(yawRad)}.Scale(step), nil
	case DirUp:
		return vec.Vec3{Z: step}, nil
	case DirDown:
		return vec.Vec3{Z: -step}, nil
	default:
		return vec.Vec3{}, fmt.Errorf("неизвестное направление: %q", direction)
	}
}

// WrapYaw нормализует угол поворота в диапазон [0, 360).
func WrapYaw(yaw float64) float64 {
	yaw = math.Mod(yaw, 360)
	if yaw < 0 {
		yaw += 360
	}
	return yaw
}

// ClampPitch ограничивает угол наклона диапазоном [-90, 90].
func ClampPitch(pitch float64) float64 {
	if pitch > 90 {
		return 90
	}
	if pitch < -90 {
		return -90
	}
	return pitch
}
