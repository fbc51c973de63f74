package util

import (
	"github.com/aquilax/go-perlin"
)

// Параметры шума Перлина, общие для всех генераторов
const (
	noiseAlpha   = 2.0 // сглаживание шума
	noiseBeta    = 2.0 // частота шума
	noiseOctaves = 3
)

// Noise детерминированный двумерный шум с собственным сидом.
// Безопасен для одновременного чтения из нескольких горутин.
type Noise struct {
	perlin *perlin.Perlin
}

// NewNoise создаёт генератор шума Перлина с указанным сидом
func NewNoise(seed int64) *Noise {
	return &Noise{perlin: perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, seed)}
}

// Noise2D возвращает значение шума для указанных координат (от 0 до 1)
func (n *Noise) Noise2D(x, y float64) float64 {
	v := (n.perlin.Noise2D(x, y) + 1.0) / 2.0
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Hash2D перемешивает сид и координаты колонки в 64 бита (splitmix64)
func Hash2D(seed int64, x, z int) uint64 {
	h := uint64(seed) ^ uint64(int64(x))*0x9E3779B97F4A7C15 ^ uint64(int64(z))*0xC2B2AE3D27D4EB4F
	h ^= h >> 30
	h *= 0xBF58476D1CE4E5B9
	h ^= h >> 27
	h *= 0x94D049BB133111EB
	h ^= h >> 31
	return h
}

// HashFloat переводит хеш в число из [0, 1)
func HashFloat(h uint64) float64 {
	return float64(h>>11) / (1 << 53)
}
