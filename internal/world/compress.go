package world

import (
	"fmt"

	"github.com/annel0/voxel-core/internal/pool"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

// BlockDataAABB однородный бокс ячеек. Max не включается.
type BlockDataAABB struct {
	Data block.BlockData
	Min  vec.Vec3
	Max  vec.Vec3
}

// Volume число ячеек в боксе
func (b BlockDataAABB) Volume() int {
	return (b.Max.X - b.Min.X) * (b.Max.Y - b.Min.Y) * (b.Max.Z - b.Min.Z)
}

// Contains проверяет попадание точки в бокс
func (b BlockDataAABB) Contains(p vec.Vec3) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y &&
		p.Z >= b.Min.Z && p.Z < b.Max.Z
}

// BoxCompressor сжимает чанк в список однородных боксов (3D RLE) и обратно.
// Маска посещённых ячеек берётся из пулов воркера.
type BoxCompressor struct {
	pools *pool.LocalPools
}

// NewBoxCompressor создаёт компрессор, работающий с пулами одного воркера
func NewBoxCompressor(pools *pool.LocalPools) *BoxCompressor {
	return &BoxCompressor{pools: pools}
}

// Compress обходит все ячейки вместе с рамкой в порядке y, z, x и жадно
// наращивает бокс от первой незанятой непустой ячейки по осям Y, Z, X,
// пока хотя бы одна ось растёт. Ось растёт, только если вся новая грань
// свободна и совпадает по значению.
func (c *BoxCompressor) Compress(s *ChunkStore) []BlockDataAABB {
	visited := c.pools.Bools.Pop(len(s.blocks))
	defer c.pools.Bools.Push(visited)

	lo, hi := -s.pad, s.side+s.pad
	var boxes []BlockDataAABB

	for y := lo; y < hi; y++ {
		for z := lo; z < hi; z++ {
			for x := lo; x < hi; x++ {
				index := s.Index(x, y, z)
				if visited[index] {
					continue
				}
				data := s.blocks[index]
				if data.IsAir() {
					continue
				}
				visited[index] = true

				minP := vec.New(x, y, z)
				maxP := vec.New(x+1, y+1, z+1)

				for {
					grown := false
					if maxP.Y < hi && c.claim(s, visited, data, minP.X, maxP.X, maxP.Y, maxP.Y+1, minP.Z, maxP.Z) {
						maxP.Y++
						grown = true
					}
					if maxP.Z < hi && c.claim(s, visited, data, minP.X, maxP.X, minP.Y, maxP.Y, maxP.Z, maxP.Z+1) {
						maxP.Z++
						grown = true
					}
					if maxP.X < hi && c.claim(s, visited, data, maxP.X, maxP.X+1, minP.Y, maxP.Y, minP.Z, maxP.Z) {
						maxP.X++
						grown = true
					}
					if !grown {
						break
					}
				}

				boxes = append(boxes, BlockDataAABB{Data: data, Min: minP, Max: maxP})
			}
		}
	}
	return boxes
}

// claim проверяет грань [x0,x1)x[y0,y1)x[z0,z1) и помечает её занятой, если она подходит
func (c *BoxCompressor) claim(s *ChunkStore, visited []bool, data block.BlockData, x0, x1, y0, y1, z0, z1 int) bool {
	for y := y0; y < y1; y++ {
		for z := z0; z < z1; z++ {
			index := s.Index(x0, y, z)
			for x := x0; x < x1; x++ {
				if visited[index] || s.blocks[index] != data {
					return false
				}
				index++
			}
		}
	}

	for y := y0; y < y1; y++ {
		for z := z0; z < z1; z++ {
			index := s.Index(x0, y, z)
			for x := x0; x < x1; x++ {
				visited[index] = true
				index++
			}
		}
	}
	return true
}

// Decompress заполняет чанк боксами. Список проверяется: бокс вне чанка,
// пустой бокс, воздух или пересечение с предыдущим боксом считаются
// повреждёнными данными, чанк сбрасывается и возвращается ошибка.
func (c *BoxCompressor) Decompress(s *ChunkStore, boxes []BlockDataAABB) error {
	s.Reset()

	visited := c.pools.Bools.Pop(len(s.blocks))
	defer c.pools.Bools.Push(visited)

	lo, hi := -s.pad, s.side+s.pad
	for i, b := range boxes {
		if b.Data.IsAir() {
			s.Reset()
			return fmt.Errorf("бокс %d содержит воздух: %w", i, ErrMalformedChunk)
		}
		if b.Min.X < lo || b.Min.Y < lo || b.Min.Z < lo ||
			b.Max.X > hi || b.Max.Y > hi || b.Max.Z > hi ||
			b.Min.X >= b.Max.X || b.Min.Y >= b.Max.Y || b.Min.Z >= b.Max.Z {
			s.Reset()
			return fmt.Errorf("бокс %d [%v, %v) вне чанка: %w", i, b.Min, b.Max, ErrMalformedChunk)
		}

		for y := b.Min.Y; y < b.Max.Y; y++ {
			for z := b.Min.Z; z < b.Max.Z; z++ {
				index := s.Index(b.Min.X, y, z)
				for x := b.Min.X; x < b.Max.X; x++ {
					if visited[index] {
						s.Reset()
						return fmt.Errorf("бокс %d пересекается с предыдущими в (%d, %d, %d): %w", i, x, y, z, ErrMalformedChunk)
					}
					visited[index] = true
					s.blocks[index] = b.Data
					index++
				}
			}
		}
	}

	s.CalculateEmptyCount()
	return nil
}
