package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-core/internal/pool"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world"
	"github.com/annel0/voxel-core/internal/world/block"
)

// CrossGeometry имя встроенного построителя травы и цветов
const CrossGeometry = "cross"

// BlockContext данные ячейки для построителя собственной геометрии
type BlockContext struct {
	Store  *world.ChunkStore
	Pos    vec.Vec3 // локальные координаты ячейки
	Data   block.BlockData
	Type   *block.Type
	Atlas  TextureAtlas
	Config Config
	Pools  *pool.LocalPools
}

// CustomBuilder строит геометрию блока с видом KindCustom
type CustomBuilder interface {
	Build(ctx *BlockContext, geo *Geometry)
}

// CustomBuilderFunc адаптер обычной функции к CustomBuilder
type CustomBuilderFunc func(ctx *BlockContext, geo *Geometry)

// Build реализует CustomBuilder
func (f CustomBuilderFunc) Build(ctx *BlockContext, geo *Geometry) {
	f(ctx, geo)
}

// CrossBuilder две диагональные двусторонние плоскости внутри ячейки
type CrossBuilder struct{}

var crossPlanes = [2]struct {
	dir     vec.Direction
	corners [4]mgl32.Vec3
}{
	{vec.North, [4]mgl32.Vec3{{0, 0, 0}, {0, 1, 0}, {1, 1, 1}, {1, 0, 1}}},
	{vec.East, [4]mgl32.Vec3{{1, 0, 0}, {1, 1, 0}, {0, 1, 1}, {0, 0, 1}}},
}

// Build реализует CustomBuilder
func (CrossBuilder) Build(ctx *BlockContext, geo *Geometry) {
	corners := ctx.Pools.Vec3s.Pop(4)
	defer ctx.Pools.Vec3s.Push(corners)

	origin := mgl32.Vec3{float32(ctx.Pos.X), float32(ctx.Pos.Y), float32(ctx.Pos.Z)}
	scale := ctx.Config.Scale

	for _, plane := range crossPlanes {
		for i, c := range plane.corners {
			corners[i] = origin.Add(c).Mul(scale)
		}

		tile := ctx.Atlas.Rect(ctx.Data.Type(), plane.dir)
		for _, back := range [2]bool{false, true} {
			q := Quad{
				Dir:      plane.dir,
				Type:     ctx.Data.Type(),
				Tile:     tile,
				Width:    1,
				Height:   1,
				Backface: back,
				Shade:    [4]uint8{255, 255, 255, 255},
			}
			copy(q.Positions[:], corners)
			if back {
				q.UV = [4]mgl32.Vec2{{1, 0}, {1, 1}, {0, 1}, {0, 0}}
			} else {
				q.UV = [4]mgl32.Vec2{{0, 0}, {0, 1}, {1, 1}, {1, 0}}
			}
			geo.Add(ctx.Type.Material, q)
		}
	}
}
