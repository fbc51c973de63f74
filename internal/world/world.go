package world

import (
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

// ChunkAccessor даёт доступ к загруженным чанкам под их блокировками
type ChunkAccessor interface {
	// WithChunk вызывает fn с чанком в позиции pos. write выбирает
	// эксклюзивную блокировку. Возвращает false, если чанк не загружен.
	WithChunk(pos vec.Vec3, write bool, fn func(s *ChunkStore)) bool
}

// ContainingChunkPos позиция чанка в сетке, содержащего мировую точку
func ContainingChunkPos(p vec.Vec3, side int) vec.Vec3 {
	return p.FloorDiv3(side)
}

// LocalPos координаты мировой точки внутри её чанка
func LocalPos(p vec.Vec3, side int) vec.Vec3 {
	return p.Mod3(side)
}

// Blocks доступ к блокам в мировых координатах поверх набора чанков
type Blocks struct {
	side   int
	chunks ChunkAccessor
}

// NewBlocks создаёт доступ к блокам для чанков размера side
func NewBlocks(side int, chunks ChunkAccessor) *Blocks {
	return &Blocks{side: side, chunks: chunks}
}

// GetBlock читает блок. В незагруженных чанках - воздух.
func (b *Blocks) GetBlock(p vec.Vec3) block.BlockData {
	data := block.Air
	local := LocalPos(p, b.side)
	b.chunks.WithChunk(ContainingChunkPos(p, b.side), false, func(s *ChunkStore) {
		data = s.GetAt(local.X, local.Y, local.Z)
	})
	return data
}

// SetBlock записывает блок с хуками. Возвращает false, если чанк
// не загружен или значение не изменилось.
func (b *Blocks) SetBlock(p vec.Vec3, data block.BlockData, record bool) bool {
	changed := false
	local := LocalPos(p, b.side)
	b.chunks.WithChunk(ContainingChunkPos(p, b.side), true, func(s *ChunkStore) {
		changed = s.SetTrackedAt(local.X, local.Y, local.Z, data, record)
	})
	return changed
}

// SetBlockRanged заполняет включительный мировой бокс [from, to], разбивая
// его по чанкам. Незагруженные чанки пропускаются. Возвращает позиции
// затронутых чанков.
func (b *Blocks) SetBlockRanged(from, to vec.Vec3, data block.BlockData, record bool) []vec.Vec3 {
	lo, hi := from.Min(to), from.Max(to)
	cFrom := ContainingChunkPos(lo, b.side)
	cTo := ContainingChunkPos(hi, b.side)

	var touched []vec.Vec3
	for cy := cFrom.Y; cy <= cTo.Y; cy++ {
		for cz := cFrom.Z; cz <= cTo.Z; cz++ {
			for cx := cFrom.X; cx <= cTo.X; cx++ {
				pos := vec.New(cx, cy, cz)
				origin := pos.Mul(b.side)
				last := origin.Add(vec.New(b.side-1, b.side-1, b.side-1))

				boxFrom := lo.Max(origin).Sub(origin)
				boxTo := hi.Min(last).Sub(origin)

				if b.chunks.WithChunk(pos, true, func(s *ChunkStore) {
					s.SetRange(boxFrom, boxTo, data, record)
				}) {
					touched = append(touched, pos)
				}
			}
		}
	}
	return touched
}
