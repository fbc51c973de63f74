package world

import (
	"fmt"
	"math/bits"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

// DefaultPadding ширина рамки вокруг чанка по умолчанию
const DefaultPadding = 1

// EditRecorder получает отслеживаемые изменения блоков для сохранения или репликации
type EditRecorder interface {
	RecordEdit(chunk vec.Vec3, local vec.Vec3, old, new block.BlockData)
}

// ChunkStore плотный массив ячеек одного чанка с рамкой шириной padding.
// Рамка хранит копии граничных ячеек соседних чанков, поэтому мешер и AO
// читают соседей без проверок краёв.
//
// Локальные координаты лежат в [-padding, side+padding). Индекс строится
// сдвигами: x | z<<shift | y<<(2*shift), где 1<<shift - наименьшая степень
// двойки, вмещающая side+2*padding. Доступ не синхронизирован: чанк
// принадлежит одной задаче, порядок обеспечивает планировщик.
type ChunkStore struct {
	Pos vec.Vec3 // координаты чанка в сетке чанков

	side   int
	pad    int
	padded int
	shift  uint
	mask   int

	blocks   []block.BlockData
	nonEmpty int

	registry *block.Registry
	modified []vec.Vec3
	recorder EditRecorder
}

// NewChunkStore создаёт обнулённый (заполненный воздухом) чанк.
// side должен быть степенью двойки, padding - не меньше 1.
func NewChunkStore(side, padding int, registry *block.Registry) *ChunkStore {
	if side < 2 || side&(side-1) != 0 {
		panic(fmt.Sprintf("размер чанка %d не является степенью двойки", side))
	}
	if padding < 1 || padding > side {
		panic(fmt.Sprintf("недопустимая ширина рамки %d для чанка %d", padding, side))
	}

	padded := side + 2*padding
	shift := uint(bits.Len(uint(padded - 1)))
	pitch := 1 << shift

	return &ChunkStore{
		side:     side,
		pad:      padding,
		padded:   padded,
		shift:    shift,
		mask:     pitch - 1,
		blocks:   make([]block.BlockData, padded<<(2*shift)),
		nonEmpty: 0,
		registry: registry,
	}
}

// Side размер чанка без рамки
func (s *ChunkStore) Side() int { return s.side }

// Padding ширина рамки
func (s *ChunkStore) Padding() int { return s.pad }

// PaddedSide размер чанка вместе с рамкой
func (s *ChunkStore) PaddedSide() int { return s.padded }

// Registry таблица типов, с которой работает чанк
func (s *ChunkStore) Registry() *block.Registry { return s.registry }

// SetRecorder подключает приёмник отслеживаемых изменений
func (s *ChunkStore) SetRecorder(r EditRecorder) { s.recorder = r }

// Index переводит локальные координаты в линейный индекс
func (s *ChunkStore) Index(x, y, z int) int {
	return (x + s.pad) | (z+s.pad)<<s.shift | (y+s.pad)<<(2*s.shift)
}

// IndexOf то же, что Index, для вектора
func (s *ChunkStore) IndexOf(p vec.Vec3) int {
	return s.Index(p.X, p.Y, p.Z)
}

// Coords обратное преобразование индекса в локальные координаты
func (s *ChunkStore) Coords(index int) (x, y, z int) {
	x = index&s.mask - s.pad
	z = (index>>s.shift)&s.mask - s.pad
	y = index>>(2*s.shift) - s.pad
	return x, y, z
}

// InRange проверяет, что координаты лежат в чанке вместе с рамкой
func (s *ChunkStore) InRange(x, y, z int) bool {
	lo, hi := -s.pad, s.side+s.pad
	return x >= lo && x < hi && y >= lo && y < hi && z >= lo && z < hi
}

// Inside проверяет, что координаты лежат в чанке без рамки
func (s *ChunkStore) Inside(x, y, z int) bool {
	return uint(x) < uint(s.side) && uint(y) < uint(s.side) && uint(z) < uint(s.side)
}

func (s *ChunkStore) mustInRange(x, y, z int) {
	if !s.InRange(x, y, z) {
		panic(fmt.Sprintf("координаты (%d, %d, %d) вне чанка %d с рамкой %d", x, y, z, s.side, s.pad))
	}
}

// Get читает ячейку по индексу без дополнительных проверок
func (s *ChunkStore) Get(index int) block.BlockData {
	return s.blocks[index]
}

// GetAt читает ячейку по координатам с проверкой диапазона
func (s *ChunkStore) GetAt(x, y, z int) block.BlockData {
	s.mustInRange(x, y, z)
	return s.blocks[s.Index(x, y, z)]
}

// SetRaw записывает значение без хуков и журнала.
// Счётчик непустых ячеек помечается устаревшим и пересчитается при чтении.
func (s *ChunkStore) SetRaw(index int, data block.BlockData) {
	s.blocks[index] = data
	s.nonEmpty = -1
}

// SetRawAt записывает значение по координатам с проверкой диапазона
func (s *ChunkStore) SetRawAt(x, y, z int, data block.BlockData) {
	s.mustInRange(x, y, z)
	s.blocks[s.Index(x, y, z)] = data
	s.nonEmpty = -1
}

// SetTracked записывает значение с учётом счётчика непустых ячеек и хуков типов.
// Хуки и журнал изменений касаются только ячеек без рамки: рамка лишь
// отражает соседний чанк. Возвращает false, если значение не изменилось.
func (s *ChunkStore) SetTracked(index int, data block.BlockData, record bool) bool {
	old := s.blocks[index]
	if old == data {
		return false
	}
	s.blocks[index] = data

	x, y, z := s.Coords(index)
	if !s.Inside(x, y, z) {
		return true
	}

	if s.nonEmpty >= 0 {
		switch {
		case old.IsAir() && !data.IsAir():
			s.nonEmpty++
		case !old.IsAir() && data.IsAir():
			s.nonEmpty--
		}
	}

	if s.registry != nil {
		worldPos := s.WorldPos(x, y, z)
		if !old.IsAir() {
			s.registry.TypeOf(old).OnDestroy(worldPos)
		}
		if !data.IsAir() {
			s.registry.TypeOf(data).OnCreate(worldPos)
		}
	}

	if record {
		local := vec.New(x, y, z)
		s.modified = append(s.modified, local)
		if s.recorder != nil {
			s.recorder.RecordEdit(s.Pos, local, old, data)
		}
	}
	return true
}

// SetTrackedAt то же, что SetTracked, по координатам с проверкой диапазона
func (s *ChunkStore) SetTrackedAt(x, y, z int, data block.BlockData, record bool) bool {
	s.mustInRange(x, y, z)
	return s.SetTracked(s.Index(x, y, z), data, record)
}

// SetRange применяет SetTracked ко всем ячейкам включительного бокса [from, to]
func (s *ChunkStore) SetRange(from, to vec.Vec3, data block.BlockData, record bool) {
	s.mustInRange(from.X, from.Y, from.Z)
	s.mustInRange(to.X, to.Y, to.Z)

	for y := from.Y; y <= to.Y; y++ {
		for z := from.Z; z <= to.Z; z++ {
			index := s.Index(from.X, y, z)
			for x := from.X; x <= to.X; x++ {
				s.SetTracked(index, data, record)
				index++
			}
		}
	}
}

// SetRangeRaw применяет SetRaw ко всем ячейкам включительного бокса [from, to]
// и сбрасывает счётчик непустых ячеек.
func (s *ChunkStore) SetRangeRaw(from, to vec.Vec3, data block.BlockData) {
	s.mustInRange(from.X, from.Y, from.Z)
	s.mustInRange(to.X, to.Y, to.Z)

	for y := from.Y; y <= to.Y; y++ {
		for z := from.Z; z <= to.Z; z++ {
			index := s.Index(from.X, y, z)
			for x := from.X; x <= to.X; x++ {
				s.blocks[index] = data
				index++
			}
		}
	}
	s.nonEmpty = -1
}

// InvalidateCount помечает счётчик непустых ячеек недействительным
func (s *ChunkStore) InvalidateCount() {
	s.nonEmpty = -1
}

// CalculateEmptyCount пересчитывает непустые ячейки без рамки, если счётчик недействителен
func (s *ChunkStore) CalculateEmptyCount() int {
	if s.nonEmpty >= 0 {
		return s.nonEmpty
	}

	count := 0
	for y := 0; y < s.side; y++ {
		for z := 0; z < s.side; z++ {
			index := s.Index(0, y, z)
			for x := 0; x < s.side; x++ {
				if !s.blocks[index].IsAir() {
					count++
				}
				index++
			}
		}
	}
	s.nonEmpty = count
	return count
}

// NonEmpty возвращает число непустых ячеек, пересчитывая его при необходимости
func (s *ChunkStore) NonEmpty() int {
	return s.CalculateEmptyCount()
}

// IsEmpty истинно, если в чанке (без рамки) только воздух
func (s *ChunkStore) IsEmpty() bool {
	return s.CalculateEmptyCount() == 0
}

// Reset заполняет чанк воздухом, сбрасывает счётчик и журнал изменений
func (s *ChunkStore) Reset() {
	clear(s.blocks)
	s.nonEmpty = -1

	if len(s.modified) > s.side*3 {
		s.modified = nil
	} else {
		s.modified = s.modified[:0]
	}
}

// ModifiedBlocks локальные координаты ячеек, изменённых с записью в журнал
func (s *ChunkStore) ModifiedBlocks() []vec.Vec3 {
	return s.modified
}

// ClearModified очищает журнал изменений
func (s *ChunkStore) ClearModified() {
	s.modified = s.modified[:0]
}

// WorldPos переводит локальные координаты в мировые
func (s *ChunkStore) WorldPos(x, y, z int) vec.Vec3 {
	return vec.Vec3{
		X: s.Pos.X*s.side + x,
		Y: s.Pos.Y*s.side + y,
		Z: s.Pos.Z*s.side + z,
	}
}

// CopyFrom копирует содержимое другого чанка того же размера
func (s *ChunkStore) CopyFrom(src *ChunkStore) {
	s.mustMatch(src)
	copy(s.blocks, src.blocks)
	s.nonEmpty = src.nonEmpty
}

func (s *ChunkStore) mustMatch(other *ChunkStore) {
	if other.side != s.side || other.pad != s.pad {
		panic(fmt.Sprintf("несовпадающие размеры чанков: %d/%d и %d/%d", s.side, s.pad, other.side, other.pad))
	}
}

// CopyPaddingFrom переносит граничные слои соседа в рамку со стороны dir.
// Сосед только читается.
func (s *ChunkStore) CopyPaddingFrom(dir vec.Direction, neighbor *ChunkStore) {
	s.mustMatch(neighbor)

	axis := dir.Axis()
	u, v := (axis+1)%3, (axis+2)%3
	lo, hi := -s.pad, s.side+s.pad

	var dst, src [3]int
	for layer := 0; layer < s.pad; layer++ {
		if dir.Positive() {
			dst[axis] = s.side + layer
			src[axis] = layer
		} else {
			dst[axis] = -1 - layer
			src[axis] = s.side - 1 - layer
		}
		for a := lo; a < hi; a++ {
			dst[u], src[u] = a, a
			for b := lo; b < hi; b++ {
				dst[v], src[v] = b, b
				s.blocks[s.Index(dst[0], dst[1], dst[2])] = neighbor.blocks[neighbor.Index(src[0], src[1], src[2])]
			}
		}
	}
}
