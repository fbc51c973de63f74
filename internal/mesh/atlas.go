package mesh

import (
	"fmt"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

// UVRect прямоугольник текстуры в атласе, координаты 0..1
type UVRect struct {
	U0, V0, U1, V1 float32
}

// TextureAtlas отдаёт прямоугольник текстуры для типа блока и стороны
type TextureAtlas interface {
	Rect(typeID uint16, dir vec.Direction) UVRect
}

// GridAtlas атлас из квадратных тайлов одинакового размера.
// Тайл 0 зарезервирован под отсутствующую текстуру.
type GridAtlas struct {
	columns int
	rows    int
	tiles   map[string]int
	rects   [][vec.DirectionCount]UVRect // по индексу типа блока
}

// NewGridAtlas раскладывает все текстуры таблицы блоков по сетке с columns тайлами в ряду
func NewGridAtlas(reg *block.Registry, columns int) (*GridAtlas, error) {
	if columns <= 0 {
		return nil, fmt.Errorf("число тайлов в ряду должно быть положительным: %d", columns)
	}

	a := &GridAtlas{
		columns: columns,
		tiles:   map[string]int{"": 0},
	}

	types := reg.Types()
	for _, t := range types {
		for _, name := range t.Textures {
			if _, ok := a.tiles[name]; !ok {
				a.tiles[name] = len(a.tiles)
			}
		}
	}
	a.rows = (len(a.tiles) + columns - 1) / columns

	a.rects = make([][vec.DirectionCount]UVRect, len(types))
	for _, t := range types {
		for dir, name := range t.Textures {
			a.rects[t.ID][dir] = a.tileRect(a.tiles[name])
		}
	}
	return a, nil
}

func (a *GridAtlas) tileRect(tile int) UVRect {
	col, row := tile%a.columns, tile/a.columns
	du, dv := 1/float32(a.columns), 1/float32(a.rows)
	return UVRect{
		U0: float32(col) * du,
		V0: float32(row) * dv,
		U1: float32(col+1) * du,
		V1: float32(row+1) * dv,
	}
}

// Rect реализует TextureAtlas
func (a *GridAtlas) Rect(typeID uint16, dir vec.Direction) UVRect {
	return a.rects[typeID][dir]
}

// Tile номер тайла по имени текстуры
func (a *GridAtlas) Tile(name string) (int, bool) {
	tile, ok := a.tiles[name]
	return tile, ok
}

// TileCount число тайлов, включая пустой
func (a *GridAtlas) TileCount() int {
	return len(a.tiles)
}

// Grid размер сетки в тайлах
func (a *GridAtlas) Grid() (columns, rows int) {
	return a.columns, a.rows
}
