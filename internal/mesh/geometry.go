package mesh

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-core/internal/vec"
)

// Quad четырёхугольник в локальных координатах чанка.
// Вершины идут против часовой стрелки, если смотреть с лицевой стороны
// при Backface == false.
type Quad struct {
	Dir       vec.Direction
	Type      uint16
	Positions [4]mgl32.Vec3
	Shade     [4]uint8
	// UV координаты внутри тайла, повторяются Width x Height раз
	UV     [4]mgl32.Vec2
	Tile   UVRect
	Width  int
	Height int
	// Backface обращает порядок обхода треугольников
	Backface bool
	Rotated  bool
}

// Vertex вершина для загрузки в буфер
type Vertex struct {
	Position mgl32.Vec3
	Color    [4]uint8
	// UV: локальные u, v и начало тайла в атласе
	UV mgl32.Vec4
}

// Batch набор квадов одного материала
type Batch struct {
	Material uint16
	Quads    []Quad
}

// Vertices разворачивает квады в вершины, по четыре на квад
func (b *Batch) Vertices() []Vertex {
	out := make([]Vertex, 0, len(b.Quads)*4)
	for i := range b.Quads {
		q := &b.Quads[i]
		for k := 0; k < 4; k++ {
			s := q.Shade[k]
			out = append(out, Vertex{
				Position: q.Positions[k],
				Color:    [4]uint8{s, s, s, 255},
				UV:       mgl32.Vec4{q.UV[k].X(), q.UV[k].Y(), q.Tile.U0, q.Tile.V0},
			})
		}
	}
	return out
}

var (
	frontIndices = [6]uint32{0, 1, 2, 2, 3, 0}
	backIndices  = [6]uint32{0, 2, 1, 2, 0, 3}
)

// Indices индексы треугольников, по шесть на квад
func (b *Batch) Indices() []uint32 {
	out := make([]uint32, 0, len(b.Quads)*6)
	for i := range b.Quads {
		base := uint32(i * 4)
		pattern := frontIndices
		if b.Quads[i].Backface {
			pattern = backIndices
		}
		for _, idx := range pattern {
			out = append(out, base+idx)
		}
	}
	return out
}

// Geometry результат построения: квады, сгруппированные по материалам
type Geometry struct {
	batches map[uint16]*Batch
}

// NewGeometry создаёт пустую геометрию
func NewGeometry() *Geometry {
	return &Geometry{batches: make(map[uint16]*Batch)}
}

// Add добавляет квад в батч материала
func (g *Geometry) Add(material uint16, q Quad) {
	b, ok := g.batches[material]
	if !ok {
		b = &Batch{Material: material}
		g.batches[material] = b
	}
	b.Quads = append(b.Quads, q)
}

// Batch возвращает батч материала или nil
func (g *Geometry) Batch(material uint16) *Batch {
	return g.batches[material]
}

// Materials материалы, для которых есть квады, по возрастанию
func (g *Geometry) Materials() []uint16 {
	out := make([]uint16, 0, len(g.batches))
	for m := range g.batches {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// QuadCount общее число квадов
func (g *Geometry) QuadCount() int {
	n := 0
	for _, b := range g.batches {
		n += len(b.Quads)
	}
	return n
}

// FaceArea суммарная площадь граней в клетках
func (g *Geometry) FaceArea() int {
	n := 0
	for _, b := range g.batches {
		for i := range b.Quads {
			n += b.Quads[i].Width * b.Quads[i].Height
		}
	}
	return n
}

// Quads все квады, отфильтрованные по стороне
func (g *Geometry) Quads(dir vec.Direction) []Quad {
	var out []Quad
	for _, m := range g.Materials() {
		for _, q := range g.batches[m].Quads {
			if q.Dir == dir {
				out = append(out, q)
			}
		}
	}
	return out
}

// IsEmpty истинно, если нет ни одного квада
func (g *Geometry) IsEmpty() bool {
	return g.QuadCount() == 0
}
