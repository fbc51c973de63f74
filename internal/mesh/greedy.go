package mesh

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-core/internal/pool"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world"
	"github.com/annel0/voxel-core/internal/world/block"
)

// Слово маски: младшие 16 бит - значение ячейки, затем 9 бит затенения,
// старший бит - признак грани.
const (
	maskDataBits   = 0xFFFF
	maskLightShift = 16
	maskPresent    = uint32(1) << 31
)

// faceAxes оси u и v плоскости грани для каждой стороны
var faceAxes = [vec.DirectionCount][2]int{
	vec.Up:    {0, 2},
	vec.Down:  {0, 2},
	vec.North: {0, 1},
	vec.South: {0, 1},
	vec.East:  {2, 1},
	vec.West:  {2, 1},
}

// backface истинно для сторон, у которых порядок обхода вершин в плоскости u, v
// даёт нормаль против направления стороны
func backface(dir vec.Direction) bool {
	return dir == vec.Down || dir == vec.North || dir == vec.West
}

// GreedyMesher строит геометрию чанка, сливая одинаковые соседние грани
// в прямоугольники. Один экземпляр можно использовать из многих воркеров,
// если построители зарегистрированы до первого Build.
type GreedyMesher struct {
	registry *block.Registry
	atlas    TextureAtlas
	cfg      Config
	builders map[string]CustomBuilder
}

// NewGreedyMesher создаёт мешер со встроенным построителем "cross"
func NewGreedyMesher(reg *block.Registry, atlas TextureAtlas, cfg Config) *GreedyMesher {
	m := &GreedyMesher{
		registry: reg,
		atlas:    atlas,
		cfg:      cfg,
		builders: make(map[string]CustomBuilder),
	}
	m.RegisterCustomBuilder(CrossGeometry, CrossBuilder{})
	return m
}

// Config текущие настройки
func (m *GreedyMesher) Config() Config {
	return m.cfg
}

// RegisterCustomBuilder регистрирует построитель для блоков с geometry == name
func (m *GreedyMesher) RegisterCustomBuilder(name string, b CustomBuilder) {
	if b == nil {
		panic(fmt.Sprintf("построитель геометрии %q равен nil", name))
	}
	m.builders[name] = b
}

// Validate проверяет, что для всех блоков с собственной геометрией есть построитель
func (m *GreedyMesher) Validate() error {
	var missing []string
	for _, t := range m.registry.Types() {
		if !t.IsCustom() {
			continue
		}
		if _, ok := m.builders[t.Geometry]; !ok {
			missing = append(missing, fmt.Sprintf("%s (%s)", t.Name, t.Geometry))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("нет построителей геометрии для блоков: %v", missing)
	}
	return nil
}

// Build строит геометрию чанка. neighbors индексируются по vec.Direction,
// отсутствующий сосед - nil. Рамка store обновляется из соседей, сами
// соседи только читаются. Буферы берутся из pools и возвращаются до выхода.
func (m *GreedyMesher) Build(store *world.ChunkStore, neighbors [vec.DirectionCount]*world.ChunkStore, pools *pool.LocalPools) *Geometry {
	for _, dir := range vec.Directions {
		if n := neighbors[dir]; n != nil {
			store.CopyPaddingFrom(dir, n)
		}
	}

	geo := NewGeometry()
	side := store.Side()

	mask := pools.Masks.Pop(side * side)
	defer pools.Masks.Push(mask)

	for _, dir := range vec.Directions {
		if !m.cfg.Faces.Has(dir) {
			continue
		}
		edge := 0
		if dir.Positive() {
			edge = side - 1
		}
		edgeVisible := neighbors[dir] != nil || m.cfg.DrawWorldEdges.Has(dir)

		for slice := 0; slice < side; slice++ {
			if slice == edge && !edgeVisible {
				continue
			}
			if !m.fillMask(store, dir, slice, mask) {
				continue
			}
			m.mergeMask(dir, slice, side, mask, geo)
		}
	}

	m.buildCustom(store, pools, geo)
	return geo
}

// cellPos собирает координаты ячейки из номера слоя и координат в плоскости
func cellPos(dir vec.Direction, slice, u, v int) [3]int {
	var p [3]int
	axes := faceAxes[dir]
	p[dir.Axis()] = slice
	p[axes[0]] = u
	p[axes[1]] = v
	return p
}

// fillMask заполняет маску слоя, возвращает false, если в слое нет ни одной грани
func (m *GreedyMesher) fillMask(store *world.ChunkStore, dir vec.Direction, slice int, mask []uint32) bool {
	side := store.Side()
	off := dir.Offset()
	found := false

	for v := 0; v < side; v++ {
		for u := 0; u < side; u++ {
			i := v*side + u
			mask[i] = 0

			p := cellPos(dir, slice, u, v)
			data := store.GetAt(p[0], p[1], p[2])
			if data.IsAir() {
				continue
			}
			t := m.registry.TypeOf(data)
			if t.IsCustom() {
				continue
			}
			nd := store.GetAt(p[0]+off.X, p[1]+off.Y, p[2]+off.Z)
			if t.FaceCompatible(m.registry.TypeOf(nd)) {
				continue
			}

			word := maskPresent | uint32(data)&maskDataBits
			if m.cfg.AddAmbientOcclusion {
				word |= m.light(store, dir, p, off).pack() << maskLightShift
			}
			mask[i] = word
			found = true
		}
	}
	return found
}

// light считает затенение по восьми соседям в слое перед гранью
func (m *GreedyMesher) light(store *world.ChunkStore, dir vec.Direction, p [3]int, off vec.Vec3) LightData {
	axes := faceAxes[dir]
	base := [3]int{p[0] + off.X, p[1] + off.Y, p[2] + off.Z}

	solid := func(du, dv int) bool {
		q := base
		q[axes[0]] += du
		q[axes[1]] += dv
		return store.GetAt(q[0], q[1], q[2]).Solid()
	}

	return NewLightData(
		solid(-1, 1), solid(0, 1), solid(1, 1), solid(1, 0),
		solid(1, -1), solid(0, -1), solid(-1, -1), solid(-1, 0),
	)
}

// mergeMask жадно собирает прямоугольники из одинаковых слов маски.
// Использованные ячейки обнуляются.
func (m *GreedyMesher) mergeMask(dir vec.Direction, slice, side int, mask []uint32, geo *Geometry) {
	for v := 0; v < side; v++ {
		for u := 0; u < side; {
			word := mask[v*side+u]
			if word == 0 {
				u++
				continue
			}

			w := 1
			for u+w < side && mask[v*side+u+w] == word {
				w++
			}

			h := 1
		grow:
			for v+h < side {
				row := (v + h) * side
				for k := 0; k < w; k++ {
					if mask[row+u+k] != word {
						break grow
					}
				}
				h++
			}

			for dv := 0; dv < h; dv++ {
				row := (v + dv) * side
				for k := 0; k < w; k++ {
					mask[row+u+k] = 0
				}
			}

			m.emit(dir, slice, u, v, w, h, word, geo)
			u += w
		}
	}
}

// emit превращает прямоугольник маски в квад
func (m *GreedyMesher) emit(dir vec.Direction, slice, u, v, w, h int, word uint32, geo *Geometry) {
	data := block.BlockData(word & maskDataBits)
	t := m.registry.TypeOf(data)
	light := unpackLight(word >> maskLightShift)

	axis := dir.Axis()
	axes := faceAxes[dir]
	inset := m.cfg.FacePaddingInset

	plane := float32(slice)
	normal := float32(-1)
	if dir.Positive() {
		plane++
		normal = 1
	}
	plane += normal * inset

	corners := [4][2]float32{
		{float32(u) - inset, float32(v) - inset},
		{float32(u) - inset, float32(v+h) + inset},
		{float32(u+w) + inset, float32(v+h) + inset},
		{float32(u+w) + inset, float32(v) - inset},
	}

	q := Quad{
		Dir:      dir,
		Type:     data.Type(),
		Tile:     m.atlas.Rect(data.Type(), dir),
		Width:    w,
		Height:   h,
		Backface: backface(dir),
		Rotated:  light.Rotated,
	}
	for i, c := range corners {
		var pos mgl32.Vec3
		pos[axis] = plane
		pos[axes[0]] = c[0]
		pos[axes[1]] = c[1]
		q.Positions[i] = pos.Mul(m.cfg.Scale)
	}

	fw, fh := float32(w), float32(h)
	if q.Backface {
		q.UV = [4]mgl32.Vec2{{fw, 0}, {fw, fh}, {0, fh}, {0, 0}}
	} else {
		q.UV = [4]mgl32.Vec2{{0, 0}, {0, fh}, {fw, fh}, {fw, 0}}
	}

	if m.cfg.AddAmbientOcclusion {
		q.Shade = light.Shades(m.cfg.AOStrength)
	} else {
		q.Shade = [4]uint8{255, 255, 255, 255}
	}

	if q.Rotated {
		q.Positions = rotate(q.Positions)
		q.UV = rotate(q.UV)
		q.Shade = rotate(q.Shade)
	}

	geo.Add(t.Material, q)
}

// rotate сдвигает вершины на одну, меняя диагональ разбиения квада
func rotate[T any](in [4]T) [4]T {
	var out [4]T
	for i := range in {
		out[i] = in[(i+1)%4]
	}
	return out
}

// buildCustom вызывает построители для всех ячеек с собственной геометрией
func (m *GreedyMesher) buildCustom(store *world.ChunkStore, pools *pool.LocalPools, geo *Geometry) {
	side := store.Side()
	ctx := BlockContext{
		Store:  store,
		Atlas:  m.atlas,
		Config: m.cfg,
		Pools:  pools,
	}

	for y := 0; y < side; y++ {
		for z := 0; z < side; z++ {
			for x := 0; x < side; x++ {
				data := store.GetAt(x, y, z)
				if data.IsAir() {
					continue
				}
				t := m.registry.TypeOf(data)
				if !t.IsCustom() {
					continue
				}
				b, ok := m.builders[t.Geometry]
				if !ok {
					panic(fmt.Sprintf("нет построителя геометрии %q для блока %s", t.Geometry, t.Name))
				}
				ctx.Pos = vec.New(x, y, z)
				ctx.Data = data
				ctx.Type = t
				b.Build(&ctx, geo)
			}
		}
	}
}
