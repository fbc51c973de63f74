package world

import "github.com/annel0/voxel-core/internal/vec"

// ClipmapItem видимость и уровень детализации для расстояния по оси
type ClipmapItem struct {
	LOD     int
	Visible bool
}

type clipmapAxis struct {
	items    []ClipmapItem // расстояния -range ... 0 ... range
	offset   int
	rangeMin int
	rangeMax int
}

// Clipmap таблица видимости чанков вокруг наблюдателя. Координаты -
// позиции в сетке чанков. По горизонтали дальность одинакова, по
// вертикали ограничена [rangeYMin, rangeYMax].
type Clipmap struct {
	visibleRange int
	rangeYMin    int
	rangeYMax    int
	maxLOD       int
	axes         [3]clipmapAxis
}

// NewClipmap создаёт таблицу. maxLOD ограничивает уровень детализации сверху
// (обычно log2 размера чанка).
func NewClipmap(visibleRange, rangeYMin, rangeYMax, maxLOD int) *Clipmap {
	if visibleRange < 0 {
		visibleRange = 0
	}
	rangeYMin = max(rangeYMin, -visibleRange)
	rangeYMax = min(rangeYMax, visibleRange)

	c := &Clipmap{
		visibleRange: visibleRange,
		rangeYMin:    rangeYMin,
		rangeYMax:    rangeYMax,
		maxLOD:       maxLOD,
	}
	size := 2*visibleRange + 1
	c.axes[0] = clipmapAxis{items: make([]ClipmapItem, size), rangeMin: -visibleRange, rangeMax: visibleRange}
	c.axes[1] = clipmapAxis{items: make([]ClipmapItem, size), rangeMin: rangeYMin, rangeMax: rangeYMax}
	c.axes[2] = clipmapAxis{items: make([]ClipmapItem, size), rangeMin: -visibleRange, rangeMax: visibleRange}
	return c
}

// VisibleRange дальность видимости в чанках
func (c *Clipmap) VisibleRange() int { return c.visibleRange }

// RangeY вертикальные границы видимости
func (c *Clipmap) RangeY() (int, int) { return c.rangeYMin, c.rangeYMax }

// Init заполняет таблицы. forceLOD >= 0 задаёт один уровень для всех
// расстояний, иначе уровень растёт с расстоянием с коэффициентом coefLOD.
func (c *Clipmap) Init(forceLOD int, coefLOD float32) {
	for axis := range c.axes {
		a := &c.axes[axis]
		for d := a.rangeMin; d <= a.rangeMax; d++ {
			a.items[d+c.visibleRange] = ClipmapItem{
				LOD:     c.determineLOD(d, forceLOD, coefLOD),
				Visible: true,
			}
		}
	}
}

func (c *Clipmap) determineLOD(distance, forceLOD int, coefLOD float32) int {
	var lod int
	switch {
	case forceLOD >= 0:
		lod = forceLOD
	case coefLOD <= 0:
		return 0
	default:
		if distance < 0 {
			distance = -distance
		}
		lod = int(float32(distance) / (coefLOD * float32(c.maxLOD)))
	}
	return min(max(lod, 0), c.maxLOD)
}

// SetOffset переносит центр таблицы в позицию чанка наблюдателя
func (c *Clipmap) SetOffset(center vec.Vec3) {
	c.axes[0].offset = -center.X
	c.axes[1].offset = -center.Y
	c.axes[2].offset = -center.Z
}

// Center текущий центр таблицы
func (c *Clipmap) Center() vec.Vec3 {
	return vec.New(-c.axes[0].offset, -c.axes[1].offset, -c.axes[2].offset)
}

// Transform переводит позицию чанка в индексы таблицы
func (c *Clipmap) Transform(p vec.Vec3) vec.Vec3 {
	return vec.New(
		p.X+c.axes[0].offset+c.visibleRange,
		p.Y+c.axes[1].offset+c.visibleRange,
		p.Z+c.axes[2].offset+c.visibleRange,
	)
}

// IsInsideBounds проверяет, что преобразованная позиция попадает в таблицу
func (c *Clipmap) IsInsideBounds(t vec.Vec3) bool {
	return t.X >= 0 && t.Y >= 0 && t.Z >= 0 &&
		t.X < len(c.axes[0].items) &&
		t.Y < len(c.axes[1].items) &&
		t.Z < len(c.axes[2].items)
}

// GetTransformed возвращает запись преобладающей оси. Индексы зажимаются
// в границы таблицы.
func (c *Clipmap) GetTransformed(t vec.Vec3) ClipmapItem {
	n := len(c.axes[0].items) - 1
	xx := min(max(t.X, 0), n)
	yy := min(max(t.Y, 0), n)
	zz := min(max(t.Z, 0), n)

	absX, absY, absZ := absInt(xx-c.visibleRange), absInt(yy-c.visibleRange), absInt(zz-c.visibleRange)

	switch {
	case absY > absX && absY > absZ:
		return c.axes[1].items[yy]
	case absZ > absX && absZ > absY:
		return c.axes[2].items[zz]
	default:
		return c.axes[0].items[xx]
	}
}

// Get запись для позиции чанка
func (c *Clipmap) Get(p vec.Vec3) ClipmapItem {
	return c.GetTransformed(c.Transform(p))
}

// IsVisible истинно, если позиция видна по всем трём осям
func (c *Clipmap) IsVisible(p vec.Vec3) bool {
	t := c.Transform(p)
	if !c.IsInsideBounds(t) {
		return false
	}
	return c.axes[0].items[t.X].Visible &&
		c.axes[1].items[t.Y].Visible &&
		c.axes[2].items[t.Z].Visible
}

// VisiblePositions все видимые позиции чанков вокруг центра, ближние первыми
func (c *Clipmap) VisiblePositions() []vec.Vec3 {
	center := c.Center()
	r := c.visibleRange
	var out []vec.Vec3
	for d := 0; d <= r; d++ {
		for y := c.rangeYMin; y <= c.rangeYMax; y++ {
			for z := -d; z <= d; z++ {
				for x := -d; x <= d; x++ {
					if max(absInt(x), absInt(z)) != d {
						continue
					}
					p := center.Add(vec.New(x, y, z))
					if c.IsVisible(p) {
						out = append(out, p)
					}
				}
			}
		}
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
