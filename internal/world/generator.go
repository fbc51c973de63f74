package world

import (
	"fmt"
	"math"

	"github.com/annel0/voxel-core/internal/pool"
	"github.com/annel0/voxel-core/internal/util"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

// LayerConfig абсолютный слой рельефа. Высота колонки слоя:
// noise^exponent * (max_height - min_height) + min_height.
// Слои идут снизу вверх, каждый может только поднять колонку.
type LayerConfig struct {
	Name      string  `yaml:"name" json:"name"`
	Block     string  `yaml:"block" json:"block"`
	MinHeight int     `yaml:"min_height" json:"min_height"`
	MaxHeight int     `yaml:"max_height" json:"max_height"`
	Frequency float64 `yaml:"frequency" json:"frequency"` // период шума в блоках
	Exponent  float64 `yaml:"exponent" json:"exponent"`
}

// TreeConfig деревья: ствол и крона-эллипсоид
type TreeConfig struct {
	Log    string  `yaml:"log" json:"log"`
	Leaves string  `yaml:"leaves" json:"leaves"`
	Chance float64 `yaml:"chance" json:"chance"` // вероятность дерева на колонку
	On     string  `yaml:"on" json:"on"`         // блок поверхности, пусто - любой
}

// GeneratorConfig параметры генератора мира
type GeneratorConfig struct {
	Seed   int64         `yaml:"seed" json:"seed"`
	Bottom int           `yaml:"bottom" json:"bottom"` // нижняя граница заполнения колонок
	Layers []LayerConfig `yaml:"layers" json:"layers"`
	Tree   *TreeConfig   `yaml:"tree" json:"tree"`
}

const (
	minCrownSize = 3
	minTrunkSize = 3
	// maxTreeReach наибольшее удаление листвы от ствола по горизонтали
	maxTreeReach = minCrownSize + 2
)

type terrainLayer struct {
	name      string
	data      block.BlockData
	minHeight float64
	amplitude float64
	frequency float64
	exponent  float64
	noise     *util.Noise
}

func (l *terrainLayer) height(wx, wz int) float64 {
	n := l.noise.Noise2D(float64(wx)/l.frequency, float64(wz)/l.frequency)
	if l.exponent > 0 && l.exponent != 1 {
		n = math.Pow(n, l.exponent)
	}
	return n*l.amplitude + l.minHeight
}

type treeStructure struct {
	log    block.BlockData
	leaves block.BlockData
	on     block.BlockData
	chance float64
}

// Generator заполняет чанки рельефом. Генерация детерминирована:
// одна и та же колонка мира получает одинаковые блоки в любом чанке,
// поэтому рамка чанка совпадает с содержимым соседей.
type Generator struct {
	seed   int64
	bottom float64
	layers []terrainLayer
	tree   *treeStructure
}

// NewGenerator проверяет конфигурацию и создаёт генератор
func NewGenerator(reg *block.Registry, cfg GeneratorConfig) (*Generator, error) {
	g := &Generator{
		seed:   cfg.Seed,
		bottom: float64(cfg.Bottom),
	}

	for i, lc := range cfg.Layers {
		t, ok := reg.ByName(lc.Block)
		if !ok {
			return nil, fmt.Errorf("слой %q: неизвестный блок %q", lc.Name, lc.Block)
		}
		if lc.MaxHeight < lc.MinHeight {
			return nil, fmt.Errorf("слой %q: max_height %d меньше min_height %d", lc.Name, lc.MaxHeight, lc.MinHeight)
		}
		freq := lc.Frequency
		if freq <= 0 {
			freq = 1
		}
		g.layers = append(g.layers, terrainLayer{
			name:      lc.Name,
			data:      t.Data(),
			minHeight: float64(lc.MinHeight),
			amplitude: float64(lc.MaxHeight - lc.MinHeight),
			frequency: freq,
			exponent:  lc.Exponent,
			noise:     util.NewNoise(cfg.Seed + int64(i)*7919),
		})
	}

	if cfg.Tree != nil && cfg.Tree.Chance > 0 {
		tree := &treeStructure{chance: cfg.Tree.Chance}
		for _, p := range []struct {
			name string
			dst  *block.BlockData
		}{{cfg.Tree.Log, &tree.log}, {cfg.Tree.Leaves, &tree.leaves}, {cfg.Tree.On, &tree.on}} {
			if p.name == "" {
				continue
			}
			t, ok := reg.ByName(p.name)
			if !ok {
				return nil, fmt.Errorf("дерево: неизвестный блок %q", p.name)
			}
			*p.dst = t.Data()
		}
		if tree.log.IsAir() || tree.leaves.IsAir() {
			return nil, fmt.Errorf("дерево: нужны блоки ствола и листвы")
		}
		g.tree = tree
	}

	return g, nil
}

// column высота колонки и блок её верхнего слоя
func (g *Generator) column(wx, wz int) (float64, block.BlockData) {
	h := g.bottom
	top := block.Air
	for i := range g.layers {
		if lh := g.layers[i].height(wx, wz); lh > h {
			h = lh
			top = g.layers[i].data
		}
	}
	return h, top
}

// HeightAt мировая высота рельефа в колонке: первая ячейка воздуха над землёй
func (g *Generator) HeightAt(wx, wz int) int {
	h, _ := g.column(wx, wz)
	return int(math.Floor(h))
}

// Generate заполняет чанк целиком, включая рамку. Таблица высот колонок
// берётся из пулов воркера.
func (g *Generator) Generate(s *ChunkStore, pools *pool.LocalPools) {
	s.Reset()

	side, pad := s.Side(), s.Padding()
	lo, hi := -pad, side+pad
	width := hi - lo
	base := s.WorldPos(0, 0, 0)

	heights := pools.Floats.Pop(width * width)
	defer pools.Floats.Push(heights)

	for z := lo; z < hi; z++ {
		for x := lo; x < hi; x++ {
			wx, wz := base.X+x, base.Z+z
			h := g.bottom
			for i := range g.layers {
				l := &g.layers[i]
				lh := l.height(wx, wz)
				if lh <= h {
					continue
				}
				g.fillColumn(s, x, z, int(math.Floor(h))-base.Y, int(math.Floor(lh))-base.Y-1, l.data)
				h = lh
			}
			heights[(z-lo)*width+(x-lo)] = float32(h)
		}
	}

	if g.tree != nil {
		g.plantTrees(s, heights)
	}

	s.InvalidateCount()
	s.CalculateEmptyCount()
}

// fillColumn заполняет локальный отрезок [y0, y1] колонки, обрезая его по рамке
func (g *Generator) fillColumn(s *ChunkStore, x, z, y0, y1 int, data block.BlockData) {
	lo, hi := -s.Padding(), s.Side()+s.Padding()-1
	y0 = max(y0, lo)
	y1 = min(y1, hi)
	if y0 > y1 {
		return
	}
	s.SetRangeRaw(vec.New(x, y0, z), vec.New(x, y1, z), data)
}

// plantTrees ставит деревья, чьи стволы стоят в колонках рядом с чанком.
// Кандидаты берутся с запасом на размер кроны, чтобы крона соседнего
// чанка попала и в рамку этого.
func (g *Generator) plantTrees(s *ChunkStore, heights []float32) {
	side, pad := s.Side(), s.Padding()
	lo, hi := -pad, side+pad
	width := hi - lo
	base := s.WorldPos(0, 0, 0)

	for z := lo - maxTreeReach; z < hi+maxTreeReach; z++ {
		for x := lo - maxTreeReach; x < hi+maxTreeReach; x++ {
			wx, wz := base.X+x, base.Z+z
			hash := util.Hash2D(g.seed, wx, wz)
			if util.HashFloat(hash) >= g.tree.chance {
				continue
			}

			var surface int
			if x >= lo && x < hi && z >= lo && z < hi && g.tree.on.IsAir() {
				surface = surfaceLevel(float64(heights[(z-lo)*width+(x-lo)]))
			} else {
				h, top := g.column(wx, wz)
				if !g.tree.on.IsAir() && top != g.tree.on {
					continue
				}
				surface = surfaceLevel(h)
			}

			g.buildTree(s, vec.New(x, surface-base.Y, z), int(hash>>3%3))
		}
	}
}

// surfaceLevel высота корня дерева над колонкой высоты h. Округляется
// с точностью float32, как в таблице высот Generate, чтобы корень совпадал
// во всех чанках, которые видят колонку.
func surfaceLevel(h float64) int {
	return int(math.Floor(float64(float32(h))))
}

// buildTree строит дерево со стволом в локальной точке root.
// Крона - эллипсоид, сплюснутый по Y. Листва занимает только воздух.
func (g *Generator) buildTree(s *ChunkStore, root vec.Vec3, variant int) {
	leavesRange := minCrownSize + variant
	leavesRange1 := leavesRange - 1
	trunkHeight := minTrunkSize + variant

	a2inv := 1 / float32(leavesRange*leavesRange)
	b2inv := 1 / float32(leavesRange1*leavesRange1)

	y1 := root.Y + 1 + trunkHeight
	centerY := y1 + leavesRange1

	for y := y1; y <= y1+2*leavesRange1; y++ {
		for z := root.Z - leavesRange; z <= root.Z+leavesRange; z++ {
			for x := root.X - leavesRange; x <= root.X+leavesRange; x++ {
				if !s.InRange(x, y, z) {
					continue
				}
				dx, dy, dz := float32(x-root.X), float32(y-centerY), float32(z-root.Z)
				if dx*dx*a2inv+dy*dy*b2inv+dz*dz*a2inv > 1 {
					continue
				}
				index := s.Index(x, y, z)
				if s.Get(index).IsAir() {
					s.SetTracked(index, g.tree.leaves, false)
				}
			}
		}
	}

	for y := root.Y; y <= root.Y+trunkHeight; y++ {
		if s.InRange(root.X, y, root.Z) {
			s.SetTracked(s.Index(root.X, y, root.Z), g.tree.log, false)
		}
	}
}
