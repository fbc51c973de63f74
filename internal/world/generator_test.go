package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/pool"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

func newTerrainRegistry(t *testing.T) *block.Registry {
	t.Helper()
	notSolid := false
	reg, err := block.NewRegistryFromConfigs([]block.Config{
		{Name: "stone"},
		{Name: "dirt"},
		{Name: "log"},
		{Name: "leaves", Solid: &notSolid, Transparent: true},
	})
	require.NoError(t, err)
	return reg
}

func flatLayer(name, blockName string, height int) LayerConfig {
	return LayerConfig{Name: name, Block: blockName, MinHeight: height, MaxHeight: height, Frequency: 32}
}

func TestGeneratorFlatLayers(t *testing.T) {
	reg := newTerrainRegistry(t)
	gen, err := NewGenerator(reg, GeneratorConfig{
		Seed:   1,
		Layers: []LayerConfig{flatLayer("base", "stone", 3), flatLayer("soil", "dirt", 5)},
	})
	require.NoError(t, err)

	pools := pool.NewLocalPools(0)
	s := NewChunkStore(8, DefaultPadding, reg)
	gen.Generate(s, pools)

	stone, dirt := reg.MustData("stone"), reg.MustData("dirt")
	for _, x := range []int{-1, 0, 7, 8} {
		assert.Equal(t, stone, s.GetAt(x, 0, 3))
		assert.Equal(t, stone, s.GetAt(x, 2, 3))
		assert.Equal(t, dirt, s.GetAt(x, 3, 3))
		assert.Equal(t, dirt, s.GetAt(x, 4, 3))
		assert.Equal(t, block.Air, s.GetAt(x, 5, 3))
		assert.Equal(t, block.Air, s.GetAt(x, -1, 3), "ниже bottom пусто")
	}
	assert.Equal(t, 8*8*5, s.NonEmpty())
	assert.Equal(t, 5, gen.HeightAt(100, -100))
	assert.Equal(t, 0, pools.Outstanding())

	t.Run("chunk above terrain is empty", func(t *testing.T) {
		above := NewChunkStore(8, DefaultPadding, reg)
		above.Pos = vec.New(0, 1, 0)
		gen.Generate(above, pools)
		assert.True(t, above.IsEmpty())
	})
}

func TestGeneratorSeamsMatch(t *testing.T) {
	reg := newTerrainRegistry(t)
	gen, err := NewGenerator(reg, GeneratorConfig{
		Seed: 42,
		Layers: []LayerConfig{
			{Name: "base", Block: "stone", MinHeight: 0, MaxHeight: 12, Frequency: 20, Exponent: 1},
			{Name: "soil", Block: "dirt", MinHeight: 2, MaxHeight: 14, Frequency: 10},
		},
		Tree: &TreeConfig{Log: "log", Leaves: "leaves", Chance: 0.05},
	})
	require.NoError(t, err)

	pools := pool.NewLocalPools(0)
	a := NewChunkStore(8, DefaultPadding, reg)
	b := NewChunkStore(8, DefaultPadding, reg)
	b.Pos = vec.New(1, 0, 0)
	gen.Generate(a, pools)
	gen.Generate(b, pools)

	for y := -1; y <= 8; y++ {
		for z := -1; z <= 8; z++ {
			require.Equal(t, b.GetAt(0, y, z), a.GetAt(8, y, z), "y=%d z=%d", y, z)
			require.Equal(t, a.GetAt(7, y, z), b.GetAt(-1, y, z), "y=%d z=%d", y, z)
		}
	}

	again := NewChunkStore(8, DefaultPadding, reg)
	gen.Generate(again, pools)
	assertSameCells(t, a, again)
	assert.Equal(t, 0, pools.Outstanding())
}

func TestGeneratorTrees(t *testing.T) {
	reg := newTerrainRegistry(t)
	gen, err := NewGenerator(reg, GeneratorConfig{
		Layers: []LayerConfig{flatLayer("base", "stone", 2)},
		Tree:   &TreeConfig{Log: "log", Leaves: "leaves", Chance: 1, On: "stone"},
	})
	require.NoError(t, err)

	s := NewChunkStore(16, DefaultPadding, reg)
	gen.Generate(s, pool.NewLocalPools(0))

	log := reg.MustData("log")
	assert.Equal(t, log, s.GetAt(4, 2, 4), "ствол начинается над поверхностью")
	assert.Equal(t, log, s.GetAt(4, 2+minTrunkSize, 4))
	assert.Equal(t, reg.MustData("stone"), s.GetAt(4, 1, 4))
	assert.Equal(t, recount(s), s.NonEmpty())
}

func TestNewGeneratorValidation(t *testing.T) {
	reg := newTerrainRegistry(t)

	_, err := NewGenerator(reg, GeneratorConfig{Layers: []LayerConfig{{Name: "x", Block: "gold"}}})
	assert.Error(t, err)

	_, err = NewGenerator(reg, GeneratorConfig{Layers: []LayerConfig{{Name: "x", Block: "stone", MinHeight: 5, MaxHeight: 1}}})
	assert.Error(t, err)

	_, err = NewGenerator(reg, GeneratorConfig{Tree: &TreeConfig{Log: "log", Chance: 0.1}})
	assert.Error(t, err, "нет листвы")

	_, err = NewGenerator(reg, GeneratorConfig{Tree: &TreeConfig{Log: "log", Leaves: "leaves", Chance: 0.1, On: "sand"}})
	assert.Error(t, err)
}

func TestSurfaceLevelMatchesHeightTable(t *testing.T) {
	// высоты чуть ниже целого: float32 округляет их вверх
	for _, h := range []float64{4.99999999, 11.9999999999, -0.00000001, 7.5, 3} {
		fromTable := surfaceLevel(float64(float32(h)))
		assert.Equal(t, fromTable, surfaceLevel(h), "h=%v", h)
	}
	assert.Equal(t, 5, surfaceLevel(4.99999999))
	assert.Equal(t, 7, surfaceLevel(7.5))
}

func TestGeneratorTreesAcrossChunks(t *testing.T) {
	reg := newTerrainRegistry(t)
	gen, err := NewGenerator(reg, GeneratorConfig{
		Seed: 3,
		Layers: []LayerConfig{
			{Name: "base", Block: "stone", MinHeight: 1, MaxHeight: 6, Frequency: 12},
		},
		Tree: &TreeConfig{Log: "log", Leaves: "leaves", Chance: 0.2},
	})
	require.NoError(t, err)

	pools := pool.NewLocalPools(0)
	for dz := -1; dz <= 1; dz++ {
		a := NewChunkStore(8, DefaultPadding, reg)
		b := NewChunkStore(8, DefaultPadding, reg)
		a.Pos = vec.New(0, 0, dz)
		b.Pos = vec.New(0, 0, dz+1)
		gen.Generate(a, pools)
		gen.Generate(b, pools)

		for y := -1; y <= 8; y++ {
			for x := -1; x <= 8; x++ {
				require.Equal(t, b.GetAt(x, y, 0), a.GetAt(x, y, 8), "dz=%d x=%d y=%d", dz, x, y)
				require.Equal(t, a.GetAt(x, y, 7), b.GetAt(x, y, -1), "dz=%d x=%d y=%d", dz, x, y)
			}
		}
	}
	assert.Equal(t, 0, pools.Outstanding())
}
