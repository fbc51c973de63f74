package implementations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

func TestBehaviorsRegistered(t *testing.T) {
	names := block.BehaviorNames()
	assert.Contains(t, names, "counter")
	assert.Contains(t, names, "log")
}

func TestCounterBehaviorFromConfig(t *testing.T) {
	reg, err := block.NewRegistryFromConfigs([]block.Config{
		{Name: "ore", Behavior: "counter"},
	})
	require.NoError(t, err)

	ore, ok := reg.ByName("ore")
	require.True(t, ok)

	counter, ok := ore.Behavior.(*CounterBehavior)
	require.True(t, ok, "ожидалось поведение CounterBehavior, получено %T", ore.Behavior)

	ore.OnCreate(vec.New(1, 2, 3))
	ore.OnCreate(vec.New(1, 3, 3))
	ore.OnDestroy(vec.New(1, 2, 3))

	assert.Equal(t, "ore", counter.Name())
	assert.EqualValues(t, 2, counter.Created())
	assert.EqualValues(t, 1, counter.Destroyed())
	assert.EqualValues(t, 1, counter.Alive())
}

func TestLogBehaviorDoesNotPanicWithoutLogger(t *testing.T) {
	b := &LogBehavior{name: "stone"}
	assert.NotPanics(t, func() {
		b.OnCreate(vec.New(0, 0, 0))
		b.OnDestroy(vec.New(0, 0, 0))
	})
}
