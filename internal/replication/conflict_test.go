package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/eventbus"
	"github.com/annel0/voxel-core/internal/protocol"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

func TestLWWResolver(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewLWWResolver()

	tests := []struct {
		name       string
		local      Change
		remote     Change
		remoteWins bool
	}{
		{"удалённая новее", Change{Timestamp: t0, Source: "b"}, Change{Timestamp: t0.Add(time.Millisecond), Source: "a"}, true},
		{"удалённая старше", Change{Timestamp: t0, Source: "a"}, Change{Timestamp: t0.Add(-time.Millisecond), Source: "b"}, false},
		{"равное время, больший узел", Change{Timestamp: t0, Source: "a"}, Change{Timestamp: t0, Source: "b"}, true},
		{"равное время, меньший узел", Change{Timestamp: t0, Source: "b"}, Change{Timestamp: t0, Source: "a"}, false},
		{"повтор той же записи", Change{Timestamp: t0, Source: "a"}, Change{Timestamp: t0, Source: "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, remote := tt.local, tt.remote
			c := &Conflict{Local: &local, Remote: &remote, DetectedAt: t0}
			winner, err := r.Resolve(c)
			require.NoError(t, err)
			assert.Equal(t, tt.remoteWins, winner == c.Remote)
		})
	}
}

type failingResolver struct{}

func (failingResolver) Resolve(*Conflict) (*Change, error) {
	return nil, errors.New("нет решения")
}

func TestWriteLogAccept(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := NewWriteLog(time.Minute, nil)
	w.now = func() time.Time { return now }

	cell := protocol.BlockChange{Chunk: vec.New(0, 0, 1), Local: vec.New(2, 3, 4)}
	other := protocol.BlockChange{Chunk: vec.New(0, 0, 1), Local: vec.New(2, 3, 5)}

	ok, err := w.Accept(cell, Change{Timestamp: now, Source: "a"})
	require.NoError(t, err)
	assert.True(t, ok, "первая запись ячейки принимается")

	w.Record(cell, Change{Timestamp: now.Add(time.Second), Source: "b"})

	ok, err = w.Accept(cell, Change{Timestamp: now.Add(500 * time.Millisecond), Source: "a"})
	require.NoError(t, err)
	assert.False(t, ok, "запись старше своей отклоняется")

	ok, err = w.Accept(other, Change{Timestamp: now, Source: "a"})
	require.NoError(t, err)
	assert.True(t, ok, "другая ячейка независима")

	ok, err = w.Accept(cell, Change{Timestamp: now.Add(2 * time.Second), Source: "a"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, w.Len())

	// за пределами окна запись забыта
	now = now.Add(2 * time.Minute)
	ok, err = w.Accept(cell, Change{Timestamp: now.Add(-time.Hour), Source: "a"})
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("ошибка resolver", func(t *testing.T) {
		w := NewWriteLog(0, failingResolver{})
		assert.Equal(t, DefaultConflictWindow, w.window)
		w.Record(cell, Change{Source: "b"})
		_, err := w.Accept(cell, Change{Source: "a"})
		assert.Error(t, err)
	})
}

func TestWriteLogPrunes(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := NewWriteLog(time.Second, nil)
	w.now = func() time.Time { return now }

	for i := 0; i < 4000; i++ {
		w.Record(protocol.BlockChange{Local: vec.New(i, 0, 0)}, Change{})
	}
	now = now.Add(time.Minute)
	for i := 0; i < 200; i++ {
		w.Record(protocol.BlockChange{Local: vec.New(i, 1, 0)}, Change{})
	}
	assert.Less(t, w.Len(), 4096, "устаревшие записи удалены")
}

func TestManagerDropsStaleRemoteWrites(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	defer bus.Close()

	applier := &fakeApplier{accept: true}
	m, err := NewManager(Config{
		NodeID:     "node-b",
		Bus:        bus,
		Applier:    applier,
		FlushEvery: time.Hour,
	})
	require.NoError(t, err)
	defer m.Stop()

	ctx := context.Background()
	t0 := time.Now()
	stone := block.NewBlockData(1, true)
	cell := protocol.BlockChange{Chunk: vec.New(3, 0, 0), Local: vec.New(1, 1, 1), New: stone}

	// своя запись ячейки
	local := eventbus.NewEnvelope("node-b", protocol.EventBlockChanged, 3, protocol.MarshalBlockChange(cell))
	local.Timestamp = t0
	require.NoError(t, bus.Publish(ctx, local))

	sendBatch := func(ts time.Time) {
		payload, err := NewPassthroughCompressor().Compress([]Change{{
			Data:      protocol.MarshalBlockChange(cell),
			Timestamp: ts,
			Source:    "node-a",
			Type:      protocol.EventBlockChanged,
		}})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, eventbus.NewEnvelope("node-a", EventBlockChangeBatch, eventbus.HighPriority, payload)))
	}

	sendBatch(t0.Add(-time.Second))
	require.Eventually(t, func() bool { return m.Stats().Batches == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), m.Stats().Conflicts)
	assert.Empty(t, applier.Changes(), "устаревшая запись не применяется")

	sendBatch(t0.Add(time.Second))
	require.Eventually(t, func() bool { return m.Stats().Applied == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, applier.Changes(), 1)
	assert.Equal(t, uint64(1), m.Stats().Conflicts)
}
