package engine

import "fmt"

// ChunkState состояние чанка в планировщике
type ChunkState int

const (
	StateEmpty ChunkState = iota
	StateGenerating
	StateReady
	StateMeshing
	StateCompressing
	StateCompressed
	StateDecompressing
	StateRemoving

	stateCount
)

var stateNames = [stateCount]string{
	"empty", "generating", "ready", "meshing",
	"compressing", "compressed", "decompressing", "removing",
}

func (s ChunkState) String() string {
	if s < 0 || s >= stateCount {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// HasStore истинно для состояний, в которых у чанка есть несжатые данные
func (s ChunkState) HasStore() bool {
	switch s {
	case StateReady, StateMeshing, StateCompressing:
		return true
	}
	return false
}
