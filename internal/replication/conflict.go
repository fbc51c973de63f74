package replication

import (
	"sync"
	"time"

	"github.com/annel0/voxel-core/internal/protocol"
	"github.com/annel0/voxel-core/internal/vec"
)

// DefaultConflictWindow сколько помнится последняя запись ячейки
const DefaultConflictWindow = 30 * time.Second

// Conflict удалённая запись ячейки, которую узел уже видел записанной
type Conflict struct {
	Local      *Change // последняя известная узлу запись ячейки
	Remote     *Change // пришедшая запись
	DetectedAt time.Time
}

// ConflictResolver выбирает запись, которая остаётся в ячейке
type ConflictResolver interface {
	Resolve(conflict *Conflict) (*Change, error)
}

// LWWResolver Last-Write-Wins: побеждает более поздняя запись, при равном
// времени - запись узла с большим идентификатором. Все узлы приходят к
// одному значению независимо от порядка доставки.
type LWWResolver struct{}

// NewLWWResolver создаёт Last-Write-Wins resolver
func NewLWWResolver() ConflictResolver {
	return &LWWResolver{}
}

// Resolve реализует ConflictResolver
func (r *LWWResolver) Resolve(conflict *Conflict) (*Change, error) {
	local, remote := conflict.Local, conflict.Remote
	switch {
	case remote.Timestamp.After(local.Timestamp):
		return remote, nil
	case remote.Timestamp.Equal(local.Timestamp) && remote.Source > local.Source:
		return remote, nil
	default:
		return local, nil
	}
}

type cellKey struct {
	chunk, local vec.Vec3
}

type writeMark struct {
	change Change
	seen   time.Time
}

// WriteLog последние записи ячеек: свои и принятые от других узлов.
// Записи старше окна забываются, и следующая удалённая запись
// применяется без сравнения.
type WriteLog struct {
	mu       sync.Mutex
	resolver ConflictResolver
	window   time.Duration
	entries  map[cellKey]writeMark
	pruneAt  int
	now      func() time.Time
}

// NewWriteLog создаёт журнал. window <= 0 - DefaultConflictWindow, resolver nil - LWW.
func NewWriteLog(window time.Duration, resolver ConflictResolver) *WriteLog {
	if window <= 0 {
		window = DefaultConflictWindow
	}
	if resolver == nil {
		resolver = NewLWWResolver()
	}
	return &WriteLog{
		resolver: resolver,
		window:   window,
		entries:  make(map[cellKey]writeMark),
		pruneAt:  4096,
		now:      time.Now,
	}
}

func keyOf(bc protocol.BlockChange) cellKey {
	return cellKey{chunk: bc.Chunk, local: bc.Local}
}

// Record запоминает запись своего узла
func (w *WriteLog) Record(bc protocol.BlockChange, ch Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.storeLocked(keyOf(bc), ch)
}

// Accept решает, применять ли удалённую запись. Принятая запись запоминается.
func (w *WriteLog) Accept(bc protocol.BlockChange, remote Change) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := keyOf(bc)
	now := w.now()
	prev, ok := w.entries[key]
	if !ok || now.Sub(prev.seen) > w.window {
		w.storeLocked(key, remote)
		return true, nil
	}

	conflict := &Conflict{Local: &prev.change, Remote: &remote, DetectedAt: now}
	winner, err := w.resolver.Resolve(conflict)
	if err != nil {
		return false, err
	}
	if winner != conflict.Remote {
		return false, nil
	}
	w.storeLocked(key, remote)
	return true, nil
}

// Len число запомненных ячеек
func (w *WriteLog) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *WriteLog) storeLocked(key cellKey, ch Change) {
	now := w.now()
	w.entries[key] = writeMark{change: ch, seen: now}
	if len(w.entries) < w.pruneAt {
		return
	}
	for k, m := range w.entries {
		if now.Sub(m.seen) > w.window {
			delete(w.entries, k)
		}
	}
	w.pruneAt = max(4096, 2*len(w.entries))
}
