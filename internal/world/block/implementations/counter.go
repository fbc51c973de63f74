package implementations

import (
	"sync/atomic"

	"github.com/annel0/voxel-core/internal/vec"
)

// CounterBehavior считает, сколько блоков типа сейчас существует в загруженном мире.
// Хуки вызываются из разных воркеров, поэтому счётчики атомарные.
type CounterBehavior struct {
	name      string
	created   atomic.Int64
	destroyed atomic.Int64
}

// NewCounterBehavior создаёт счётчик для типа блока
func NewCounterBehavior(name string) *CounterBehavior {
	return &CounterBehavior{name: name}
}

// OnCreate увеличивает счётчик созданных блоков
func (b *CounterBehavior) OnCreate(vec.Vec3) {
	b.created.Add(1)
}

// OnDestroy увеличивает счётчик удалённых блоков
func (b *CounterBehavior) OnDestroy(vec.Vec3) {
	b.destroyed.Add(1)
}

// Name имя типа блока
func (b *CounterBehavior) Name() string {
	return b.name
}

// Created число вызовов OnCreate
func (b *CounterBehavior) Created() int64 {
	return b.created.Load()
}

// Destroyed число вызовов OnDestroy
func (b *CounterBehavior) Destroyed() int64 {
	return b.destroyed.Load()
}

// Alive разница между созданными и удалёнными блоками
func (b *CounterBehavior) Alive() int64 {
	return b.created.Load() - b.destroyed.Load()
}
