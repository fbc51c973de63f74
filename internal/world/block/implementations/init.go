package implementations

import "github.com/annel0/voxel-core/internal/world/block"

// Регистрируем именованные поведения при импорте пакета
func init() {
	block.RegisterBehavior("counter", func(t *block.Type) block.Behavior {
		return NewCounterBehavior(t.Name)
	})
	block.RegisterBehavior("log", func(t *block.Type) block.Behavior {
		return &LogBehavior{name: t.Name}
	})
}
