package implementations

import (
	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/vec"
)

// LogBehavior пишет отладочную запись на каждое появление и удаление блока
type LogBehavior struct {
	name string
}

// OnCreate логирует появление блока
func (b *LogBehavior) OnCreate(pos vec.Vec3) {
	logging.Debug("🧱 %s появился в (%d, %d, %d)", b.name, pos.X, pos.Y, pos.Z)
}

// OnDestroy логирует удаление блока
func (b *LogBehavior) OnDestroy(pos vec.Vec3) {
	logging.Debug("💥 %s удалён в (%d, %d, %d)", b.name, pos.X, pos.Y, pos.Z)
}
