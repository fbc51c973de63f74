package pool

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// LocalPools набор пулов одного воркера
type LocalPools struct {
	ID int

	// Bools маски посещённых ячеек (сжатие чанков)
	Bools *ArrayPool[bool]
	// Masks упакованные маски граней мешера
	Masks *ArrayPool[uint32]
	// Floats таблицы высот генератора
	Floats *ArrayPool[float32]
	// Vec3s вершины произвольной геометрии
	Vec3s *ArrayPool[mgl32.Vec3]
}

// NewLocalPools создаёт пулы для воркера с идентификатором id
func NewLocalPools(id int) *LocalPools {
	return &LocalPools{
		ID:     id,
		Bools:  NewArrayPool[bool]("bools", DefaultOutstandingLimit),
		Masks:  NewArrayPool[uint32]("masks", DefaultOutstandingLimit),
		Floats: NewArrayPool[float32]("floats", DefaultOutstandingLimit),
		Vec3s:  NewArrayPool[mgl32.Vec3]("vec3s", DefaultOutstandingLimit),
	}
}

// Outstanding суммарное число выданных буферов
func (lp *LocalPools) Outstanding() int {
	return lp.Bools.Outstanding() + lp.Masks.Outstanding() +
		lp.Floats.Outstanding() + lp.Vec3s.Outstanding()
}

// MustBeBalanced паникует, если какой-то буфер не вернули
func (lp *LocalPools) MustBeBalanced() {
	if n := lp.Outstanding(); n != 0 {
		panic(fmt.Sprintf("воркер %d: %d буферов не возвращены в пул", lp.ID, n))
	}
}
