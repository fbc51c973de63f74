package block

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/voxel-core/internal/vec"
)

// Behavior реагирует на появление и удаление блока в мире.
// Позиции передаются в мировых координатах.
type Behavior interface {
	OnCreate(pos vec.Vec3)
	OnDestroy(pos vec.Vec3)
}

// BehaviorFactory создаёт поведение для конкретного типа блока
type BehaviorFactory func(t *Type) Behavior

var (
	behaviorsMu sync.RWMutex
	behaviors   = make(map[string]BehaviorFactory)
)

// RegisterBehavior добавляет именованное поведение, доступное из конфигов блоков
func RegisterBehavior(name string, factory BehaviorFactory) {
	behaviorsMu.Lock()
	defer behaviorsMu.Unlock()

	if _, exists := behaviors[name]; exists {
		panic(fmt.Sprintf("поведение %q уже зарегистрировано", name))
	}
	behaviors[name] = factory
}

// lookupBehavior ищет фабрику поведения по имени
func lookupBehavior(name string) (BehaviorFactory, bool) {
	behaviorsMu.RLock()
	defer behaviorsMu.RUnlock()
	f, ok := behaviors[name]
	return f, ok
}

// BehaviorNames возвращает отсортированный список зарегистрированных поведений
func BehaviorNames() []string {
	behaviorsMu.RLock()
	defer behaviorsMu.RUnlock()

	names := make([]string, 0, len(behaviors))
	for name := range behaviors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// noBehavior поведение по умолчанию
type noBehavior struct{}

func (noBehavior) OnCreate(vec.Vec3)  {}
func (noBehavior) OnDestroy(vec.Vec3) {}
