// Package pool содержит переиспользуемые буферы воркеров.
// Пулы не потокобезопасны: каждый LocalPools принадлежит одному воркеру
// на время задачи и передаётся явно.
package pool

import "fmt"

// DefaultOutstandingLimit сколько буферов одного пула можно держать одновременно
const DefaultOutstandingLimit = 64

// ArrayPool хранит стеки свободных срезов, сгруппированные по длине
type ArrayPool[T any] struct {
	name        string
	free        map[int][][]T
	lent        map[*T]struct{}
	outstanding int
	limit       int
	allocated   int
}

// NewArrayPool создаёт пул с ограничением на число одновременно выданных срезов
func NewArrayPool[T any](name string, limit int) *ArrayPool[T] {
	if limit <= 0 {
		limit = DefaultOutstandingLimit
	}
	return &ArrayPool[T]{
		name:  name,
		free:  make(map[int][][]T),
		lent:  make(map[*T]struct{}),
		limit: limit,
	}
}

// Pop возвращает обнулённый срез длины n
func (p *ArrayPool[T]) Pop(n int) []T {
	if n <= 0 {
		panic(fmt.Sprintf("pool %s: запрошен срез длины %d", p.name, n))
	}
	if p.outstanding >= p.limit {
		panic(fmt.Sprintf("pool %s исчерпан: выдано %d срезов без возврата", p.name, p.outstanding))
	}

	var s []T
	if stack := p.free[n]; len(stack) > 0 {
		s = stack[len(stack)-1]
		p.free[n] = stack[:len(stack)-1]
		clear(s)
	} else {
		s = make([]T, n)
		p.allocated++
	}

	p.lent[&s[0]] = struct{}{}
	p.outstanding++
	return s
}

// Push возвращает срез в пул. Чужой или повторно возвращённый срез - ошибка программиста.
func (p *ArrayPool[T]) Push(s []T) {
	if len(s) == 0 {
		panic(fmt.Sprintf("pool %s: возврат пустого среза", p.name))
	}
	key := &s[0]
	if _, ok := p.lent[key]; !ok {
		panic(fmt.Sprintf("pool %s: возвращён срез, который не выдавался пулом", p.name))
	}
	delete(p.lent, key)
	p.outstanding--
	p.free[len(s)] = append(p.free[len(s)], s)
}

// Outstanding число выданных и не возвращённых срезов
func (p *ArrayPool[T]) Outstanding() int {
	return p.outstanding
}

// Allocated сколько срезов пул создал за всё время
func (p *ArrayPool[T]) Allocated() int {
	return p.allocated
}

// Name имя пула для диагностики
func (p *ArrayPool[T]) Name() string {
	return p.name
}
