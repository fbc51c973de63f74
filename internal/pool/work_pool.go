package pool

// WorkPool фиксированный набор LocalPools, по одному на воркер.
// Задача берёт пулы через Acquire и обязана вернуть их через Release.
type WorkPool struct {
	pools []*LocalPools
	free  chan *LocalPools
}

// NewWorkPool создаёт n наборов пулов
func NewWorkPool(n int) *WorkPool {
	if n <= 0 {
		n = 1
	}
	wp := &WorkPool{
		pools: make([]*LocalPools, n),
		free:  make(chan *LocalPools, n),
	}
	for i := range wp.pools {
		wp.pools[i] = NewLocalPools(i)
		wp.free <- wp.pools[i]
	}
	return wp
}

// Acquire блокируется, пока не освободится набор пулов
func (wp *WorkPool) Acquire() *LocalPools {
	return <-wp.free
}

// Release возвращает набор. Несбалансированные Pop/Push считаются ошибкой программиста.
func (wp *WorkPool) Release(lp *LocalPools) {
	lp.MustBeBalanced()
	wp.free <- lp
}

// Get возвращает набор по идентификатору воркера
func (wp *WorkPool) Get(id int) *LocalPools {
	return wp.pools[id]
}

// Size число наборов
func (wp *WorkPool) Size() int {
	return len(wp.pools)
}

// Available сколько наборов сейчас свободно
func (wp *WorkPool) Available() int {
	return len(wp.free)
}
