package idgenerator

import (
	"errors"
	"sync"
)

// ErrPoolExhausted is returned by Acquire when every id up to the pool's
// maximum is in use.
var ErrPoolExhausted = errors.New("id pool exhausted")

// Pool allocates ids in [1, max]. Released ids are reused in release order
// before the counter advances. It is safe for concurrent use.
type Pool struct {
	mu    sync.Mutex
	gen   *IdGenerator
	max   uint32
	free  []uint32
	inUse map[uint32]struct{}
}

// NewPool creates a Pool handing out ids from 1 to max inclusive.
//
// Parameters:
//   - max: The largest id the pool may issue; 0 is treated as 1
//
// Returns:
//   - A new Pool
func NewPool(max uint32) *Pool {
	if max == 0 {
		max = 1
	}

	return &Pool{
		gen:   NewIdGenerator(0),
		max:   max,
		inUse: make(map[uint32]struct{}),
	}
}

// Acquire returns an unused id.
//
// Returns:
//   - The id
//   - ErrPoolExhausted if all ids are taken
func (p *Pool) Acquire() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var id uint32
	switch {
	case len(p.free) > 0:
		id = p.free[0]
		p.free = p.free[1:]
	case p.gen.Last() < p.max:
		id = p.gen.Id()
	default:
		return 0, ErrPoolExhausted
	}

	p.inUse[id] = struct{}{}
	return id, nil
}

// Release returns id to the pool. Releasing an id that is not in use is a
// no-op.
func (p *Pool) Release(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inUse[id]; !ok {
		return
	}

	delete(p.inUse, id)
	p.free = append(p.free, id)
}

// InUse returns the number of ids currently handed out.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}
