// Package idgenerator hands out connection identifiers: a monotonic counter
// and a bounded pool that recycles released ids.
package idgenerator

import "sync/atomic"

// IdGenerator generates monotonically increasing uint32 IDs in a concurrency-safe
// manner. The first Id() returns startValue+1.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id() returns startValue+1.
//
// Parameters:
//   - startValue: The value to initialize the counter to
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next ID by atomically incrementing the internal counter.
func (l *IdGenerator) Id() uint32 {
	return l.id.Add(1)
}

// Last returns the most recently issued ID, or the start value if none was
// issued yet.
func (l *IdGenerator) Last() uint32 {
	return l.id.Load()
}
