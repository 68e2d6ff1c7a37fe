package tcpserver

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/cyberinferno/kingnet/connection"
	"github.com/cyberinferno/kingnet/idgenerator"
)

// ErrRegistryFull is returned by Reserve when no connection id is free.
var ErrRegistryFull = errors.New("registry full")

// Ticket identifies one reservation in a Registry. The generation tells
// apart two connections that were given the same id at different times.
type Ticket struct {
	ID         uint32
	Generation uint64
}

type registryEntry struct {
	generation uint64
	conn       *connection.Connection
}

// Registry maps connection ids to live connections. Id allocation and the
// table share one mutex, so an id is only handed out again after its
// previous holder was released. Safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	ids        *idgenerator.Pool
	entries    map[uint32]registryEntry
	generation uint64
}

// NewRegistry creates a Registry that holds at most maxConnections entries.
//
// Parameters:
//   - maxConnections: The largest id (and so the capacity) of the registry
//
// Returns:
//   - A new, empty Registry
func NewRegistry(maxConnections uint32) *Registry {
	return &Registry{
		ids:     idgenerator.NewPool(maxConnections),
		entries: make(map[uint32]registryEntry),
	}
}

// Reserve allocates an id and a new generation for a connection about to be
// constructed. The reservation must be either attached or released.
//
// Returns:
//   - The ticket for the reservation
//   - An error wrapping ErrRegistryFull if no id is available
func (r *Registry) Reserve() (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.ids.Acquire()
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %w", ErrRegistryFull, err)
	}

	r.generation++
	r.entries[id] = registryEntry{generation: r.generation}
	return Ticket{ID: id, Generation: r.generation}, nil
}

// Attach stores c under a reserved ticket. It reports false if the ticket was
// already released.
func (r *Registry) Attach(t Ticket, c *connection.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[t.ID]
	if !ok || e.generation != t.Generation {
		return false
	}

	e.conn = c
	r.entries[t.ID] = e
	return true
}

// Detach hides the connection stored under t from lookups while keeping its
// id reserved. It reports false if the ticket is stale.
func (r *Registry) Detach(t Ticket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[t.ID]
	if !ok || e.generation != t.Generation {
		return false
	}

	e.conn = nil
	r.entries[t.ID] = e
	return true
}

// Release removes the entry for t and frees its id. A ticket whose id has
// since been given to a newer connection, or that was already released, is
// ignored and false is returned.
func (r *Registry) Release(t Ticket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[t.ID]
	if !ok || e.generation != t.Generation {
		return false
	}

	delete(r.entries, t.ID)
	r.ids.Release(t.ID)
	return true
}

// Get returns the attached connection for id.
func (r *Registry) Get(id uint32) (*connection.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.conn == nil {
		return nil, false
	}

	return e.conn, true
}

// Len returns the number of attached connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.attachedLocked())
}

// IDs returns the ids of attached connections in ascending order.
func (r *Registry) IDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := lo.Keys(r.attachedLocked())
	slices.Sort(ids)
	return ids
}

// Connections returns a snapshot of the attached connections.
func (r *Registry) Connections() []*connection.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.Values(r.attachedLocked())
}

func (r *Registry) attachedLocked() map[uint32]*connection.Connection {
	attached := lo.PickBy(r.entries, func(_ uint32, e registryEntry) bool {
		return e.conn != nil
	})

	return lo.MapValues(attached, func(e registryEntry, _ uint32) *connection.Connection {
		return e.conn
	})
}
