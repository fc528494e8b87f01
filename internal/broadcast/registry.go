package broadcast

import "github.com/google/uuid"

// Liveness is the transport state of a client handle.
type Liveness int32

const (
	Open Liveness = iota
	Closing
	Closed
)

func (l Liveness) String() string {
	switch l {
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "closed"
	}
}

// Handle is a registered client as seen by the Scheduler.
type Handle interface {
	ID() uuid.UUID
	Liveness() Liveness
	// Send queues msg without blocking. It reports false if the message was dropped.
	Send(msg []byte) bool
	Close()
}

// Registry is the set of connected handles. It is owned by the Scheduler's
// goroutine and is not safe for concurrent use.
type Registry struct {
	handles map[uuid.UUID]Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[uuid.UUID]Handle)}
}

// Add inserts h and reports whether the registry was empty before.
func (r *Registry) Add(h Handle) (wasEmpty bool) {
	wasEmpty = len(r.handles) == 0
	r.handles[h.ID()] = h
	return wasEmpty
}

// Remove deletes the handle with id. removed is false for an unknown id.
func (r *Registry) Remove(id uuid.UUID) (h Handle, removed bool) {
	h, removed = r.handles[id]
	if removed {
		delete(r.handles, id)
	}
	return h, removed
}

func (r *Registry) Size() int { return len(r.handles) }

// ForEachLive calls fn for every open handle and returns how many it visited.
// Closing and closed handles are skipped but stay registered until the
// transport reports them gone.
func (r *Registry) ForEachLive(fn func(Handle)) int {
	n := 0
	for _, h := range r.handles {
		if h.Liveness() != Open {
			continue
		}
		fn(h)
		n++
	}
	return n
}

func (r *Registry) closeAll() {
	for id, h := range r.handles {
		h.Close()
		delete(r.handles, id)
	}
}
