// Package hooks implements a small thread-safe multi-listener callback
// registry. It is the one-way replacement for the cyclic controller↔session
// manager ownership the reference implementation used: a producer calls
// Each to notify every registered listener, and never holds a back-pointer
// to whoever registered them.
//
// Adapted from the teacher's utils/handler.Handler, trimmed to plain
// registration/removal since callers here always know the exact function
// signature they want — there is no need for the reflection-based dispatch
// the teacher uses to route arbitrary gateway event structs.
package hooks

import "sync"

// Registry holds an ordered set of callbacks of type F and lets a producer
// invoke all of them. The zero value is ready to use.
type Registry[F any] struct {
	mu     sync.Mutex
	fns    map[uint64]F
	serial uint64
}

// Add registers fn and returns a function that removes it. Safe to call
// concurrently with Each.
func (r *Registry[F]) Add(fn F) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fns == nil {
		r.fns = make(map[uint64]F, 1)
	}

	id := r.serial
	r.serial++
	r.fns[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.fns, id)
	}
}

// Each calls fn once per registered callback, in registration order. The
// callback snapshot is taken under the lock but invoked outside it, so a
// listener may register or remove another listener from within its own
// callback without deadlocking.
func (r *Registry[F]) Each(fn func(F)) {
	r.mu.Lock()
	snapshot := make([]F, 0, len(r.fns))
	for i := uint64(0); i < r.serial; i++ {
		if f, ok := r.fns[i]; ok {
			snapshot = append(snapshot, f)
		}
	}
	r.mu.Unlock()

	for _, f := range snapshot {
		fn(f)
	}
}
