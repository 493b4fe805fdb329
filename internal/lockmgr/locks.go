// Package lockmgr provides keyed exclusive locks whose waits are bounded by a
// context.
package lockmgr

import (
	"context"
	"slices"
	"sync"
)

type entry struct {
	ch   chan struct{} // holds one token while locked
	refs int
}

type Locks struct {
	mu sync.Mutex
	m  map[string]*entry
}

func New() *Locks {
	return &Locks{m: make(map[string]*entry)}
}

// Acquire locks every key in ascending order and returns a function that
// releases them all. Duplicate keys are locked once. If ctx ends before all
// keys are held, the ones already taken are released and ctx.Err() is
// returned.
//
// Callers that acquire more than one batch must do so in the same category
// order everywhere, otherwise two units can deadlock until their contexts
// expire.
func (l *Locks) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*entry, 0, len(keys))
	heldKeys := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
			l.unref(heldKeys[i])
		}
	}

	for _, k := range keys {
		e := l.ref(k)
		select {
		case e.ch <- struct{}{}:
			held = append(held, e)
			heldKeys = append(heldKeys, k)
		case <-ctx.Done():
			l.unref(k)
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Locks) ref(k string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.m[k]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.m[k] = e
	}
	e.refs++
	return e
}

func (l *Locks) unref(k string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.m[k]
	e.refs--
	if e.refs == 0 {
		delete(l.m, k)
	}
}

// Len reports how many keys are currently held or waited on.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
