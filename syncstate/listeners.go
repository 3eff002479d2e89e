package syncstate

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c0deZ3R0/go-storefront-sync/logging"
)

// Listeners is a set of callbacks notified synchronously, in registration order. A panicking
// listener is logged and does not stop the others.
type Listeners[T any] struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(T)
}

// Add registers fn and returns a function that removes it.
func (l *Listeners[T]) Add(fn func(T)) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// Notify calls every registered listener with v.
func (l *Listeners[T]) Notify(v T) {
	l.mu.RLock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.WithComponent("syncstate").Error("listener panicked",
						slog.String("panic", fmt.Sprint(r)))
				}
			}()
			fn(v)
		}()
	}
}

// Len returns the number of registered listeners.
func (l *Listeners[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}
