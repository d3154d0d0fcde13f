package service

import "sync"

// listeners is a set of change callbacks. Callbacks run on the notifying
// goroutine, outside any store lock.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	l.next++
	id := l.next
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners[T]) notify(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// changeNotifier gives a store its OnChange method.
type changeNotifier struct {
	listeners[struct{}]
}

// OnChange registers fn to be called after every state change and returns a
// func that removes it.
func (n *changeNotifier) OnChange(fn func()) func() {
	return n.add(func(struct{}) { fn() })
}

func (n *changeNotifier) changed() { n.notify(struct{}{}) }
