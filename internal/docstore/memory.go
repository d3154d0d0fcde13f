package docstore

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in process. Transactions and plain writes are
// serialized by a single lock, which trivially satisfies the isolation
// contract. fn passed to RunTransaction must not call back into the store.
type MemoryStore struct {
	writeMu sync.Mutex

	mu      sync.RWMutex
	docs    map[string]map[string][]byte
	subs    map[string]map[int]func([]byte)
	nextSub int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string][]byte),
		subs: make(map[string]map[int]func([]byte)),
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.docs[collection][id]), nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	s.apply([]stagedWrite{{collection: collection, id: id, data: clone(data)}})
	s.writeMu.Unlock()

	s.notify(collection, id, data)
	return nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	tx := &memoryTx{store: s, staged: newStaging()}
	if err := fn(ctx, tx); err != nil {
		s.writeMu.Unlock()
		return err
	}
	writes := tx.staged.writes()
	s.apply(writes)
	s.writeMu.Unlock()

	for _, w := range writes {
		s.notify(w.collection, w.id, w.data)
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, collection, id string, onChange func([]byte)) (func(), error) {
	key := docKey(collection, id)

	s.mu.Lock()
	s.nextSub++
	subID := s.nextSub
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func([]byte))
	}
	s.subs[key][subID] = onChange
	s.mu.Unlock()

	var once sync.Once
	remove := func() {
		s.mu.Lock()
		delete(s.subs[key], subID)
		s.mu.Unlock()
	}
	stop := context.AfterFunc(ctx, func() { once.Do(remove) })
	return func() {
		stop()
		once.Do(remove)
	}, nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := make([]Document, 0, len(s.docs[collection]))
	for id, data := range s.docs[collection] {
		docs = append(docs, Document{ID: id, Data: clone(data)})
	}
	s.mu.RUnlock()
	return apply(docs, q)
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) apply(writes []stagedWrite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range writes {
		if s.docs[w.collection] == nil {
			s.docs[w.collection] = make(map[string][]byte)
		}
		s.docs[w.collection][w.id] = w.data
	}
}

func (s *MemoryStore) notify(collection, id string, data []byte) {
	s.mu.RLock()
	fns := make([]func([]byte), 0, len(s.subs[docKey(collection, id)]))
	for _, fn := range s.subs[docKey(collection, id)] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(clone(data))
	}
}

type memoryTx struct {
	store  *MemoryStore
	staged *staging
}

func (t *memoryTx) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if data, ok := t.staged.get(collection, id); ok {
		return clone(data), nil
	}
	return t.store.Get(ctx, collection, id)
}

func (t *memoryTx) Set(collection, id string, data []byte) {
	t.staged.set(collection, id, clone(data))
}

type stagedWrite struct {
	collection string
	id         string
	data       []byte
}

// staging buffers transactional writes in first-write order and serves them
// back to reads in the same transaction.
type staging struct {
	order []string
	byKey map[string]stagedWrite
}

func newStaging() *staging {
	return &staging{byKey: make(map[string]stagedWrite)}
}

func (s *staging) get(collection, id string) ([]byte, bool) {
	w, ok := s.byKey[docKey(collection, id)]
	return w.data, ok
}

func (s *staging) set(collection, id string, data []byte) {
	key := docKey(collection, id)
	if _, ok := s.byKey[key]; !ok {
		s.order = append(s.order, key)
	}
	s.byKey[key] = stagedWrite{collection: collection, id: id, data: data}
}

func (s *staging) writes() []stagedWrite {
	out := make([]stagedWrite, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key])
	}
	return out
}

func docKey(collection, id string) string { return collection + "/" + id }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
