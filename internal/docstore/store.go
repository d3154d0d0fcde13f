// Package docstore defines the transactional document store the storefront
// state layer persists to, with in-memory, Redis and PostgreSQL backends.
//
// Documents are opaque JSON blobs addressed by (collection, id). Reads of a
// missing document return nil data and a nil error.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when a transaction kept losing to concurrent
	// writers until its retry budget ran out.
	ErrConflict = errors.New("transaction conflict")
	ErrClosed   = errors.New("store closed")
)

const DefaultTxRetries = 5

type Store interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Set(ctx context.Context, collection, id string, data []byte) error
	// RunTransaction runs fn so that its reads and the writes it stages are
	// serialized against other transactions touching the same documents.
	// fn may be invoked more than once and must not have side effects beyond
	// the Tx it is handed.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Subscribe calls onChange with the new contents every time the document
	// is written, until the returned cancel func is called.
	Subscribe(ctx context.Context, collection, id string, onChange func(data []byte)) (func(), error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Ping(ctx context.Context) error
}

// Document is a raw document together with the id it is stored under.
type Document struct {
	ID   string
	Data []byte
}

// Keyed is a decoded document together with the id it is stored under.
type Keyed[T any] struct {
	ID    string
	Value T
}

// Tx is the handle passed to RunTransaction. Writes are staged and applied
// atomically when fn returns nil.
type Tx interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Set(collection, id string, data []byte)
}

func GetJSON[T any](ctx context.Context, s Store, collection, id string) (*T, error) {
	data, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return decode[T](data, collection, id)
}

func SetJSON(ctx context.Context, s Store, collection, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
	}
	return s.Set(ctx, collection, id, data)
}

func TxGetJSON[T any](ctx context.Context, tx Tx, collection, id string) (*T, error) {
	data, err := tx.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return decode[T](data, collection, id)
}

func TxSetJSON(tx Tx, collection, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
	}
	tx.Set(collection, id, data)
	return nil
}

func QueryJSON[T any](ctx context.Context, s Store, collection string, q Query) ([]Keyed[T], error) {
	docs, err := s.Query(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]Keyed[T], 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s/%s: %w", collection, doc.ID, err)
		}
		out = append(out, Keyed[T]{ID: doc.ID, Value: v})
	}
	return out, nil
}

func decode[T any](data []byte, collection, id string) (*T, error) {
	if data == nil {
		return nil, nil
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("unmarshal %s/%s: %w", collection, id, err)
	}
	return v, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
