package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	notifyChannel = "documents"

	schemaSQL = `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT        NOT NULL,
		id         TEXT        NOT NULL,
		data       JSONB       NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	)`

	upsertSQL = `WITH up AS (
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
		RETURNING collection, id
	)
	SELECT pg_notify('` + notifyChannel + `', collection || '/' || id) FROM up`

	// SQLSTATE serialization_failure and deadlock_detected.
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// PostgresStore keeps documents in a single jsonb table. Transactions run at
// SERIALIZABLE isolation and are retried on serialization failures; change
// notifications ride on LISTEN/NOTIFY and are delivered on commit.
type PostgresStore struct {
	pool       *pgxpool.Pool
	maxRetries int
	log        *slog.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, maxRetries int, log *slog.Logger) *PostgresStore {
	if maxRetries <= 0 {
		maxRetries = DefaultTxRetries
	}
	return &PostgresStore{pool: pool, maxRetries: maxRetries, log: log}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return data, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, data []byte) error {
	if _, err := s.pool.Exec(ctx, upsertSQL, collection, id, json.RawMessage(data)); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		s.log.Debug("postgres transaction conflict, retrying", "attempt", attempt, "error", err)
	}
	return ErrConflict
}

func (s *PostgresStore) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ptx := &postgresTx{tx: tx, staged: newStaging()}
	if err := fn(ctx, ptx); err != nil {
		return err
	}
	for _, w := range ptx.staged.writes() {
		if _, err := tx.Exec(ctx, upsertSQL, w.collection, w.id, json.RawMessage(w.data)); err != nil {
			return fmt.Errorf("write %s/%s: %w", w.collection, w.id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}

// Subscribe holds a dedicated pool connection in LISTEN mode for the lifetime
// of the subscription.
func (s *PostgresStore) Subscribe(ctx context.Context, collection, id string, onChange func([]byte)) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	key := docKey(collection, id)
	go func() {
		defer func() {
			unlistenCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_, _ = conn.Exec(unlistenCtx, "UNLISTEN "+notifyChannel)
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					s.log.Warn("wait for notification", "collection", collection, "id", id, "error", err)
				}
				return
			}
			if n.Payload != key {
				continue
			}
			data, err := s.Get(subCtx, collection, id)
			if err != nil {
				s.log.Warn("reload changed document", "collection", collection, "id", id, "error", err)
				continue
			}
			onChange(data)
		}
	}()

	var once sync.Once
	stop := context.AfterFunc(ctx, func() { once.Do(cancel) })
	return func() {
		stop()
		once.Do(cancel)
	}, nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	args := []any{collection}
	for _, f := range q.Filters {
		args = append(args, f.Field, f.Value)
		fmt.Fprintf(&sb, ` AND data->>$%d = $%d`, len(args)-1, len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Data); err != nil {
			return nil, fmt.Errorf("scan %s document: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return apply(docs, Query{OrderBy: q.OrderBy, Desc: q.Desc})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type postgresTx struct {
	tx     pgx.Tx
	staged *staging
}

// Get locks the row it reads; absent rows are covered by SERIALIZABLE.
func (t *postgresTx) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if data, ok := t.staged.get(collection, id); ok {
		return clone(data), nil
	}
	var data []byte
	err := t.tx.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`, collection, id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return data, nil
}

func (t *postgresTx) Set(collection, id string, data []byte) {
	t.staged.set(collection, id, clone(data))
}
