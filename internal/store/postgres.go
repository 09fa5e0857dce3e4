package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/bson"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        BIGSERIAL,
	collection TEXT  NOT NULL,
	id         TEXT  NOT NULL,
	doc        BYTEA NOT NULL,
	PRIMARY KEY (collection, id)
)`

// Postgres keeps BSON documents in a single table keyed by (collection, id).
// Reads inside a transaction take row locks, so overlapping transactions
// serialize on the documents they share.
type Postgres struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// OpenPostgres connects, pings and creates the documents table if needed.
func OpenPostgres(ctx context.Context, dsn string, maxRetries int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Postgres{pool: pool, maxRetries: maxRetries}, nil
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgRead(ctx context.Context, q pgQuerier, collection, id string, forUpdate bool) (bson.Raw, error) {
	sql := `SELECT doc FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var doc []byte
	if err := q.QueryRow(ctx, sql, collection, id).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return bson.Raw(doc), nil
}

func pgWrite(ctx context.Context, q pgQuerier, collection, id string, raw bson.Raw) error {
	const sql = `
		INSERT INTO documents (collection, id, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc`
	_, err := q.Exec(ctx, sql, collection, id, []byte(raw))
	return err
}

func (s *Postgres) Get(ctx context.Context, collection, id string, out any) error {
	raw, err := pgRead(ctx, s.pool, collection, id, false)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

func (s *Postgres) Put(ctx context.Context, collection, id string, doc any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return pgWrite(ctx, s.pool, collection, id, raw)
}

// Update is a read-modify-write, so it runs in its own transaction.
func (s *Postgres) Update(ctx context.Context, collection, id string, fields bson.M) error {
	return s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Update(ctx, collection, id, fields)
	})
}

func (s *Postgres) Find(ctx context.Context, collection string, filter bson.M, out any) error {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM documents WHERE collection = $1 ORDER BY seq`, collection)
	if err != nil {
		return err
	}
	defer rows.Close()

	var raws []bson.Raw
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return err
		}
		raws = append(raws, bson.Raw(doc))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return decodeAll(raws, filter, out)
}

// Transaction retries fn on serialization failures and deadlocks.
func (s *Postgres) Transaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil || !retryablePg(err) {
			return err
		}
		if attempt >= s.maxRetries {
			return fmt.Errorf("%w: %v", ErrTransactionConflict, err)
		}
	}
}

func (s *Postgres) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx, absent: make(map[docKey]bool)}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func retryablePg(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.UniqueViolation:
		return true
	}
	return false
}

func (s *Postgres) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

// pgTx remembers the documents it found missing. FOR UPDATE cannot lock a
// row that does not exist yet, so creating one of those is a plain INSERT:
// a concurrent creator then fails with a unique violation and the whole
// transaction is retried instead of silently overwriting.
type pgTx struct {
	tx     pgx.Tx
	absent map[docKey]bool
}

func (t *pgTx) Get(ctx context.Context, collection, id string, out any) error {
	raw, err := pgRead(ctx, t.tx, collection, id, true)
	if errors.Is(err, ErrNotFound) {
		t.absent[docKey{collection, id}] = true
	}
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

func (t *pgTx) Put(ctx context.Context, collection, id string, doc any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	key := docKey{collection, id}
	if t.absent[key] {
		const sql = `INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3)`
		if _, err := t.tx.Exec(ctx, sql, collection, id, []byte(raw)); err != nil {
			return err
		}
		delete(t.absent, key)
		return nil
	}
	return pgWrite(ctx, t.tx, collection, id, raw)
}

func (t *pgTx) Update(ctx context.Context, collection, id string, fields bson.M) error {
	raw, err := pgRead(ctx, t.tx, collection, id, true)
	if err != nil {
		return err
	}
	updated, err := applyFields(raw, fields)
	if err != nil {
		return err
	}
	return pgWrite(ctx, t.tx, collection, id, updated)
}
