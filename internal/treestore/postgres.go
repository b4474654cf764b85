package treestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// NotifyChannel is the Postgres channel written paths are announced on.
const NotifyChannel = "tree_changes"

const schema = `
	CREATE TABLE IF NOT EXISTS tree_nodes (
		collection TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      JSONB NOT NULL,
		PRIMARY KEY (collection, key)
	)
`

// PostgresStore keeps one JSONB document per collection/key pair. Paths
// deeper than two segments address fields inside that document.
//
// Observers are driven by LISTEN/NOTIFY, so Listen must be running for
// Observe callbacks to fire, including for writes made by this process.
type PostgresStore struct {
	db  *pgxpool.Pool
	reg *registry
}

// NewPostgresStore creates a store on top of an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	s := &PostgresStore{db: db}
	s.reg = newRegistry(s.fetch)
	return s
}

var _ Gateway = (*PostgresStore)(nil)

// Migrate creates the backing table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tree_nodes table: %w", err)
	}
	return nil
}

func (s *PostgresStore) fetch(ctx context.Context, segs []string) (any, error) {
	switch len(segs) {
	case 0:
		return nil, ErrInvalidPath
	case 1:
		query := `SELECT key, value FROM tree_nodes WHERE collection = $1`
		rows, err := s.db.Query(ctx, query, segs[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read collection %s: %w", segs[0], err)
		}
		defer rows.Close()

		out := map[string]any{}
		for rows.Next() {
			var key string
			var raw []byte
			if err := rows.Scan(&key, &raw); err != nil {
				return nil, fmt.Errorf("failed to scan node: %w", err)
			}
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				return nil, fmt.Errorf("failed to decode node %s/%s: %w", segs[0], key, err)
			}
			out[key] = value
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating nodes: %w", err)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	default:
		doc, err := readDocument(ctx, s.db, segs[0], segs[1], false)
		if err != nil {
			return nil, err
		}
		return lookup(doc, segs[2:]), nil
	}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func readDocument(ctx context.Context, q querier, collection, key string, lock bool) (any, error) {
	query := `SELECT value FROM tree_nodes WHERE collection = $1 AND key = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	var raw []byte
	err := q.QueryRow(ctx, query, collection, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read node %s/%s: %w", collection, key, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode node %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

func writeDocument(ctx context.Context, tx pgx.Tx, collection, key string, doc any) error {
	if doc == nil {
		query := `DELETE FROM tree_nodes WHERE collection = $1 AND key = $2`
		if _, err := tx.Exec(ctx, query, collection, key); err != nil {
			return fmt.Errorf("failed to delete node %s/%s: %w", collection, key, err)
		}
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode node %s/%s: %w", collection, key, err)
	}
	query := `
		INSERT INTO tree_nodes (collection, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := tx.Exec(ctx, query, collection, key, raw); err != nil {
		return fmt.Errorf("failed to write node %s/%s: %w", collection, key, err)
	}
	return nil
}

// assignRow applies value at rest inside the document stored at collection/key.
func assignRow(ctx context.Context, tx pgx.Tx, collection, key string, rest []string, value any) error {
	doc, err := readDocument(ctx, tx, collection, key, true)
	if err != nil {
		return err
	}
	doc, err = assign(doc, rest, value)
	if err != nil {
		return err
	}
	return writeDocument(ctx, tx, collection, key, doc)
}

// inTx runs fn in a transaction and announces path on commit. The
// transaction only covers a single Gateway call.
func (s *PostgresStore) inTx(ctx context.Context, path string, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, path); err != nil {
		return fmt.Errorf("failed to notify change: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get returns the value at path.
func (s *PostgresStore) Get(ctx context.Context, path string) (any, error) {
	return s.fetch(ctx, SplitPath(path))
}

// Keys returns the child keys at path.
func (s *PostgresStore) Keys(ctx context.Context, path string) ([]string, error) {
	segs := SplitPath(path)
	if len(segs) != 1 {
		value, err := s.fetch(ctx, segs)
		if err != nil {
			return nil, err
		}
		return sortedKeys(children(value)), nil
	}

	query := `SELECT key FROM tree_nodes WHERE collection = $1 ORDER BY key`
	rows, err := s.db.Query(ctx, query, segs[0])
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of %s: %w", segs[0], err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}
	return keys, nil
}

// Set replaces the value at path.
func (s *PostgresStore) Set(ctx context.Context, path string, value any) error {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return ErrInvalidPath
	}
	normalized, err := normalize(value)
	if err != nil {
		return err
	}

	return s.inTx(ctx, JoinPath(segs...), func(tx pgx.Tx) error {
		if len(segs) > 1 {
			return assignRow(ctx, tx, segs[0], segs[1], segs[2:], normalized)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM tree_nodes WHERE collection = $1`, segs[0]); err != nil {
			return fmt.Errorf("failed to clear collection %s: %w", segs[0], err)
		}
		for key, child := range children(normalized) {
			if err := writeDocument(ctx, tx, segs[0], key, child); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update merges fields into the value at path.
func (s *PostgresStore) Update(ctx context.Context, path string, fields map[string]any) error {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return ErrInvalidPath
	}
	normalized := make(map[string]any, len(fields))
	for key, value := range fields {
		v, err := normalize(value)
		if err != nil {
			return err
		}
		normalized[key] = v
	}

	return s.inTx(ctx, JoinPath(segs...), func(tx pgx.Tx) error {
		for _, key := range sortedKeys(normalized) {
			full := append(append([]string{}, segs...), SplitPath(key)...)
			if len(full) < 2 {
				return ErrInvalidPath
			}
			if err := assignRow(ctx, tx, full[0], full[1], full[2:], normalized[key]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Remove deletes the subtree at path.
func (s *PostgresStore) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// ChildByAutoID allocates a new key.
func (s *PostgresStore) ChildByAutoID(path string) string {
	return newAutoID()
}

// Observe registers a child listener at path.
func (s *PostgresStore) Observe(ctx context.Context, path string, kind EventKind, fn func(Event)) (*Subscription, error) {
	return s.reg.observe(ctx, path, kind, fn)
}

// Listen holds a dedicated connection on NotifyChannel and dispatches
// observer events until ctx is done.
func (s *PostgresStore) Listen(ctx context.Context) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}
	log.Info().Str("channel", NotifyChannel).Msg("Listening for tree changes")

	// Changes made while no listener was connected were never delivered.
	s.reg.changed(ctx, nil)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed waiting for notification: %w", err)
		}
		s.reg.changed(ctx, SplitPath(notification.Payload))
	}
}

// healthyListen is how long a listen session must last before the retry
// delay starts over from its minimum.
const healthyListen = time.Minute

// Watch keeps Listen running until ctx is done, reconnecting with
// exponential backoff whenever the connection drops.
func (s *PostgresStore) Watch(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = 30 * time.Second
	return listenWithRetry(ctx, s.Listen, b)
}

// listenWithRetry calls listen again after every return until ctx is done
// or b gives up, in which case the last listen error is returned.
func listenWithRetry(ctx context.Context, listen func(context.Context) error, b backoff.BackOff) error {
	b.Reset()
	for {
		started := time.Now()
		err := listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("listener stopped")
		}
		if time.Since(started) >= healthyListen {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		log.Warn().
			Err(err).
			Dur("retry_in", wait).
			Msg("Store change listener disconnected")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
