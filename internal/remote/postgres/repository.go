// Package postgres is the remote document store: one row per synced field, written last-writer-wins.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fitstate/internal/syncq"
)

//go:embed schema.sql
var schemaSQL string

// Repository stores the documents of one owner.
type Repository struct {
	pool  *pgxpool.Pool
	owner string
}

var (
	_ syncq.Remote = (*Repository)(nil)
	_ syncq.Pinger = (*Repository)(nil)
)

// NewRepository constructs a Repository scoped to owner.
func NewRepository(pool *pgxpool.Pool, owner string) *Repository {
	return &Repository{pool: pool, owner: owner}
}

// ForOwner returns a Repository sharing the pool but scoped to another owner.
func (r *Repository) ForOwner(owner string) *Repository {
	return &Repository{pool: r.pool, owner: owner}
}

// EnsureSchema creates the tables and row-level security policies.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply remote schema: %w", err)
	}
	return nil
}

// Ping verifies the pool can reach the database.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Upsert records a field write. Deliveries already seen under the same idempotency key are
// acknowledged without effect, and a write only replaces the stored value when its stamp is newer.
func (r *Repository) Upsert(ctx context.Context, d syncq.Delivery) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.owner', $1, true)", r.owner); err != nil {
		return classify(err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO sync_deliveries (owner, idempotency_key, mutation_id) VALUES ($1,$2,$3)
        ON CONFLICT (owner, idempotency_key) DO NOTHING`,
		r.owner, d.IdempotencyKey, d.MutationID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return classify(tx.Commit(ctx))
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO sync_documents (owner, kind, entity_id, field, value, lamport, device_id, updated_at)
        VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7,now())
        ON CONFLICT (owner, kind, entity_id, field) DO UPDATE
            SET value = excluded.value, lamport = excluded.lamport, device_id = excluded.device_id, updated_at = excluded.updated_at
            WHERE (sync_documents.lamport, sync_documents.device_id) < (excluded.lamport, excluded.device_id)`,
		r.owner, d.Kind, d.EntityID, d.Field, string(d.Value), d.Lamport, d.DeviceID)
	if err != nil {
		return classify(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Field is the stored value of one field.
type Field struct {
	Value     json.RawMessage `json:"value"`
	Lamport   int64           `json:"lamport"`
	DeviceID  string          `json:"device_id"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Document returns the stored fields of an entity keyed by field name. ok is false when no field
// has been written.
func (r *Repository) Document(ctx context.Context, kind, entityID string) (map[string]Field, bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.owner', $1, true)", r.owner); err != nil {
		return nil, false, err
	}

	rows, err := tx.Query(ctx,
		`SELECT field, value, lamport, device_id, updated_at FROM sync_documents
        WHERE owner=$1 AND kind=$2 AND entity_id=$3`,
		r.owner, kind, entityID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	out := map[string]Field{}
	for rows.Next() {
		var (
			name  string
			value []byte
			f     Field
		)
		if err := rows.Scan(&name, &value, &f.Lamport, &f.DeviceID, &f.UpdatedAt); err != nil {
			return nil, false, err
		}
		f.Value = value
		out[name] = f
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return out, len(out) > 0, nil
}

// classify maps data and constraint errors (SQLSTATE classes 22 and 23) to permanent rejections.
// Everything else, such as connection loss, is transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23":
			return syncq.Permanent(err)
		}
	}
	return syncq.Transient(err)
}
