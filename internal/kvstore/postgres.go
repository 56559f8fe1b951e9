package kvstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/2beens/fitsense/internal/telemetry/tracing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel/attribute"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// gooseUpContext is swapped out in tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations through a database/sql
// handle opened on top of the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		_ = db.Close()
	}()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}

// PostgresStore keeps the entries in the kv_store table. The pool is owned by the caller.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (_ Item, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "kvstore.postgres.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key))

	var value string
	if err := s.db.QueryRow(
		ctx,
		`SELECT value FROM kv_store WHERE key = $1;`,
		key,
	).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("get [%s]: %w", key, ErrNotFound)
		}
		return Item{}, fmt.Errorf("get [%s]: %w", key, err)
	}

	return Item{Key: key, Value: value}, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) (_ Item, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "kvstore.postgres.set")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key), attribute.Int("value.size", len(value)))

	if _, err := s.db.Exec(
		ctx,
		`INSERT INTO kv_store (key, value, updated_at)
				VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW();`,
		key, value,
	); err != nil {
		return Item{}, fmt.Errorf("set [%s]: %w", key, err)
	}

	return Item{Key: key, Value: value}, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) (_ Deleted, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "kvstore.postgres.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", key))

	tag, err := s.db.Exec(ctx, `DELETE FROM kv_store WHERE key = $1;`, key)
	if err != nil {
		return Deleted{}, fmt.Errorf("delete [%s]: %w", key, err)
	}
	span.SetAttributes(attribute.Bool("existed", tag.RowsAffected() > 0))

	return Deleted{Key: key, Deleted: true}, nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) (_ []string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "kvstore.postgres.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("prefix", prefix))

	rows, err := s.db.Query(ctx, `SELECT key FROM kv_store WHERE starts_with(key, $1);`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	// sorted here rather than by the db collation
	return filterAndSort(keys, prefix), nil
}

func (s *PostgresStore) Close() error {
	return nil
}
