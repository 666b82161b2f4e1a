package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// dialect holds the statements that differ between drivers.
type dialect struct {
	driver string
	create string
	upsert string
	selekt string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		create: `CREATE TABLE IF NOT EXISTS forecast_cache (
			cache_key TEXT PRIMARY KEY,
			blob TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		upsert: `INSERT INTO forecast_cache(cache_key, blob, updated_at) VALUES(?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(cache_key) DO UPDATE SET blob = excluded.blob, updated_at = CURRENT_TIMESTAMP`,
		selekt: `SELECT blob FROM forecast_cache WHERE cache_key = ?`,
	}
	postgresDialect = dialect{
		driver: "postgres",
		create: `CREATE TABLE IF NOT EXISTS forecast_cache (
			cache_key TEXT PRIMARY KEY,
			blob TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		upsert: `INSERT INTO forecast_cache(cache_key, blob, updated_at) VALUES($1, $2, NOW())
			ON CONFLICT(cache_key) DO UPDATE SET blob = EXCLUDED.blob, updated_at = NOW()`,
		selekt: `SELECT blob FROM forecast_cache WHERE cache_key = $1`,
	}
)

type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) put(ctx context.Context, key string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, s.d.upsert, key, string(blob))
	return err
}

func (s *sqlStore) get(ctx context.Context, key string) ([]byte, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, s.d.selekt, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(blob), nil
}

// SQLCache implements ForecastCache on a key-value table in SQLite or PostgreSQL.
type SQLCache struct {
	*blobCache
	db *sql.DB
}

// NewSQLiteCache opens (or creates) the SQLite database at path.
func NewSQLiteCache(ctx context.Context, path, key string) (*SQLCache, error) {
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	return newSQLCache(ctx, db, "sqlite", key, sqliteDialect)
}

// NewPostgresCache connects to PostgreSQL using dsn.
func NewPostgresCache(ctx context.Context, dsn, key string) (*SQLCache, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLCache(ctx, db, "postgres", key, postgresDialect)
}

func newSQLCache(ctx context.Context, db *sql.DB, backend, key string, d dialect) (*SQLCache, error) {
	if _, err := db.ExecContext(ctx, d.create); err != nil {
		db.Close()
		return nil, fmt.Errorf("create forecast_cache table: %w", err)
	}
	return &SQLCache{
		blobCache: newBlobCache(backend, key, &sqlStore{db: db, d: d}),
		db:        db,
	}, nil
}

// Ping checks the database connection. Used for health checks.
func (c *SQLCache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database.
func (c *SQLCache) Close() error {
	return c.db.Close()
}
