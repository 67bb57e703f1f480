package credentials

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/go-i2p/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/oops"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	code       TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	size       INTEGER NOT NULL,
	sealed     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// SQLiteStore keeps every session's material in one SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	opts options
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, oops.Wrapf(err, "failed to create database directory")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, oops.Wrapf(err, "failed to open credential database %s", path)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, oops.Wrapf(err, "failed to initialize credential schema")
	}
	return &SQLiteStore{db: db, path: path, opts: buildOptions(opts)}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Read(ctx context.Context, code string) ([]byte, bool, error) {
	if err := ValidateCode(code); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM credentials WHERE code = ?`, code).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, oops.Wrapf(err, "failed to read credentials for %s", code)
	}
	if s.opts.sealer != nil {
		raw, err = s.opts.sealer.Open(code, raw)
		if err != nil {
			return nil, false, err
		}
	}
	return raw, true, nil
}

func (s *SQLiteStore) Write(ctx context.Context, code string, data []byte) error {
	if err := ValidateCode(code); err != nil {
		return err
	}
	payload := data
	if s.opts.sealer != nil {
		sealed, err := s.opts.sealer.Seal(code, data)
		if err != nil {
			return err
		}
		payload = sealed
	}
	now := s.opts.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (code, data, size, sealed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			data = excluded.data,
			size = excluded.size,
			sealed = excluded.sealed,
			updated_at = excluded.updated_at`,
		code, payload, len(data), s.opts.sealer != nil, now, now)
	if err != nil {
		return oops.Wrapf(err, "failed to write credentials for %s", code)
	}
	log.WithFields(logger.Fields{
		"at":   "(SQLiteStore) Write",
		"code": code,
		"size": len(data),
	}).Debug("credentials stored")
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, code string) error {
	if err := ValidateCode(code); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE code = ?`, code); err != nil {
		return oops.Wrapf(err, "failed to remove credentials for %s", code)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM credentials ORDER BY code`)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to list credentials")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, oops.Wrapf(err, "failed to scan credential code")
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// Describe implements Describer.
func (s *SQLiteStore) Describe(ctx context.Context, code string) (Meta, bool, error) {
	if err := ValidateCode(code); err != nil {
		return Meta{}, false, err
	}
	var (
		meta             Meta
		created, updated time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT code, size, sealed, created_at, updated_at FROM credentials WHERE code = ?`, code).
		Scan(&meta.Code, &meta.Size, &meta.Sealed, &created, &updated)
	if err == sql.ErrNoRows {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, oops.Wrapf(err, "failed to describe credentials for %s", code)
	}
	meta.CreatedAt, meta.UpdatedAt = created.UTC(), updated.UTC()
	return meta, true, nil
}
