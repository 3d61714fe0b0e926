package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned by Load when a collection was never saved.
	ErrNotFound = errors.New("collection not found")
	// ErrConflict is returned by Save when the stored revision is not the
	// one the caller based its write on.
	ErrConflict = errors.New("collection changed since it was last read")
)

// Snapshot is one stored collection. Revision starts at 1 with the first
// save and grows by one with every save after that.
type Snapshot struct {
	Payload  []byte
	Revision int64
}

// CollectionStore is the durable side of the entity registry: one opaque
// payload per named collection, replaced as a whole on every Save.
// Several processes may share one store; Save only succeeds against the
// revision the caller last saw, 0 meaning the collection does not exist yet.
type CollectionStore interface {
	Load(ctx context.Context, name string) (Snapshot, error)
	Revision(ctx context.Context, name string) (int64, error)
	Save(ctx context.Context, name string, payload []byte, expected int64) (int64, error)
	Close() error
}

const collectionsSchema = `
CREATE TABLE IF NOT EXISTS portal_collections (
	name TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	revision BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);`

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// EnsureSchema creates the collections table, translating dialect if needed
func (s *BaseStore) EnsureSchema(translateSQL func(string) string) error {
	ddl := collectionsSchema
	if translateSQL != nil {
		ddl = translateSQL(ddl)
	}
	if _, err := s.DB.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create collections table: %w", err)
	}
	return nil
}

func (s *BaseStore) Load(ctx context.Context, name string) (Snapshot, error) {
	var row collectionRow
	query := s.Converter(`
		SELECT name, payload, revision, updated_at
		FROM portal_collections
		WHERE name = ?
	`)

	err := s.DB.GetContext(ctx, &row, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load collection %s: %w", name, err)
	}
	return Snapshot{Payload: []byte(row.Payload), Revision: row.Revision}, nil
}

func (s *BaseStore) Revision(ctx context.Context, name string) (int64, error) {
	var revision int64
	query := s.Converter(`SELECT revision FROM portal_collections WHERE name = ?`)
	err := s.DB.GetContext(ctx, &revision, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read revision of %s: %w", name, err)
	}
	return revision, nil
}

func (s *BaseStore) Save(ctx context.Context, name string, payload []byte, expected int64) (int64, error) {
	row := collectionRow{
		Name:      name,
		Payload:   string(payload),
		Revision:  expected + 1,
		Expected:  expected,
		UpdatedAt: time.Now().UTC().Unix(),
	}

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = s.DB.NamedExecContext(ctx, `
			INSERT INTO portal_collections (name, payload, revision, updated_at)
			VALUES (:name, :payload, :revision, :updated_at)
			ON CONFLICT(name) DO NOTHING
		`, row)
	} else {
		res, err = s.DB.NamedExecContext(ctx, `
			UPDATE portal_collections
			SET payload = :payload, revision = :revision, updated_at = :updated_at
			WHERE name = :name AND revision = :expected
		`, row)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save collection %s: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to save collection %s: %w", name, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("collection %s at revision %d: %w", name, expected, ErrConflict)
	}
	return row.Revision, nil
}
