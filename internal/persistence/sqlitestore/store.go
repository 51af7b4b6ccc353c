// Package sqlitestore is the default persistence.Collaborator backend: a
// single-writer, multi-reader SQLite database managed with golang-migrate
// schema migrations.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btclog"
	_ "github.com/mattn/go-sqlite3"

	"github.com/coralsys/meshactor/internal/persistence"
)

const (
	defaultMaxConns        = 25
	defaultConnMaxLifetime = 10 * time.Minute
)

// Config holds the arguments needed to open a Store.
type Config struct {
	// DatabaseFileName is the full path to the sqlite database file.
	DatabaseFileName string

	// SkipMigrations, if true, leaves the schema as found rather than
	// migrating it to LatestMigrationVersion.
	SkipMigrations bool
}

// Store is a sqlite3-backed persistence.Collaborator.
type Store struct {
	cfg *Config
	log btclog.Logger
	db  *sql.DB
	tx  *persistence.TransactionExecutor[*queries]
}

type batchedQuerier struct {
	*sql.DB
}

func (b *batchedQuerier) BeginTx(ctx context.Context,
	opts persistence.TxOptions) (*sql.Tx, error) {

	return b.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: opts.ReadOnly()})
}

// New opens (creating and migrating if necessary) a sqlite database at
// cfg.DatabaseFileName.
func New(cfg *Config, log btclog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.DatabaseFileName)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database "+
				"directory: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000",
		cfg.DatabaseFileName,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxConns)
	db.SetMaxIdleConns(defaultMaxConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{cfg: cfg, log: log, db: db}
	s.tx = persistence.NewTransactionExecutor(
		&batchedQuerier{db},
		func(tx *sql.Tx) *queries { return &queries{tx: tx} },
		log,
	)

	if !cfg.SkipMigrations {
		if err := s.runMigrations(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("error executing migrations: %w", err)
		}
	}

	return s, nil
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// queries is the thin per-transaction query wrapper created fresh for each
// ExecTx call by the TransactionExecutor's QueryCreator.
type queries struct {
	tx *sql.Tx
}

func (q *queries) persistEvent(ctx context.Context, actorID string,
	seq uint64, payload []byte) error {

	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO events (actor_id, seq, payload)
		VALUES (?, ?, ?)`, actorID, seq, payload)

	return err
}

func (q *queries) persistSnapshot(ctx context.Context, actorID string,
	seq uint64, payload []byte) error {

	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO snapshots (actor_id, seq, payload)
		VALUES (?, ?, ?)
		ON CONFLICT (actor_id) DO UPDATE SET
			seq = excluded.seq, payload = excluded.payload
		WHERE excluded.seq > snapshots.seq`, actorID, seq, payload)

	return err
}

// PersistEvent implements persistence.Collaborator.
func (s *Store) PersistEvent(ctx context.Context, actorID string, seq uint64,
	payload []byte) error {

	return s.tx.ExecTx(ctx, persistence.WriteTxOption(),
		func(q *queries) error {
			return q.persistEvent(ctx, actorID, seq, payload)
		})
}

// PersistSnapshot implements persistence.Collaborator.
func (s *Store) PersistSnapshot(ctx context.Context, actorID string,
	seq uint64, payload []byte) error {

	return s.tx.ExecTx(ctx, persistence.WriteTxOption(),
		func(q *queries) error {
			return q.persistSnapshot(ctx, actorID, seq, payload)
		})
}

// ReadJournal implements persistence.Collaborator.
func (s *Store) ReadJournal(ctx context.Context, actorID string,
	fromSeq uint64) ([]persistence.EventRecord, error) {

	var records []persistence.EventRecord

	err := s.tx.ExecTx(ctx, persistence.ReadTxOption(),
		func(q *queries) error {
			rows, err := q.tx.QueryContext(ctx, `
				SELECT seq, payload FROM events
				WHERE actor_id = ? AND seq > ?
				ORDER BY seq ASC`, actorID, fromSeq)
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var rec persistence.EventRecord
				rec.ActorID = actorID
				if err := rows.Scan(&rec.Seq, &rec.Payload); err != nil {
					return err
				}
				records = append(records, rec)
			}

			return rows.Err()
		})

	return records, err
}

// ReadLatestSnapshot implements persistence.Collaborator.
func (s *Store) ReadLatestSnapshot(ctx context.Context,
	actorID string) (persistence.SnapshotRecord, error) {

	var rec persistence.SnapshotRecord
	rec.ActorID = actorID

	err := s.tx.ExecTx(ctx, persistence.ReadTxOption(),
		func(q *queries) error {
			row := q.tx.QueryRowContext(ctx, `
				SELECT seq, payload FROM snapshots
				WHERE actor_id = ?`, actorID)

			err := row.Scan(&rec.Seq, &rec.Payload)
			if err == sql.ErrNoRows {
				return persistence.ErrNoSnapshot
			}

			return err
		})

	return rec, err
}

var _ persistence.Collaborator = (*Store)(nil)
