// Package keystore persists gateway client credentials in an embedded
// SQLite database. Clients register once and receive an ID plus a secret;
// only a bcrypt hash of the secret is stored. Every data-plane request is
// verified against this store.
package keystore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jaevor/go-nanoid"
	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ID and secret lengths. The ID is public; the secret is shown once at
// registration and never stored in the clear.
const (
	clientIDLength = 21
	secretLength   = 36
)

// Errors returned by Verify. Both map to an unauthorized response at the
// HTTP boundary; they are distinct for logging.
var (
	ErrUnknownClient = errors.New("keystore: unknown client")
	ErrBadSecret     = errors.New("keystore: secret mismatch")
)

// Store is the SQLite-backed client registry. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	insertStmt *sql.Stmt
	getStmt    *sql.Stmt
	deleteStmt *sql.Stmt

	newClientID func() string
	newSecret   func() string
}

// Open opens (creating if needed) the client database at path and applies
// pending schema migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("keystore: opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("keystore: enabling WAL: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if s.newClientID, err = nanoid.Standard(clientIDLength); err != nil {
		db.Close()
		return nil, fmt.Errorf("keystore: initializing ID generator: %w", err)
	}

	if s.newSecret, err = nanoid.Standard(secretLength); err != nil {
		db.Close()
		return nil, fmt.Errorf("keystore: initializing secret generator: %w", err)
	}

	if err := s.prepare(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) prepare(ctx context.Context) error {
	var err error

	if s.insertStmt, err = s.db.PrepareContext(ctx,
		"INSERT INTO clients (id, secret_hash) VALUES (?, ?)"); err != nil {
		return fmt.Errorf("keystore: preparing insert: %w", err)
	}

	if s.getStmt, err = s.db.PrepareContext(ctx,
		"SELECT secret_hash FROM clients WHERE id = ?"); err != nil {
		return fmt.Errorf("keystore: preparing select: %w", err)
	}

	if s.deleteStmt, err = s.db.PrepareContext(ctx,
		"DELETE FROM clients WHERE id = ?"); err != nil {
		return fmt.Errorf("keystore: preparing delete: %w", err)
	}

	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register creates a new client and returns its ID and one-time secret.
func (s *Store) Register(ctx context.Context) (id, secret string, err error) {
	id = s.newClientID()
	secret = s.newSecret()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("keystore: hashing secret: %w", err)
	}

	if _, err := s.insertStmt.ExecContext(ctx, id, hash); err != nil {
		return "", "", fmt.Errorf("keystore: storing client: %w", err)
	}

	s.logger.Info("registered client", slog.String("client_id", id))

	return id, secret, nil
}

// Verify checks a client's secret against the stored hash.
func (s *Store) Verify(ctx context.Context, id, secret string) error {
	var hash []byte

	err := s.getStmt.QueryRowContext(ctx, id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownClient
	}

	if err != nil {
		return fmt.Errorf("keystore: looking up client: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return ErrBadSecret
	}

	return nil
}

// Revoke removes a client. Revoking an unknown ID is ErrUnknownClient.
func (s *Store) Revoke(ctx context.Context, id string) error {
	res, err := s.deleteStmt.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("keystore: revoking client: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("keystore: revoking client: %w", err)
	}

	if affected == 0 {
		return ErrUnknownClient
	}

	s.logger.Info("revoked client", slog.String("client_id", id))

	return nil
}

// runMigrations applies pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("keystore: creating migration sub-filesystem: %w", err)
	}

	migrator, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("keystore: creating migration provider: %w", err)
	}

	results, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("keystore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}
