package sessions

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

const (
	getProfileSQL = `
		SELECT customer_id, store_name, email, phone, location, current_agent, last_interaction, session_start
		FROM customer_sessions WHERE resource_id = $1 AND thread_id = $2
	`
	upsertProfileSQL = `
		INSERT INTO customer_sessions (resource_id, thread_id, customer_id, store_name, email, phone, location, current_agent, last_interaction, session_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (resource_id, thread_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			store_name = EXCLUDED.store_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			location = EXCLUDED.location,
			current_agent = EXCLUDED.current_agent,
			last_interaction = EXCLUDED.last_interaction,
			session_start = EXCLUDED.session_start
	`
	deleteProfileSQL = `
		DELETE FROM customer_sessions WHERE resource_id = $1 AND thread_id = $2
	`
)

// PostgresStore implements Store on PostgreSQL. Put is an upsert keyed by
// (resource_id, thread_id), so the last write wins.
type PostgresStore struct {
	db *sql.DB

	stmtGet    *sql.Stmt
	stmtUpsert *sql.Stmt
	stmtDelete *sql.Stmt
}

// PostgresConfig holds connection settings.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration

	// EnsureSchema creates the table when missing.
	EnsureSchema bool
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		EnsureSchema:    true,
	}
}

// NewPostgresStore opens, pings and prepares a store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if config.EnsureSchema {
		if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	store, err := newPostgresStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	var err error

	if s.stmtGet, err = db.Prepare(getProfileSQL); err != nil {
		return nil, fmt.Errorf("failed to prepare get profile: %w", err)
	}
	if s.stmtUpsert, err = db.Prepare(upsertProfileSQL); err != nil {
		return nil, fmt.Errorf("failed to prepare upsert profile: %w", err)
	}
	if s.stmtDelete, err = db.Prepare(deleteProfileSQL); err != nil {
		return nil, fmt.Errorf("failed to prepare delete profile: %w", err)
	}
	return s, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes prepared statements and the database.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.stmtGet, s.stmtUpsert, s.stmtDelete} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Profile, bool, error) {
	if !key.Valid() {
		return nil, false, ErrInvalidKey
	}

	p := &Profile{}
	err := s.stmtGet.QueryRowContext(ctx, key.ResourceID, key.ThreadID).Scan(
		&p.CustomerID,
		&p.StoreName,
		&p.Email,
		&p.Phone,
		&p.Location,
		&p.CurrentAgent,
		&p.LastInteraction,
		&p.SessionStart,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get profile %s: %w", key, err)
	}
	return p, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key Key, profile *Profile) error {
	if !key.Valid() {
		return ErrInvalidKey
	}
	if profile == nil {
		return s.Clear(ctx, key)
	}

	_, err := s.stmtUpsert.ExecContext(ctx,
		key.ResourceID,
		key.ThreadID,
		profile.CustomerID,
		profile.StoreName,
		profile.Email,
		profile.Phone,
		profile.Location,
		profile.CurrentAgent,
		profile.LastInteraction,
		profile.SessionStart,
	)
	if err != nil {
		return fmt.Errorf("failed to put profile %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, key Key) error {
	if !key.Valid() {
		return ErrInvalidKey
	}
	if _, err := s.stmtDelete.ExecContext(ctx, key.ResourceID, key.ThreadID); err != nil {
		return fmt.Errorf("failed to clear profile %s: %w", key, err)
	}
	return nil
}
