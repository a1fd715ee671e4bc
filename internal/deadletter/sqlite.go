package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteQueue persists letters in a SQLite file.
type SQLiteQueue struct {
	db *sql.DB
}

// NewSQLiteQueue opens (and creates) the queue at path. An empty path uses
// an in-memory database.
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer and every ":memory:"
	// connection would otherwise see its own database.
	db.SetMaxOpenConns(1)

	q := &SQLiteQueue{db: db}
	if err := q.init(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) init() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			sink TEXT NOT NULL,
			repair_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create dead_letters table: %w", err)
	}
	if _, err := q.db.Exec("CREATE INDEX IF NOT EXISTS idx_dead_letters_state ON dead_letters(state, created_at)"); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, letter *Letter) error {
	if letter == nil || letter.ID == "" {
		return errors.New("letter id is required")
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, sink, repair_id, payload, reason, error_kind, attempts, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		letter.ID, letter.Sink, letter.RepairID, []byte(letter.Payload), letter.Reason, letter.ErrorKind,
		letter.Attempts, string(letter.State), letter.CreatedAt.UnixNano(), letter.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue letter: %w", err)
	}
	return nil
}

const letterColumns = "id, sink, repair_id, payload, reason, error_kind, attempts, state, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLetter(row rowScanner) (*Letter, error) {
	var (
		l                Letter
		payload          []byte
		state            string
		created, updated int64
	)
	if err := row.Scan(&l.ID, &l.Sink, &l.RepairID, &payload, &l.Reason, &l.ErrorKind, &l.Attempts, &state, &created, &updated); err != nil {
		return nil, err
	}
	l.Payload = payload
	l.State = State(state)
	l.CreatedAt = time.Unix(0, created).UTC()
	l.UpdatedAt = time.Unix(0, updated).UTC()
	return &l, nil
}

func (q *SQLiteQueue) Get(ctx context.Context, id string) (*Letter, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+letterColumns+" FROM dead_letters WHERE id = ?", id)
	letter, err := scanLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get letter: %w", err)
	}
	return letter, nil
}

func (q *SQLiteQueue) List(ctx context.Context, filter Filter) ([]*Letter, error) {
	var (
		where []string
		args  []any
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.Sink != "" {
		where = append(where, "sink = ?")
		args = append(args, filter.Sink)
	}

	query := "SELECT " + letterColumns + " FROM dead_letters"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list letters: %w", err)
	}
	defer rows.Close()

	var out []*Letter
	for rows.Next() {
		letter, err := scanLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan letter: %w", err)
		}
		out = append(out, letter)
	}
	return out, rows.Err()
}

func (q *SQLiteQueue) Update(ctx context.Context, letter *Letter) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE dead_letters SET reason = ?, error_kind = ?, attempts = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		letter.Reason, letter.ErrorKind, letter.Attempts, string(letter.State), letter.UpdatedAt.UnixNano(), letter.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update letter: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
