// Package history persists terminal delivery results in SQLite. It is the
// router's ledger: the single writer of delivery outcomes and the source of
// dedup-by-ID lookups.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"agentrelay/internal/domain"

	_ "modernc.org/sqlite"
)

// Fixed-width so that TEXT ordering is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements domain.Ledger using SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger database at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &Store{db: db, path: dbPath, logger: logger}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// DB exposes the handle for diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// Record stores a terminal result and its attempts in one transaction.
// A stored success is never overwritten by a later failure for the same ID.
func (s *Store) Record(ctx context.Context, res domain.DeliveryResult) error {
	if res.MessageID == "" {
		return fmt.Errorf("record delivery: empty message id")
	}
	completed := res.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	out, err := tx.ExecContext(ctx, `
		INSERT INTO deliveries (message_id, sender, recipient, priority, hint, outcome, strategy, reason, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			sender=excluded.sender, recipient=excluded.recipient, priority=excluded.priority,
			hint=excluded.hint, outcome=excluded.outcome, strategy=excluded.strategy,
			reason=excluded.reason, error=excluded.error, completed_at=excluded.completed_at
		WHERE deliveries.outcome != 'SUCCESS' OR excluded.outcome = 'SUCCESS'`,
		res.MessageID, res.Sender, res.Recipient, string(res.Priority), string(res.Hint),
		string(res.Outcome), res.Strategy, string(res.Reason), res.Error,
		completed.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert delivery: %w", err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		s.logger.Debug("kept earlier successful delivery", "id", res.MessageID)
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE message_id = ?`, res.MessageID); err != nil {
		return fmt.Errorf("clear attempts: %w", err)
	}
	for i, a := range res.Attempts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attempts (message_id, seq, strategy, outcome, error, try, attempted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.MessageID, i, a.Strategy, string(a.Outcome), a.Error, a.Try,
			a.AttemptedAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("insert attempt %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Lookup returns the stored result for id, or nil if there is none.
func (s *Store) Lookup(ctx context.Context, id string) (*domain.DeliveryResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT message_id, sender, recipient, priority, hint, outcome, strategy, reason, error, completed_at
		FROM deliveries WHERE message_id = ?`, id)
	res, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", id, err)
	}
	if res.Attempts, err = s.attempts(ctx, id); err != nil {
		return nil, err
	}
	return &res, nil
}

// Recent returns the newest results first. An empty recipient matches all.
func (s *Store) Recent(ctx context.Context, limit int, recipient string) ([]domain.DeliveryResult, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT message_id, sender, recipient, priority, hint, outcome, strategy, reason, error, completed_at
		FROM deliveries`
	args := []any{}
	if recipient != "" {
		query += ` WHERE recipient = ?`
		args = append(args, recipient)
	}
	query += ` ORDER BY completed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	var results []domain.DeliveryResult
	for rows.Next() {
		res, err := scanDelivery(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		results = append(results, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attempts are loaded after the cursor is closed; there is only one connection.
	for i := range results {
		if results[i].Attempts, err = s.attempts(ctx, results[i].MessageID); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Stats summarizes the ledger.
type Stats struct {
	Total      int            `json:"total"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	ByStrategy map[string]int `json:"by_strategy"`
	ByReason   map[string]int `json:"by_reason"`
	Last       time.Time      `json:"last,omitempty"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStrategy: make(map[string]int), ByReason: make(map[string]int)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, strategy, reason, COUNT(*) FROM deliveries GROUP BY outcome, strategy, reason`)
	if err != nil {
		return st, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome, strategy, reason string
		var n int
		if err := rows.Scan(&outcome, &strategy, &reason, &n); err != nil {
			return st, err
		}
		st.Total += n
		if outcome == string(domain.OutcomeSuccess) {
			st.Succeeded += n
			st.ByStrategy[strategy] += n
		} else {
			st.Failed += n
			st.ByReason[reason] += n
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	rows.Close()

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(completed_at) FROM deliveries`).Scan(&last); err != nil {
		return st, fmt.Errorf("query last: %w", err)
	}
	if last.Valid {
		st.Last, _ = time.Parse(timeLayout, last.String)
	}
	return st, nil
}

// Prune deletes results completed before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE completed_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned delivery history", "deleted", n, "before", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

func (s *Store) attempts(ctx context.Context, id string) ([]domain.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy, outcome, error, try, attempted_at FROM attempts WHERE message_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()
	var out []domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		var outcome, at string
		if err := rows.Scan(&a.Strategy, &outcome, &a.Error, &a.Try, &at); err != nil {
			return nil, err
		}
		a.Outcome = domain.Outcome(outcome)
		a.AttemptedAt, _ = time.Parse(timeLayout, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(sc scanner) (domain.DeliveryResult, error) {
	var (
		res                                 domain.DeliveryResult
		priority, hint, outcome, reason, at string
	)
	if err := sc.Scan(&res.MessageID, &res.Sender, &res.Recipient, &priority, &hint,
		&outcome, &res.Strategy, &reason, &res.Error, &at); err != nil {
		return res, err
	}
	res.Priority = domain.Priority(priority)
	res.Hint = domain.DeliveryHint(hint)
	res.Outcome = domain.Outcome(outcome)
	res.Reason = domain.FailureReason(reason)
	res.CompletedAt, _ = time.Parse(timeLayout, at)
	return res, nil
}
