// Package store persists ledger transactions, votes and pending events in a
// single SQLite database. Every mutation commits the record, the vote and the
// outbox event in one database transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"satya.ledger/sl/internal/types"
)

const (
	defaultDBFile        = "ledger.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
	defaultMaxBackups    = 20
)

var (
	errNoBackups = errors.New("no ledger backups available")

	// ErrDamagedDatabase is returned by NewStore when an existing database
	// file fails to open or fails its integrity check.
	ErrDamagedDatabase = errors.New("ledger database is damaged")

	// ErrDuplicateVote is returned when a vote row already exists.
	ErrDuplicateVote = errors.New("vote already recorded")
	// ErrMissingTransaction is returned when an approval targets a row that
	// does not exist.
	ErrMissingTransaction = errors.New("transaction row missing")
)

// Store is the SQLite backed ledger store.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
	updates   chan struct{}
}

// NewStore opens (or creates) the database at filePath. An existing database
// that cannot be opened is never replaced: NewStore returns
// ErrDamagedDatabase and the operator decides whether to RestoreBackup.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
		updates:   make(chan struct{}, 1),
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	if err := s.openOrCreate(); err != nil {
		return nil, err
	}

	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return nil, err
	}

	return s, nil
}

// Path returns the absolute database file path.
func (s *Store) Path() string { return s.file }

// Updates returns a channel that receives a value whenever a mutation commits.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=foreign_keys(1)",
		filepath.Clean(s.file), maxBusyTimeoutMs)

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil {
		db.Close()
		return fmt.Errorf("check sqlite: %w", err)
	}
	if check != "ok" {
		db.Close()
		return fmt.Errorf("sqlite integrity: %s", check)
	}

	s.db = db
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			seq INTEGER PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			beneficiary_id TEXT NOT NULL,
			scheme_name TEXT NOT NULL,
			amount INTEGER NOT NULL CHECK (amount >= 0),
			receipt_hash TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			status TEXT NOT NULL,
			approval_count INTEGER NOT NULL DEFAULT 0,
			finalized INTEGER NOT NULL DEFAULT 0,
			finalized_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			tx_id TEXT NOT NULL REFERENCES transactions(id),
			voter TEXT NOT NULL,
			voted_at TEXT NOT NULL,
			PRIMARY KEY (tx_id, voter)
		)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT,
			kind TEXT NOT NULL,
			tx_id TEXT NOT NULL,
			voter TEXT,
			finalized INTEGER NOT NULL DEFAULT 0,
			approval_count INTEGER NOT NULL DEFAULT 0,
			occurred_at TEXT NOT NULL,
			published_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS outbox_pending ON outbox(seq) WHERE published_at IS NULL`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	// outbox tables created before event ids existed
	hasEventID, err := s.hasColumn("outbox", "event_id")
	if err != nil {
		return err
	}
	if !hasEventID {
		if _, err := s.db.Exec(`ALTER TABLE outbox ADD COLUMN event_id TEXT`); err != nil {
			return fmt.Errorf("add outbox event_id: %w", err)
		}
	}
	if _, err := s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS outbox_event_id ON outbox(event_id)`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT name FROM pragma_table_info('%s')`, escapeLiteral(table)))
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, fmt.Errorf("inspect %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// InsertTransaction appends tx at the next creation index and queues ev.
func (s *Store) InsertTransaction(ctx context.Context, t types.Transaction, ev types.Event) (types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq) + 1, 0) FROM transactions`).Scan(&next); err != nil {
		return types.Transaction{}, fmt.Errorf("next seq: %w", err)
	}
	t.Seq = next

	_, err = tx.ExecContext(ctx, `INSERT INTO transactions (
		seq, id, beneficiary_id, scheme_name, amount, receipt_hash, created_by,
		created_at, status, approval_count, finalized, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Seq, t.ID, t.BeneficiaryID, t.SchemeName, int64(t.Amount), t.ReceiptHash, t.CreatedBy,
		formatTime(t.CreatedAt), string(t.Status), t.ApprovalCount, t.Finalized, formatTimePtr(t.FinalizedAt))
	if err != nil {
		return types.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return types.Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Transaction{}, fmt.Errorf("commit insert: %w", err)
	}

	s.notify()
	if t.Votes == nil {
		t.Votes = types.VoteSet{}
	}
	return t, nil
}

// RecordApproval stores the vote of voter and the new counters of t.
func (s *Store) RecordApproval(ctx context.Context, t types.Transaction, voter string, votedAt time.Time, ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approval: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO votes (tx_id, voter, voted_at) VALUES (?, ?, ?)`,
		t.ID, voter, formatTime(votedAt)); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("vote %s on %s: %w", voter, t.ID, ErrDuplicateVote)
		}
		return fmt.Errorf("insert vote: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE transactions
		SET approval_count = ?, status = ?, finalized = ?, finalized_at = ?
		WHERE id = ?`,
		t.ApprovalCount, string(t.Status), t.Finalized, formatTimePtr(t.FinalizedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("update %s: %w", t.ID, ErrMissingTransaction)
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approval: %w", err)
	}

	s.notify()
	return nil
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

const transactionColumns = `seq, id, beneficiary_id, scheme_name, amount, receipt_hash, created_by,
	created_at, status, approval_count, finalized, finalized_at`

// Transaction loads a transaction and its votes. The boolean is false when
// no transaction has that id.
func (s *Store) Transaction(ctx context.Context, id string) (types.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Transaction{}, false, nil
		}
		return types.Transaction{}, false, fmt.Errorf("load transaction %s: %w", id, err)
	}
	if t.Votes, err = s.loadVotes(ctx, t.ID); err != nil {
		return types.Transaction{}, false, err
	}
	return t, true, nil
}

// Count returns the number of stored transactions.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// IDAt returns the id stored at creation index i.
func (s *Store) IDAt(ctx context.Context, i int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM transactions WHERE seq = ?`, i).Scan(&id); err != nil {
		return "", fmt.Errorf("transaction at %d: %w", i, err)
	}
	return id, nil
}

// List returns transactions in creation order.
func (s *Store) List(ctx context.Context, offset, limit int) ([]types.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions
		ORDER BY seq LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	var out []types.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	rows.Close()

	for i := range out {
		if out[i].Votes, err = s.loadVotes(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	if out == nil {
		out = []types.Transaction{}
	}
	return out, nil
}

func (s *Store) loadVotes(ctx context.Context, id string) (types.VoteSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT voter, voted_at FROM votes WHERE tx_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load votes for %s: %w", id, err)
	}
	defer rows.Close()

	votes := types.VoteSet{}
	for rows.Next() {
		var voter, at string
		if err := rows.Scan(&voter, &at); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes[voter] = parseTime(at)
	}
	return votes, rows.Err()
}

func scanTransaction(scanner interface{ Scan(dest ...any) error }) (types.Transaction, error) {
	var (
		t           types.Transaction
		amount      int64
		status      string
		createdAt   string
		finalizedAt sql.NullString
	)
	if err := scanner.Scan(
		&t.Seq, &t.ID, &t.BeneficiaryID, &t.SchemeName, &amount, &t.ReceiptHash, &t.CreatedBy,
		&createdAt, &status, &t.ApprovalCount, &t.Finalized, &finalizedAt,
	); err != nil {
		return types.Transaction{}, err
	}
	t.Amount = uint64(amount)
	t.Status = types.Status(status)
	t.CreatedAt = parseTime(createdAt)
	if finalizedAt.Valid {
		at := parseTime(finalizedAt.String)
		t.FinalizedAt = &at
	}
	return t, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	return time.Time{}
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
