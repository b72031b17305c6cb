package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"satya.ledger/sl/internal/types"
)

// insertEvent queues ev. Every row gets a fresh event id, which stays unique
// even when outbox sequence numbers are handed out again after a restore.
func insertEvent(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	var voter any
	if ev.Voter != "" {
		voter = ev.Voter
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO outbox (event_id, kind, tx_id, voter, finalized, approval_count, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.TxID, voter, ev.Finalized, ev.ApprovalCount, formatTime(ev.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// PendingEvents returns up to limit unpublished events in sequence order.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT seq, event_id, kind, tx_id, voter, finalized, approval_count, occurred_at
		FROM outbox WHERE published_at IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var (
			ev    types.Event
			kind  string
			id    sql.NullString
			voter sql.NullString
			at    string
		)
		if err := rows.Scan(&ev.Seq, &id, &kind, &ev.TxID, &voter, &ev.Finalized, &ev.ApprovalCount, &at); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		ev.ID = id.String
		ev.Kind = types.EventKind(kind)
		ev.Voter = voter.String
		ev.OccurredAt = parseTime(at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkPublished records that the event with the given sequence was delivered.
func (s *Store) MarkPublished(ctx context.Context, seq int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at = ? WHERE seq = ? AND published_at IS NULL`,
		formatTime(at), seq); err != nil {
		return fmt.Errorf("mark event %d published: %w", seq, err)
	}
	return nil
}

// PendingCount returns the number of unpublished events.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}
