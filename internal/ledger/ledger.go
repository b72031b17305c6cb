// Package ledger implements the quorum disbursement ledger. A transaction is
// proposed by the participant holding the proposer role and becomes final
// once a quorum of distinct participants has approved it. Records are never
// deleted; approvals only ever move a transaction forward.
//
// All mutations are serialized by the Ledger and committed to the Store
// together with the event describing them before the call returns.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"satya.ledger/sl/internal/registry"
	"satya.ledger/sl/internal/types"
)

// Store persists transactions, votes and pending events. Each mutating call
// must commit atomically: either the record, the vote and the event are all
// written or none of them are.
type Store interface {
	// InsertTransaction appends tx to the creation index and returns it with
	// Seq assigned.
	InsertTransaction(ctx context.Context, tx types.Transaction, ev types.Event) (types.Transaction, error)
	// RecordApproval stores the vote of voter and the updated counters of tx.
	RecordApproval(ctx context.Context, tx types.Transaction, voter string, votedAt time.Time, ev types.Event) error
	Transaction(ctx context.Context, id string) (types.Transaction, bool, error)
	Count(ctx context.Context) (int, error)
	IDAt(ctx context.Context, index int) (string, error)
	List(ctx context.Context, offset, limit int) ([]types.Transaction, error)
}

// Activity receives human readable audit lines.
type Activity interface {
	Info(text string)
	Warning(text string)
}

// Recorder receives ledger counters.
type Recorder interface {
	TransactionCreated()
	ApprovalRecorded(finalized bool)
	Rejected(op, reason string)
}

type nopActivity struct{}

func (nopActivity) Info(string)    {}
func (nopActivity) Warning(string) {}

type nopRecorder struct{}

func (nopRecorder) TransactionCreated()     {}
func (nopRecorder) ApprovalRecorded(bool)   {}
func (nopRecorder) Rejected(string, string) {}

const (
	// DefaultListLimit is used when List is called without a limit.
	DefaultListLimit = 50
	// MaxListLimit caps a single List page.
	MaxListLimit = 500
)

// Ledger is the facade over the registry, the quorum rule and the store.
type Ledger struct {
	mu       sync.RWMutex
	store    Store
	reg      *registry.Registry
	quorum   Quorum
	now      func() time.Time
	newID    func() string
	log      *zap.Logger
	activity Activity
	metrics  Recorder
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithQuorum overrides DefaultQuorum.
func WithQuorum(threshold int) Option {
	return func(l *Ledger) { l.quorum = Quorum{Threshold: threshold} }
}

// WithClock sets the time source used for CreatedAt, vote and event times.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator sets the transaction id generator.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newID = gen }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

func WithActivity(a Activity) Option {
	return func(l *Ledger) {
		if a != nil {
			l.activity = a
		}
	}
}

func WithMetrics(m Recorder) Option {
	return func(l *Ledger) {
		if m != nil {
			l.metrics = m
		}
	}
}

// New builds a ledger over store. The quorum threshold must be reachable by
// the registered participants.
func New(store Store, reg *registry.Registry, opts ...Option) (*Ledger, error) {
	if store == nil || reg == nil {
		return nil, fmt.Errorf("%w: store and registry are required", ErrInvalidConfiguration)
	}
	l := &Ledger{
		store:    store,
		reg:      reg,
		quorum:   Quorum{Threshold: DefaultQuorum},
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		log:      zap.NewNop(),
		activity: nopActivity{},
		metrics:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.quorum.Validate(reg.Len()); err != nil {
		return nil, err
	}
	l.log = l.log.With(zap.String("component", "ledger"))
	return l, nil
}

// CreateRequest carries the fields of a new disbursement.
type CreateRequest struct {
	BeneficiaryID string `json:"beneficiary_id"`
	SchemeName    string `json:"scheme_name"`
	Amount        uint64 `json:"amount"`
	ReceiptHash   string `json:"receipt_hash"`
	Caller        string `json:"caller"`
}

// Create records a new pending transaction proposed by req.Caller.
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (types.Transaction, error) {
	caller, ok := l.reg.Canonical(req.Caller)
	if !ok || !l.reg.IsAuthorizedProposer(caller) {
		l.reject("create", ErrUnauthorized, zap.String("caller", req.Caller))
		return types.Transaction{}, fmt.Errorf("create transaction: caller %s: %w", req.Caller, ErrUnauthorized)
	}
	if err := validateCreate(req); err != nil {
		l.reject("create", ErrInvalidTransaction, zap.String("caller", caller), zap.Error(err))
		return types.Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	tx := types.Transaction{
		ID:            l.newID(),
		BeneficiaryID: strings.TrimSpace(req.BeneficiaryID),
		SchemeName:    strings.TrimSpace(req.SchemeName),
		Amount:        req.Amount,
		ReceiptHash:   req.ReceiptHash,
		CreatedBy:     caller,
		CreatedAt:     now,
		Status:        types.StatusPending,
		Votes:         types.VoteSet{},
	}
	ev := types.Event{
		Kind:       types.EventTransactionCreated,
		TxID:       tx.ID,
		OccurredAt: now,
	}

	stored, err := l.store.InsertTransaction(ctx, tx, ev)
	if err != nil {
		l.log.Error("persist transaction failed", zap.String("tx", tx.ID), zap.Error(err))
		return types.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	l.metrics.TransactionCreated()
	l.log.Info("transaction created",
		zap.String("tx", stored.ID),
		zap.Int("seq", stored.Seq),
		zap.String("beneficiary", stored.BeneficiaryID),
		zap.String("scheme", stored.SchemeName),
		zap.Uint64("amount", stored.Amount))
	l.activity.Info(fmt.Sprintf("%s proposed %s: %d to %s under %s",
		l.nameOf(caller), short(stored.ID), stored.Amount, stored.BeneficiaryID, stored.SchemeName))
	return stored, nil
}

func validateCreate(req CreateRequest) error {
	switch {
	case strings.TrimSpace(req.BeneficiaryID) == "":
		return fmt.Errorf("create transaction: beneficiary id is required: %w", ErrInvalidTransaction)
	case strings.TrimSpace(req.SchemeName) == "":
		return fmt.Errorf("create transaction: scheme name is required: %w", ErrInvalidTransaction)
	case req.Amount > math.MaxInt64:
		return fmt.Errorf("create transaction: amount %d exceeds %d: %w", req.Amount, int64(math.MaxInt64), ErrInvalidTransaction)
	}
	return nil
}

// Approve records the approval of voter on transaction id and finalizes the
// transaction once the quorum is met. Approving a finalized transaction is
// recorded but does not change its status.
func (l *Ledger) Approve(ctx context.Context, id, voter string) (types.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok, err := l.store.Transaction(ctx, id)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("approve %s: %w", id, err)
	}
	if !ok {
		l.reject("approve", ErrNotFound, zap.String("tx", id))
		return types.Transaction{}, fmt.Errorf("approve %s: %w", id, ErrNotFound)
	}
	addr, ok := l.reg.Canonical(voter)
	if !ok || !l.reg.IsAuthorizedApprover(addr) {
		l.reject("approve", ErrUnauthorized, zap.String("tx", id), zap.String("voter", voter))
		return types.Transaction{}, fmt.Errorf("approve %s: voter %s: %w", id, voter, ErrUnauthorized)
	}
	if tx.Votes.Has(addr) {
		l.reject("approve", ErrAlreadyVoted, zap.String("tx", id), zap.String("voter", addr))
		return types.Transaction{}, fmt.Errorf("approve %s: voter %s: %w", id, addr, ErrAlreadyVoted)
	}

	now := l.now().UTC()
	tx = tx.Clone()
	tx.Votes.Add(addr, now)
	tx.ApprovalCount = tx.Votes.Len()
	justFinalized := false
	if !tx.Finalized && l.quorum.Evaluate(tx.ApprovalCount) {
		tx.Finalized = true
		tx.Status = types.StatusFinalized
		tx.FinalizedAt = &now
		justFinalized = true
	}
	ev := types.Event{
		Kind:          types.EventTransactionApproved,
		TxID:          tx.ID,
		Voter:         addr,
		Finalized:     tx.Finalized,
		ApprovalCount: tx.ApprovalCount,
		OccurredAt:    now,
	}

	if err := l.store.RecordApproval(ctx, tx, addr, now, ev); err != nil {
		l.log.Error("persist approval failed", zap.String("tx", id), zap.String("voter", addr), zap.Error(err))
		return types.Transaction{}, fmt.Errorf("approve %s: %w", id, err)
	}

	l.metrics.ApprovalRecorded(justFinalized)
	l.log.Info("approval recorded",
		zap.String("tx", tx.ID),
		zap.String("voter", addr),
		zap.Int("approvals", tx.ApprovalCount),
		zap.Bool("finalized", tx.Finalized))
	l.activity.Info(fmt.Sprintf("%s approved %s (%d / %d)",
		l.nameOf(addr), short(tx.ID), tx.ApprovalCount, l.quorum.Threshold))
	if justFinalized {
		l.activity.Info(fmt.Sprintf("%s finalized", short(tx.ID)))
	}
	return tx, nil
}

// Get returns the transaction with the given id.
func (l *Ledger) Get(ctx context.Context, id string) (types.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.get(ctx, id)
}

func (l *Ledger) get(ctx context.Context, id string) (types.Transaction, error) {
	tx, ok, err := l.store.Transaction(ctx, id)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("get %s: %w", id, err)
	}
	if !ok {
		return types.Transaction{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return tx, nil
}

// HasVoted reports whether addr approved transaction id. Unknown addresses
// simply have not voted.
func (l *Ledger) HasVoted(ctx context.Context, id, addr string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, err := l.get(ctx, id)
	if err != nil {
		return false, err
	}
	canon, ok := l.reg.Canonical(addr)
	if !ok {
		return false, nil
	}
	return tx.Votes.Has(canon), nil
}

// Count returns the number of transactions ever created.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, err := l.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// IDAt returns the id of the index-th transaction in creation order.
func (l *Ledger) IDAt(ctx context.Context, index int) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, err := l.store.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("transaction at %d: %w", index, err)
	}
	if index < 0 || index >= n {
		return "", fmt.Errorf("transaction at %d (count %d): %w", index, n, ErrOutOfRange)
	}
	id, err := l.store.IDAt(ctx, index)
	if err != nil {
		return "", fmt.Errorf("transaction at %d: %w", index, err)
	}
	return id, nil
}

// List returns up to limit transactions in creation order starting at offset.
func (l *Ledger) List(ctx context.Context, offset, limit int) ([]types.Transaction, error) {
	if offset < 0 {
		return nil, fmt.Errorf("list offset %d: %w", offset, ErrOutOfRange)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	txs, err := l.store.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// ParticipantVote is one row of a voting report.
type ParticipantVote struct {
	types.Participant
	Voted   bool       `json:"voted"`
	VotedAt *time.Time `json:"voted_at,omitempty"`
}

// VoteReport summarizes who has and has not approved a transaction.
type VoteReport struct {
	TxID          string            `json:"tx_id"`
	Status        types.Status      `json:"status"`
	ApprovalCount int               `json:"approval_count"`
	Threshold     int               `json:"threshold"`
	Remaining     int               `json:"remaining"`
	Finalized     bool              `json:"finalized"`
	Participants  []ParticipantVote `json:"participants"`
	ApprovalOrder []string          `json:"approval_order"` // Voter addresses, earliest first
}

// VotingStatus returns the per-participant approval state of id in role order.
func (l *Ledger) VotingStatus(ctx context.Context, id string) (VoteReport, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, err := l.get(ctx, id)
	if err != nil {
		return VoteReport{}, err
	}
	rep := VoteReport{
		TxID:          tx.ID,
		Status:        tx.Status,
		ApprovalCount: tx.ApprovalCount,
		Threshold:     l.quorum.Threshold,
		Remaining:     l.quorum.Remaining(tx.ApprovalCount),
		Finalized:     tx.Finalized,
		ApprovalOrder: tx.Votes.Voters(),
	}
	for _, p := range l.reg.Participants() {
		row := ParticipantVote{Participant: p}
		if at, ok := tx.Votes[p.Address]; ok {
			at := at
			row.Voted = true
			row.VotedAt = &at
		}
		rep.Participants = append(rep.Participants, row)
	}
	return rep, nil
}

// Participants returns the registered participants in role order.
func (l *Ledger) Participants() []types.Participant {
	return l.reg.Participants()
}

// ProposerRole returns the role allowed to create transactions.
func (l *Ledger) ProposerRole() types.Role {
	return l.reg.Proposer()
}

// Quorum returns the active quorum rule.
func (l *Ledger) Quorum() Quorum { return l.quorum }

func (l *Ledger) reject(op string, err error, fields ...zap.Field) {
	l.metrics.Rejected(op, Reason(err))
	l.log.Warn(op+" rejected", append(fields, zap.String("reason", Reason(err)))...)
	l.activity.Warning(fmt.Sprintf("%s rejected: %s", op, err))
}

// Reason returns a short label for a ledger error, used in metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrInvalidTransaction):
		return "invalid_transaction"
	case errors.Is(err, ErrInvalidConfiguration):
		return "invalid_configuration"
	}
	return "internal"
}

func (l *Ledger) nameOf(addr string) string {
	if p, ok := l.reg.Lookup(addr); ok {
		return p.Name
	}
	return addr
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
