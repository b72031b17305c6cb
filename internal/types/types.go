// Package types defines the core domain models for the Satya ledger (sl).
// It contains the participant, transaction and event models together with
// the role and status constants shared by the ledger, the store and the API.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Version is the current version of the ledger service
const Version = "0.3.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// ZeroAddress is the null principal. It is never a valid participant.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Role identifies which ministry a participant represents
type Role string

const (
	RoleFinance   Role = "finance"
	RoleWelfare   Role = "welfare"
	RoleEducation Role = "education"
	RoleAudit     Role = "audit"
)

// Roles lists every role in display order.
var Roles = []Role{RoleFinance, RoleWelfare, RoleEducation, RoleAudit}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleFinance, RoleWelfare, RoleEducation, RoleAudit:
		return true
	}
	return false
}

// DisplayName returns the institutional name of the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleFinance:
		return "Finance Ministry"
	case RoleWelfare:
		return "Welfare Ministry"
	case RoleEducation:
		return "Education Ministry"
	case RoleAudit:
		return "Auditor General"
	}
	return string(r)
}

// ParseRole converts user input into a Role. "auditor" is accepted as an
// alias for the audit role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == "auditor" {
		r = RoleAudit
	}
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q (use finance, welfare, education or audit)", s)
	}
	return r, nil
}

// Participant is one of the four authorities allowed to act on the ledger.
type Participant struct {
	Address string `json:"address"` // Opaque principal identifier (hex address in the original deployment)
	Role    Role   `json:"role"`    // Ministry role
	Name    string `json:"name"`    // Display name, defaults to the role display name
}

// Status is the lifecycle state of a transaction
type Status string

const (
	StatusPending   Status = "Pending"
	StatusFinalized Status = "Finalized"
)

// Transaction is a proposed disbursement together with its approval state.
type Transaction struct {
	ID            string     `json:"id"`                     // Unique identifier (UUID), never reused
	Seq           int        `json:"seq"`                    // Position in creation order, starting at 0
	BeneficiaryID string     `json:"beneficiary_id"`         // Recipient of the disbursement
	SchemeName    string     `json:"scheme_name"`            // Programme the disbursement belongs to
	Amount        uint64     `json:"amount"`                 // Smallest currency unit
	ReceiptHash   string     `json:"receipt_hash"`           // Evidence fingerprint supplied by the proposer
	CreatedBy     string     `json:"created_by"`             // Address of the proposer
	CreatedAt     time.Time  `json:"created_at"`             // Assigned by the ledger
	Status        Status     `json:"status"`                 // Pending or Finalized
	ApprovalCount int        `json:"approval_count"`         // Distinct approvals recorded
	Finalized     bool       `json:"finalized"`              // True once ApprovalCount reached quorum
	FinalizedAt   *time.Time `json:"finalized_at,omitempty"` // When quorum was reached, nil while pending
	Votes         VoteSet    `json:"votes"`                  // Voter address -> time of approval
}

// Clone returns a deep copy of the transaction.
func (t Transaction) Clone() Transaction {
	cp := t
	cp.Votes = t.Votes.Clone()
	if t.FinalizedAt != nil {
		at := *t.FinalizedAt
		cp.FinalizedAt = &at
	}
	return cp
}

// EventKind names a ledger notification
type EventKind string

const (
	EventTransactionCreated  EventKind = "TransactionCreated"
	EventTransactionApproved EventKind = "TransactionApproved"
)

// Event is a notification emitted after a mutation has been committed.
// Seq is assigned by the store and orders all events of a ledger. ID is
// assigned by the store too and is never reused; consumers de-duplicate on it.
type Event struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq"`
	Kind          EventKind `json:"kind"`
	TxID          string    `json:"txId"`
	Voter         string    `json:"voter,omitempty"`
	Finalized     bool      `json:"finalized"`
	ApprovalCount int       `json:"approvalCount"`
	OccurredAt    time.Time `json:"occurredAt"`
}
