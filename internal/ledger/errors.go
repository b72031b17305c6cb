package ledger

import (
	"errors"

	"satya.ledger/sl/internal/registry"
)

// Errors returned by the ledger. They are wrapped with the transaction id or
// address involved, so compare with errors.Is.
var (
	ErrInvalidConfiguration = registry.ErrInvalidConfiguration
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotFound             = errors.New("transaction not found")
	ErrAlreadyVoted         = errors.New("already voted")
	ErrOutOfRange           = errors.New("index out of range")
	ErrInvalidTransaction   = errors.New("invalid transaction")
)
