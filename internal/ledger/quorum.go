package ledger

import "fmt"

// DefaultQuorum is the number of distinct approvals that finalizes a
// transaction.
const DefaultQuorum = 3

// Quorum decides whether an approval count is sufficient.
type Quorum struct {
	Threshold int
}

// Evaluate reports whether count meets the threshold.
func (q Quorum) Evaluate(count int) bool {
	return count >= q.Threshold
}

// Remaining returns how many more approvals are needed, never below zero.
func (q Quorum) Remaining(count int) int {
	if n := q.Threshold - count; n > 0 {
		return n
	}
	return 0
}

// Validate checks the threshold against the number of eligible approvers.
func (q Quorum) Validate(participants int) error {
	if q.Threshold < 1 || q.Threshold > participants {
		return fmt.Errorf("%w: quorum %d must be between 1 and %d", ErrInvalidConfiguration, q.Threshold, participants)
	}
	return nil
}
