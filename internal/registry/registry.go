// Package registry holds the fixed set of ledger participants and answers
// the authorization questions asked by the ledger: who may propose and who
// may approve. A Registry is immutable once built.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"satya.ledger/sl/internal/types"
)

// ParticipantCount is the number of authorities a ledger is configured with.
const ParticipantCount = 4

var (
	// ErrInvalidConfiguration is returned when the participant table is unusable.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrNotFound is returned for addresses that are not registered.
	ErrNotFound = errors.New("participant not found")
)

// Registry maps participant addresses to roles.
type Registry struct {
	byAddr   map[string]types.Participant
	ordered  []types.Participant
	proposer types.Role
}

// Normalize returns the lookup key for an address. Addresses compare
// case-insensitively because the original deployment used hex addresses.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsNull reports whether addr is blank or the all-zero address.
func IsNull(addr string) bool {
	n := Normalize(addr)
	if n == "" {
		return true
	}
	n = strings.TrimPrefix(n, "0x")
	return strings.Trim(n, "0") == ""
}

// New validates and registers exactly four participants. proposer names the
// role allowed to create transactions and must be held by one of them.
func New(participants []types.Participant, proposer types.Role) (*Registry, error) {
	if len(participants) != ParticipantCount {
		return nil, fmt.Errorf("%w: expected %d participants, got %d", ErrInvalidConfiguration, ParticipantCount, len(participants))
	}
	if !proposer.Valid() {
		return nil, fmt.Errorf("%w: unknown proposer role %q", ErrInvalidConfiguration, proposer)
	}

	r := &Registry{
		byAddr:   make(map[string]types.Participant, ParticipantCount),
		proposer: proposer,
	}
	byRole := make(map[types.Role]types.Participant, ParticipantCount)

	for i, p := range participants {
		if IsNull(p.Address) {
			return nil, fmt.Errorf("%w: participant %d has a null address", ErrInvalidConfiguration, i)
		}
		if !p.Role.Valid() {
			return nil, fmt.Errorf("%w: participant %s has unknown role %q", ErrInvalidConfiguration, p.Address, p.Role)
		}
		key := Normalize(p.Address)
		if _, dup := r.byAddr[key]; dup {
			return nil, fmt.Errorf("%w: duplicate address %s", ErrInvalidConfiguration, p.Address)
		}
		if _, dup := byRole[p.Role]; dup {
			return nil, fmt.Errorf("%w: role %s assigned twice", ErrInvalidConfiguration, p.Role)
		}
		p.Address = strings.TrimSpace(p.Address)
		if strings.TrimSpace(p.Name) == "" {
			p.Name = p.Role.DisplayName()
		}
		r.byAddr[key] = p
		byRole[p.Role] = p
	}

	if _, ok := byRole[proposer]; !ok {
		return nil, fmt.Errorf("%w: no participant holds proposer role %s", ErrInvalidConfiguration, proposer)
	}

	for _, role := range types.Roles {
		if p, ok := byRole[role]; ok {
			r.ordered = append(r.ordered, p)
		}
	}
	return r, nil
}

// Lookup returns the participant registered under addr.
func (r *Registry) Lookup(addr string) (types.Participant, bool) {
	p, ok := r.byAddr[Normalize(addr)]
	return p, ok
}

// RoleOf returns the role of addr or ErrNotFound.
func (r *Registry) RoleOf(addr string) (types.Role, error) {
	p, ok := r.Lookup(addr)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return p.Role, nil
}

// IsAuthorizedProposer reports whether addr holds the proposer role.
func (r *Registry) IsAuthorizedProposer(addr string) bool {
	p, ok := r.Lookup(addr)
	return ok && p.Role == r.proposer
}

// IsAuthorizedApprover reports whether addr is any registered participant.
// The proposer is also an approver.
func (r *Registry) IsAuthorizedApprover(addr string) bool {
	_, ok := r.Lookup(addr)
	return ok
}

// Canonical returns the address as registered, so votes recorded under
// different spellings of the same address collapse onto one key.
func (r *Registry) Canonical(addr string) (string, bool) {
	p, ok := r.Lookup(addr)
	if !ok {
		return "", false
	}
	return p.Address, true
}

// Participants returns a copy in role order: finance, welfare, education, audit.
func (r *Registry) Participants() []types.Participant {
	out := make([]types.Participant, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Proposer returns the proposer role.
func (r *Registry) Proposer() types.Role { return r.proposer }

// Len returns the number of registered participants.
func (r *Registry) Len() int { return len(r.ordered) }
