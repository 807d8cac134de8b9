// Package fault defines the error taxonomy shared by the rules engine, the
// auction session, and the command gateway. Every rejected command carries
// the specific reason; the gateway maps each kind to an HTTP status.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Validation is a malformed command: unknown status, missing field,
// unparseable amount. Detected before any domain logic runs.
type Validation struct {
	Reason string
}

func (e *Validation) Error() string { return "validation: " + e.Reason }

// NewValidation builds a Validation error with a formatted reason.
func NewValidation(format string, args ...any) *Validation {
	return &Validation{Reason: fmt.Sprintf(format, args...)}
}

// Permission is a role or ownership check failure.
type Permission struct {
	Reason string
}

func (e *Permission) Error() string { return "permission: " + e.Reason }

// NotFound is a missing tournament, player, or team.
type NotFound struct {
	Kind string // "tournament", "player", "team", "session"
	ID   string
}

func (e *NotFound) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

// Readiness is a failed pre-start gate. It is non-fatal: the caller may
// retry with the bypass flag. Reasons enumerates every unmet condition.
type Readiness struct {
	Reasons []string
}

func (e *Readiness) Error() string {
	return "not ready to start: " + strings.Join(e.Reasons, "; ")
}

// Invariant is a domain-rule violation: bid below minimum, quota exceeded,
// insufficient budget, re-bid by the leading team, sold without a bid,
// unsold with bids present. Invariant errors never accompany a state change.
type Invariant struct {
	Reason string
}

func (e *Invariant) Error() string { return "invariant: " + e.Reason }

// NewInvariant builds an Invariant error with a formatted reason.
func NewInvariant(format string, args ...any) *Invariant {
	return &Invariant{Reason: fmt.Sprintf(format, args...)}
}

// IsInvariant reports whether err is (or wraps) an Invariant violation.
func IsInvariant(err error) bool {
	var inv *Invariant
	return errors.As(err, &inv)
}
