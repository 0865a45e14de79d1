package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the fund engine
var (
	ErrPoolNotFound     = errors.New("pool not found")
	ErrStakeNotFound    = errors.New("stake not found")
	ErrPositionNotFound = errors.New("position not found")
	ErrAlreadyTerminal  = errors.New("stake is in a terminal state")
	ErrActorStopped     = errors.New("pool actor is stopped")
)

// InsufficientCapitalError is returned when a margin lock or payout exceeds
// the pool's available capital. The rejected operation performs no mutation.
type InsufficientCapitalError struct {
	PoolID    string
	Requested float64
	Available float64
}

func (e *InsufficientCapitalError) Error() string {
	return fmt.Sprintf("insufficient capital in pool %s: requested %.2f, available %.2f",
		e.PoolID, e.Requested, e.Available)
}

// ValidationError is returned for caller input outside accepted bounds
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// AuthorizationError is returned when a participant operates on a stake
// they do not own
type AuthorizationError struct {
	ParticipantID string
	StakeID       string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("participant %s is not the owner of stake %s", e.ParticipantID, e.StakeID)
}

// InvalidTransitionError is returned for illegal state machine transitions
type InvalidTransitionError struct {
	StakeID string
	From    StakeStatus
	To      StakeStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("stake %s: invalid transition %s -> %s", e.StakeID, e.From, e.To)
}
