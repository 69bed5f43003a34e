package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxAttempts is the default attempt budget per fixture.
const DefaultMaxAttempts = 3

// AttemptBudget tracks the fetch attempts spent on one fixture.
//
// The budget is cumulative across resumed runs: a fixture whose manifest
// shows two failed attempts starts the next run with two already used, so the
// total number of fetches before giving up never exceeds the maximum.
type AttemptBudget struct {
	itemID int64
	max    int
	used   int
}

// NewAttemptBudget creates a budget with prior attempts already spent.
// Negative prior values are treated as zero.
func NewAttemptBudget(itemID int64, max, prior int) *AttemptBudget {
	if prior < 0 {
		prior = 0
	}
	return &AttemptBudget{itemID: itemID, max: max, used: prior}
}

// Next claims the next attempt slot and returns its 1-based number.
//
// Returns BudgetExhaustedError when no slot is left.
func (b *AttemptBudget) Next() (int, error) {
	if b.Exhausted() {
		return b.used, &BudgetExhaustedError{ItemID: b.itemID, Attempts: b.used, Limit: b.max}
	}
	b.used++
	return b.used, nil
}

// Exhausted reports whether every slot has been used.
func (b *AttemptBudget) Exhausted() bool {
	return b.used >= b.max
}

// Used returns the attempts spent so far, prior runs included.
func (b *AttemptBudget) Used() int {
	return b.used
}

// Max returns the attempt limit.
func (b *AttemptBudget) Max() int {
	return b.max
}

// BudgetExhaustedError is returned when a fixture has no attempts left.
type BudgetExhaustedError struct {
	ItemID   int64
	Attempts int
	Limit    int
}

// Error implements the error interface.
func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("fixture %d exhausted its attempt budget: %d attempts, limit %d",
		e.ItemID, e.Attempts, e.Limit)
}

// IsBudgetExhaustedError returns true if the error is a BudgetExhaustedError.
// Uses errors.As to handle wrapped errors.
func IsBudgetExhaustedError(err error) bool {
	var be *BudgetExhaustedError
	return errors.As(err, &be)
}
