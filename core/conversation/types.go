// Package conversation tracks each user's in-progress wager between chat events.
package conversation

import (
	"context"
	"errors"
)

// Stage identifies a step of the wager conversation.
type Stage string

const (
	// StageIdle means the user has no conversation in progress.
	StageIdle Stage = "idle"
	// StageAwaitingStock waits for a stock choice.
	StageAwaitingStock Stage = "awaiting_stock"
	// StageAwaitingNumber waits for the three-digit number.
	StageAwaitingNumber Stage = "awaiting_number"
	// StageAwaitingAmount waits for the wager amount.
	StageAwaitingAmount Stage = "awaiting_amount"
	// StageAwaitingConfirmation waits for the confirm button.
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
)

// String returns the stage name as logged.
func (s Stage) String() string { return string(s) }

// ErrNotFound is returned by Get when the user has no builder.
var ErrNotFound = errors.New("conversation: not found")

// Builder holds the fields collected so far for one user's order.
type Builder struct {
	Stage  Stage  `json:"stage"`
	Stock  string `json:"stock,omitempty"`
	Number string `json:"number,omitempty"`
	Amount int64  `json:"amount,omitempty"`
}

// Complete reports whether every order field has been collected.
func (b Builder) Complete() bool {
	return b.Stock != "" && b.Number != "" && b.Amount > 0
}

// Tracker stores one Builder per user. Implementations bound memory and expire idle entries.
// Callers serialise access per user; Tracker only guarantees each call is atomic.
type Tracker interface {
	// Begin replaces any builder for userID with an empty one at StageAwaitingStock.
	Begin(ctx context.Context, userID string) (Builder, error)
	// Get returns the user's builder or ErrNotFound.
	Get(ctx context.Context, userID string) (Builder, error)
	Set(ctx context.Context, userID string, b Builder) error
	Clear(ctx context.Context, userID string) error
	// Len returns the number of tracked conversations, or -1 when the backend cannot tell cheaply.
	Len() int
	Close() error
}

func fresh() Builder {
	return Builder{Stage: StageAwaitingStock}
}
