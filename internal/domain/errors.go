package domain

import "errors"

// Closed set of error kinds the store contract is allowed to return.
// Callers match them with errors.Is; anything else is treated as a
// store failure and aborts only the in-flight command.
var (
	// ErrNotFound signals a missing row: no active round, no eligible
	// chat member, no question left in the bank.
	ErrNotFound = errors.New("not found")

	// ErrConflict signals a uniqueness violation, i.e. an active round
	// already exists for the chat. This is an expected race, not a failure.
	ErrConflict = errors.New("already exists")
)
