package domain

import (
	"context"
	"time"
)

// Round is the active question of a chat's session. At most one round
// exists per chat at any time; the store enforces that with a uniqueness
// constraint on chat_id.
type Round struct {
	ChatID     int64
	Question   Question
	StartedAt  time.Time
	Lead       User
	Respondent *User // nil until the captain nominates someone
	Completed  int64
	Correct    int64
}

// Number is the 1-based ordinal of the round within the session.
func (r *Round) Number() int64 {
	return r.Completed + 1
}

// LastRoundSummary is the retained snapshot of the most recently finished
// session of a chat, overwritten each time a session stops.
type LastRoundSummary struct {
	ChatID    int64
	Lead      User
	Completed int64
	Correct   int64
}

// BotSession is the in-memory view of one chat's game, owned exclusively
// by the engine and mutated only on its per-chat serialized path.
type BotSession struct {
	ChatID       int64
	CurrentRound *Round
	LastSummary  *LastRoundSummary
}

// SessionStore is the durable source of truth for sessions, rounds,
// chat members and the question bank.
//
// Implementations must guarantee at most one active round per chat
// (StartRound returns ErrConflict on violation) and must make
// IncrementScore and AssignRespondent single atomic statements so racing
// processes cannot lose an update.
type SessionStore interface {
	// CreateSessionIfAbsent registers the chat; calling it again is a no-op.
	CreateSessionIfAbsent(ctx context.Context, chatID int64) error

	// StartRound creates the active round for the chat. Returns ErrConflict
	// if a round already exists.
	StartRound(ctx context.Context, chatID, questionID, leadID int64, startedAt time.Time) (*Round, error)

	// GetActiveRound returns the chat's active round or ErrNotFound.
	GetActiveRound(ctx context.Context, chatID int64) (*Round, error)

	// ListActiveRounds returns every active round across all chats.
	// Rounds that cannot be loaded are logged and skipped, so one broken
	// chat never prevents the others from being returned.
	ListActiveRounds(ctx context.Context) ([]*Round, error)

	// AssignRespondent creates or overwrites the pending respondent.
	AssignRespondent(ctx context.Context, chatID, userID int64) error

	// ClearRespondent removes the pending respondent, if any.
	ClearRespondent(ctx context.Context, chatID int64) error

	// IncrementScore bumps completed and, when correct, the correct counter.
	// Returns ErrNotFound if the chat has no active round.
	IncrementScore(ctx context.Context, chatID int64, correct bool) error

	// RestartRound atomically clears the respondent and swaps in a new
	// question, keeping the score counters.
	RestartRound(ctx context.Context, chatID, questionID int64, startedAt time.Time) error

	// StopRound moves the active round's counters into the last-round
	// summary and deletes the round. Returns ErrNotFound if none is active.
	StopRound(ctx context.Context, chatID int64) (*LastRoundSummary, error)

	// GetLastSummary returns the retained summary or ErrNotFound.
	GetLastSummary(ctx context.Context, chatID int64) (*LastRoundSummary, error)

	// AddChatMember records that the user plays in the chat. Idempotent;
	// refreshes the display name.
	AddChatMember(ctx context.Context, chatID int64, user User) error

	// PickRandomMember returns a uniformly random member of the chat,
	// or ErrNotFound when the pool is empty.
	PickRandomMember(ctx context.Context, chatID int64) (*User, error)

	// PickRandomQuestion returns a uniformly random question,
	// or ErrNotFound when the bank is empty.
	PickRandomQuestion(ctx context.Context) (*Question, error)

	// FindUserByName resolves a display name within a chat, or ErrNotFound.
	FindUserByName(ctx context.Context, chatID int64, name string) (*User, error)

	// CreateQuestion adds a question with its answers to the bank.
	CreateQuestion(ctx context.Context, title string, answers []Answer) (*Question, error)

	// ListQuestions returns the whole question bank.
	ListQuestions(ctx context.Context) ([]*Question, error)
}
