package game

import (
	"context"
	"fmt"
	"log"
)

// Recover reloads every chat with an active round from the store and
// re-arms its discussion timer, anchored at the original round start.
// Deadlines already in the past fire immediately and are handled exactly
// like a live expiry, so a chat that was mid-discussion when the process
// died still gets its "pick a respondent" nudge. No "session started"
// notification is replayed.
//
// Must be called before the dispatcher starts feeding live commands.
func (e *Engine) Recover(ctx context.Context) error {
	rounds, err := e.store.ListActiveRounds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active rounds: %w", err)
	}

	for _, round := range rounds {
		s := e.session(round.ChatID)
		s.CurrentRound = round
		e.timers.Start(round.ChatID, round.StartedAt, round.StartedAt.Add(e.timeout))
		log.Printf("recovered session for chat %d, round %d", round.ChatID, round.Number())
	}

	if len(rounds) > 0 {
		log.Printf("recovered %d active session(s)", len(rounds))
	}
	return nil
}
