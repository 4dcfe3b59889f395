package game

import "time"

// CommandKind identifies what a chat member asked the bot to do.
type CommandKind int

const (
	CmdStart CommandKind = iota
	CmdStop
	CmdAssign
	CmdAnswer
	CmdInfo
	CmdJoin
)

// Command is a typed inbound event produced by the transport dispatcher.
type Command struct {
	ChatID     int64
	AuthorID   int64
	AuthorName string
	At         time.Time
	Kind       CommandKind

	// Mention is the @username argument of /assign, without the "@".
	Mention string

	// Text is the raw message text, used as the answer attempt.
	Text string
}
