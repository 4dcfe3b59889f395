package bot

import (
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/glebk/quiz-bot/internal/game"
)

// ParseCommand maps a Telegram message to a typed game command.
// Unknown slash commands return ok=false; any plain-text group message
// becomes an answer attempt (the engine decides whether it counts).
func ParseCommand(message *tgbotapi.Message) (game.Command, bool) {
	cmd := game.Command{
		ChatID:     message.Chat.ID,
		AuthorID:   message.From.ID,
		AuthorName: displayName(message.From),
		At:         time.Unix(int64(message.Date), 0),
		Text:       message.Text,
	}

	if !message.IsCommand() {
		cmd.Kind = game.CmdAnswer
		return cmd, true
	}

	switch message.Command() {
	case "start":
		cmd.Kind = game.CmdStart
	case "stop":
		cmd.Kind = game.CmdStop
	case "assign":
		cmd.Kind = game.CmdAssign
		cmd.Mention = mentionArg(message)
	case "info":
		cmd.Kind = game.CmdInfo
	case "join":
		cmd.Kind = game.CmdJoin
	default:
		return game.Command{}, false
	}
	return cmd, true
}

// displayName prefers the Telegram username so mentions resolve back to
// the same string FindUserByName stores.
func displayName(user *tgbotapi.User) string {
	if user.UserName != "" {
		return user.UserName
	}
	return user.FirstName
}

// mentionArg extracts the first @username mentioned in the message,
// without the "@". Entity offsets are UTF-16 code units.
func mentionArg(message *tgbotapi.Message) string {
	for _, entity := range message.Entities {
		if entity.Type != "mention" {
			continue
		}
		units := utf16.Encode([]rune(message.Text))
		if entity.Offset < 0 || entity.Offset+entity.Length > len(units) {
			continue
		}
		mention := string(utf16.Decode(units[entity.Offset : entity.Offset+entity.Length]))
		return strings.TrimPrefix(mention, "@")
	}
	return ""
}
