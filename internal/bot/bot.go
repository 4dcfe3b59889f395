package bot

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/glebk/quiz-bot/internal/domain"
	"github.com/glebk/quiz-bot/internal/game"
)

const helpText = `Викторина — помощь

/start - Начать сессию (бот выберет вопрос и капитана)
/assign @user - Капитан выбирает отвечающего
/stop - Завершить сессию и показать итоговый счёт
/info - Текущий раунд или итоги прошлой сессии
/join - Вступить в игру в этом чате
/help - Показать помощь

Ответ на вопрос пишет отвечающий обычным сообщением.`

// API is the slice of tgbotapi the handlers use; mocked in tests.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender adapts the Telegram API to the engine's outbound interface.
type Sender struct {
	api API
}

// NewSender creates the engine-facing message sink.
func NewSender(api API) *Sender {
	return &Sender{api: api}
}

// SendMessage delivers one text message to a chat.
func (s *Sender) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Bot polls Telegram for updates and feeds the session engine.
type Bot struct {
	api    *tgbotapi.BotAPI
	engine *game.Engine
	store  domain.SessionStore
}

// New creates a new Bot instance
func New(api *tgbotapi.BotAPI, engine *game.Engine, store domain.SessionStore) *Bot {
	return &Bot{
		api:    api,
		engine: engine,
		store:  store,
	}
}

// Start starts the long-poll loop. It blocks until the updates channel
// is closed.
func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message != nil {
			b.handleMessage(update.Message)
		}
	}

	return nil
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	if message.From == nil || message.From.IsBot {
		return
	}

	// Membership is lazy: anyone seen talking in a chat joins its pool.
	b.registerMember(message)

	if message.IsCommand() && message.Command() == "help" {
		b.send(message.Chat.ID, helpText)
		return
	}

	if !message.IsCommand() && message.Chat.IsPrivate() {
		// No game runs in private chats.
		b.send(message.Chat.ID, "Привет!")
		return
	}

	cmd, ok := ParseCommand(message)
	if !ok {
		b.send(message.Chat.ID, "Неизвестная команда. Используйте /help")
		return
	}

	b.engine.Dispatch(cmd)
}

// registerMember records the author in the chat's player pool and
// refreshes their display name.
func (b *Bot) registerMember(message *tgbotapi.Message) {
	user := domain.User{
		ID:   message.From.ID,
		Name: displayName(message.From),
	}
	if err := b.store.AddChatMember(context.Background(), message.Chat.ID, user); err != nil {
		log.Printf("failed to register member %d: %v", user.ID, err)
	}
}

func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("failed to send message: %v", err)
	}
}
