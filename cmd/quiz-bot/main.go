package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/glebk/quiz-bot/internal/bot"
	"github.com/glebk/quiz-bot/internal/config"
	"github.com/glebk/quiz-bot/internal/domain"
	"github.com/glebk/quiz-bot/internal/game"
	"github.com/glebk/quiz-bot/internal/repository/postgres"
	"github.com/glebk/quiz-bot/internal/repository/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Initialize storage: PostgreSQL when a DSN is configured, embedded
	// SQLite otherwise.
	var store domain.SessionStore
	if cfg.PostgresDSN != "" {
		pg, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to initialize postgres: %v", err)
		}
		if err := pg.Ping(ctx); err != nil {
			log.Fatalf("Failed to ping postgres: %v", err)
		}
		defer pg.Close()
		store = pg
		log.Println("Using PostgreSQL store")
	} else {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()
		store = db
		log.Printf("Database initialized at: %s", cfg.DatabasePath)
	}

	// Seed the question bank on first run
	if cfg.QuestionsFile != "" {
		if err := seedQuestions(ctx, store, cfg.QuestionsFile); err != nil {
			log.Fatalf("Failed to seed questions: %v", err)
		}
	}

	// Initialize Telegram API
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}
	log.Printf("Authorized on account %s", api.Self.UserName)

	// Initialize the session engine and reload interrupted sessions
	// before accepting live input
	engine := game.NewEngine(store, bot.NewSender(api), cfg.DiscussionTimeout)
	if err := engine.Recover(ctx); err != nil {
		log.Fatalf("Failed to recover sessions: %v", err)
	}

	telegramBot := bot.New(api, engine, store)

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start bot in goroutine
	go func() {
		log.Println("Bot started. Press Ctrl+C to stop.")
		if err := telegramBot.Start(); err != nil {
			log.Fatalf("Bot stopped with error: %v", err)
		}
	}()

	// Wait for stop signal
	<-stop
	log.Println("Shutting down gracefully...")
}

type seedQuestion struct {
	Title   string   `json:"title"`
	Answers []string `json:"answers"`
}

// seedQuestions loads questions from a JSON file into an empty bank.
// A bank that already has questions is left untouched.
func seedQuestions(ctx context.Context, store domain.SessionStore, path string) error {
	existing, err := store.ListQuestions(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var seeds []seedQuestion
	if err := json.Unmarshal(raw, &seeds); err != nil {
		return err
	}

	for _, seed := range seeds {
		answers := make([]domain.Answer, 0, len(seed.Answers))
		for _, title := range seed.Answers {
			answers = append(answers, domain.Answer{Title: title})
		}
		if _, err := store.CreateQuestion(ctx, seed.Title, answers); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return err
		}
	}

	log.Printf("Seeded %d questions from %s", len(seeds), path)
	return nil
}
