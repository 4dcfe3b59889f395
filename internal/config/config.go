package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	TelegramToken string

	// DatabasePath is the SQLite file used unless PostgresDSN is set.
	DatabasePath string

	// PostgresDSN, when non-empty, selects the PostgreSQL store.
	PostgresDSN string

	// QuestionsFile is an optional JSON file seeding the question bank.
	QuestionsFile string

	// DiscussionTimeout is how long a chat gets to nominate a respondent
	// before the bot nudges it.
	DiscussionTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not exists)
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./quiz_bot.db"
	}

	timeout := 30 * time.Second
	if raw := os.Getenv("DISCUSSION_TIMEOUT"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err == nil && seconds > 0 {
			timeout = time.Duration(seconds) * time.Second
		}
	}

	return &Config{
		TelegramToken:     token,
		DatabasePath:      dbPath,
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		QuestionsFile:     os.Getenv("QUESTIONS_FILE"),
		DiscussionTimeout: timeout,
	}, nil
}
