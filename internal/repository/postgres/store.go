package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glebk/quiz-bot/internal/domain"
)

// Store implements domain.SessionStore on PostgreSQL via pgx.
type Store struct {
	db *pgxpool.Pool
}

// New connects to the database and initializes the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	store := &Store{db: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		chat_id BIGINT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS questions (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(256) NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS answers (
		id BIGSERIAL PRIMARY KEY,
		question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		title VARCHAR(256) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_members (
		chat_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		display_name VARCHAR(256) NOT NULL,
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS active_round (
		chat_id BIGINT PRIMARY KEY REFERENCES sessions(chat_id) ON DELETE CASCADE,
		question_id BIGINT NOT NULL REFERENCES questions(id),
		started_at BIGINT NOT NULL,
		lead_id BIGINT NOT NULL,
		respondent_id BIGINT,
		completed BIGINT NOT NULL DEFAULT 0,
		correct BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS last_round (
		chat_id BIGINT PRIMARY KEY,
		lead_id BIGINT NOT NULL,
		lead_name VARCHAR(256) NOT NULL,
		completed BIGINT NOT NULL,
		correct BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(question_id);
	`

	_, err := s.db.Exec(ctx, schema)
	return err
}

// isUniqueViolation reports a 23505 unique_violation, the code the
// one-active-round-per-chat constraint raises on a racing start.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) CreateSessionIfAbsent(ctx context.Context, chatID int64) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO sessions (chat_id) VALUES ($1) ON CONFLICT (chat_id) DO NOTHING`, chatID)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *Store) StartRound(ctx context.Context, chatID, questionID, leadID int64, startedAt time.Time) (*domain.Round, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO active_round (chat_id, question_id, started_at, lead_id) VALUES ($1, $2, $3, $4)`,
		chatID, questionID, startedAt.Unix(), leadID)
	if isUniqueViolation(err) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start round: %w", err)
	}
	return s.GetActiveRound(ctx, chatID)
}

func (s *Store) GetActiveRound(ctx context.Context, chatID int64) (*domain.Round, error) {
	round := &domain.Round{ChatID: chatID}
	var startedAt int64
	var respondentID *int64

	err := s.db.QueryRow(ctx, `
		SELECT ar.question_id, q.title, ar.started_at, ar.lead_id, ar.respondent_id, ar.completed, ar.correct
		FROM active_round ar
		JOIN questions q ON q.id = ar.question_id
		WHERE ar.chat_id = $1`, chatID).Scan(
		&round.Question.ID,
		&round.Question.Title,
		&startedAt,
		&round.Lead.ID,
		&respondentID,
		&round.Completed,
		&round.Correct,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}

	round.StartedAt = time.Unix(startedAt, 0)

	answers, err := s.questionAnswers(ctx, round.Question.ID)
	if err != nil {
		return nil, err
	}
	round.Question.Answers = answers

	round.Lead.Name = s.memberName(ctx, chatID, round.Lead.ID)
	if respondentID != nil {
		round.Respondent = &domain.User{
			ID:   *respondentID,
			Name: s.memberName(ctx, chatID, *respondentID),
		}
	}
	return round, nil
}

func (s *Store) ListActiveRounds(ctx context.Context) ([]*domain.Round, error) {
	rows, err := s.db.Query(ctx, `SELECT chat_id FROM active_round`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rounds: %w", err)
	}
	defer rows.Close()

	var chatIDs []int64
	for rows.Next() {
		var chatID int64
		if err := rows.Scan(&chatID); err != nil {
			return nil, fmt.Errorf("failed to scan chat id: %w", err)
		}
		chatIDs = append(chatIDs, chatID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list active rounds: %w", err)
	}

	// An unloadable round is logged and skipped so one broken chat never
	// blocks recovery of the rest.
	var rounds []*domain.Round
	for _, chatID := range chatIDs {
		round, err := s.GetActiveRound(ctx, chatID)
		if err != nil {
			log.Printf("skipping unloadable active round for chat %d: %v", chatID, err)
			continue
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

func (s *Store) AssignRespondent(ctx context.Context, chatID, userID int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE active_round SET respondent_id = $1 WHERE chat_id = $2`, userID, chatID)
	if err != nil {
		return fmt.Errorf("failed to assign respondent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ClearRespondent(ctx context.Context, chatID int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE active_round SET respondent_id = NULL WHERE chat_id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("failed to clear respondent: %w", err)
	}
	return nil
}

func (s *Store) IncrementScore(ctx context.Context, chatID int64, correct bool) error {
	delta := 0
	if correct {
		delta = 1
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE active_round SET completed = completed + 1, correct = correct + $1 WHERE chat_id = $2`,
		delta, chatID)
	if err != nil {
		return fmt.Errorf("failed to increment score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) RestartRound(ctx context.Context, chatID, questionID int64, startedAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE active_round SET question_id = $1, started_at = $2, respondent_id = NULL WHERE chat_id = $3`,
		questionID, startedAt.Unix(), chatID)
	if err != nil {
		return fmt.Errorf("failed to restart round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) StopRound(ctx context.Context, chatID int64) (*domain.LastRoundSummary, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	summary := &domain.LastRoundSummary{ChatID: chatID}
	err = tx.QueryRow(ctx, `
		SELECT ar.lead_id, COALESCE(cm.display_name, ''), ar.completed, ar.correct
		FROM active_round ar
		LEFT JOIN chat_members cm ON cm.chat_id = ar.chat_id AND cm.user_id = ar.lead_id
		WHERE ar.chat_id = $1`, chatID).Scan(
		&summary.Lead.ID,
		&summary.Lead.Name,
		&summary.Completed,
		&summary.Correct,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active round: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO last_round (chat_id, lead_id, lead_name, completed, correct)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chat_id) DO UPDATE SET
			lead_id = EXCLUDED.lead_id,
			lead_name = EXCLUDED.lead_name,
			completed = EXCLUDED.completed,
			correct = EXCLUDED.correct`,
		chatID, summary.Lead.ID, summary.Lead.Name, summary.Completed, summary.Correct)
	if err != nil {
		return nil, fmt.Errorf("failed to save last round: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM active_round WHERE chat_id = $1`, chatID); err != nil {
		return nil, fmt.Errorf("failed to delete active round: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stop: %w", err)
	}
	return summary, nil
}

func (s *Store) GetLastSummary(ctx context.Context, chatID int64) (*domain.LastRoundSummary, error) {
	summary := &domain.LastRoundSummary{ChatID: chatID}
	err := s.db.QueryRow(ctx,
		`SELECT lead_id, lead_name, completed, correct FROM last_round WHERE chat_id = $1`,
		chatID).Scan(
		&summary.Lead.ID,
		&summary.Lead.Name,
		&summary.Completed,
		&summary.Correct,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last round: %w", err)
	}
	return summary, nil
}

func (s *Store) AddChatMember(ctx context.Context, chatID int64, user domain.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_members (chat_id, user_id, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		chatID, user.ID, user.Name)
	if err != nil {
		return fmt.Errorf("failed to add chat member: %w", err)
	}
	return nil
}

func (s *Store) PickRandomMember(ctx context.Context, chatID int64) (*domain.User, error) {
	user := &domain.User{}
	err := s.db.QueryRow(ctx,
		`SELECT user_id, display_name FROM chat_members WHERE chat_id = $1 ORDER BY RANDOM() LIMIT 1`,
		chatID).Scan(&user.ID, &user.Name)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick random member: %w", err)
	}
	return user, nil
}

func (s *Store) PickRandomQuestion(ctx context.Context) (*domain.Question, error) {
	question := &domain.Question{}
	err := s.db.QueryRow(ctx,
		`SELECT id, title FROM questions ORDER BY RANDOM() LIMIT 1`).Scan(&question.ID, &question.Title)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick random question: %w", err)
	}

	answers, err := s.questionAnswers(ctx, question.ID)
	if err != nil {
		return nil, err
	}
	question.Answers = answers
	return question, nil
}

func (s *Store) FindUserByName(ctx context.Context, chatID int64, name string) (*domain.User, error) {
	user := &domain.User{}
	err := s.db.QueryRow(ctx,
		`SELECT user_id, display_name FROM chat_members WHERE chat_id = $1 AND display_name = $2 LIMIT 1`,
		chatID, name).Scan(&user.ID, &user.Name)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

func (s *Store) CreateQuestion(ctx context.Context, title string, answers []domain.Answer) (*domain.Question, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO questions (title) VALUES ($1) RETURNING id`, title).Scan(&id)
	if isUniqueViolation(err) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	for _, a := range answers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO answers (question_id, title) VALUES ($1, $2)`, id, a.Title); err != nil {
			return nil, fmt.Errorf("failed to create answer: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit question: %w", err)
	}
	return &domain.Question{ID: id, Title: title, Answers: answers}, nil
}

func (s *Store) ListQuestions(ctx context.Context) ([]*domain.Question, error) {
	rows, err := s.db.Query(ctx, `SELECT id, title FROM questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []*domain.Question
	for rows.Next() {
		question := &domain.Question{}
		if err := rows.Scan(&question.ID, &question.Title); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, question)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}

	for _, question := range questions {
		answers, err := s.questionAnswers(ctx, question.ID)
		if err != nil {
			return nil, err
		}
		question.Answers = answers
	}
	return questions, nil
}

func (s *Store) questionAnswers(ctx context.Context, questionID int64) ([]domain.Answer, error) {
	rows, err := s.db.Query(ctx,
		`SELECT title FROM answers WHERE question_id = $1 ORDER BY id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.Title); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}
	return answers, nil
}

func (s *Store) memberName(ctx context.Context, chatID, userID int64) string {
	var name string
	err := s.db.QueryRow(ctx,
		`SELECT display_name FROM chat_members WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID).Scan(&name)
	if err != nil {
		return ""
	}
	return name
}
