package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/glebk/quiz-bot/internal/domain"
)

// CreateSessionIfAbsent registers the chat; repeated calls are no-ops.
func (s *Store) CreateSessionIfAbsent(ctx context.Context, chatID int64) error {
	query := `
		INSERT INTO sessions (chat_id) VALUES (?)
		ON CONFLICT(chat_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, chatID); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// StartRound creates the active round for the chat. The chat_id primary
// key on active_round turns a racing second start into domain.ErrConflict.
func (s *Store) StartRound(ctx context.Context, chatID, questionID, leadID int64, startedAt time.Time) (*domain.Round, error) {
	query := `
		INSERT INTO active_round (chat_id, question_id, started_at, lead_id)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, chatID, questionID, startedAt.Unix(), leadID)
	if isUniqueViolation(err) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start round: %w", err)
	}

	return s.GetActiveRound(ctx, chatID)
}

// GetActiveRound retrieves the chat's active round with its question,
// captain and pending respondent resolved.
func (s *Store) GetActiveRound(ctx context.Context, chatID int64) (*domain.Round, error) {
	query := `
		SELECT ar.question_id, q.title, ar.started_at, ar.lead_id, ar.respondent_id, ar.completed, ar.correct
		FROM active_round ar
		JOIN questions q ON q.id = ar.question_id
		WHERE ar.chat_id = ?
	`

	round := &domain.Round{ChatID: chatID}
	var startedAt int64
	var respondentID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, chatID).Scan(
		&round.Question.ID,
		&round.Question.Title,
		&startedAt,
		&round.Lead.ID,
		&respondentID,
		&round.Completed,
		&round.Correct,
	)
	if err == sql.ErrNoRows {
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

	if respondentID.Valid {
		round.Respondent = &domain.User{
			ID:   respondentID.Int64,
			Name: s.memberName(ctx, chatID, respondentID.Int64),
		}
	}

	return round, nil
}

// ListActiveRounds returns every chat's active round, for recovery.
// A round that cannot be loaded (an orphaned row, for example) is logged
// and skipped so one broken chat never blocks the rest.
func (s *Store) ListActiveRounds(ctx context.Context) ([]*domain.Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM active_round`)
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

// AssignRespondent creates or overwrites the pending respondent.
func (s *Store) AssignRespondent(ctx context.Context, chatID, userID int64) error {
	query := `UPDATE active_round SET respondent_id = ? WHERE chat_id = ?`

	result, err := s.db.ExecContext(ctx, query, userID, chatID)
	if err != nil {
		return fmt.Errorf("failed to assign respondent: %w", err)
	}
	return requireRow(result)
}

// ClearRespondent removes the pending respondent, if any.
func (s *Store) ClearRespondent(ctx context.Context, chatID int64) error {
	query := `UPDATE active_round SET respondent_id = NULL WHERE chat_id = ?`

	if _, err := s.db.ExecContext(ctx, query, chatID); err != nil {
		return fmt.Errorf("failed to clear respondent: %w", err)
	}
	return nil
}

// IncrementScore atomically bumps the round counters. Returns
// domain.ErrNotFound when the round is already gone, so a late answer
// can be dropped as stale.
func (s *Store) IncrementScore(ctx context.Context, chatID int64, correct bool) error {
	query := `
		UPDATE active_round
		SET completed = completed + 1, correct = correct + ?
		WHERE chat_id = ?
	`

	delta := 0
	if correct {
		delta = 1
	}

	result, err := s.db.ExecContext(ctx, query, delta, chatID)
	if err != nil {
		return fmt.Errorf("failed to increment score: %w", err)
	}
	return requireRow(result)
}

// RestartRound swaps in a new question and clears the respondent in one
// statement, keeping the score counters.
func (s *Store) RestartRound(ctx context.Context, chatID, questionID int64, startedAt time.Time) error {
	query := `
		UPDATE active_round
		SET question_id = ?, started_at = ?, respondent_id = NULL
		WHERE chat_id = ?
	`

	result, err := s.db.ExecContext(ctx, query, questionID, startedAt.Unix(), chatID)
	if err != nil {
		return fmt.Errorf("failed to restart round: %w", err)
	}
	return requireRow(result)
}

// StopRound moves the round's counters into last_round and deletes the
// round, atomically.
func (s *Store) StopRound(ctx context.Context, chatID int64) (*domain.LastRoundSummary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT ar.lead_id, COALESCE(cm.display_name, ''), ar.completed, ar.correct
		FROM active_round ar
		LEFT JOIN chat_members cm ON cm.chat_id = ar.chat_id AND cm.user_id = ar.lead_id
		WHERE ar.chat_id = ?
	`

	summary := &domain.LastRoundSummary{ChatID: chatID}
	err = tx.QueryRowContext(ctx, query, chatID).Scan(
		&summary.Lead.ID,
		&summary.Lead.Name,
		&summary.Completed,
		&summary.Correct,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active round: %w", err)
	}

	upsert := `
		INSERT INTO last_round (chat_id, lead_id, lead_name, completed, correct)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			lead_id = excluded.lead_id,
			lead_name = excluded.lead_name,
			completed = excluded.completed,
			correct = excluded.correct
	`
	if _, err := tx.ExecContext(ctx, upsert,
		chatID, summary.Lead.ID, summary.Lead.Name, summary.Completed, summary.Correct); err != nil {
		return nil, fmt.Errorf("failed to save last round: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_round WHERE chat_id = ?`, chatID); err != nil {
		return nil, fmt.Errorf("failed to delete active round: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit stop: %w", err)
	}
	return summary, nil
}

// GetLastSummary returns the retained summary of the chat's most recently
// finished session.
func (s *Store) GetLastSummary(ctx context.Context, chatID int64) (*domain.LastRoundSummary, error) {
	query := `
		SELECT lead_id, lead_name, completed, correct
		FROM last_round
		WHERE chat_id = ?
	`

	summary := &domain.LastRoundSummary{ChatID: chatID}
	err := s.db.QueryRowContext(ctx, query, chatID).Scan(
		&summary.Lead.ID,
		&summary.Lead.Name,
		&summary.Completed,
		&summary.Correct,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last round: %w", err)
	}
	return summary, nil
}

// AddChatMember records chat membership, refreshing the display name.
func (s *Store) AddChatMember(ctx context.Context, chatID int64, user domain.User) error {
	query := `
		INSERT INTO chat_members (chat_id, user_id, display_name)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET display_name = excluded.display_name
	`

	if _, err := s.db.ExecContext(ctx, query, chatID, user.ID, user.Name); err != nil {
		return fmt.Errorf("failed to add chat member: %w", err)
	}
	return nil
}

// PickRandomMember selects a uniformly random member of the chat.
func (s *Store) PickRandomMember(ctx context.Context, chatID int64) (*domain.User, error) {
	query := `
		SELECT user_id, display_name
		FROM chat_members
		WHERE chat_id = ?
		ORDER BY RANDOM()
		LIMIT 1
	`

	user := &domain.User{}
	err := s.db.QueryRowContext(ctx, query, chatID).Scan(&user.ID, &user.Name)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick random member: %w", err)
	}
	return user, nil
}

// PickRandomQuestion selects a uniformly random question from the bank.
func (s *Store) PickRandomQuestion(ctx context.Context) (*domain.Question, error) {
	query := `SELECT id, title FROM questions ORDER BY RANDOM() LIMIT 1`

	question := &domain.Question{}
	err := s.db.QueryRowContext(ctx, query).Scan(&question.ID, &question.Title)
	if err == sql.ErrNoRows {
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

// FindUserByName resolves a display name within a chat.
func (s *Store) FindUserByName(ctx context.Context, chatID int64, name string) (*domain.User, error) {
	query := `
		SELECT user_id, display_name
		FROM chat_members
		WHERE chat_id = ? AND display_name = ?
		LIMIT 1
	`

	user := &domain.User{}
	err := s.db.QueryRowContext(ctx, query, chatID, name).Scan(&user.ID, &user.Name)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// CreateQuestion adds a question and its answers to the bank.
func (s *Store) CreateQuestion(ctx context.Context, title string, answers []domain.Answer) (*domain.Question, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT INTO questions (title) VALUES (?)`, title)
	if isUniqueViolation(err) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get question ID: %w", err)
	}

	for _, a := range answers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO answers (question_id, title) VALUES (?, ?)`, id, a.Title); err != nil {
			return nil, fmt.Errorf("failed to create answer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit question: %w", err)
	}

	return &domain.Question{ID: id, Title: title, Answers: answers}, nil
}

// ListQuestions returns the whole question bank.
func (s *Store) ListQuestions(ctx context.Context) ([]*domain.Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM questions ORDER BY id`)
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

// questionAnswers loads the answers of one question in insertion order.
func (s *Store) questionAnswers(ctx context.Context, questionID int64) ([]domain.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title FROM answers WHERE question_id = ? ORDER BY id`, questionID)
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

// memberName looks up a member's display name, empty when unknown.
func (s *Store) memberName(ctx context.Context, chatID, userID int64) string {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name FROM chat_members WHERE chat_id = ? AND user_id = ?`,
		chatID, userID).Scan(&name)
	if err != nil {
		return ""
	}
	return name
}

// requireRow converts "no rows affected" into domain.ErrNotFound.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
