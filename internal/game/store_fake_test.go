package game

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/glebk/quiz-bot/internal/domain"
)

// fakeStore is an in-memory SessionStore with the same contract as the
// real repositories: one active round per chat, atomic counter updates,
// explicit ErrNotFound/ErrConflict kinds.
type fakeStore struct {
	mu sync.Mutex

	sessions  map[int64]bool
	rounds    map[int64]*roundRow
	members   map[int64]map[int64]string
	summaries map[int64]*domain.LastRoundSummary
	questions []*domain.Question
	nextPick  int

	// failWith, when set, makes every mutating call fail.
	failWith error

	// failRestartWith, when set, fails only RestartRound, so the window
	// between a scored answer and the next round can be tested.
	failRestartWith error
}

var _ domain.SessionStore = (*fakeStore)(nil)

type roundRow struct {
	questionID int64
	startedAt  time.Time
	leadID     int64
	respondent *int64
	completed  int64
	correct    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  make(map[int64]bool),
		rounds:    make(map[int64]*roundRow),
		members:   make(map[int64]map[int64]string),
		summaries: make(map[int64]*domain.LastRoundSummary),
	}
}

func (f *fakeStore) addQuestion(id int64, title string, answers ...string) {
	q := &domain.Question{ID: id, Title: title}
	for _, a := range answers {
		q.Answers = append(q.Answers, domain.Answer{Title: a})
	}
	f.questions = append(f.questions, q)
}

func (f *fakeStore) questionByID(id int64) *domain.Question {
	for _, q := range f.questions {
		if q.ID == id {
			return q
		}
	}
	return nil
}

func (f *fakeStore) CreateSessionIfAbsent(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.sessions[chatID] = true
	return nil
}

func (f *fakeStore) StartRound(ctx context.Context, chatID, questionID, leadID int64, startedAt time.Time) (*domain.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if _, ok := f.rounds[chatID]; ok {
		return nil, domain.ErrConflict
	}
	f.rounds[chatID] = &roundRow{questionID: questionID, startedAt: startedAt, leadID: leadID}
	return f.buildRound(chatID), nil
}

func (f *fakeStore) GetActiveRound(ctx context.Context, chatID int64) (*domain.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rounds[chatID]; !ok {
		return nil, domain.ErrNotFound
	}
	return f.buildRound(chatID), nil
}

func (f *fakeStore) ListActiveRounds(ctx context.Context) ([]*domain.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var chatIDs []int64
	for chatID := range f.rounds {
		chatIDs = append(chatIDs, chatID)
	}
	sort.Slice(chatIDs, func(i, j int) bool { return chatIDs[i] < chatIDs[j] })
	var rounds []*domain.Round
	for _, chatID := range chatIDs {
		// Mirror the real stores: a round whose question is gone is skipped.
		if f.questionByID(f.rounds[chatID].questionID) == nil {
			continue
		}
		rounds = append(rounds, f.buildRound(chatID))
	}
	return rounds, nil
}

// buildRound materializes a fresh Round value so engine-side mutation
// never aliases store state. Caller holds the lock.
func (f *fakeStore) buildRound(chatID int64) *domain.Round {
	row := f.rounds[chatID]
	round := &domain.Round{
		ChatID:    chatID,
		StartedAt: row.startedAt,
		Lead:      domain.User{ID: row.leadID, Name: f.members[chatID][row.leadID]},
		Completed: row.completed,
		Correct:   row.correct,
	}
	if q := f.questionByID(row.questionID); q != nil {
		round.Question = *q
	}
	if row.respondent != nil {
		round.Respondent = &domain.User{ID: *row.respondent, Name: f.members[chatID][*row.respondent]}
	}
	return round
}

func (f *fakeStore) AssignRespondent(ctx context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	row, ok := f.rounds[chatID]
	if !ok {
		return domain.ErrNotFound
	}
	row.respondent = &userID
	return nil
}

func (f *fakeStore) ClearRespondent(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rounds[chatID]; ok {
		row.respondent = nil
	}
	return nil
}

func (f *fakeStore) IncrementScore(ctx context.Context, chatID int64, correct bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	row, ok := f.rounds[chatID]
	if !ok {
		return domain.ErrNotFound
	}
	row.completed++
	if correct {
		row.correct++
	}
	return nil
}

func (f *fakeStore) RestartRound(ctx context.Context, chatID, questionID int64, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRestartWith != nil {
		return f.failRestartWith
	}
	if f.failWith != nil {
		return f.failWith
	}
	row, ok := f.rounds[chatID]
	if !ok {
		return domain.ErrNotFound
	}
	row.questionID = questionID
	row.startedAt = startedAt
	row.respondent = nil
	return nil
}

func (f *fakeStore) StopRound(ctx context.Context, chatID int64) (*domain.LastRoundSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	row, ok := f.rounds[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	summary := &domain.LastRoundSummary{
		ChatID:    chatID,
		Lead:      domain.User{ID: row.leadID, Name: f.members[chatID][row.leadID]},
		Completed: row.completed,
		Correct:   row.correct,
	}
	delete(f.rounds, chatID)
	f.summaries[chatID] = summary
	return summary, nil
}

func (f *fakeStore) GetLastSummary(ctx context.Context, chatID int64) (*domain.LastRoundSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary, ok := f.summaries[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return summary, nil
}

func (f *fakeStore) AddChatMember(ctx context.Context, chatID int64, user domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if f.members[chatID] == nil {
		f.members[chatID] = make(map[int64]string)
	}
	f.members[chatID][user.ID] = user.Name
	return nil
}

// PickRandomMember is deterministic in the fake: lowest user id wins.
func (f *fakeStore) PickRandomMember(ctx context.Context, chatID int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.members[chatID]
	if len(members) == 0 {
		return nil, domain.ErrNotFound
	}
	var ids []int64
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &domain.User{ID: ids[0], Name: members[ids[0]]}, nil
}

// PickRandomQuestion cycles through the bank so a restarted round gets a
// different question.
func (f *fakeStore) PickRandomQuestion(ctx context.Context) (*domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.questions) == 0 {
		return nil, domain.ErrNotFound
	}
	q := f.questions[f.nextPick%len(f.questions)]
	f.nextPick++
	return q, nil
}

func (f *fakeStore) FindUserByName(ctx context.Context, chatID int64, name string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, memberName := range f.members[chatID] {
		if memberName == name {
			return &domain.User{ID: id, Name: memberName}, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) CreateQuestion(ctx context.Context, title string, answers []domain.Answer) (*domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.questions {
		if q.Title == title {
			return nil, domain.ErrConflict
		}
	}
	q := &domain.Question{ID: int64(len(f.questions) + 1), Title: title, Answers: answers}
	f.questions = append(f.questions, q)
	return q, nil
}

func (f *fakeStore) ListQuestions(ctx context.Context) ([]*domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Question(nil), f.questions...), nil
}
