package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/glebk/quiz-bot/internal/domain"
)

// Sender delivers outbound messages to a chat. Failures are the
// transport's problem; the engine only logs them.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// event is one unit of work on a chat's serial queue: either a command
// or a discussion-timer expiry.
type event struct {
	cmd *Command

	timeout bool
	// startedAt is the round generation the expired timer was armed for.
	startedAt time.Time
}

// Engine is the per-chat session state machine. All commands and timer
// fires for one chat are processed strictly one at a time by that chat's
// worker goroutine; different chats run fully in parallel. The engine is
// the only writer to its session map, and it updates in-memory state only
// after the store has confirmed the corresponding write.
type Engine struct {
	store   domain.SessionStore
	send    Sender
	timers  *Timers
	timeout time.Duration
	ctx     context.Context

	mu       sync.Mutex
	sessions map[int64]*domain.BotSession
	queues   map[int64]chan event
}

// NewEngine creates an engine with the given discussion timeout.
func NewEngine(store domain.SessionStore, send Sender, timeout time.Duration) *Engine {
	e := &Engine{
		store:    store,
		send:     send,
		timeout:  timeout,
		ctx:      context.Background(),
		sessions: make(map[int64]*domain.BotSession),
		queues:   make(map[int64]chan event),
	}
	e.timers = NewTimers(func(chatID int64, startedAt time.Time) {
		e.queue(chatID) <- event{timeout: true, startedAt: startedAt}
	})
	return e
}

// Dispatch hands a command to the owning chat's worker. It never blocks
// the caller for longer than the queue takes to drain.
func (e *Engine) Dispatch(cmd Command) {
	e.queue(cmd.ChatID) <- event{cmd: &cmd}
}

func (e *Engine) queue(chatID int64) chan event {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ok := e.queues[chatID]
	if !ok {
		ch = make(chan event, 64)
		e.queues[chatID] = ch
		go e.run(chatID, ch)
	}
	return ch
}

func (e *Engine) run(chatID int64, ch chan event) {
	for ev := range ch {
		e.handle(chatID, ev)
	}
}

// session returns the chat's in-memory state, creating it on first use.
// The returned struct is mutated only by the chat's own worker.
func (e *Engine) session(chatID int64) *domain.BotSession {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[chatID]
	if !ok {
		s = &domain.BotSession{ChatID: chatID}
		e.sessions[chatID] = s
	}
	return s
}

func (e *Engine) handle(chatID int64, ev event) {
	s := e.session(chatID)

	if ev.timeout {
		e.handleTimeout(s, ev.startedAt)
		return
	}

	switch ev.cmd.Kind {
	case CmdStart:
		e.handleStart(s, ev.cmd)
	case CmdStop:
		e.handleStop(s)
	case CmdAssign:
		e.handleAssign(s, ev.cmd)
	case CmdAnswer:
		e.handleAnswer(s, ev.cmd)
	case CmdInfo:
		e.handleInfo(s)
	case CmdJoin:
		e.handleJoin(s, ev.cmd)
	}
}

func (e *Engine) handleStart(s *domain.BotSession, cmd *Command) {
	if s.CurrentRound != nil {
		e.reportActive(s)
		return
	}

	if err := e.store.CreateSessionIfAbsent(e.ctx, s.ChatID); err != nil {
		e.reportStoreError(s.ChatID, "start", err)
		return
	}
	// The initiator always plays, so the pool is never empty for them.
	member := domain.User{ID: cmd.AuthorID, Name: cmd.AuthorName}
	if err := e.store.AddChatMember(e.ctx, s.ChatID, member); err != nil {
		e.reportStoreError(s.ChatID, "start", err)
		return
	}

	question, err := e.store.PickRandomQuestion(e.ctx)
	if errors.Is(err, domain.ErrNotFound) {
		e.reply(s.ChatID, "Нет доступных вопросов, игра пока невозможна")
		return
	}
	if err != nil {
		e.reportStoreError(s.ChatID, "start", err)
		return
	}

	lead, err := e.store.PickRandomMember(e.ctx, s.ChatID)
	if errors.Is(err, domain.ErrNotFound) {
		e.reply(s.ChatID, "В чате нет игроков, отправьте /join чтобы вступить в игру")
		return
	}
	if err != nil {
		e.reportStoreError(s.ChatID, "start", err)
		return
	}

	round, err := e.store.StartRound(e.ctx, s.ChatID, question.ID, lead.ID, cmd.At)
	if errors.Is(err, domain.ErrConflict) {
		// Someone else won the race; re-fetch and report instead of failing.
		round, err = e.store.GetActiveRound(e.ctx, s.ChatID)
		if err != nil {
			e.reportStoreError(s.ChatID, "start", err)
			return
		}
		s.CurrentRound = round
		// The adopted round needs its own countdown here too. Deadlines
		// already in the past are covered by reportActive's nudge.
		if deadline := round.StartedAt.Add(e.timeout); time.Now().Before(deadline) {
			e.timers.Start(s.ChatID, round.StartedAt, deadline)
		}
		e.reportActive(s)
		return
	}
	if err != nil {
		e.reportStoreError(s.ChatID, "start", err)
		return
	}

	s.CurrentRound = round
	e.timers.Start(s.ChatID, round.StartedAt, round.StartedAt.Add(e.timeout))
	e.reply(s.ChatID, fmt.Sprintf("Сессия начата! Раунд %d, вопрос: %s. Капитан: %s",
		round.Number(), round.Question.Title, round.Lead.Name))
}

// reportActive answers a /start while a round is already running. If the
// discussion deadline has passed and nobody was nominated, the nudge is
// repeated so a stuck chat can continue.
func (e *Engine) reportActive(s *domain.BotSession) {
	round := s.CurrentRound
	e.reply(s.ChatID, fmt.Sprintf("Сессия уже начата, вопрос: %s, капитан: %s",
		round.Question.Title, round.Lead.Name))
	if round.Respondent == nil && time.Now().After(round.StartedAt.Add(e.timeout)) {
		e.reply(s.ChatID, "Выберите отвечающего")
	}
}

func (e *Engine) handleAssign(s *domain.BotSession, cmd *Command) {
	round := s.CurrentRound
	if round == nil {
		e.reply(s.ChatID, "Сессия ещё не начата")
		return
	}
	if round.Respondent != nil {
		e.reply(s.ChatID, fmt.Sprintf("Отвечающий уже выбран: %s", round.Respondent.Name))
		return
	}
	if cmd.AuthorID != round.Lead.ID {
		e.reply(s.ChatID, "Только капитан может выбирать отвечающего")
		return
	}
	if cmd.Mention == "" {
		e.reply(s.ChatID, "Укажите пользователя")
		return
	}

	user, err := e.store.FindUserByName(e.ctx, s.ChatID, cmd.Mention)
	if errors.Is(err, domain.ErrNotFound) {
		e.reply(s.ChatID, fmt.Sprintf("Пользователь %s не в игре", cmd.Mention))
		return
	}
	if err != nil {
		e.reportStoreError(s.ChatID, "assign", err)
		return
	}

	if err := e.store.AssignRespondent(e.ctx, s.ChatID, user.ID); err != nil {
		e.reportStoreError(s.ChatID, "assign", err)
		return
	}

	// Nominating a respondent does not stop the discussion clock; only an
	// answer or a timeout does.
	round.Respondent = user
	e.reply(s.ChatID, fmt.Sprintf("Отвечает пользователь: %s", user.Name))
}

func (e *Engine) handleAnswer(s *domain.BotSession, cmd *Command) {
	round := s.CurrentRound
	if round == nil || round.Respondent == nil {
		return // chat noise
	}
	if cmd.AuthorID != round.Respondent.ID {
		return // only the nominated player answers, everyone else is ignored
	}

	correct := round.Question.Matches(cmd.Text)

	err := e.store.IncrementScore(e.ctx, s.ChatID, correct)
	if errors.Is(err, domain.ErrNotFound) {
		// The round was stopped concurrently; the answer is stale.
		s.CurrentRound = nil
		e.timers.Cancel(s.ChatID)
		return
	}
	if err != nil {
		log.Printf("chat %d: answer: %v", s.ChatID, err)
		return
	}

	e.timers.Cancel(s.ChatID)
	round.Completed++
	if correct {
		round.Correct++
		e.reply(s.ChatID, fmt.Sprintf("Верно! Счёт: %d из %d", round.Correct, round.Completed))
	} else {
		e.reply(s.ChatID, fmt.Sprintf("Неверно. Счёт: %d из %d", round.Correct, round.Completed))
	}

	question, err := e.store.PickRandomQuestion(e.ctx)
	if errors.Is(err, domain.ErrNotFound) {
		e.reply(s.ChatID, "Вопросы закончились, завершаем сессию")
		e.handleStop(s)
		return
	}
	if err != nil {
		e.clearAnsweredRespondent(s, round)
		e.reportStoreError(s.ChatID, "answer", err)
		return
	}

	now := time.Now()
	if err := e.store.RestartRound(e.ctx, s.ChatID, question.ID, now); err != nil {
		e.clearAnsweredRespondent(s, round)
		e.reportStoreError(s.ChatID, "answer", err)
		return
	}

	round.Question = *question
	round.StartedAt = now
	round.Respondent = nil
	e.timers.Start(s.ChatID, round.StartedAt, round.StartedAt.Add(e.timeout))
	e.reply(s.ChatID, fmt.Sprintf("Раунд %d, вопрос: %s. Капитан: %s",
		round.Number(), round.Question.Title, round.Lead.Name))
}

// clearAnsweredRespondent drops the respondent after their answer was
// scored but the next round could not be set up. Without this the same
// player could answer the same question a second time once the store
// recovers.
func (e *Engine) clearAnsweredRespondent(s *domain.BotSession, round *domain.Round) {
	if err := e.store.ClearRespondent(e.ctx, s.ChatID); err != nil {
		log.Printf("chat %d: clear respondent: %v", s.ChatID, err)
	}
	round.Respondent = nil
}

func (e *Engine) handleStop(s *domain.BotSession) {
	if s.CurrentRound == nil {
		e.reply(s.ChatID, "Сессия ещё не начата")
		return
	}

	summary, err := e.store.StopRound(e.ctx, s.ChatID)
	if errors.Is(err, domain.ErrNotFound) {
		// Already stopped in the store; reconcile memory.
		s.CurrentRound = nil
		e.timers.Cancel(s.ChatID)
		e.reply(s.ChatID, "Сессия ещё не начата")
		return
	}
	if err != nil {
		e.reportStoreError(s.ChatID, "stop", err)
		return
	}

	e.timers.Cancel(s.ChatID)
	s.CurrentRound = nil
	s.LastSummary = summary
	e.reply(s.ChatID, fmt.Sprintf("Сессия завершена! Капитан: %s, отвечено вопросов: %d, правильных: %d",
		summary.Lead.Name, summary.Completed, summary.Correct))
}

func (e *Engine) handleInfo(s *domain.BotSession) {
	if round := s.CurrentRound; round != nil {
		text := fmt.Sprintf("Раунд %d, вопрос: %s, капитан: %s",
			round.Number(), round.Question.Title, round.Lead.Name)
		if round.Respondent != nil {
			text += fmt.Sprintf(". Отвечает: %s", round.Respondent.Name)
		} else {
			text += ". Отвечающий ещё не выбран"
		}
		e.reply(s.ChatID, text)
		return
	}

	if s.LastSummary == nil {
		summary, err := e.store.GetLastSummary(e.ctx, s.ChatID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			e.reportStoreError(s.ChatID, "info", err)
			return
		}
		s.LastSummary = summary
	}
	if s.LastSummary == nil {
		e.reply(s.ChatID, "Сессия ещё не начата")
		return
	}
	e.reply(s.ChatID, fmt.Sprintf("Прошлая сессия — капитан: %s, отвечено вопросов: %d, правильных: %d",
		s.LastSummary.Lead.Name, s.LastSummary.Completed, s.LastSummary.Correct))
}

func (e *Engine) handleJoin(s *domain.BotSession, cmd *Command) {
	if err := e.store.CreateSessionIfAbsent(e.ctx, s.ChatID); err != nil {
		e.reportStoreError(s.ChatID, "join", err)
		return
	}
	member := domain.User{ID: cmd.AuthorID, Name: cmd.AuthorName}
	if err := e.store.AddChatMember(e.ctx, s.ChatID, member); err != nil {
		e.reportStoreError(s.ChatID, "join", err)
		return
	}
	e.reply(s.ChatID, fmt.Sprintf("%s в игре!", cmd.AuthorName))
}

// handleTimeout reacts to a discussion-timer expiry. A fire armed for a
// round that has since been restarted or answered is stale and ignored;
// a timeout never ends the round by itself.
func (e *Engine) handleTimeout(s *domain.BotSession, startedAt time.Time) {
	round := s.CurrentRound
	if round == nil {
		return
	}
	if !round.StartedAt.Equal(startedAt) {
		return // stale fire from a superseded round
	}
	if round.Respondent != nil {
		return // an answer is already pending
	}
	e.reply(s.ChatID, "Выберите отвечающего")
}

func (e *Engine) reply(chatID int64, text string) {
	if err := e.send.SendMessage(chatID, text); err != nil {
		log.Printf("chat %d: send failed: %v", chatID, err)
	}
}

func (e *Engine) reportStoreError(chatID int64, op string, err error) {
	log.Printf("chat %d: %s: %v", chatID, op, err)
	e.reply(chatID, "Что-то пошло не так, попробуйте ещё раз")
}
