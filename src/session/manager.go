// Package session drives one chat between a selected character and persona: turns, the
// asynchronous delta pipeline, commits and session rollover.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"parley/src/logger"
	"parley/src/model"
	"parley/src/relationship"
	"parley/src/repository"
	"parley/src/state"
)

var (
	ErrNotReady          = errors.New("select a character and a persona first")
	ErrTurnInProgress    = errors.New("a turn is already in progress")
	ErrSessionInProgress = errors.New("the current chat already has messages, start a new chat to switch")
	ErrSessionChanged    = errors.New("the chat session changed")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrUnknownCharacter  = errors.New("the selected character no longer exists")
	ErrClosed            = errors.New("session manager is closed")
)

// Phase is the lifecycle position of the current chat.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSelecting
	PhaseActive
	PhaseTurn
	PhaseEnding
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSelecting:
		return "selecting"
	case PhaseActive:
		return "active"
	case PhaseTurn:
		return "turn"
	case PhaseEnding:
		return "ending"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Responder writes the character's reply, streaming chunks to onChunk.
type Responder interface {
	Respond(ctx context.Context, in model.TurnInput, onChunk func(string)) (string, error)
}

// DeltaGenerator judges one exchange.
type DeltaGenerator interface {
	Generate(ctx context.Context, in model.DeltaInput) (model.Delta, error)
}

// Summarizer narrates a session on commit.
type Summarizer interface {
	Summarize(ctx context.Context, in model.SummaryInput) (string, error)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSummarizer appends a summary of the session to the relationship on every commit.
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) { m.summarizer = s }
}

// WithClock replaces time.Now for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the chat session stored in an AppState. It is driven by a single caller; the
// mutex only guards what the delta worker shares with that caller.
type Manager struct {
	mu sync.Mutex

	state       *model.AppState
	repo        *repository.Repository
	ledger      *relationship.Ledger
	accumulator *relationship.Accumulator
	persister   *state.Persister

	responder  Responder
	deltas     DeltaGenerator
	summarizer Summarizer

	queueSize int
	queue     *deltaQueue
	inTurn    bool
	ending    bool
	closed    bool
	now       func() time.Time
}

// NewManager builds a manager over st, which must already be reconciled. The repository,
// ledger and accumulator are created over the same state.
func NewManager(st *model.AppState, persister *state.Persister, responder Responder, deltas DeltaGenerator, cfg model.SessionConfig, opts ...Option) *Manager {
	repo := repository.New(st)
	m := &Manager{
		state:       st,
		repo:        repo,
		ledger:      relationship.NewLedger(repo),
		accumulator: relationship.NewAccumulator(st),
		persister:   persister,
		responder:   responder,
		deltas:      deltas,
		queueSize:   cfg.DeltaQueueSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.queue = newDeltaQueue(st.ChatSessionID, m.queueSize, m.runDelta)
	return m
}

// ====================== Read views ======================

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phaseLocked()
}

func (m *Manager) phaseLocked() Phase {
	sel := m.state.Selections
	switch {
	case m.ending:
		return PhaseEnding
	case m.inTurn:
		return PhaseTurn
	case sel.Character != nil && sel.Persona != nil:
		return PhaseActive
	case sel.Character != nil || sel.Persona != nil:
		return PhaseSelecting
	}
	return PhaseIdle
}

func (m *Manager) SessionID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ChatSessionID
}

// Messages returns a copy of the current history.
func (m *Manager) Messages() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyMessages(m.state.ChatMessages)
}

// Selection returns copies of the selected character and persona; either may be nil.
func (m *Manager) Selection() (*model.Character, *model.Persona) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c *model.Character
	var p *model.Persona
	if sel := m.state.Selections.Character; sel != nil {
		copied := sel.Clone()
		c = &copied
	}
	if sel := m.state.Selections.Persona; sel != nil {
		copied := sel.Clone()
		p = &copied
	}
	return c, p
}

func (m *Manager) Characters() []model.Character {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo.Characters()
}

func (m *Manager) Personas() []model.Persona {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo.Personas()
}

// Relationship returns the committed relationship of the selected pair.
func (m *Manager) Relationship() (model.Relationship, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel := m.state.Selections
	if sel.Character == nil || sel.Persona == nil {
		return model.Relationship{}, false
	}
	return m.ledger.Find(sel.Character.ID, sel.Persona.ID)
}

// CumulativeDelta returns the uncommitted delta of the session.
func (m *Manager) CumulativeDelta() (model.Delta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accumulator.Peek()
}

// PendingDeltas returns the number of exchanges waiting for judgement.
func (m *Manager) PendingDeltas() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Pending()
}

// ====================== Selection ======================

// SelectCharacter picks the character to chat with. Once the chat has messages only the current
// character can be selected again.
func (m *Manager) SelectCharacter(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSelectableLocked(); err != nil {
		return err
	}

	c, ok := m.repo.Character(id)
	if !ok {
		return fmt.Errorf("character %q not found", id)
	}
	if cur := m.state.Selections.Character; len(m.state.ChatMessages) > 0 && (cur == nil || cur.ID != id) {
		return ErrSessionInProgress
	}
	m.state.Selections.Character = &c
	logger.Info().Str("character_id", id).Str("phase", m.phaseLocked().String()).Msg("Character selected")
	return nil
}

// SelectPersona picks the persona the player speaks as, with the same rules as SelectCharacter.
func (m *Manager) SelectPersona(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSelectableLocked(); err != nil {
		return err
	}

	p, ok := m.repo.Persona(id)
	if !ok {
		return fmt.Errorf("persona %q not found", id)
	}
	if cur := m.state.Selections.Persona; len(m.state.ChatMessages) > 0 && (cur == nil || cur.ID != id) {
		return ErrSessionInProgress
	}
	m.state.Selections.Persona = &p
	logger.Info().Str("persona_id", id).Str("phase", m.phaseLocked().String()).Msg("Persona selected")
	return nil
}

func (m *Manager) checkSelectableLocked() error {
	if m.closed {
		return ErrClosed
	}
	if m.inTurn {
		return ErrTurnInProgress
	}
	return nil
}

// ====================== Roster ======================

// The roster edits below go through the repository under the manager's lock, so the selection
// copies follow the stored records.

func (m *Manager) AddCharacter(c model.Character) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo.AddCharacter(c)
}

func (m *Manager) UpdateCharacter(c model.Character) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repo.UpdateCharacter(c)
}

// DeleteCharacter removes the character and its relationships. Deleting the selected character
// clears the selection; the chat's messages stay until the next NewChat.
func (m *Manager) DeleteCharacter(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repo.DeleteCharacter(id)
}

func (m *Manager) AddPersona(p model.Persona) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo.AddPersona(p)
}

func (m *Manager) UpdatePersona(p model.Persona) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repo.UpdatePersona(p)
}

func (m *Manager) DeletePersona(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repo.DeletePersona(id)
}

// ====================== Turn ======================

// Send runs one turn: the user message is appended, the reply is streamed through onChunk and
// appended, the session history blob is written, and the exchange is queued for delta
// judgement. A failed reply removes the user message again. A failed history write is returned
// together with the reply; the turn itself stands.
func (m *Manager) Send(ctx context.Context, text string, onChunk func(string)) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if m.inTurn {
		m.mu.Unlock()
		return "", ErrTurnInProgress
	}
	sel := m.state.Selections
	if sel.Character == nil || sel.Persona == nil {
		m.mu.Unlock()
		return "", ErrNotReady
	}

	character := sel.Character.Clone()
	persona := sel.Persona.Clone()
	var current *model.Relationship
	if rel, ok := m.ledger.Find(character.ID, persona.ID); ok {
		current = &rel
	}
	sessionID := m.state.ChatSessionID
	prior := copyMessages(m.state.ChatMessages)

	m.state.ChatMessages = append(m.state.ChatMessages, schema.UserMessage(text))
	turnHistory := copyMessages(m.state.ChatMessages)
	m.inTurn = true
	m.mu.Unlock()

	reply, err := m.responder.Respond(ctx, model.TurnInput{
		Character: character,
		Persona:   persona,
		History:   turnHistory,
		Current:   current,
	}, onChunk)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inTurn = false

	if m.state.ChatSessionID != sessionID {
		return "", ErrSessionChanged
	}
	if err != nil {
		m.state.ChatMessages = m.state.ChatMessages[:len(prior)]
		logger.Warn().Err(err).Int64("session_id", sessionID).Msg("Turn failed")
		return "", err
	}

	m.state.ChatMessages = append(m.state.ChatMessages, schema.AssistantMessage(reply, nil))

	if !m.closed {
		m.queue.Submit(model.DeltaInput{
			Character: character,
			Persona:   persona,
			History:   prior,
			Exchange:  model.Exchange{User: text, Assistant: reply},
			Current:   current,
		})
	}

	if err := m.persister.SaveChat(ctx, sessionID, m.state.ChatMessages); err != nil {
		return reply, err
	}
	return reply, nil
}

// runDelta is the queue worker body. It runs without the lock held.
func (m *Manager) runDelta(ctx context.Context, job deltaJob) {
	start := time.Now()
	d, err := m.deltas.Generate(ctx, job.input)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug().Int64("session_id", job.sessionID).Msg("Delta generation cancelled")
			return
		}
		logger.Warn().Err(err).Int64("session_id", job.sessionID).Msg("Delta generation failed, exchange dropped")
		return
	}
	m.mergeIfCurrent(ctx, job.sessionID, d)

	logger.Debug().
		Int64("session_id", job.sessionID).
		Dur("elapsed", time.Since(start)).
		Msg("Delta job settled")
}

// mergeIfCurrent merges d unless the session moved on while it was being generated.
func (m *Manager) mergeIfCurrent(ctx context.Context, sessionID int64, d model.Delta) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil || m.state.ChatSessionID != sessionID {
		logger.Info().
			Int64("delta_session_id", sessionID).
			Int64("current_session_id", m.state.ChatSessionID).
			Msg("Stale delta discarded")
		return false
	}
	m.accumulator.Merge(d)
	return true
}

// Flush waits until every queued exchange of the current session has been judged.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	q := m.queue
	m.mu.Unlock()
	return q.Wait(ctx)
}

// ====================== Commit ======================

// Commit waits for the queued exchanges, then applies the cumulative delta of the session to the
// selected pair's relationship, clears the accumulator and saves. It reports false when there
// was nothing to commit. With a summarizer configured a summary is appended as well; a summary
// failure is logged and the commit goes on.
func (m *Manager) Commit(ctx context.Context) (bool, error) {
	if err := m.Flush(ctx); err != nil {
		return false, err
	}

	m.mu.Lock()
	sel := m.state.Selections
	if sel.Character == nil || sel.Persona == nil {
		m.mu.Unlock()
		return false, ErrNotReady
	}
	pending, ok := m.accumulator.Peek()
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	characterID, personaID := sel.Character.ID, sel.Persona.ID
	sessionID := m.state.ChatSessionID
	summaryIn := model.SummaryInput{
		Character: sel.Character.Clone(),
		Persona:   sel.Persona.Clone(),
		History:   copyMessages(m.state.ChatMessages),
		Delta:     pending,
	}
	m.mu.Unlock()

	var summary string
	if m.summarizer != nil {
		text, err := m.summarizer.Summarize(ctx, summaryIn)
		if err != nil {
			logger.Warn().Err(err).Msg("Chat summary failed, committing without it")
		} else {
			summary = text
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ChatSessionID != sessionID {
		return false, ErrSessionChanged
	}
	d, ok := m.accumulator.Peek()
	if !ok {
		return false, nil
	}
	if !m.ledger.ApplyDelta(characterID, personaID, d) {
		return false, fmt.Errorf("commit to %q: %w", characterID, ErrUnknownCharacter)
	}
	if summary != "" {
		m.ledger.AppendSummary(characterID, personaID, model.ChatSummary{Text: summary, Timestamp: m.now()})
	}
	m.accumulator.Clear()

	if err := m.persister.Save(ctx, m.state); err != nil {
		return true, err
	}
	return true, nil
}

// ====================== Session rollover ======================

// NewChat ends the current session: the session id is incremented, selections and history are
// reset, the accumulator is cleared and queued delta work of the old session is cancelled.
// The old session's history blob is evicted and the state saved; their errors are returned
// after the in-memory rollover completed.
func (m *Manager) NewChat(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.inTurn {
		m.mu.Unlock()
		return ErrTurnInProgress
	}
	m.ending = true
	oldID := m.state.ChatSessionID
	old := m.queue
	old.Cancel()

	m.state.ChatSessionID++
	m.state.Selections = model.Selections{}
	m.state.ChatMessages = []*schema.Message{}
	m.accumulator.Clear()
	m.queue = newDeltaQueue(m.state.ChatSessionID, m.queueSize, m.runDelta)
	newID := m.state.ChatSessionID
	m.mu.Unlock()

	old.Stop()

	var errs []error
	if err := m.persister.EvictChat(ctx, oldID); err != nil {
		errs = append(errs, err)
	}

	m.mu.Lock()
	m.ending = false
	if err := m.persister.Save(ctx, m.state); err != nil {
		errs = append(errs, err)
	}
	m.mu.Unlock()

	logger.Info().Int64("old_session_id", oldID).Int64("session_id", newID).Msg("New chat started")
	return errors.Join(errs...)
}

// Save writes the whole state.
func (m *Manager) Save(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persister.Save(ctx, m.state)
}

// Reset cancels pending delta work, wipes every stored key and starts over from an empty state.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.inTurn {
		m.mu.Unlock()
		return ErrTurnInProgress
	}
	old := m.queue
	old.Cancel()
	*m.state = *model.NewAppState()
	m.queue = newDeltaQueue(m.state.ChatSessionID, m.queueSize, m.runDelta)
	m.mu.Unlock()

	old.Stop()
	return m.persister.Reset(ctx)
}

// Close stops the delta worker. Queued exchanges that have not been judged are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	q := m.queue
	q.Cancel()
	m.mu.Unlock()

	q.Stop()
}

func copyMessages(in []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, len(in))
	copy(out, in)
	return out
}
