package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/src/model"
	"parley/src/repository"
	"parley/src/state"
	"parley/src/storage"
)

// ====================== Fakes ======================

type fakeResponder struct {
	reply string
	err   error
	seen  []model.TurnInput
}

func (f *fakeResponder) Respond(_ context.Context, in model.TurnInput, onChunk func(string)) (string, error) {
	f.seen = append(f.seen, in)
	if f.err != nil {
		return "", f.err
	}
	if onChunk != nil {
		onChunk(f.reply)
	}
	return f.reply, nil
}

type deltaResult struct {
	delta model.Delta
	err   error
}

// scriptedDeltas returns its results in order and records how many calls overlapped.
type scriptedDeltas struct {
	mu       sync.Mutex
	results  []deltaResult
	calls    int
	inputs   []model.DeltaInput
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (s *scriptedDeltas) Generate(_ context.Context, in model.DeltaInput) (model.Delta, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxSeen.Load()
		if n <= cur || s.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(s.delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	if s.calls >= len(s.results) {
		return model.Delta{}, errors.New("no scripted result")
	}
	r := s.results[s.calls]
	s.calls++
	return r.delta, r.err
}

type failingStore struct {
	storage.Store
}

func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("disk full")
}

type fakeSummarizer struct {
	text string
	err  error
}

func (f fakeSummarizer) Summarize(context.Context, model.SummaryInput) (string, error) {
	return f.text, f.err
}

// ====================== Helpers ======================

var (
	politeGreeting    = model.Delta{Metrics: model.Metrics{Closeness: 5, Respect: 2, Engagement: 3}, Description: "polite greeting"}
	mildDisagreement  = model.Delta{Metrics: model.Metrics{Closeness: -2, Engagement: 1, Stability: -1}, Description: "mild disagreement"}
	sharedSecret      = model.Delta{Metrics: model.Metrics{Closeness: 10}, Description: "shared a secret"}
	expectedAfterTwo  = model.Delta{Metrics: model.Metrics{Closeness: 3, Respect: 2, Engagement: 4, Stability: -1}, Description: "polite greeting\nmild disagreement"}
	sessionTestConfig = model.SessionConfig{HistoryTurns: 10, DeltaQueueSize: 8}
)

func seededState() *model.AppState {
	st := model.NewAppState()
	repo := repository.New(st)
	repo.AddCharacter(model.Character{ID: "c", Name: "Mira"})
	repo.AddPersona(model.Persona{ID: "p", Profile: &model.PersonaProfile{Name: "Alex"}})
	return st
}

func newTestManager(t *testing.T, store storage.Store, responder Responder, deltas DeltaGenerator, opts ...Option) (*Manager, *model.AppState) {
	t.Helper()
	st := seededState()
	m := NewManager(st, state.NewPersister(store), responder, deltas, sessionTestConfig, opts...)
	t.Cleanup(m.Close)
	return m, st
}

func selectPair(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.SelectCharacter("c"))
	require.NoError(t, m.SelectPersona("p"))
}

// ====================== Selection ======================

func TestManager_Phases(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "hi"}, &scriptedDeltas{})

	assert.Equal(t, PhaseIdle, m.Phase())
	require.NoError(t, m.SelectCharacter("c"))
	assert.Equal(t, PhaseSelecting, m.Phase())
	require.NoError(t, m.SelectPersona("p"))
	assert.Equal(t, PhaseActive, m.Phase())

	require.NoError(t, m.NewChat(context.Background()))
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestManager_SelectUnknown(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "hi"}, &scriptedDeltas{})

	assert.Error(t, m.SelectCharacter("ghost"))
	assert.Error(t, m.SelectPersona("ghost"))
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestManager_SwitchRefusedMidChat(t *testing.T) {
	m, st := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "hi"}, &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}}})
	repository.New(st).AddCharacter(model.Character{ID: "other", Name: "Other"})
	selectPair(t, m)

	_, err := m.Send(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, m.SelectCharacter("other"), ErrSessionInProgress)
	assert.NoError(t, m.SelectCharacter("c"))
}

func TestManager_SendRequiresSelection(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "hi"}, &scriptedDeltas{})

	_, err := m.Send(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrNotReady)

	selectPair(t, m)
	_, err = m.Send(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

// ====================== Turns ======================

func TestManager_Send(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	responder := &fakeResponder{reply: "Hello, Alex."}
	deltas := &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}}}
	m, _ := newTestManager(t, store, responder, deltas)
	selectPair(t, m)

	var streamed string
	reply, err := m.Send(ctx, "Hi Mira!", func(s string) { streamed += s })
	require.NoError(t, err)
	assert.Equal(t, "Hello, Alex.", reply)
	assert.Equal(t, "Hello, Alex.", streamed)

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi Mira!", msgs[0].Content)
	assert.Equal(t, "Hello, Alex.", msgs[1].Content)

	require.Len(t, responder.seen, 1)
	assert.Len(t, responder.seen[0].History, 1)
	assert.Nil(t, responder.seen[0].Current)

	history, err := state.NewPersister(store).LoadChat(ctx, m.SessionID())
	require.NoError(t, err)
	require.NotNil(t, history)
	assert.Len(t, history.Messages, 2)

	require.NoError(t, m.Flush(ctx))
	require.Len(t, deltas.inputs, 1)
	assert.Empty(t, deltas.inputs[0].History)
	assert.Equal(t, model.Exchange{User: "Hi Mira!", Assistant: "Hello, Alex."}, deltas.inputs[0].Exchange)
	assert.Equal(t, "c", deltas.inputs[0].Character.ID)
	assert.Equal(t, "p", deltas.inputs[0].Persona.ID)

	d, ok := m.CumulativeDelta()
	require.True(t, ok)
	assert.Equal(t, politeGreeting, d)
}

func TestManager_ResponderFailureDropsHalfTurn(t *testing.T) {
	ctx := context.Background()
	responder := &fakeResponder{err: errors.New("network down")}
	deltas := &scriptedDeltas{}
	m, _ := newTestManager(t, storage.NewMemoryStore(), responder, deltas)
	selectPair(t, m)

	_, err := m.Send(ctx, "Hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	assert.Empty(t, m.Messages())
	assert.Equal(t, PhaseActive, m.Phase())

	require.NoError(t, m.Flush(ctx))
	assert.Empty(t, deltas.inputs)
}

func TestManager_HistorySaveFailureKeepsTurn(t *testing.T) {
	m, _ := newTestManager(t, failingStore{Store: storage.NewMemoryStore()}, &fakeResponder{reply: "ok"}, &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}}})
	selectPair(t, m)

	reply, err := m.Send(context.Background(), "Hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "ok", reply)
	assert.Len(t, m.Messages(), 2)
}

// ====================== Delta pipeline ======================

func TestManager_DeltasAccumulateSerially(t *testing.T) {
	ctx := context.Background()
	deltas := &scriptedDeltas{
		results: []deltaResult{{delta: politeGreeting}, {delta: mildDisagreement}},
		delay:   10 * time.Millisecond,
	}
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "..."}, deltas)
	selectPair(t, m)

	_, err := m.Send(ctx, "Nice to meet you", nil)
	require.NoError(t, err)
	_, err = m.Send(ctx, "I disagree", nil)
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))

	assert.Equal(t, int32(1), deltas.maxSeen.Load())
	d, ok := m.CumulativeDelta()
	require.True(t, ok)
	assert.Equal(t, expectedAfterTwo, d)

	require.Len(t, deltas.inputs, 2)
	assert.Len(t, deltas.inputs[1].History, 2)
}

func TestManager_FailedDeltaDropped(t *testing.T) {
	ctx := context.Background()
	deltas := &scriptedDeltas{results: []deltaResult{
		{delta: politeGreeting},
		{err: errors.New("malformed")},
		{delta: mildDisagreement},
	}}
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "..."}, deltas)
	selectPair(t, m)

	for _, text := range []string{"one", "two", "three"} {
		_, err := m.Send(ctx, text, nil)
		require.NoError(t, err)
	}
	require.NoError(t, m.Flush(ctx))

	d, ok := m.CumulativeDelta()
	require.True(t, ok)
	assert.Equal(t, expectedAfterTwo, d)
	assert.Len(t, m.Messages(), 6)
}

// blockingDeltas holds every call until release is closed, ignoring cancellation.
type blockingDeltas struct {
	started chan struct{}
	release chan struct{}
	delta   model.Delta
}

func (b *blockingDeltas) Generate(context.Context, model.DeltaInput) (model.Delta, error) {
	b.started <- struct{}{}
	<-b.release
	return b.delta, nil
}

func TestManager_StaleDeltaDiscardedAfterNewChat(t *testing.T) {
	ctx := context.Background()
	deltas := &blockingDeltas{started: make(chan struct{}, 1), release: make(chan struct{}), delta: sharedSecret}
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "..."}, deltas)
	selectPair(t, m)

	_, err := m.Send(ctx, "hello", nil)
	require.NoError(t, err)
	<-deltas.started
	oldID := m.SessionID()

	done := make(chan error, 1)
	go func() { done <- m.NewChat(ctx) }()

	require.Eventually(t, func() bool { return m.SessionID() == oldID+1 }, time.Second, time.Millisecond)
	close(deltas.release)
	require.NoError(t, <-done)

	_, ok := m.CumulativeDelta()
	assert.False(t, ok)
	assert.Empty(t, m.Messages())
}

func TestManager_MergeIfCurrent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "..."}, &scriptedDeltas{})
	oldID := m.SessionID()

	require.NoError(t, m.NewChat(ctx))
	assert.False(t, m.mergeIfCurrent(ctx, oldID, politeGreeting))
	_, ok := m.CumulativeDelta()
	assert.False(t, ok)

	assert.True(t, m.mergeIfCurrent(ctx, m.SessionID(), politeGreeting))
	d, ok := m.CumulativeDelta()
	require.True(t, ok)
	assert.Equal(t, politeGreeting, d)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, m.mergeIfCurrent(cancelled, m.SessionID(), mildDisagreement))
}

// ====================== Commit ======================

func TestManager_CommitScenarios(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	deltas := &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}, {delta: mildDisagreement}, {delta: sharedSecret}}}
	m, _ := newTestManager(t, store, &fakeResponder{reply: "..."}, deltas)
	selectPair(t, m)

	_, err := m.Send(ctx, "one", nil)
	require.NoError(t, err)
	_, err = m.Send(ctx, "two", nil)
	require.NoError(t, err)

	committed, err := m.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, committed)

	rel, ok := m.Relationship()
	require.True(t, ok)
	assert.Equal(t, expectedAfterTwo.Relationship("p"), rel)
	_, ok = m.CumulativeDelta()
	assert.False(t, ok)

	committed, err = m.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, committed)

	_, err = m.Send(ctx, "three", nil)
	require.NoError(t, err)
	committed, err = m.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, committed)

	rel, ok = m.Relationship()
	require.True(t, ok)
	assert.Equal(t, 13, rel.Closeness)
	assert.Equal(t, 2, rel.Respect)
	assert.Equal(t, "shared a secret", rel.Description)

	loaded, err := state.NewPersister(store).Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Characters, 1)
	require.Len(t, loaded.Characters[0].Relationships, 1)
	assert.Equal(t, 13, loaded.Characters[0].Relationships[0].Closeness)
	assert.Equal(t, 13, loaded.Selections.Character.Relationships[0].Closeness)
}

func TestManager_CommitPassesCommittedRelationshipToNextTurn(t *testing.T) {
	ctx := context.Background()
	responder := &fakeResponder{reply: "..."}
	deltas := &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}, {delta: sharedSecret}}}
	m, _ := newTestManager(t, storage.NewMemoryStore(), responder, deltas)
	selectPair(t, m)

	_, err := m.Send(ctx, "one", nil)
	require.NoError(t, err)
	_, err = m.Commit(ctx)
	require.NoError(t, err)

	_, err = m.Send(ctx, "two", nil)
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))

	require.NotNil(t, responder.seen[1].Current)
	assert.Equal(t, 5, responder.seen[1].Current.Closeness)
	require.NotNil(t, deltas.inputs[1].Current)
	assert.Equal(t, "polite greeting", deltas.inputs[1].Current.Description)
}

func TestManager_CommitWithSummary(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	deltas := &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}}}
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "..."}, deltas,
		WithSummarizer(fakeSummarizer{text: "They met."}),
		WithClock(func() time.Time { return at }),
	)
	selectPair(t, m)

	_, err := m.Send(ctx, "hi", nil)
	require.NoError(t, err)
	_, err = m.Commit(ctx)
	require.NoError(t, err)

	rel, ok := m.Relationship()
	require.True(t, ok)
	assert.Equal(t, []model.ChatSummary{{Text: "They met.", Timestamp: at}}, rel.Summaries)
}

func TestManager_CommitSummaryFailureIgnored(t *testing.T) {
	ctx := context.Background()
	deltas := &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}}}
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "..."}, deltas,
		WithSummarizer(fakeSummarizer{err: errors.New("timeout")}))
	selectPair(t, m)

	_, err := m.Send(ctx, "hi", nil)
	require.NoError(t, err)
	committed, err := m.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, committed)

	rel, _ := m.Relationship()
	assert.Empty(t, rel.Summaries)
}

func TestManager_CommitSaveFailure(t *testing.T) {
	ctx := context.Background()
	deltas := &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}}}
	m, _ := newTestManager(t, failingStore{Store: storage.NewMemoryStore()}, &fakeResponder{reply: "..."}, deltas)
	selectPair(t, m)

	_, _ = m.Send(ctx, "hi", nil)
	committed, err := m.Commit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, committed)

	rel, ok := m.Relationship()
	require.True(t, ok)
	assert.Equal(t, 5, rel.Closeness)
}

func TestManager_CommitRequiresSelection(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "..."}, &scriptedDeltas{})
	_, err := m.Commit(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

// ====================== Rollover ======================

func TestManager_NewChat(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	deltas := &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}}}
	m, st := newTestManager(t, store, &fakeResponder{reply: "..."}, deltas)
	selectPair(t, m)

	_, err := m.Send(ctx, "hi", nil)
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx))
	oldID := m.SessionID()

	require.NoError(t, m.NewChat(ctx))

	assert.Equal(t, oldID+1, m.SessionID())
	assert.Empty(t, m.Messages())
	c, p := m.Selection()
	assert.Nil(t, c)
	assert.Nil(t, p)
	_, ok := m.CumulativeDelta()
	assert.False(t, ok)
	assert.Nil(t, st.CumulativeDelta)

	_, err = store.Get(ctx, state.ChatKey(oldID))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	loaded, err := state.NewPersister(store).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, oldID+1, loaded.ChatSessionID)
}

func TestManager_Reset(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m, st := newTestManager(t, store, &fakeResponder{reply: "..."}, &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}}})
	selectPair(t, m)
	_, err := m.Send(ctx, "hi", nil)
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx))

	require.NoError(t, m.Reset(ctx))

	assert.Empty(t, m.Characters())
	assert.Empty(t, m.Personas())
	assert.Equal(t, int64(1), st.ChatSessionID)
	keys, err := store.Keys(ctx, state.KeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestManager_Close(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "..."}, &scriptedDeltas{})
	selectPair(t, m)
	m.Close()
	m.Close()

	_, err := m.Send(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.NewChat(context.Background()), ErrClosed)
}

// ====================== Roster and drift ======================

func TestManager_RosterEditsFollowSelection(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "..."}, &scriptedDeltas{})
	selectPair(t, m)

	m.UpdateCharacter(model.Character{ID: "c", Name: "Mira Vale"})
	m.UpdatePersona(model.Persona{ID: "p", Profile: &model.PersonaProfile{Name: "Alexis"}})
	c, p := m.Selection()
	require.NotNil(t, c)
	require.NotNil(t, p)
	assert.Equal(t, "Mira Vale", c.Name)
	assert.Equal(t, "Alexis", p.DisplayName())

	id := m.AddCharacter(model.Character{Name: "Dax"})
	assert.NotEmpty(t, id)
	assert.Equal(t, "sam", m.AddPersona(model.Persona{ID: "sam"}))
	assert.Len(t, m.Characters(), 2)
	assert.Len(t, m.Personas(), 2)

	m.DeleteCharacter("c")
	m.DeletePersona("p")
	c, p = m.Selection()
	assert.Nil(t, c)
	assert.Nil(t, p)
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestManager_DeletedCharacterCannotBeReplacedMidChat(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, storage.NewMemoryStore(), &fakeResponder{reply: "..."}, &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}}})
	m.AddCharacter(model.Character{ID: "other", Name: "Other"})
	selectPair(t, m)

	_, err := m.Send(ctx, "hi", nil)
	require.NoError(t, err)
	m.DeleteCharacter("c")

	assert.ErrorIs(t, m.SelectCharacter("other"), ErrSessionInProgress)
	require.NoError(t, m.NewChat(ctx))
	assert.NoError(t, m.SelectCharacter("other"))
}

func TestManager_CommitUnknownCharacterFails(t *testing.T) {
	ctx := context.Background()
	st := seededState()
	ghost := model.Character{ID: "ghost", Name: "Ghost", Relationships: []model.Relationship{}}
	persona := st.PlayerPersonas[0].Clone()
	st.Selections = model.Selections{Character: &ghost, Persona: &persona}

	deltas := &scriptedDeltas{results: []deltaResult{{delta: politeGreeting}}}
	m := NewManager(st, state.NewPersister(storage.NewMemoryStore()), &fakeResponder{reply: "..."}, deltas, sessionTestConfig)
	t.Cleanup(m.Close)

	_, err := m.Send(ctx, "hi", nil)
	require.NoError(t, err)

	committed, err := m.Commit(ctx)
	assert.False(t, committed)
	assert.ErrorIs(t, err, ErrUnknownCharacter)

	d, ok := m.CumulativeDelta()
	require.True(t, ok)
	assert.Equal(t, politeGreeting, d)
}

func TestManager_ReconciledOrphanSelectionIsNotActive(t *testing.T) {
	st := seededState()
	st.Selections = model.Selections{
		Character: &model.Character{ID: "ghost", Name: "Ghost"},
		Persona:   &model.Persona{ID: "p"},
	}
	st = state.Reconcile(st)

	m := NewManager(st, state.NewPersister(storage.NewMemoryStore()), &fakeResponder{reply: "..."}, &scriptedDeltas{}, sessionTestConfig)
	t.Cleanup(m.Close)

	assert.Equal(t, PhaseSelecting, m.Phase())
	_, err := m.Send(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrNotReady)
}
