package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino/schema"

	"parley/src/logger"
	"parley/src/model"
	"parley/src/storage"
)

// Key layout. Every core-owned key starts with KeyPrefix.
const (
	KeyPrefix     = "parley:"
	StateKey      = KeyPrefix + "state"
	ChatKeyPrefix = KeyPrefix + "chat:"
)

// ChatKey is the name of the session-scoped raw message history blob.
func ChatKey(sessionID int64) string {
	return ChatKeyPrefix + strconv.FormatInt(sessionID, 10)
}

// ChatHistory is the session-scoped blob
type ChatHistory struct {
	SessionID int64             `json:"sessionId"`
	Messages  []*schema.Message `json:"messages"`
}

// Persister moves AppState in and out of a Store.
type Persister struct {
	store storage.Store
}

func NewPersister(store storage.Store) *Persister {
	return &Persister{store: store}
}

// Load reads the main blob and reconciles it. A missing blob yields a fresh state. When the
// session blob of the active session holds a longer history than the main blob (the process
// died between a turn and the next save) the session blob wins.
func (p *Persister) Load(ctx context.Context) (*model.AppState, error) {
	var loaded model.AppState
	err := storage.GetJSON(ctx, p.store, StateKey, &loaded)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Info().Msg("No saved state, starting fresh")
			return model.NewAppState(), nil
		}
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	st := Reconcile(&loaded)

	history, err := p.LoadChat(ctx, st.ChatSessionID)
	if err != nil {
		logger.Warn().Err(err).Int64("session_id", st.ChatSessionID).Msg("Ignoring unreadable chat history")
	} else if history != nil && len(history.Messages) > len(st.ChatMessages) {
		st = Reconcile(&model.AppState{
			Characters:      st.Characters,
			PlayerPersonas:  st.PlayerPersonas,
			Selections:      st.Selections,
			ChatMessages:    history.Messages,
			ChatSessionID:   st.ChatSessionID,
			CumulativeDelta: st.CumulativeDelta,
		})
	}

	logger.Info().
		Int("characters", len(st.Characters)).
		Int("personas", len(st.PlayerPersonas)).
		Int64("session_id", st.ChatSessionID).
		Msg("State loaded")
	return st, nil
}

// Save writes the main blob. The in-memory state is left untouched on failure so the caller
// may retry.
func (p *Persister) Save(ctx context.Context, st *model.AppState) error {
	if err := storage.SetJSON(ctx, p.store, StateKey, st); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// SaveChat writes the session-scoped history blob.
func (p *Persister) SaveChat(ctx context.Context, sessionID int64, messages []*schema.Message) error {
	history := ChatHistory{SessionID: sessionID, Messages: messages}
	if err := storage.SetJSON(ctx, p.store, ChatKey(sessionID), history); err != nil {
		return fmt.Errorf("failed to save chat history: %w", err)
	}
	return nil
}

// LoadChat returns nil, nil when the session has no blob.
func (p *Persister) LoadChat(ctx context.Context, sessionID int64) (*ChatHistory, error) {
	var history ChatHistory
	err := storage.GetJSON(ctx, p.store, ChatKey(sessionID), &history)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &history, nil
}

// EvictChat removes the session-scoped blob of sessionID.
func (p *Persister) EvictChat(ctx context.Context, sessionID int64) error {
	if err := p.store.Remove(ctx, ChatKey(sessionID)); err != nil {
		return fmt.Errorf("failed to evict chat history: %w", err)
	}
	return nil
}

// Reset removes every core-owned key.
func (p *Persister) Reset(ctx context.Context) error {
	n, err := storage.RemovePrefix(ctx, p.store, KeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to reset state: %w", err)
	}
	logger.Info().Int("keys_removed", n).Msg("All data reset")
	return nil
}
