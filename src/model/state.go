package model

import "github.com/cloudwego/eino/schema"

// Selections are the in-memory copies of the character and persona picked for chatting.
type Selections struct {
	Character *Character `json:"character"`
	Persona   *Persona   `json:"persona"`
}

// AppState is the single owned state container shared by the repository, ledger, accumulator
// and session manager. It is also the shape of the main persisted blob.
type AppState struct {
	Characters      []Character       `json:"characters"`
	PlayerPersonas  []Persona         `json:"playerPersonas"`
	Selections      Selections        `json:"selections"`
	ChatMessages    []*schema.Message `json:"chatMessages"`
	ChatSessionID   int64             `json:"chatSessionId"`
	CumulativeDelta *Delta            `json:"cumulativeRelationshipDelta"`
}

// NewAppState returns an empty state at session 1.
func NewAppState() *AppState {
	return &AppState{
		Characters:     []Character{},
		PlayerPersonas: []Persona{},
		ChatMessages:   []*schema.Message{},
		ChatSessionID:  1,
	}
}

// Exchange is one user message and the assistant reply it produced
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// DeltaInput carries everything the delta generator needs to judge one exchange.
type DeltaInput struct {
	Character Character
	Persona   Persona
	History   []*schema.Message // messages before the exchange
	Exchange  Exchange
	Current   *Relationship // committed relationship, nil when the pair has never met
}

// TurnInput carries everything the responder needs to write the character's reply.
type TurnInput struct {
	Character Character
	Persona   Persona
	History   []*schema.Message // includes the new user message as the last entry
	Current   *Relationship
}

// SummaryInput is a finished session handed to the summarizer on commit.
type SummaryInput struct {
	Character Character
	Persona   Persona
	History   []*schema.Message
	Delta     Delta
}
