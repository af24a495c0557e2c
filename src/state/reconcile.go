// Package state loads, normalizes and saves the application state blob.
package state

import (
	"github.com/cloudwego/eino/schema"

	"parley/src/model"
)

// Reconcile normalizes a freshly loaded state so every invariant the other components rely on
// holds, whatever schema version wrote it. It returns a new state and never mutates loaded.
// Reconcile(Reconcile(s)) equals Reconcile(s).
func Reconcile(loaded *model.AppState) *model.AppState {
	if loaded == nil {
		return model.NewAppState()
	}

	out := &model.AppState{
		Characters:     make([]model.Character, 0, len(loaded.Characters)),
		PlayerPersonas: make([]model.Persona, 0, len(loaded.PlayerPersonas)),
		ChatMessages:   make([]*schema.Message, 0, len(loaded.ChatMessages)),
		ChatSessionID:  loaded.ChatSessionID,
	}

	for _, c := range loaded.Characters {
		out.Characters = append(out.Characters, reconcileCharacter(c))
	}
	for _, p := range loaded.PlayerPersonas {
		out.PlayerPersonas = append(out.PlayerPersonas, reconcilePersona(p))
	}
	for _, m := range loaded.ChatMessages {
		if m == nil {
			continue
		}
		msg := *m
		out.ChatMessages = append(out.ChatMessages, &msg)
	}

	if out.ChatSessionID < 1 {
		out.ChatSessionID = 1
	}

	if loaded.CumulativeDelta != nil {
		d := *loaded.CumulativeDelta
		out.CumulativeDelta = &d
	}

	// Selections are copies of repository records. A selection whose record is gone is dropped.
	if sel := loaded.Selections.Character; sel != nil {
		for _, stored := range out.Characters {
			if stored.ID == sel.ID {
				c := stored.Clone()
				out.Selections.Character = &c
				break
			}
		}
	}
	if sel := loaded.Selections.Persona; sel != nil {
		for _, stored := range out.PlayerPersonas {
			if stored.ID == sel.ID {
				p := stored.Clone()
				out.Selections.Persona = &p
				break
			}
		}
	}

	return out
}

func reconcileCharacter(c model.Character) model.Character {
	c = c.Clone()
	if c.Relationships == nil {
		c.Relationships = []model.Relationship{}
	}
	return c
}

func reconcilePersona(p model.Persona) model.Persona {
	p = p.Clone()
	if p.Profile == nil {
		p.Profile = model.DefaultPersonaProfile(p.ID)
	}
	return p
}
