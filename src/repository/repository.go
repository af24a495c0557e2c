// Package repository owns the canonical lists of characters and personas.
package repository

import (
	"github.com/google/uuid"

	"parley/src/logger"
	"parley/src/model"
)

// Repository mutates the character and persona lists of an AppState. Every operation is total:
// unknown ids on update or delete are silent no-ops. When the selected chat character or persona
// shares the mutated id, the selection copy is updated in lockstep.
type Repository struct {
	state *model.AppState
}

func New(state *model.AppState) *Repository {
	return &Repository{state: state}
}

// ====================== Characters ======================

// AddCharacter stores c and returns its id. An empty id gets a fresh UUID; an id that already
// exists replaces the stored record so ids stay unique.
func (r *Repository) AddCharacter(c model.Character) string {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if r.indexOfCharacter(c.ID) >= 0 {
		r.UpdateCharacter(c)
		return c.ID
	}

	c = normalizeCharacter(c)
	r.state.Characters = append(r.state.Characters, c)
	logger.Debug().Str("character_id", c.ID).Msg("Character added")
	return c.ID
}

// UpdateCharacter replaces the character with the same id.
func (r *Repository) UpdateCharacter(c model.Character) {
	i := r.indexOfCharacter(c.ID)
	if i < 0 {
		return
	}

	c = normalizeCharacter(c)
	r.state.Characters[i] = c
	if sel := r.state.Selections.Character; sel != nil && sel.ID == c.ID {
		copied := c.Clone()
		r.state.Selections.Character = &copied
	}
	logger.Debug().Str("character_id", c.ID).Msg("Character updated")
}

// DeleteCharacter removes the character together with its embedded relationships.
func (r *Repository) DeleteCharacter(id string) {
	i := r.indexOfCharacter(id)
	if i < 0 {
		return
	}

	r.state.Characters = append(r.state.Characters[:i], r.state.Characters[i+1:]...)
	if sel := r.state.Selections.Character; sel != nil && sel.ID == id {
		r.state.Selections.Character = nil
	}
	logger.Debug().Str("character_id", id).Msg("Character deleted")
}

// Character returns an independent copy of the stored character.
func (r *Repository) Character(id string) (model.Character, bool) {
	i := r.indexOfCharacter(id)
	if i < 0 {
		return model.Character{}, false
	}
	return r.state.Characters[i].Clone(), true
}

// Characters returns a snapshot safe to read while the repository keeps changing.
func (r *Repository) Characters() []model.Character {
	out := make([]model.Character, len(r.state.Characters))
	for i, c := range r.state.Characters {
		out[i] = c.Clone()
	}
	return out
}

func (r *Repository) indexOfCharacter(id string) int {
	for i := range r.state.Characters {
		if r.state.Characters[i].ID == id {
			return i
		}
	}
	return -1
}

func normalizeCharacter(c model.Character) model.Character {
	c = c.Clone()
	c.Personality = c.Personality.Clamped()
	if c.Relationships == nil {
		c.Relationships = []model.Relationship{}
	}
	return c
}

// ====================== Personas ======================

// AddPersona stores p and returns its id, following the same rules as AddCharacter.
func (r *Repository) AddPersona(p model.Persona) string {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if r.indexOfPersona(p.ID) >= 0 {
		r.UpdatePersona(p)
		return p.ID
	}

	r.state.PlayerPersonas = append(r.state.PlayerPersonas, normalizePersona(p))
	logger.Debug().Str("persona_id", p.ID).Msg("Persona added")
	return p.ID
}

// UpdatePersona replaces the persona with the same id.
func (r *Repository) UpdatePersona(p model.Persona) {
	i := r.indexOfPersona(p.ID)
	if i < 0 {
		return
	}

	p = normalizePersona(p)
	r.state.PlayerPersonas[i] = p
	if sel := r.state.Selections.Persona; sel != nil && sel.ID == p.ID {
		copied := p.Clone()
		r.state.Selections.Persona = &copied
	}
	logger.Debug().Str("persona_id", p.ID).Msg("Persona updated")
}

// DeletePersona removes the persona. Relationships characters keep with it are not touched.
func (r *Repository) DeletePersona(id string) {
	i := r.indexOfPersona(id)
	if i < 0 {
		return
	}

	r.state.PlayerPersonas = append(r.state.PlayerPersonas[:i], r.state.PlayerPersonas[i+1:]...)
	if sel := r.state.Selections.Persona; sel != nil && sel.ID == id {
		r.state.Selections.Persona = nil
	}
	logger.Debug().Str("persona_id", id).Msg("Persona deleted")
}

func (r *Repository) Persona(id string) (model.Persona, bool) {
	i := r.indexOfPersona(id)
	if i < 0 {
		return model.Persona{}, false
	}
	return r.state.PlayerPersonas[i].Clone(), true
}

func (r *Repository) Personas() []model.Persona {
	out := make([]model.Persona, len(r.state.PlayerPersonas))
	for i, p := range r.state.PlayerPersonas {
		out[i] = p.Clone()
	}
	return out
}

func (r *Repository) indexOfPersona(id string) int {
	for i := range r.state.PlayerPersonas {
		if r.state.PlayerPersonas[i].ID == id {
			return i
		}
	}
	return -1
}

func normalizePersona(p model.Persona) model.Persona {
	p = p.Clone()
	if p.Profile == nil {
		p.Profile = model.DefaultPersonaProfile(p.ID)
	}
	return p
}
