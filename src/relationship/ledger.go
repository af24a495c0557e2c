// Package relationship holds the committed relationship ledger and the in-session delta
// accumulator.
package relationship

import (
	"parley/src/logger"
	"parley/src/model"
	"parley/src/repository"
)

// Ledger reads and commits relationships embedded in repository characters.
type Ledger struct {
	repo *repository.Repository
}

func NewLedger(repo *repository.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Find returns the relationship characterID keeps with personaID.
func (l *Ledger) Find(characterID, personaID string) (model.Relationship, bool) {
	c, ok := l.repo.Character(characterID)
	if !ok {
		return model.Relationship{}, false
	}
	i := indexOf(c.Relationships, personaID)
	if i < 0 {
		return model.Relationship{}, false
	}
	return c.Relationships[i], true
}

// ApplyDelta commits d to the pair. A pair without a relationship takes d as-is, with no zero
// baseline added. An existing relationship gets every metric summed and its description
// replaced by d's. Unknown characters are ignored; the return value reports whether anything
// was written.
func (l *Ledger) ApplyDelta(characterID, personaID string, d model.Delta) bool {
	c, ok := l.repo.Character(characterID)
	if !ok {
		logger.Debug().Str("character_id", characterID).Msg("Delta ignored for unknown character")
		return false
	}

	if i := indexOf(c.Relationships, personaID); i >= 0 {
		rel := &c.Relationships[i]
		rel.Metrics = rel.Metrics.Add(d.Metrics)
		rel.Description = d.Description
	} else {
		c.Relationships = append(c.Relationships, d.Relationship(personaID))
	}

	l.repo.UpdateCharacter(c)
	logger.Info().
		Str("character_id", characterID).
		Str("persona_id", personaID).
		Stringer("delta", d.Metrics).
		Msg("Relationship delta committed")
	return true
}

// AppendSummary adds a chat summary to an existing relationship.
func (l *Ledger) AppendSummary(characterID, personaID string, summary model.ChatSummary) bool {
	c, ok := l.repo.Character(characterID)
	if !ok {
		return false
	}
	i := indexOf(c.Relationships, personaID)
	if i < 0 {
		return false
	}
	c.Relationships[i].Summaries = append(c.Relationships[i].Summaries, summary)
	l.repo.UpdateCharacter(c)
	return true
}

func indexOf(rels []model.Relationship, personaID string) int {
	for i := range rels {
		if rels[i].PersonaID == personaID {
			return i
		}
	}
	return -1
}
