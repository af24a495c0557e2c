package model

import (
	"fmt"
	"time"
)

// Metrics are the five signed relationship magnitudes. They are unbounded by construction but
// are meant to stay roughly within -100..100.
type Metrics struct {
	Closeness        int `json:"closeness"`
	SexualAttraction int `json:"sexual_attraction"`
	Respect          int `json:"respect"`
	Engagement       int `json:"engagement"`
	Stability        int `json:"stability"`
}

// Add returns the field-wise sum of m and o.
func (m Metrics) Add(o Metrics) Metrics {
	return Metrics{
		Closeness:        m.Closeness + o.Closeness,
		SexualAttraction: m.SexualAttraction + o.SexualAttraction,
		Respect:          m.Respect + o.Respect,
		Engagement:       m.Engagement + o.Engagement,
		Stability:        m.Stability + o.Stability,
	}
}

func (m Metrics) String() string {
	return fmt.Sprintf("closeness=%d sexual_attraction=%d respect=%d engagement=%d stability=%d",
		m.Closeness, m.SexualAttraction, m.Respect, m.Engagement, m.Stability)
}

// ChatSummary is a short narration of one committed chat session
type ChatSummary struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Relationship is the committed affective state of a character toward one persona.
type Relationship struct {
	PersonaID   string        `json:"personaId"`
	Metrics                   // flattened into the JSON object
	Description string        `json:"description"`
	Summaries   []ChatSummary `json:"chatSummaries,omitempty"`
}

// Clone returns a deep copy of the relationship.
func (r Relationship) Clone() Relationship {
	out := r
	if r.Summaries != nil {
		out.Summaries = make([]ChatSummary, len(r.Summaries))
		copy(out.Summaries, r.Summaries)
	}
	return out
}

// Delta is a proposed change to a relationship, not an absolute value.
type Delta struct {
	Metrics
	Description string `json:"description"`
}

// Relationship converts the delta into the relationship it becomes when no prior value exists.
func (d Delta) Relationship(personaID string) Relationship {
	return Relationship{
		PersonaID:   personaID,
		Metrics:     d.Metrics,
		Description: d.Description,
	}
}
