package llm

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"parley/src/model"
)

// TrimTail keeps the last maxTurns messages. A non-positive maxTurns keeps everything.
func TrimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 || len(messages) <= maxTurns {
		return messages
	}
	return messages[len(messages)-maxTurns:]
}

// Transcript renders messages as "Name: text" lines.
func Transcript(messages []*schema.Message, characterName, personaName string) string {
	if len(messages) == 0 {
		return "(no earlier messages)"
	}

	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case schema.User:
			b.WriteString(personaName + ": " + msg.Content + "\n")
		case schema.Assistant:
			b.WriteString(characterName + ": " + msg.Content + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// DescribeCharacter renders the profile, personality and preferences of c.
func DescribeCharacter(c model.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", c.Name)
	if c.Age > 0 {
		fmt.Fprintf(&b, "Age: %d\n", c.Age)
	}
	if c.Gender != "" {
		fmt.Fprintf(&b, "Gender: %s\n", c.Gender)
	}
	if c.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", c.Description)
	}
	if c.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", c.Background)
	}
	p := c.Personality
	fmt.Fprintf(&b, "Personality (-100..100): openness %d, conscientiousness %d, extraversion %d, agreeableness %d, neuroticism %d\n",
		p.Openness, p.Conscientiousness, p.Extraversion, p.Agreeableness, p.Neuroticism)
	if len(c.Preferences.Likes) > 0 {
		fmt.Fprintf(&b, "Likes: %s\n", strings.Join(c.Preferences.Likes, ", "))
	}
	if len(c.Preferences.Dislikes) > 0 {
		fmt.Fprintf(&b, "Dislikes: %s\n", strings.Join(c.Preferences.Dislikes, ", "))
	}
	if c.Preferences.Orientation != "" {
		fmt.Fprintf(&b, "Orientation: %s\n", c.Preferences.Orientation)
	}
	return strings.TrimRight(b.String(), "\n")
}

// DescribePersona renders the profile of p.
func DescribePersona(p model.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", p.DisplayName())
	if prof := p.Profile; prof != nil {
		if prof.Age > 0 {
			fmt.Fprintf(&b, "Age: %d\n", prof.Age)
		}
		if prof.Gender != "" {
			fmt.Fprintf(&b, "Gender: %s\n", prof.Gender)
		}
		if prof.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", prof.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// DescribeRelationship renders the committed relationship, or notes that the pair just met.
func DescribeRelationship(r *model.Relationship) string {
	if r == nil {
		return "They have never met before."
	}
	s := r.Metrics.String()
	if r.Description != "" {
		s += "\n" + r.Description
	}
	if n := len(r.Summaries); n > 0 {
		s += "\nLast time: " + r.Summaries[n-1].Text
	}
	return s
}
