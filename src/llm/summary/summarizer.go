// Package summary narrates a finished chat session for the relationship history.
package summary

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"parley/src/llm"
	"parley/src/model"
)

// MaxSummaryLength caps the stored summary text, in bytes.
const MaxSummaryLength = 1000

func getSystemTemplate() string {
	return `You write short memory notes for a role-play. Summarize the conversation below from {character_name}'s point of view in two or three sentences, third person, past tense. Mention anything {character_name} would want to remember about {persona_name}. Return only the summary.`
}

func getUserTemplate() string {
	return `<conversation>
{history}
</conversation>

<how_it_changed_things>
{delta}
</how_it_changed_things>

Summary:`
}

// Summarizer condenses a session into one ChatSummary text.
type Summarizer struct {
	chatModel    einomodel.BaseChatModel
	template     prompt.ChatTemplate
	historyTurns int
}

func NewSummarizer(chatModel einomodel.BaseChatModel, historyTurns int) *Summarizer {
	return &Summarizer{
		chatModel: chatModel,
		template: prompt.FromMessages(schema.FString,
			schema.SystemMessage(getSystemTemplate()),
			schema.UserMessage(getUserTemplate()),
		),
		historyTurns: historyTurns,
	}
}

func (s *Summarizer) Summarize(ctx context.Context, in model.SummaryInput) (string, error) {
	characterName := in.Character.Name
	personaName := in.Persona.DisplayName()

	delta := in.Delta.Metrics.String()
	if in.Delta.Description != "" {
		delta += "\n" + in.Delta.Description
	}

	messages, err := s.template.Format(ctx, map[string]any{
		"character_name": characterName,
		"persona_name":   personaName,
		"history":        llm.Transcript(llm.TrimTail(in.History, s.historyTurns), characterName, personaName),
		"delta":          delta,
	})
	if err != nil {
		return "", fmt.Errorf("error formatting summary prompt: %w", err)
	}

	out, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("error generating summary: %w", err)
	}

	text := strings.TrimSpace(out.Content)
	if text == "" {
		return "", fmt.Errorf("empty summary from model")
	}
	if len(text) > MaxSummaryLength {
		text = strings.ToValidUTF8(text[:MaxSummaryLength], "")
	}
	return text, nil
}
