// Package delta asks the language model how one chat exchange changed a relationship.
package delta

import (
	"context"
	"errors"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"

	"parley/src/llm"
	"parley/src/logger"
	"parley/src/model"
)

// Generator turns an exchange into a relationship delta.
type Generator struct {
	chatModel    einomodel.BaseChatModel
	template     prompt.ChatTemplate
	temperature  float32
	historyTurns int
}

// NewGenerator creates a generator. historyTurns bounds the prior messages shown to the judge.
func NewGenerator(chatModel einomodel.BaseChatModel, temperature float64, historyTurns int) *Generator {
	return &Generator{
		chatModel:    chatModel,
		template:     newTemplate(),
		temperature:  float32(temperature),
		historyTurns: historyTurns,
	}
}

// Generate judges in.Exchange. A reply that fails validation comes back as a
// *MalformedPayloadError; transport failures are wrapped as they are.
func (g *Generator) Generate(ctx context.Context, in model.DeltaInput) (model.Delta, error) {
	start := time.Now()
	characterName := in.Character.Name
	personaName := in.Persona.DisplayName()

	messages, err := g.template.Format(ctx, map[string]any{
		"character_name": characterName,
		"persona_name":   personaName,
		"character":      llm.DescribeCharacter(in.Character),
		"persona":        llm.DescribePersona(in.Persona),
		"relationship":   llm.DescribeRelationship(in.Current),
		"history":        llm.Transcript(llm.TrimTail(in.History, g.historyTurns), characterName, personaName),
		"exchange":       personaName + ": " + in.Exchange.User + "\n" + characterName + ": " + in.Exchange.Assistant,
	})
	if err != nil {
		return model.Delta{}, fmt.Errorf("error formatting delta prompt: %w", err)
	}

	out, err := g.chatModel.Generate(ctx, messages, einomodel.WithTemperature(g.temperature))
	if err != nil {
		return model.Delta{}, fmt.Errorf("error generating delta: %w", err)
	}

	d, err := Parse(out.Content)
	if err != nil {
		var mp *MalformedPayloadError
		if errors.As(err, &mp) {
			logger.Warn().
				Str("reason", mp.Reason).
				Str("raw", truncate(mp.Raw)).
				Msg("Delta payload rejected")
		}
		return model.Delta{}, err
	}

	logger.Debug().
		Str("character_id", in.Character.ID).
		Str("persona_id", in.Persona.ID).
		Stringer("delta", d.Metrics).
		Dur("elapsed", time.Since(start)).
		Msg("Delta generated")

	return d, nil
}
