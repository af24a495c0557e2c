// Package chat streams the in-character reply of the selected character.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"

	"parley/src/llm"
	"parley/src/logger"
	"parley/src/model"
)

// ErrEmptyReply is returned when the model streamed nothing.
var ErrEmptyReply = errors.New("empty reply from model")

// Responder writes the character's side of the conversation.
type Responder struct {
	chatModel    einomodel.BaseChatModel
	template     prompt.ChatTemplate
	temperature  float32
	historyTurns int
}

func NewResponder(chatModel einomodel.BaseChatModel, temperature float64, historyTurns int) *Responder {
	return &Responder{
		chatModel:    chatModel,
		template:     newTemplate(),
		temperature:  float32(temperature),
		historyTurns: historyTurns,
	}
}

// Respond streams the reply to the last message of in.History. Each chunk is handed to onChunk
// (which may be nil) as it arrives; the full reply is returned once the stream ends.
func (r *Responder) Respond(ctx context.Context, in model.TurnInput, onChunk func(string)) (string, error) {
	start := time.Now()

	messages, err := r.template.Format(ctx, map[string]any{
		"character_name": in.Character.Name,
		"persona_name":   in.Persona.DisplayName(),
		"character":      llm.DescribeCharacter(in.Character),
		"persona":        llm.DescribePersona(in.Persona),
		"relationship":   llm.DescribeRelationship(in.Current),
		"history":        llm.TrimTail(in.History, r.historyTurns),
	})
	if err != nil {
		return "", fmt.Errorf("error formatting chat prompt: %w", err)
	}

	stream, err := r.chatModel.Stream(ctx, messages, einomodel.WithTemperature(r.temperature))
	if err != nil {
		return "", fmt.Errorf("error starting reply stream: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("error receiving reply: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		reply.WriteString(chunk.Content)
		if onChunk != nil {
			onChunk(chunk.Content)
		}
	}

	text := strings.TrimSpace(reply.String())
	if text == "" {
		return "", ErrEmptyReply
	}

	logger.Debug().
		Str("character_id", in.Character.ID).
		Int("reply_length", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("Reply streamed")
	return text, nil
}
