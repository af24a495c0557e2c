package chat

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

func getSystemTemplate() string {
	return `You are {character_name}. Stay in character at all times and never mention being an AI.

<character>
{character}
</character>

<talking_to>
{persona}
</talking_to>

<how_you_feel_about_them>
{relationship}
</how_you_feel_about_them>

Reply as {character_name} would, in the first person, consistent with your personality and with how you feel about {persona_name}. Keep replies conversational and under a few paragraphs.`
}

// newTemplate creates the Eino ChatTemplate for in-character replies. The chat history is
// injected through the "history" placeholder.
func newTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(getSystemTemplate()),
		schema.MessagesPlaceholder("history", false),
	)
}
