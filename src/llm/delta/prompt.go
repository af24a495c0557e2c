package delta

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

func getSystemTemplate() string {
	return `You are the relationship judge of a role-play. You never speak as a character.

-Goal-
Given one exchange between {character_name} (an AI character) and {persona_name} (the player), decide how that exchange changes how {character_name} feels about {persona_name}.

-Metrics-
- closeness: emotional intimacy and trust
- sexual_attraction: romantic or physical interest, consistent with the character's orientation
- respect: esteem for the player's competence and character
- engagement: how interested and invested the character is in the conversation
- stability: how secure and predictable the relationship feels

-Rules-
1. Every value is a CHANGE caused by this exchange only, an integer between -10 and 10. Use 0 when nothing changed.
2. Judge from the character's point of view, using their personality and preferences.
3. description is one short sentence, written in third person, saying what happened.
4. Return ONLY a JSON object, no prose, no code fences.

-Output format-
{{"closeness": 0, "sexual_attraction": 0, "respect": 0, "engagement": 0, "stability": 0, "description": "..."}}`
}

func getUserTemplate() string {
	return `<character>
{character}
</character>

<player>
{persona}
</player>

<current_relationship>
{relationship}
</current_relationship>

<conversation_context>
{history}
</conversation_context>

<exchange_to_judge>
{exchange}
</exchange_to_judge>

Output:`
}

// newTemplate creates the Eino ChatTemplate for delta judgement
func newTemplate() prompt.ChatTemplate {
	messages := []schema.MessagesTemplate{
		schema.SystemMessage(getSystemTemplate()),
		schema.UserMessage(getUserTemplate()),
	}
	return prompt.FromMessages(schema.FString, messages...)
}
