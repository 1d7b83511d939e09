package completion

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	basePrompt = "You are an AI assistant."

	contextPrompt = "Use the following context to answer the user. " +
		"Do not mention or acknowledge that you were given this context.\n" +
		"Context:\n%s"

	contextOnlyPrompt = "Only answer using information found in the context above. " +
		"If the context does not contain the answer, reply with exactly \"" + UnknownAnswer + "\" " +
		"Do not speculate or add details the context does not support."

	stylePrompt = "Respond in the style of %s."

	// minStyleLength is the shortest response style, in characters, that is applied
	minStyleLength = 3
)

// UnknownAnswer is the reply demanded from context-only bots when the context has no answer
const UnknownAnswer = "I don't know."

// ComposeSystemPrompt builds the system instruction for a bot.
// The base instruction always comes first, followed by the context block, the
// context-only constraint and the style directive, each only when applicable.
func ComposeSystemPrompt(style, context string, contextOnly bool) string {
	parts := []string{basePrompt}

	if context != "" {
		parts = append(parts, fmt.Sprintf(contextPrompt, context))
	}
	if contextOnly {
		parts = append(parts, contextOnlyPrompt)
	}
	if utf8.RuneCountInString(style) >= minStyleLength {
		parts = append(parts, fmt.Sprintf(stylePrompt, style))
	}

	return strings.Join(parts, "\n\n")
}

// BuildMessageList prepends the system prompt and maps every conversation turn
// in order. Only the "user" sender maps to the user role.
func BuildMessageList(conversation []ConversationMessage, systemPrompt string) []Message {
	messages := make([]Message, 0, len(conversation)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})

	for _, m := range conversation {
		role := RoleAssistant
		if m.Sender == senderUser {
			role = RoleUser
		}
		messages = append(messages, Message{Role: role, Content: m.Text})
	}

	return messages
}
