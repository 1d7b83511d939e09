package completion

// Role is the author of a provider message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// senderUser is the only sender mapped to the user role; anything else is the bot
const senderUser = "user"

// Message is a provider-neutral chat message
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationMessage is one turn of the caller-supplied conversation
type ConversationMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// BotConfig holds the bot persona settings relevant to chat
type BotConfig struct {
	ResponseStyle         string `json:"responseStyle"`
	Context               string `json:"context"`
	OnlyAnswerWithContext bool   `json:"onlyAnswerWithContext"`
}

// SystemPrompt composes the system prompt for this bot
func (b BotConfig) SystemPrompt() string {
	return ComposeSystemPrompt(b.ResponseStyle, b.Context, b.OnlyAnswerWithContext)
}

// FailureKind classifies a soft failure
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureEmpty is a successful response without choices
	FailureEmpty FailureKind = "empty"
	// FailureThrottled means every attempt was rate limited
	FailureThrottled FailureKind = "throttled"
	// FailureProvider covers non-429 error statuses and transport errors
	FailureProvider FailureKind = "provider"
	// FailureTimeout means a single attempt exceeded the request timeout
	FailureTimeout FailureKind = "timeout"
)

// Result is the outcome of Complete. A soft failure has OK false and no error.
type Result struct {
	Content    string
	OK         bool
	Attempts   int
	Failure    FailureKind
	StatusCode int
}
