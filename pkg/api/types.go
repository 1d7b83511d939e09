package api

import (
	"time"

	"github.com/livedatabots/botrelay/pkg/completion"
)

// User-facing messages returned in MessageResponse
const (
	MessageQuotaExceeded = "Sorry, usage of chatbots has reached its limit for the day"
	MessageBotError      = "There was an error getting a response from the bot. Please try again later."
	MessageUsageError    = "There was an error checking chatbot usage. Please try again later."
	MessageInvalidBody   = "Invalid request body"
)

// Database status values
const (
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	Messages   []completion.ConversationMessage `json:"messages"`
	BotDetails *completion.BotConfig            `json:"botDetails,omitempty"`
}

// MessageResponse carries either the bot reply or a user-facing error
type MessageResponse struct {
	Message string `json:"message"`
}

// UsageResponse reports today's chat usage
type UsageResponse struct {
	Date      string    `json:"date"`
	Count     int       `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// DatabaseStatusResponse reports whether the counter store is reachable
type DatabaseStatusResponse struct {
	Database string `json:"database"`
	Status   string `json:"status"`
}

// HealthResponse is returned by the liveness endpoint
type HealthResponse struct {
	Status string `json:"status"`
}
