package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/livedatabots/botrelay/pkg/completion"
	"github.com/livedatabots/botrelay/pkg/quota"
)

// maxBodyBytes bounds the chat request body
const maxBodyBytes = 1 << 20

// Handler provides the chat relay endpoints
type Handler struct {
	config Config
	logger quota.Logger
}

// Chat relays a conversation to the completion provider.
// Quota enforcement happens in front of this handler; see middleware/http.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("invalid chat request", quota.F("request_id", requestID), quota.F("error", err))
		WriteMessage(w, http.StatusBadRequest, MessageInvalidBody)
		return
	}

	var bot completion.BotConfig
	if req.BotDetails != nil {
		bot = *req.BotDetails
	}
	messages := completion.BuildMessageList(req.Messages, bot.SystemPrompt())

	result, err := h.config.Completer.Complete(ctx, messages)
	if err != nil {
		h.logger.Error("chat completion failed",
			quota.F("request_id", requestID),
			quota.F("error", err),
		)
		h.handleError(w, r, err)
		return
	}
	if !result.OK {
		h.logger.Warn("chat completion produced no reply",
			quota.F("request_id", requestID),
			quota.F("failure", string(result.Failure)),
			quota.F("attempts", result.Attempts),
		)
		WriteMessage(w, http.StatusInternalServerError, MessageBotError)
		return
	}

	h.logger.Info("chat completion served",
		quota.F("request_id", requestID),
		quota.F("attempts", result.Attempts),
		quota.F("turns", len(req.Messages)),
	)
	WriteMessage(w, http.StatusOK, result.Content)
}

// Usage reports today's count against the daily limit
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	decision, err := h.config.Gate.Check(r.Context())
	if err != nil {
		h.logger.Error("failed to read usage", quota.F("error", err))
		WriteMessage(w, http.StatusInternalServerError, MessageUsageError)
		return
	}

	remaining := decision.Limit - decision.CurrentCount + 1
	if remaining < 0 {
		remaining = 0
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Date:      decision.Period.Key(),
		Count:     decision.CurrentCount,
		Limit:     decision.Limit,
		Remaining: remaining,
		ResetAt:   decision.ResetAt(),
	})
}

// DatabaseStatus probes the counter store under a short timeout
func (h *Handler) DatabaseStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.config.StatusTimeout)
	defer cancel()

	resp := DatabaseStatusResponse{Database: h.config.StoreName, Status: StatusOnline}
	if err := h.config.Gate.Ping(ctx); err != nil {
		h.logger.Warn("database status check failed",
			quota.F("database", h.config.StoreName),
			quota.F("error", err),
		)
		resp.Status = StatusOffline
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health is a liveness probe that touches no dependency
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleError maps internal errors to the generic bot failure
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	WriteMessage(w, http.StatusInternalServerError, MessageBotError)
}

// WriteMessage writes a MessageResponse with the given status
func WriteMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// status is already sent; nothing left to report to the client
		return
	}
}
