// Package http provides net/http middleware that puts the daily quota gate in
// front of a handler. It works with any router that accepts func(http.Handler) http.Handler.
package http

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/livedatabots/botrelay/pkg/api"
	"github.com/livedatabots/botrelay/pkg/quota"
)

// Response headers describing the caller's standing
const (
	HeaderLimit     = "X-Quota-Limit"
	HeaderRemaining = "X-Quota-Remaining"
	HeaderReset     = "X-Quota-Reset"
)

// Config holds middleware configuration
type Config struct {
	// Gate is the daily quota gate (required)
	Gate *quota.Gate

	// Mode selects when a request is counted (default: ModeAfterSuccess)
	Mode quota.Mode

	// IsSuccess decides, in after_success mode, whether the handler outcome is counted.
	// Default: status codes below 300.
	IsSuccess func(status int) bool

	// OnQuotaExceeded is called when the daily limit is reached.
	// If nil, returns 200 with the quota exceeded message.
	OnQuotaExceeded func(w http.ResponseWriter, r *http.Request, decision *quota.Decision)

	// OnError is called when the quota store fails, including when a successful
	// reply cannot be counted; that reply is then withheld.
	// If nil, returns 500 with the usage error message.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// Logger is used for structured logging (default: NoopLogger)
	Logger quota.Logger
}

type contextKey string

const decisionKey contextKey = "quota_decision"

// DecisionFromContext returns the decision that admitted the request, if any
func DecisionFromContext(ctx context.Context) (*quota.Decision, bool) {
	d, ok := ctx.Value(decisionKey).(*quota.Decision)
	return d, ok
}

// Middleware creates an HTTP middleware that enforces the daily limit
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Gate == nil {
		panic("botrelay/http: Config.Gate is required")
	}
	if config.Mode == "" {
		config.Mode = quota.ModeAfterSuccess
	}
	if config.IsSuccess == nil {
		config.IsSuccess = Succeeded
	}
	if config.Logger == nil {
		config.Logger = &quota.NoopLogger{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var (
				decision *quota.Decision
				err      error
			)
			if config.Mode == quota.ModeAtomic {
				decision, err = config.Gate.Reserve(ctx)
			} else {
				decision, err = config.Gate.Check(ctx)
			}
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					api.WriteMessage(w, http.StatusInternalServerError, api.MessageUsageError)
				}
				return
			}

			SetHeaders(w.Header(), decision)

			if !decision.Permitted {
				if config.OnQuotaExceeded != nil {
					config.OnQuotaExceeded(w, r, decision)
				} else {
					api.WriteMessage(w, http.StatusOK, api.MessageQuotaExceeded)
				}
				return
			}

			r = r.WithContext(context.WithValue(ctx, decisionKey, decision))
			if decision.Reserved {
				next.ServeHTTP(w, r)
				return
			}

			// hold the reply until the request is counted
			var body bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			ww.Discard()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if config.IsSuccess(status) {
				// counted even if the client went away, the reply cost was already paid
				if err := config.Gate.IncrementTodaysCount(context.WithoutCancel(ctx)); err != nil {
					config.Logger.Error("failed to record chat usage",
						quota.F("request_id", api.RequestIDFromContext(ctx)),
						quota.F("error", err),
					)
					w.Header().Del("Content-Length")
					if config.OnError != nil {
						config.OnError(w, r, err)
					} else {
						api.WriteMessage(w, http.StatusInternalServerError, api.MessageUsageError)
					}
					return
				}
			}

			w.WriteHeader(status)
			_, _ = w.Write(body.Bytes())
		})
	}
}

// HandlerFunc creates an HTTP middleware that enforces the daily limit (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// Succeeded reports whether status is a 1xx or 2xx code
func Succeeded(status int) bool {
	return status < http.StatusMultipleChoices
}

// SetHeaders writes the quota headers for decision
func SetHeaders(h http.Header, decision *quota.Decision) {
	h.Set(HeaderLimit, strconv.Itoa(decision.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(decision.Remaining()))
	h.Set(HeaderReset, strconv.FormatInt(decision.ResetAt().Unix(), 10))
}
