// Package echo provides Echo middleware for daily quota enforcement
package echo

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/livedatabots/botrelay/pkg/api"
	"github.com/livedatabots/botrelay/pkg/quota"
)

const decisionKey = "quota_decision"

// Config holds middleware configuration
type Config struct {
	// Gate is the daily quota gate (required)
	Gate *quota.Gate

	// Mode selects when a request is counted (default: ModeAfterSuccess)
	Mode quota.Mode

	// IsSuccess decides, in after_success mode, whether the handler outcome is counted.
	// A handler that returns an error is never counted.
	// Default: status codes below 300.
	IsSuccess func(status int) bool

	// OnQuotaExceeded is called when the daily limit is reached.
	// If nil, returns 200 with the quota exceeded message.
	OnQuotaExceeded func(c echo.Context, decision *quota.Decision) error

	// OnError is called when the quota store fails, including when a successful
	// reply cannot be counted; that reply is then withheld.
	// If nil, returns 500 with the usage error message.
	OnError func(c echo.Context, err error) error

	// Logger is used for structured logging (default: NoopLogger)
	Logger quota.Logger
}

// Middleware creates an Echo middleware that enforces the daily limit
func Middleware(config Config) echo.MiddlewareFunc {
	if config.Gate == nil {
		panic("botrelay/echo: Config.Gate is required")
	}
	if config.Mode == "" {
		config.Mode = quota.ModeAfterSuccess
	}
	if config.IsSuccess == nil {
		config.IsSuccess = func(status int) bool { return status < http.StatusMultipleChoices }
	}
	if config.Logger == nil {
		config.Logger = &quota.NoopLogger{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

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
					return config.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, api.MessageResponse{Message: api.MessageUsageError})
			}

			h := c.Response().Header()
			h.Set("X-Quota-Limit", strconv.Itoa(decision.Limit))
			h.Set("X-Quota-Remaining", strconv.Itoa(decision.Remaining()))
			h.Set("X-Quota-Reset", strconv.FormatInt(decision.ResetAt().Unix(), 10))

			if !decision.Permitted {
				if config.OnQuotaExceeded != nil {
					return config.OnQuotaExceeded(c, decision)
				}
				return c.JSON(http.StatusOK, api.MessageResponse{Message: api.MessageQuotaExceeded})
			}

			c.Set(decisionKey, decision)
			if decision.Reserved {
				return next(c)
			}

			// hold the reply until the request is counted
			res := c.Response()
			writer := res.Writer
			buffered := &bufferedWriter{ResponseWriter: writer}
			res.Writer = buffered
			err = next(c)
			res.Writer = writer

			status := buffered.status
			if status == 0 {
				status = http.StatusOK
			}
			if err == nil && config.IsSuccess(status) {
				if err := config.Gate.IncrementTodaysCount(context.WithoutCancel(ctx)); err != nil {
					config.Logger.Error("failed to record chat usage", quota.F("error", err))
					res.Committed = false
					res.Size = 0
					writer.Header().Del("Content-Length")
					if config.OnError != nil {
						return config.OnError(c, err)
					}
					return c.JSON(http.StatusInternalServerError, api.MessageResponse{Message: api.MessageUsageError})
				}
			}

			if buffered.status != 0 {
				writer.WriteHeader(buffered.status)
				_, _ = writer.Write(buffered.body.Bytes())
			}
			return err
		}
	}
}

// bufferedWriter keeps the status and body away from the client until the
// request is counted
type bufferedWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *bufferedWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(data)
}

// GetDecision returns the decision stored by the middleware
func GetDecision(c echo.Context) (*quota.Decision, bool) {
	d, ok := c.Get(decisionKey).(*quota.Decision)
	return d, ok
}
