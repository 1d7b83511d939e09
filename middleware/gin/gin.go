// Package gin provides Gin middleware for daily quota enforcement
package gin

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

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
	// Default: status codes below 300.
	IsSuccess func(status int) bool

	// OnQuotaExceeded is called when the daily limit is reached.
	// If nil, returns 200 with the quota exceeded message.
	OnQuotaExceeded func(c *gongin.Context, decision *quota.Decision)

	// OnError is called when the quota store fails, including when a successful
	// reply cannot be counted; that reply is then withheld.
	// If nil, returns 500 with the usage error message.
	OnError func(c *gongin.Context, err error)

	// Logger is used for structured logging (default: NoopLogger)
	Logger quota.Logger
}

// Middleware creates a Gin middleware that enforces the daily limit
func Middleware(cfg Config) gongin.HandlerFunc {
	if cfg.Gate == nil {
		panic("botrelay/gin: Config.Gate is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = quota.ModeAfterSuccess
	}
	if cfg.IsSuccess == nil {
		cfg.IsSuccess = func(status int) bool { return status < http.StatusMultipleChoices }
	}
	if cfg.Logger == nil {
		cfg.Logger = &quota.NoopLogger{}
	}

	return func(c *gongin.Context) {
		ctx := c.Request.Context()

		var (
			decision *quota.Decision
			err      error
		)
		if cfg.Mode == quota.ModeAtomic {
			decision, err = cfg.Gate.Reserve(ctx)
		} else {
			decision, err = cfg.Gate.Check(ctx)
		}
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, api.MessageResponse{Message: api.MessageUsageError})
			}
			c.Abort()
			return
		}

		setHeaders(c, decision)

		if !decision.Permitted {
			if cfg.OnQuotaExceeded != nil {
				cfg.OnQuotaExceeded(c, decision)
			} else {
				c.JSON(http.StatusOK, api.MessageResponse{Message: api.MessageQuotaExceeded})
			}
			c.Abort()
			return
		}

		c.Set(decisionKey, decision)
		if decision.Reserved {
			c.Next()
			return
		}

		// hold the reply until the request is counted
		writer := c.Writer
		buffered := &bufferedWriter{ResponseWriter: writer, status: http.StatusOK}
		c.Writer = buffered
		c.Next()
		c.Writer = writer

		if cfg.IsSuccess(buffered.status) {
			if err := cfg.Gate.IncrementTodaysCount(context.WithoutCancel(ctx)); err != nil {
				cfg.Logger.Error("failed to record chat usage", quota.F("error", err))
				writer.Header().Del("Content-Length")
				if cfg.OnError != nil {
					cfg.OnError(c, err)
				} else {
					c.JSON(http.StatusInternalServerError, api.MessageResponse{Message: api.MessageUsageError})
				}
				return
			}
		}
		buffered.flush()
	}
}

// bufferedWriter keeps the status and body away from the client until flush
type bufferedWriter struct {
	gongin.ResponseWriter
	status  int
	written bool
	body    bytes.Buffer
}

func (w *bufferedWriter) WriteHeader(code int) {
	if code > 0 && !w.written {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() {
	w.written = true
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	w.written = true
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	w.written = true
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	return w.status
}

func (w *bufferedWriter) Size() int {
	if !w.written {
		return -1
	}
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return w.written
}

func (w *bufferedWriter) flush() {
	w.ResponseWriter.WriteHeader(w.status)
	if w.body.Len() == 0 {
		w.ResponseWriter.WriteHeaderNow()
		return
	}
	_, _ = w.ResponseWriter.Write(w.body.Bytes())
}

// GetDecision returns the decision stored by the middleware
func GetDecision(c *gongin.Context) (*quota.Decision, bool) {
	val, exists := c.Get(decisionKey)
	if !exists {
		return nil, false
	}
	d, ok := val.(*quota.Decision)
	return d, ok
}

func setHeaders(c *gongin.Context, decision *quota.Decision) {
	c.Header("X-Quota-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-Quota-Remaining", strconv.Itoa(decision.Remaining()))
	c.Header("X-Quota-Reset", strconv.FormatInt(decision.ResetAt().Unix(), 10))
}
