// Package fiber provides Fiber middleware for daily quota enforcement
package fiber

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"

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
	OnQuotaExceeded func(c *fiber.Ctx, decision *quota.Decision) error

	// OnError is called when the quota store fails, including when a successful
	// reply cannot be counted; that reply is then withheld.
	// If nil, returns 500 with the usage error message.
	OnError func(c *fiber.Ctx, err error) error

	// Logger is used for structured logging (default: NoopLogger)
	Logger quota.Logger
}

// Middleware creates a Fiber middleware that enforces the daily limit
func Middleware(cfg Config) fiber.Handler {
	if cfg.Gate == nil {
		panic("botrelay/fiber: Config.Gate is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = quota.ModeAfterSuccess
	}
	if cfg.IsSuccess == nil {
		cfg.IsSuccess = func(status int) bool { return status < fiber.StatusMultipleChoices }
	}
	if cfg.Logger == nil {
		cfg.Logger = &quota.NoopLogger{}
	}

	return func(c *fiber.Ctx) error {
		// fasthttp has no request context; UserContext carries cancellation
		ctx := c.UserContext()

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
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(api.MessageResponse{Message: api.MessageUsageError})
		}

		c.Set("X-Quota-Limit", strconv.Itoa(decision.Limit))
		c.Set("X-Quota-Remaining", strconv.Itoa(decision.Remaining()))
		c.Set("X-Quota-Reset", strconv.FormatInt(decision.ResetAt().Unix(), 10))

		if !decision.Permitted {
			if cfg.OnQuotaExceeded != nil {
				return cfg.OnQuotaExceeded(c, decision)
			}
			return c.Status(fiber.StatusOK).JSON(api.MessageResponse{Message: api.MessageQuotaExceeded})
		}

		c.Locals(decisionKey, decision)
		if err := c.Next(); err != nil || decision.Reserved {
			return err
		}

		// fasthttp sends the response after the handler chain returns, so a reply
		// that cannot be counted is replaced here
		if cfg.IsSuccess(c.Response().StatusCode()) {
			if err := cfg.Gate.IncrementTodaysCount(context.WithoutCancel(ctx)); err != nil {
				cfg.Logger.Error("failed to record chat usage", quota.F("error", err))
				c.Response().ResetBody()
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.Status(fiber.StatusInternalServerError).JSON(api.MessageResponse{Message: api.MessageUsageError})
			}
		}
		return nil
	}
}

// GetDecision returns the decision stored by the middleware
func GetDecision(c *fiber.Ctx) (*quota.Decision, bool) {
	d, ok := c.Locals(decisionKey).(*quota.Decision)
	return d, ok
}
