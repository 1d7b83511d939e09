package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/livedatabots/botrelay/pkg/completion"
	"github.com/livedatabots/botrelay/pkg/quota"
)

const defaultStatusTimeout = 3 * time.Second

// Completer produces a bot reply for a message list
type Completer interface {
	Complete(ctx context.Context, messages []completion.Message) (completion.Result, error)
}

// Config holds configuration for the chat API handler
type Config struct {
	// Gate is the daily quota gate (required)
	Gate *quota.Gate

	// Completer produces the bot replies (required)
	Completer Completer

	// StoreName is reported by the database status endpoint (default: "unknown")
	StoreName string

	// StatusTimeout bounds the database status probe (default: 3s)
	StatusTimeout time.Duration

	// Logger is used for structured logging (default: NoopLogger)
	Logger quota.Logger

	// OnError handles internal errors. If nil, a MessageResponse with status 500 is written.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Gate == nil {
		return fmt.Errorf("gate is required")
	}
	if c.Completer == nil {
		return fmt.Errorf("completer is required")
	}
	return nil
}

// NewHandler creates a new chat API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.StoreName == "" {
		config.StoreName = "unknown"
	}
	if config.StatusTimeout <= 0 {
		config.StatusTimeout = defaultStatusTimeout
	}
	if config.Logger == nil {
		config.Logger = &quota.NoopLogger{}
	}
	return &Handler{
		config: config,
		logger: config.Logger,
	}, nil
}
