package completion

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/livedatabots/botrelay/pkg/quota"
)

const (
	// Temperature is sent with every completion request
	Temperature = 0.7
	// MaxTokens caps the length of every reply
	MaxTokens = 1000
	// MaxAttempts bounds requests per completion, including retries after 429
	MaxAttempts = 5

	DefaultDeployment = "gpt-35-turbo"
	DefaultAPIVersion = "2024-08-01-preview"
	DefaultTimeout    = 30 * time.Second
)

// Config holds the Azure OpenAI connection settings
type Config struct {
	// Endpoint is the resource URL, e.g. https://example.openai.azure.com
	Endpoint string

	// APIKey is sent in the api-key header
	APIKey string

	// Deployment is the model deployment name (default: gpt-35-turbo)
	Deployment string

	// APIVersion is sent as the api-version query parameter (default: 2024-08-01-preview)
	APIVersion string

	// Timeout bounds each individual provider request (default: 30s)
	Timeout time.Duration

	// HTTPClient overrides the transport
	HTTPClient *http.Client

	// Logger is used for structured logging (default: NoopLogger)
	Logger quota.Logger

	// Metrics is used for tracking provider calls (default: NoopMetrics)
	Metrics Metrics
}

// Validate reports the first missing required setting
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return &ConfigError{Field: "endpoint"}
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return &ConfigError{Field: "api key"}
	}
	return nil
}

// Client calls the chat completions endpoint of an Azure OpenAI deployment.
// Rate limited requests are retried with exponential backoff; every other
// failure is returned as a soft failure without retrying.
type Client struct {
	api     *openai.Client
	config  Config
	logger  quota.Logger
	metrics Metrics

	// sleep waits between throttled attempts
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a new completion client
func New(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Deployment == "" {
		config.Deployment = DefaultDeployment
	}
	if config.APIVersion == "" {
		config.APIVersion = DefaultAPIVersion
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = &quota.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	opts := []option.RequestOption{
		option.WithBaseURL(deploymentURL(config.Endpoint, config.Deployment)),
		option.WithHeader("api-key", config.APIKey),
		option.WithQuery("api-version", config.APIVersion),
		// retries are driven by Complete
		option.WithMaxRetries(0),
	}
	if config.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(config.HTTPClient))
	}

	return &Client{
		api:     openai.NewClient(opts...),
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
		sleep:   sleepContext,
	}, nil
}

func deploymentURL(endpoint, deployment string) string {
	return strings.TrimRight(endpoint, "/") + "/openai/deployments/" + deployment + "/"
}

// Complete sends messages to the provider and returns the first choice.
// The returned error is reserved for configuration problems and cancellation
// of ctx; provider failures come back as a Result with OK false.
func (c *Client) Complete(ctx context.Context, messages []Message) (Result, error) {
	if c == nil || c.api == nil {
		return Result{}, &ConfigError{Field: "client"}
	}

	start := time.Now()
	result := c.complete(ctx, messages)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	outcome := "success"
	if !result.OK {
		outcome = string(result.Failure)
	}
	c.metrics.RecordCompletion(outcome, result.Attempts, time.Since(start))
	return result, nil
}

func (c *Client) complete(ctx context.Context, messages []Message) Result {
	params := openai.ChatCompletionNewParams{
		Messages:    openai.F(toProviderMessages(messages)),
		Model:       openai.F(openai.ChatModel(c.config.Deployment)),
		Temperature: openai.Float(Temperature),
		MaxTokens:   openai.Int(MaxTokens),
	}

	var result Result
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		result.Attempts = attempt + 1

		resp, status, failure := c.attempt(ctx, params)
		result.StatusCode = status
		if ctx.Err() != nil {
			result.Failure = FailureProvider
			return result
		}

		switch failure {
		case FailureNone:
			if len(resp.Choices) == 0 {
				c.logger.Warn("completion returned no choices", quota.F("attempt", attempt))
				result.Failure = FailureEmpty
				return result
			}
			result.Content = resp.Choices[0].Message.Content
			result.OK = true
			return result

		case FailureThrottled:
			if attempt == MaxAttempts-1 {
				c.logger.Error("completion rate limited, giving up", quota.F("attempts", result.Attempts))
				result.Failure = FailureThrottled
				return result
			}
			delay := backoff(attempt)
			c.logger.Warn("completion rate limited, retrying",
				quota.F("attempt", attempt),
				quota.F("delay", delay.String()),
			)
			if err := c.sleep(ctx, delay); err != nil {
				result.Failure = FailureThrottled
				return result
			}

		default:
			c.logger.Error("completion request failed",
				quota.F("attempt", attempt),
				quota.F("status", status),
				quota.F("failure", string(failure)),
			)
			result.Failure = failure
			return result
		}
	}

	return result
}

// attempt performs a single request bounded by the configured timeout
func (c *Client) attempt(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, int, FailureKind) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.api.Chat.Completions.New(attemptCtx, params)
	if err == nil {
		c.metrics.RecordAttempt(strconv.Itoa(http.StatusOK))
		return resp, http.StatusOK, FailureNone
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		c.metrics.RecordAttempt(strconv.Itoa(apiErr.StatusCode))
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, apiErr.StatusCode, FailureThrottled
		}
		return nil, apiErr.StatusCode, FailureProvider
	}

	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		c.metrics.RecordAttempt("timeout")
		return nil, 0, FailureTimeout
	}

	c.logger.Debug("completion transport error", quota.F("error", err))
	c.metrics.RecordAttempt("error")
	return nil, 0, FailureProvider
}

// backoff returns 2^attempt seconds
func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func toProviderMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
