package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourorg/capgen/internal/metrics"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// Model overrides Client.Model when set.
	Model string
}

// Completer is the completion service the pipeline depends on.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	// MaxRetries bounds retries of transient faults; negative retries forever.
	MaxRetries int
	RetryDelay time.Duration
	Limiter    *rate.Limiter
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

var sleepFn = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// errStatus is a non-retryable HTTP failure.
type errStatus struct {
	code int
	body string
}

func (e *errStatus) Error() string {
	return fmt.Sprintf("llm error status %d: %s", e.code, e.body)
}

// Complete sends req and returns the first choice's content. Network errors,
// 429 and 5xx responses are retried after RetryDelay (or Retry-After).
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	model := c.Model
	if req.Model != "" {
		model = req.Model
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	payload := map[string]interface{}{
		"model":       model,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"messages":    req.Messages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	logger := c.logger()
	logger.Debug("llm request", "url", endpoint, "model", model, "messages", len(req.Messages))

	var lastErr error
	for attempt := 0; c.MaxRetries < 0 || attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			c.Metrics.LLMRetry(model)
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		start := time.Now()
		content, wait, err := c.do(ctx, client, endpoint, body)
		if err == nil {
			c.Metrics.LLMRequest(model, "ok", time.Since(start))
			logger.Debug("llm response", "content", content)
			return content, nil
		}
		var status *errStatus
		if errors.As(err, &status) || ctx.Err() != nil {
			c.Metrics.LLMRequest(model, "error", time.Since(start))
			return "", err
		}
		c.Metrics.LLMRequest(model, "transient", time.Since(start))
		lastErr = err
		if wait <= 0 {
			wait = c.RetryDelay
		}
		logger.Warn("llm transient failure, retrying", "attempt", attempt+1, "wait", wait, "error", err)
		if err := sleepFn(ctx, wait); err != nil {
			return "", err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("llm request failed")
	}
	return "", lastErr
}

// do performs one attempt. A non-nil wait is the server's requested backoff.
func (c *Client) do(ctx context.Context, client *http.Client, endpoint string, body []byte) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, &errStatus{body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return "", 0, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		var wait time.Duration
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return "", wait, fmt.Errorf("llm error status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, &errStatus{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", 0, &errStatus{code: resp.StatusCode, body: "decode response: " + err.Error()}
	}
	if len(out.Choices) == 0 {
		return "", 0, &errStatus{code: resp.StatusCode, body: "llm response has no choices"}
	}
	return out.Choices[0].Message.Content, 0, nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// NewLimiter converts a requests-per-minute budget into a limiter; zero disables limiting.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// Cache holds raw completions by unit key so an interrupted batch can resume
// without repeating finished calls. Get serves only entries stored with Put;
// entries stored with Fail are kept for inspection and asked again.
type Cache interface {
	Get(key string) (raw string, ok bool)
	Put(key, raw string) error
	Fail(key, raw string, reason error) error
}
