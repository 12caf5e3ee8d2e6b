package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yourorg/capgen/internal/metrics"
)

func chatReply(w http.ResponseWriter, content string) {
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	orig := sleepFn
	sleepFn = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { sleepFn = orig })
	return &waits
}

func TestCompleteSendsRequest(t *testing.T) {
	var got struct {
		Model       string    `json:"model"`
		Temperature float64   `json:"temperature"`
		MaxTokens   int       `json:"max_tokens"`
		Messages    []Message `json:"messages"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		chatReply(w, "hello")
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-4o"}
	out, err := c.Complete(context.Background(), Request{
		Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		Temperature: 0.3,
		MaxTokens:   3000,
		Model:       "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hello" {
		t.Fatalf("content = %q", out)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("auth = %q", auth)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 3000 || got.Temperature != 0.3 || len(got.Messages) != 2 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestCompleteRetriesTransientFaults(t *testing.T) {
	waits := noSleep(t)
	var hit int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&hit, 1) {
		case 1:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			chatReply(w, "ok")
		}
	}))
	defer srv.Close()

	m := metrics.New()
	c := &Client{BaseURL: srv.URL, Model: "gpt-4o", MaxRetries: 3, RetryDelay: 2 * time.Second, Metrics: m}
	out, err := c.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "ok" || atomic.LoadInt32(&hit) != 3 {
		t.Fatalf("out=%q hits=%d", out, hit)
	}
	if len(*waits) != 2 || (*waits)[0] != 7*time.Second || (*waits)[1] != 2*time.Second {
		t.Fatalf("waits = %v", *waits)
	}
	snap, _ := m.Snapshot()
	if snap["capgen_llm_retries_total"] != 2 || snap["capgen_llm_requests_total"] != 3 {
		t.Fatalf("metrics = %v", snap)
	}
}

func TestCompleteGivesUpAfterMaxRetries(t *testing.T) {
	noSleep(t)
	var hit int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hit, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Model: "gpt-4o", MaxRetries: 2}
	if _, err := c.Complete(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&hit) != 3 {
		t.Fatalf("expected 3 attempts, got %d", hit)
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	noSleep(t)
	var hit int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hit, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Model: "gpt-4o", MaxRetries: 5}
	_, err := c.Complete(context.Background(), Request{})
	var status *errStatus
	if !errors.As(err, &status) || status.code != http.StatusUnauthorized {
		t.Fatalf("expected status error, got %v", err)
	}
	if atomic.LoadInt32(&hit) != 1 {
		t.Fatalf("expected 1 attempt, got %d", hit)
	}
}

func TestCompleteStopsOnCancelledContext(t *testing.T) {
	orig := sleepFn
	defer func() { sleepFn = orig }()
	ctx, cancel := context.WithCancel(context.Background())
	sleepFn = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Model: "gpt-4o", MaxRetries: -1}
	if _, err := c.Complete(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewLimiter(t *testing.T) {
	if NewLimiter(0) != nil {
		t.Fatalf("expected nil limiter for zero budget")
	}
	l := NewLimiter(60)
	if l == nil || l.Limit() != 1 {
		t.Fatalf("expected 1 req/s, got %v", l.Limit())
	}
}
