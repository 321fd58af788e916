package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		var req oaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(oaiResponse{
			Choices: []oaiChoice{{Message: oaiMessage{Role: "assistant", Content: "hello back"}}},
			Usage:   oaiUsage{PromptTokens: 10, CompletionTokens: 3},
		})
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL, "sk-test", "test-model", 5*time.Second)
	resp, err := c.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "you are a router"},
			{Role: RoleUser, Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "hello back" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestClientCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(oaiResponse{
			Error: &oaiError{Type: "invalid_request_error", Message: "bad model"},
		})
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL, "", "m", time.Second)
	if _, err := c.Complete(context.Background(), &CompletionRequest{}); err == nil {
		t.Fatal("expected error from API error body")
	}
}

func TestClientCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL, "", "m", time.Second)
	if _, err := c.Complete(context.Background(), &CompletionRequest{}); err == nil {
		t.Fatal("expected error for 429")
	}
}

type fakeEndpoint struct {
	name  string
	calls int
	fail  bool
}

func (f *fakeEndpoint) Name() string { return f.name }

func (f *fakeEndpoint) Complete(_ context.Context, _ *CompletionRequest) (*CompletionResponse, error) {
	f.calls++
	if f.fail {
		return nil, fmt.Errorf("endpoint %s down", f.name)
	}
	return &CompletionResponse{Content: "from " + f.name}, nil
}

func TestFailoverTriesInOrder(t *testing.T) {
	a := &fakeEndpoint{name: "a", fail: true}
	b := &fakeEndpoint{name: "b"}
	f := NewFailover([]Endpoint{a, b}, DefaultCooldownConfig())

	resp, err := f.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "from b" {
		t.Errorf("content = %q", resp.Content)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls: a=%d b=%d", a.calls, b.calls)
	}
}

func TestFailoverSkipsCooledDownEndpoint(t *testing.T) {
	a := &fakeEndpoint{name: "a", fail: true}
	b := &fakeEndpoint{name: "b"}
	f := NewFailover([]Endpoint{a, b}, DefaultCooldownConfig())

	if _, err := f.Complete(context.Background(), &CompletionRequest{}); err != nil {
		t.Fatalf("first Complete failed: %v", err)
	}
	// a is now in cooldown; second call must not touch it.
	if _, err := f.Complete(context.Background(), &CompletionRequest{}); err != nil {
		t.Fatalf("second Complete failed: %v", err)
	}
	if a.calls != 1 {
		t.Errorf("cooled-down endpoint called %d times, want 1", a.calls)
	}
	if b.calls != 2 {
		t.Errorf("b calls = %d, want 2", b.calls)
	}
}

func TestFailoverCooldownExpires(t *testing.T) {
	a := &fakeEndpoint{name: "a", fail: true}
	f := NewFailover([]Endpoint{a}, CooldownConfig{Initial: time.Minute, Max: time.Hour, Multiplier: 5})
	clock := time.Now()
	f.now = func() time.Time { return clock }

	_, err := f.Complete(context.Background(), &CompletionRequest{})
	var exhausted *AllExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want AllExhaustedError", err)
	}

	clock = clock.Add(30 * time.Second)
	_, _ = f.Complete(context.Background(), &CompletionRequest{})
	if a.calls != 1 {
		t.Fatalf("endpoint retried inside cooldown window, calls = %d", a.calls)
	}

	clock = clock.Add(31 * time.Second)
	a.fail = false
	resp, err := f.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete after cooldown failed: %v", err)
	}
	if resp.Content != "from a" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestFailoverCooldownGrows(t *testing.T) {
	f := NewFailover(nil, CooldownConfig{Initial: time.Minute, Max: time.Hour, Multiplier: 5})
	tests := []struct {
		errors int
		want   time.Duration
	}{
		{1, time.Minute},
		{2, 5 * time.Minute},
		{3, 25 * time.Minute},
		{4, time.Hour}, // 125m capped
	}
	for _, tt := range tests {
		if got := f.cooldownDuration(tt.errors); got != tt.want {
			t.Errorf("cooldownDuration(%d) = %v, want %v", tt.errors, got, tt.want)
		}
	}
}

func TestFailoverNoEndpoints(t *testing.T) {
	f := NewFailover(nil, DefaultCooldownConfig())
	_, err := f.Complete(context.Background(), &CompletionRequest{})
	var exhausted *AllExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want AllExhaustedError", err)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"fenced no tag", "```\n{\"a\":1}\n```", `{"a":1}`, false},
		{"surrounded by prose", `Here you go: {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`, false},
		{"braces inside strings", `{"text":"use { and } freely"}`, `{"text":"use { and } freely"}`, false},
		{"escaped quote", `{"text":"say \"hi\" {"}`, `{"text":"say \"hi\" {"}`, false},
		{"no object", "just words", "", true},
		{"unterminated", `{"a":1`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	if got := StripFences("```lua\nreturn 1\n```"); got != "return 1" {
		t.Errorf("got %q", got)
	}
	if got := StripFences("plain"); got != "plain" {
		t.Errorf("got %q", got)
	}
}
