// Package provider is the outbound client for the reasoning step: an
// OpenAI-compatible completion call with ordered-endpoint failover and
// exponential cooldown on failing endpoints.
package provider

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Endpoint is one completion backend. Client implements it; Failover wraps a
// list of them.
type Endpoint interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// ExtractJSON returns the outermost JSON object embedded in an LLM response,
// tolerating code fences and surrounding prose. Models routinely wrap
// structured output in markdown despite instructions not to.
func ExtractJSON(s string) (string, error) {
	s = StripFences(s)
	start := strings.Index(s, "{")
	if start < 0 {
		return "", fmt.Errorf("provider: no JSON object in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("provider: unterminated JSON object in response")
}

// StripFences removes a single surrounding markdown code fence, with or
// without a language tag.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s[3:]
	if i := strings.Index(body, "\n"); i >= 0 {
		// Drop the language tag line.
		body = body[i+1:]
	}
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}
