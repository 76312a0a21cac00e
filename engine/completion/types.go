// Package completion talks to an OAuth-protected chat completion API: it caches
// the access token, sends chat requests and runs the single search tool round trip.
package completion

import (
	"bytes"
	"encoding/json"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Message is one chat turn.
type Message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name      string    `json:"name"`
	Arguments Arguments `json:"arguments"`
}

// Arguments holds a tool call's raw JSON arguments. Providers send either a JSON
// object or a string containing one; both decode to the object bytes.
type Arguments json.RawMessage

func (a *Arguments) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Arguments(s)
		return nil
	}
	*a = append((*a)[:0], b...)
	return nil
}

func (a Arguments) MarshalJSON() ([]byte, error) {
	switch {
	case len(a) == 0:
		return []byte("{}"), nil
	case json.Valid(a):
		return a, nil
	default:
		return json.Marshal(string(a))
	}
}

// Function declares a tool the model may call.
type Function struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  Schema `json:"parameters"`
}

// Schema is the JSON schema subset used for tool parameters.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one tool parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is the final answer of a completion round.
type Reply struct {
	Content        string
	FunctionCalled bool
	Usage          Usage
}

type chatRequest struct {
	Model        string     `json:"model"`
	Messages     []Message  `json:"messages"`
	Temperature  float64    `json:"temperature"`
	MaxTokens    int        `json:"max_tokens,omitempty"`
	Functions    []Function `json:"functions,omitempty"`
	FunctionCall string     `json:"function_call,omitempty"`
}

type chatChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	// ExpiresAt is an absolute unix time in milliseconds.
	ExpiresAt int64 `json:"expires_at"`
}
