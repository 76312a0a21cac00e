package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SearchToolName is the only tool the model is offered.
const SearchToolName = "search_documents"

// SearchTool declares the FAQ search tool.
var SearchTool = Function{
	Name:        SearchToolName,
	Description: "Search the FAQ knowledge base and return the matching question and answer pairs",
	Parameters: Schema{
		Type: "object",
		Properties: map[string]Property{
			"query": {Type: "string", Description: "Search query"},
			"top_k": {Type: "integer", Description: "Number of results to return"},
		},
		Required: []string{"query"},
	},
}

// SearchArgs are the decoded search_documents arguments.
type SearchArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// DecodeSearchArgs strictly decodes tool arguments. Unknown fields, wrong types,
// trailing data and an empty query are all ErrBadToolArguments.
func DecodeSearchArgs(raw Arguments) (SearchArgs, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var args SearchArgs
	if err := dec.Decode(&args); err != nil {
		return SearchArgs{}, fmt.Errorf("%w: %v", ErrBadToolArguments, err)
	}
	if dec.More() {
		return SearchArgs{}, fmt.Errorf("%w: trailing data", ErrBadToolArguments)
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return SearchArgs{}, fmt.Errorf("%w: empty query", ErrBadToolArguments)
	}
	if args.TopK < 0 {
		return SearchArgs{}, fmt.Errorf("%w: negative top_k", ErrBadToolArguments)
	}
	return args, nil
}

// SearchFunc runs a search for the model and returns the formatted results.
type SearchFunc func(ctx context.Context, args SearchArgs) (string, error)

// CompleteWithSearch offers the search tool to the model. When the model calls
// it, the search runs locally, its results are appended as a function message,
// and the model is asked exactly once more.
func (c *Client) CompleteWithSearch(ctx context.Context, msgs []Message, search SearchFunc) (Reply, error) {
	first, err := c.chat(ctx, msgs, []Function{SearchTool})
	if err != nil {
		return Reply{}, err
	}
	msg := first.Choices[0].Message
	if msg.FunctionCall == nil {
		return Reply{Content: msg.Content, Usage: first.Usage}, nil
	}
	if msg.FunctionCall.Name != SearchToolName {
		return Reply{}, fmt.Errorf("%w: unknown function %q", ErrBadToolArguments, msg.FunctionCall.Name)
	}

	args, err := DecodeSearchArgs(msg.FunctionCall.Arguments)
	if err != nil {
		c.log.Warn("model sent bad tool arguments", "err", err)
		return Reply{}, err
	}
	result, err := search(ctx, args)
	if err != nil {
		return Reply{}, fmt.Errorf("completion: %s: %w", SearchToolName, err)
	}
	c.log.Debug("tool call served", "tool", SearchToolName, "query", args.Query, "top_k", args.TopK)

	content, _ := json.Marshal(map[string]string{"result": result})
	followUp := append(append(make([]Message, 0, len(msgs)+2), msgs...),
		Message{Role: RoleAssistant, FunctionCall: msg.FunctionCall},
		Message{Role: RoleFunction, Name: SearchToolName, Content: string(content)},
	)

	second, err := c.chat(ctx, followUp, nil)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Content:        second.Choices[0].Message.Content,
		FunctionCalled: true,
		Usage: Usage{
			PromptTokens:     first.Usage.PromptTokens + second.Usage.PromptTokens,
			CompletionTokens: first.Usage.CompletionTokens + second.Usage.CompletionTokens,
			TotalTokens:      first.Usage.TotalTokens + second.Usage.TotalTokens,
		},
	}, nil
}
