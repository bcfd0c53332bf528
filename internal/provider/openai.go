package provider

import (
	"context"
	"net/http"
	"strings"

	"aidispatch/internal/core"
)

// OpenAIAdapter talks to OpenAI-compatible chat completion endpoints.
type OpenAIAdapter struct {
	name    string
	baseURL string
	client  *http.Client
	headers map[string]string
}

type openAIRequest struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIAdapter creates an adapter for one provider. Extra headers are
// sent with every call.
func NewOpenAIAdapter(name, baseURL string, client *http.Client, headers map[string]string) *OpenAIAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIAdapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		headers: headers,
	}
}

// Send implements core.Adapter
func (a *OpenAIAdapter) Send(ctx context.Context, req core.AdapterRequest) (string, error) {
	headers := make(map[string]string, len(a.headers)+1)
	for k, v := range a.headers {
		headers[k] = v
	}
	headers[core.HeaderAuthorization] = core.AuthBearerPrefix + req.APIKey

	payload := openAIRequest{
		Model:       req.Model,
		Messages:    buildOpenAIMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var resp openAIResponse
	if err := postJSON(ctx, a.client, a.name, req.Model, a.baseURL+"/chat/completions", headers, payload, &resp); err != nil {
		return "", err
	}

	if resp.Error != nil && resp.Error.Message != "" {
		return "", &core.ProviderError{Provider: a.name, Model: req.Model, Kind: Classify(0, resp.Error.Message), Message: resp.Error.Message}
	}
	if len(resp.Choices) == 0 {
		return "", &core.ProviderError{Provider: a.name, Model: req.Model, Kind: core.KindUnknown, Message: "response has no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// buildOpenAIMessages uses the caller's conversation when given and adds
// the system instruction in front unless the conversation already has one.
func buildOpenAIMessages(req core.AdapterRequest) []core.Message {
	if len(req.Messages) > 0 {
		if req.System == "" || req.Messages[0].Role == core.RoleSystem {
			return req.Messages
		}
		out := make([]core.Message, 0, len(req.Messages)+1)
		out = append(out, core.Message{Role: core.RoleSystem, Content: req.System})
		return append(out, req.Messages...)
	}

	messages := make([]core.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, core.Message{Role: core.RoleSystem, Content: req.System})
	}
	return append(messages, core.Message{Role: core.RoleUser, Content: req.Prompt})
}
