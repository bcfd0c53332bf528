package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"aidispatch/internal/core"
)

// GeminiAdapter talks to the Gemini generateContent API.
type GeminiAdapter struct {
	name    string
	baseURL string
	client  *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// NewGeminiAdapter creates a Gemini adapter
func NewGeminiAdapter(name, baseURL string, client *http.Client) *GeminiAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiAdapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Send implements core.Adapter
func (a *GeminiAdapter) Send(ctx context.Context, req core.AdapterRequest) (string, error) {
	payload := buildGeminiRequest(req)
	endpoint := a.baseURL + "/models/" + url.PathEscape(req.Model) + ":generateContent"
	headers := map[string]string{core.HeaderGoogAPIKey: req.APIKey}

	var resp geminiResponse
	if err := postJSON(ctx, a.client, a.name, req.Model, endpoint, headers, payload, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", &core.ProviderError{Provider: a.name, Model: req.Model, Kind: core.KindRequest, Message: "prompt blocked: " + resp.PromptFeedback.BlockReason}
		}
		return "", &core.ProviderError{Provider: a.name, Model: req.Model, Kind: core.KindUnknown, Message: "response has no candidates"}
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}

func buildGeminiRequest(req core.AdapterRequest) geminiRequest {
	var payload geminiRequest
	payload.GenerationConfig.Temperature = req.Temperature
	payload.GenerationConfig.MaxOutputTokens = req.MaxTokens

	system := req.System
	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			if m.Role == core.RoleSystem {
				if system == "" {
					system = m.Content
				}
				continue
			}
			role := core.RoleUser
			if m.Role == core.RoleAssistant {
				role = core.RoleGemini
			}
			payload.Contents = append(payload.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
		}
	} else {
		payload.Contents = []geminiContent{{Role: core.RoleUser, Parts: []geminiPart{{Text: req.Prompt}}}}
	}

	if system != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	return payload
}
