package catalog

import "aidispatch/internal/core"

var (
	textCodeReasoning       = []core.Capability{core.CapText, core.CapCode, core.CapReasoning}
	textVisionCodeReasoning = []core.Capability{core.CapText, core.CapVision, core.CapCode, core.CapReasoning}
	textCode                = []core.Capability{core.CapText, core.CapCode}
	textOnly                = []core.Capability{core.CapText}
)

// DefaultProviders returns the built-in provider table in fallback priority order.
func DefaultProviders() []core.Provider {
	return []core.Provider{
		{
			Name:     "gemini",
			Label:    "Google Gemini",
			Protocol: core.ProtocolGemini,
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			RPM:      15,
			Models: []core.Model{
				{Name: "gemini-2.5-flash", Label: "Gemini 2.5 Flash", RPM: 15, Quality: 95, Free: true, Capabilities: textVisionCodeReasoning},
				{Name: "gemini-2.5-flash-lite", Label: "Gemini 2.5 Flash-Lite", RPM: 30, Quality: 85, Free: true, Capabilities: textCode},
				{Name: "gemini-2.5-pro", Label: "Gemini 2.5 Pro", RPM: 5, Quality: 98, Free: true, Capabilities: textVisionCodeReasoning},
				{Name: "gemini-3-flash-preview", Label: "Gemini 3.0 Flash Preview", RPM: 15, Quality: 96, Free: true, Capabilities: textVisionCodeReasoning},
				{Name: "gemini-2.0-flash", Label: "Gemini 2.0 Flash", Quality: 92, Free: true, Capabilities: []core.Capability{core.CapText, core.CapVision, core.CapImageGen}},
				{Name: "gemini-2.0-flash-lite", Label: "Gemini 2.0 Flash-Lite", Quality: 82, Free: true, Capabilities: textOnly},
				{Name: "gemma-3-27b-it", Label: "Gemma 3 27B", Quality: 88, Free: true, Capabilities: textCode},
				{Name: "gemini-robotics-er-1.5-preview", Label: "Gemini Robotics-ER 1.5", Quality: 85, Free: true, Capabilities: []core.Capability{core.CapText, core.CapVision}},
			},
		},
		{
			Name:     "groq",
			Label:    "Groq",
			Protocol: core.ProtocolOpenAI,
			BaseURL:  "https://api.groq.com/openai/v1",
			RPM:      30,
			Models: []core.Model{
				{Name: "llama-3.3-70b-versatile", Label: "Llama 3.3 70B", Quality: 90, Free: true, Capabilities: textCodeReasoning},
				{Name: "llama-3.1-8b-instant", Label: "Llama 3.1 8B Instant", Quality: 75, Free: true, Capabilities: textOnly},
				{Name: "meta-llama/llama-4-scout-17b-16e-instruct", Label: "Llama 4 Scout 17B", Quality: 88, Free: true, Capabilities: []core.Capability{core.CapText, core.CapVision, core.CapCode}},
				{Name: "meta-llama/llama-4-maverick-17b-128e-instruct", Label: "Llama 4 Maverick 17B", Quality: 90, Free: true, Capabilities: textVisionCodeReasoning},
				{Name: "qwen/qwen3-32b", Label: "Qwen3 32B", Quality: 85, Free: true, Capabilities: textCode},
				{Name: "moonshotai/kimi-k2-instruct", Label: "Kimi K2 Instruct", Quality: 82, Free: true, Capabilities: textOnly},
				{Name: "openai/gpt-oss-120b", Label: "GPT-OSS 120B", Quality: 88, Free: true, Capabilities: textCodeReasoning},
				{Name: "allam-2-7b", Label: "Allam 2 7B", Quality: 70, Free: true, Capabilities: textOnly},
			},
		},
		{
			Name:         "openrouter",
			Label:        "OpenRouter",
			Protocol:     core.ProtocolOpenAI,
			BaseURL:      "https://openrouter.ai/api/v1",
			RPM:          20,
			DefaultModel: "mistralai/mistral-small-3.1-24b-instruct:free",
			Models: []core.Model{
				{Name: "deepseek/deepseek-r1-0528:free", Label: "DeepSeek R1", Quality: 96, Free: true, Capabilities: textCodeReasoning},
				{Name: "meta-llama/llama-3.3-70b-instruct:free", Label: "Llama 3.3 70B", Quality: 88, Free: true, Capabilities: textCode},
				{Name: "google/gemma-3-27b-it:free", Label: "Gemma 3 27B", Quality: 86, Free: true, Capabilities: textCode},
				{Name: "nvidia/nemotron-3-nano-30b-a3b:free", Label: "NVIDIA Nemotron 3 Nano", Quality: 85, Free: true, Capabilities: textCode},
				{Name: "nvidia/nemotron-nano-12b-v2-vl:free", Label: "NVIDIA Nemotron VL", Quality: 83, Free: true, Capabilities: []core.Capability{core.CapText, core.CapVision}},
				{Name: "tngtech/deepseek-r1t2-chimera:free", Label: "DeepSeek R1T2 Chimera", Quality: 92, Free: true, Capabilities: textCodeReasoning},
				{Name: "tngtech/deepseek-r1t-chimera:free", Label: "DeepSeek R1T Chimera", Quality: 90, Free: true, Capabilities: textCodeReasoning},
				{Name: "tngtech/tng-r1t-chimera:free", Label: "TNG R1T Chimera", Quality: 88, Free: true, Capabilities: textCode},
				{Name: "z-ai/glm-4.5-air:free", Label: "GLM 4.5 Air", Quality: 84, Free: true, Capabilities: textOnly},
				{Name: "mistralai/mistral-small-3.1-24b-instruct:free", Label: "Mistral Small 3.1", Quality: 82, Free: true, Capabilities: textCode},
			},
		},
		{
			Name:     "mistral",
			Label:    "Mistral AI",
			Protocol: core.ProtocolOpenAI,
			BaseURL:  "https://api.mistral.ai/v1",
			RPM:      30,
			Models: []core.Model{
				{Name: "mistral-small-latest", Label: "Mistral Small", Quality: 85, Free: true, Capabilities: textCode},
				{Name: "open-mistral-7b", Label: "Mistral 7B", Quality: 75, Free: true, Capabilities: textOnly},
				{Name: "codestral-latest", Label: "Codestral", Quality: 88, Free: true, Capabilities: []core.Capability{core.CapCode}},
			},
		},
	}
}
