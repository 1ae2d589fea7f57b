package factory

import (
	"ai-booking-caller-be/pkg/llm"
	"ai-booking-caller-be/pkg/llm/ollama"
	"ai-booking-caller-be/pkg/llm/openai"
	"fmt"
)

type Settings struct {
	Provider      string
	Model         string
	OllamaBaseURL string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewLLMProvider(s Settings) (llm.LLMProvider, error) {
	switch s.Provider {
	case "ollama":
		baseURL := s.OllamaBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434" // Default
		}
		return ollama.NewOllamaProvider(baseURL, s.Model), nil
	case "openai":
		if s.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
		return openai.NewOpenAIProvider(s.OpenAIAPIKey, s.Model, s.OpenAIBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", s.Provider)
	}
}
