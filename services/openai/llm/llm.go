// Package llm implements the response-generation collaborator using OpenAI
// chat completions.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"roomvoice/core"
)

const defaultSystemPrompt = "You are a helpful voice assistant participating in a live room. " +
	"Keep replies short and conversational; they will be spoken aloud."

// Config holds the configuration for the OpenAI responder.
type Config struct {
	APIKey       string  `json:"api_key"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float32 `json:"temperature"`
	SystemPrompt string  `json:"system_prompt"`
}

// DefaultConfig returns a default responder configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:       openai.GPT4oMini,
		MaxTokens:   256,
		Temperature: 0.7,
	}
}

// Service generates spoken replies from transcript context.
type Service struct {
	client *openai.Client
	config *Config
	logger *core.Logger
}

func NewService(config *Config, logger *core.Logger) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai llm: api key is required")
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Service{
		client: openai.NewClient(config.APIKey),
		config: config,
		logger: logger,
	}, nil
}

// Respond produces a reply to text, with history providing the recent
// conversation window (oldest first). The finalized turn itself is expected
// to be the last history entry; it is passed separately so the prompt can
// name the speaker even when history is empty.
func (s *Service) Respond(ctx context.Context, speakerName, text string, history []core.ConversationTurn) (string, error) {
	prompt := s.config.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt,
	})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		content := turn.Content
		if turn.Kind == core.TurnAIResponse {
			role = openai.ChatMessageRoleAssistant
		} else if turn.ParticipantName != "" {
			content = turn.ParticipantName + ": " + turn.Content
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: content})
	}
	current := text
	if speakerName != "" {
		current = speakerName + ": " + text
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: current,
	})

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    messages,
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai llm: empty completion")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("openai llm: blank reply")
	}
	return reply, nil
}
