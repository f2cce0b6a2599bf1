// Package assistant is the portal's "Q" health assistant: an OpenAI
// chat completion behind a clinical-caution system prompt.
package assistant

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are Q, a health information assistant for a clinic portal. " +
	"Give short, practical answers to general health questions. " +
	"Never diagnose, never prescribe, and remind the patient to consult " +
	"their doctor for anything urgent or specific to their condition."

// Turn is one prior exchange in the conversation history. Role is
// "user" or "assistant".
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client generates an assistant reply for a patient prompt.
type Client interface {
	Ask(ctx context.Context, prompt string, history []Turn) (string, error)
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIClient implements Client against the OpenAI chat completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  model,
	}
}

func (c *OpenAIClient) Ask(ctx context.Context, prompt string, history []Turn) (string, error) {
	if prompt == "" {
		return "", errors.New("empty prompt")
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, t := range history {
		role := t.Role
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		log.Warn().Str("module", "assistant").Msg("empty completion")
		return "", nil
	}
	return FormatReply(resp.Choices[0].Message.Content), nil
}
