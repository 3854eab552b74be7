package respond

import (
	"context"
	"fmt"

	"github.com/lifelinehq/lifeline/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are an incident-response guide for frontline workers.
Give short, concrete safety instructions for the situation being reported.
After your reply, append two tags on their own line:
[URGENCY: NORMAL|URGENT|CRITICAL] reflecting the severity of the situation,
and [SOURCES: ...] listing the procedures your guidance draws on, if any.`

// chatClient abstracts the OpenAI API method we use, enabling test mocks.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIResponder implements Responder using the OpenAI Chat Completions API.
type OpenAIResponder struct {
	client chatClient
	model  string
}

// OpenAIOpts holds parameters for creating an OpenAIResponder.
type OpenAIOpts struct {
	APIKey string
	Model  string
	// For testing: inject a mock client instead of the real API.
	Client chatClient
}

// NewOpenAIResponder creates an OpenAIResponder.
func NewOpenAIResponder(opts OpenAIOpts) (*OpenAIResponder, error) {
	if opts.Client == nil && opts.APIKey == "" {
		return nil, fmt.Errorf("respond: api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("respond: model is required")
	}
	r := &OpenAIResponder{client: opts.Client, model: opts.Model}
	if r.client == nil {
		r.client = openai.NewClient(opts.APIKey)
	}
	return r, nil
}

// Respond sends the conversation to the model and parses the tagged reply.
func (r *OpenAIResponder) Respond(ctx context.Context, history []models.Message, userText string) (Reply, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("respond: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("respond: empty completion")
	}

	return ParseTags(resp.Choices[0].Message.Content), nil
}
