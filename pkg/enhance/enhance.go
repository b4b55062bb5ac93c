package enhance

import (
	"context"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a music creation assistant. Improve the user's description, making it more detailed and suitable for music generation. Reply with the improved prompt only, without any extra explanation."

// Enhancer rewrites raw user descriptions into richer generation prompts.
type Enhancer struct {
	client *openai.Client
	model  string
	debug  bool
}

type Config struct {
	Token string
	Host  string
	Model string
	Debug bool
}

func New(cfg *Config) *Enhancer {
	if cfg.Token == "" {
		return &Enhancer{}
	}
	c := openai.DefaultConfig(cfg.Token)
	if cfg.Host != "" {
		c.BaseURL = cfg.Host
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4
	}
	return &Enhancer{
		client: openai.NewClientWithConfig(c),
		model:  model,
		debug:  cfg.Debug,
	}
}

// Enhance returns an improved version of the raw description. It fails open:
// on any error the raw text is returned unchanged.
func (e *Enhancer) Enhance(ctx context.Context, raw string) string {
	if e.client == nil {
		return raw
	}
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Improve this music description: " + raw,
			},
		},
	})
	if err != nil {
		if e.debug {
			log.Printf("enhance: couldn't enhance prompt: %v\n", err)
		}
		return raw
	}
	if len(resp.Choices) == 0 {
		return raw
	}
	enhanced := strings.TrimSpace(resp.Choices[0].Message.Content)
	if enhanced == "" {
		return raw
	}
	return enhanced
}
