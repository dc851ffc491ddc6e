package llmservice

import (
	"context"
	"fmt"
	"strings"

	"doc-assistant/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrorFragment is streamed in place of the rest of an answer when the
// model fails, the response has already started by then.
const ErrorFragment = "\n[error] answer generation failed: %v"

// Generator streams the answer to a fully composed prompt.
type Generator interface {
	Stream(ctx context.Context, prompt string) <-chan string
}

// Client streams completions from a langchaingo model.
type Client struct {
	llm llms.Model
}

// NewLLM creates the chat model. "openai" covers any OpenAI compatible
// endpoint (OpenRouter, Gemini's OpenAI endpoint, vLLM) through base_url.
func NewLLM(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("model", llmConfig.Model).Msg("Creating chat model")
	switch llmConfig.Provider {
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", llmConfig.Provider)
	}
}

func NewClient(llm llms.Model) *Client {
	return &Client{llm: llm}
}

// Stream sends answer fragments on the returned channel until the model is
// done. Failures are delivered as a single ErrorFragment and the channel is
// closed; nothing is retried.
func (c *Client) Stream(ctx context.Context, prompt string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		send := func(fragment string) bool {
			select {
			case out <- fragment:
				return true
			case <-ctx.Done():
				return false
			}
		}

		_, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				if !send(string(chunk)) {
					return ctx.Err()
				}
				return nil
			}),
		)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Streaming failed")
			send(fmt.Sprintf(ErrorFragment, err))
		}
	}()
	return out
}

// Text returns a generator that streams a fixed answer.
func Text(answer string) <-chan string {
	out := make(chan string, 1)
	out <- answer
	close(out)
	return out
}
