package gen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/ops"
)

// ErrGenerationFailed is returned when no usable text could be produced
// within the retry budget. Callers must skip the outbound action entirely;
// substituting canned reply text is not allowed.
var ErrGenerationFailed = errors.New("generation failed")

// Tier selects how much effort a generation request deserves
type Tier int

const (
	// TierFast is for short conversational replies
	TierFast Tier = iota
	// TierQuality is for standalone posts and discovery replies
	TierQuality
)

// Request describes one generation call
type Request struct {
	System string
	Prompt string
	Tier   Tier
}

// Generator produces user-facing text. Implementations return
// ErrGenerationFailed (possibly wrapped) when they cannot produce usable
// output; they never return degraded placeholder text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// OpenAIGenerator generates text through the OpenAI chat completion API
// with a bounded retry loop and exponential backoff.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    *config.Generation
	log    *ops.Logger
}

// NewOpenAIGenerator creates a generator from config. The API key comes
// from the environment (OPENAI_API_KEY), matching the client default.
func NewOpenAIGenerator(apiKey string, cfg *config.Generation, log *ops.Logger) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		cfg:    cfg,
		log:    log.WithComponent("gen"),
	}
}

// Generate runs the request with up to cfg.MaxRetries attempts. Empty or
// whitespace-only completions count as failures.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	temperature := float32(g.cfg.Temperature)
	maxTokens := g.cfg.MaxTokens
	if req.Tier == TierFast {
		maxTokens = maxTokens / 2
		if maxTokens < 60 {
			maxTokens = 60
		}
	}

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrGenerationFailed, ctx.Err())
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(g.cfg.TimeoutSeconds)*time.Second)
		resp, err := g.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: g.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: req.System},
				{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
			},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		cancel()

		if err != nil {
			lastErr = err
			g.log.Warn("generation attempt failed",
				"attempt", attempt+1,
				"error", err)
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = errors.New("no choices in response")
			continue
		}

		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			lastErr = errors.New("empty completion")
			continue
		}

		return text, nil
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrGenerationFailed, g.cfg.MaxRetries, lastErr)
}

// Deterministic fallback templates. These are the only non-generated texts
// the agent ever publishes, and only for thanks/greetings.

// ThanksText returns a deterministic zap-thanks message
func ThanksText(amountSats int64) string {
	if amountSats >= 10000 {
		return fmt.Sprintf("Wow, %d sats! Thank you so much for the generous zap! ⚡", amountSats)
	}
	if amountSats > 0 {
		return fmt.Sprintf("Thank you for the %d sats! ⚡", amountSats)
	}
	return "Thank you for the zap! ⚡"
}

// GreetingText returns a deterministic DM greeting
func GreetingText(name string) string {
	if name == "" {
		return "Hey! Thanks for reaching out."
	}
	return fmt.Sprintf("Hey %s! Thanks for reaching out.", name)
}
