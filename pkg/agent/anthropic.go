// Package agent holds the generative-model client the pipeline hands each
// batch to.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropic creates a new Anthropic-backed client. The API key comes from
// the environment (ANTHROPIC_API_KEY).
func NewAnthropic(model string, maxTokens int64) *Anthropic {
	return &Anthropic{
		client:    anthropic.NewClient(),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}
}

// Complete sends a prompt and returns the response text.
func (a *Anthropic) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	slog.Info("Anthropic API call starting", "model", a.model, "maxTokens", a.maxTokens, "promptLen", len(prompt))

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})

	duration := time.Since(start)
	if err != nil {
		slog.Error("Anthropic API call failed", "duration", duration, "error", err)
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	slog.Info("Anthropic API call completed", "duration", duration, "stopReason", msg.StopReason)

	// Extract text from response
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", fmt.Errorf("no text content in response")
}
