package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

const historyTurnLimit = 10

// Config holds the Ark chat-model credentials and generation knobs.
type Config struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string

	Temperature *float64
	MaxTokens   *int

	// Timeout bounds a single generation call so a stuck upstream cannot
	// hold the reply lock indefinitely.
	Timeout time.Duration
}

// Enabled reports whether the required credentials are present.
func (c Config) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// ArkGenerator is a Generator backed by an eino chain over an Ark chat model.
// The chain (prompt template -> model) is compiled once at construction.
type ArkGenerator struct {
	cfg   Config
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewArkGenerator constructs the generator and compiles its chain.
func NewArkGenerator(ctx context.Context, cfg Config) (*ArkGenerator, error) {
	if !cfg.Enabled() {
		return nil, errors.New("ai: ark credentials or model missing")
	}

	var temperature *float32
	if cfg.Temperature != nil {
		v := float32(*cfg.Temperature)
		temperature = &v
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		Region:      cfg.Region,
		APIKey:      cfg.APIKey,
		AccessKey:   cfg.AccessKey,
		SecretKey:   cfg.SecretKey,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("ai: create chat model: %w", err)
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("ai: compile chain: %w", err)
	}

	return &ArkGenerator{cfg: cfg, chain: runnable}, nil
}

// Generate produces one reply in the persona's voice.
func (g *ArkGenerator) Generate(ctx context.Context, persona Persona, history []Turn) (string, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	out, err := g.chain.Invoke(ctx, map[string]any{
		"system":  BuildSystemPrompt(persona),
		"history": historyMessages(history),
	})
	if err != nil {
		return "", fmt.Errorf("ai: generate: %w", err)
	}

	text := strings.TrimSpace(out.Content)
	if text == "" {
		return "", errors.New("ai: empty completion")
	}
	return text, nil
}

// historyMessages maps role-tagged turns onto model messages, keeping only
// the most recent window.
func historyMessages(history []Turn) []*schema.Message {
	if len(history) > historyTurnLimit {
		history = history[len(history)-historyTurnLimit:]
	}

	msgs := make([]*schema.Message, 0, len(history))
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		switch t.Role {
		case RoleCounterpart:
			msgs = append(msgs, schema.AssistantMessage(text, nil))
		case RoleVisitor:
			msgs = append(msgs, schema.UserMessage(text))
		}
	}
	return msgs
}
