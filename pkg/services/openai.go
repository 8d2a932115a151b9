package services

import (
	"context"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"Companion/models"
	"Companion/pkg/apperr"
)

const (
	defaultPromptBudget = 3500
	// fallbackHistory is how many history entries survive when no encoding
	// is available to count tokens.
	fallbackHistory = 6
)

// ChatCompleter is the subset of *openai.Client used by OpenAIGenerator.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type OpenAIConfig struct {
	Model        string
	HistoryLimit int
	// PromptBudget caps the prompt size in tokens; oldest history goes first.
	PromptBudget int
}

type OpenAIGenerator struct {
	client      ChatCompleter
	cfg         OpenAIConfig
	log         *zap.Logger
	countTokens func(model string, msgs []openai.ChatCompletionMessage) (int, error)
}

func NewOpenAIGenerator(client ChatCompleter, cfg OpenAIConfig, log *zap.Logger) *OpenAIGenerator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 6
	}
	if cfg.PromptBudget <= 0 {
		cfg.PromptBudget = defaultPromptBudget
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAIGenerator{client: client, cfg: cfg, log: log.Named("openai"), countTokens: countTokens}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req ReplyRequest) (string, error) {
	history := req.History
	if len(history) > g.cfg.HistoryLimit {
		history = history[len(history)-g.cfg.HistoryLimit:]
	}

	system := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req)}
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserText}
	turns := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		turns = append(turns, openai.ChatCompletionMessage{Role: roleFor(m.Sender), Content: m.Content})
	}
	turns = g.trim(system, turns, user)

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+2)
	messages = append(messages, system)
	messages = append(messages, turns...)
	messages = append(messages, user)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Temperature: 0.8,
		TopP:        0.9,
		N:           1,
		MaxTokens:   150,
		Messages:    messages,
	})
	if err != nil {
		return "", apperr.Service("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Service("chat completion", ErrEmptyReply)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if len(text) <= minReplyLength {
		return "", apperr.Service("chat completion", ErrShortReply)
	}
	return text, nil
}

// trim drops the oldest turns until the whole prompt fits the budget.
func (g *OpenAIGenerator) trim(system openai.ChatCompletionMessage, turns []openai.ChatCompletionMessage, user openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	for len(turns) > 0 {
		prompt := append(append([]openai.ChatCompletionMessage{system}, turns...), user)
		n, err := g.countTokens(g.cfg.Model, prompt)
		if err != nil {
			g.log.Debug("token count unavailable, trimming by length", zap.Error(err))
			if len(turns) > fallbackHistory {
				turns = turns[len(turns)-fallbackHistory:]
			}
			return turns
		}
		if n < g.cfg.PromptBudget {
			break
		}
		turns = turns[1:]
	}
	return turns
}

// countTokens follows the chat format accounting: a fixed overhead per
// message plus its role and content, and three tokens priming the reply.
func countTokens(model string, msgs []openai.ChatCompletionMessage) (int, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, err
		}
	}
	total := 3
	for _, m := range msgs {
		total += 4
		total += len(enc.Encode(m.Role, nil, nil))
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total, nil
}

func roleFor(s models.Sender) string {
	if s == models.SenderBot {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}
