package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"Companion/models"
	"Companion/pkg/apperr"
)

const classifyPrompt = `You label the emotional tone of one chat message for a mental health companion.
Answer with a single JSON object and nothing else: {"label": "<mood>", "score": <confidence 0..1>}.
<mood> is exactly one of: happy, sad, anxious, angry, stressed, neutral.`

// ChatCompleter is the subset of *openai.Client used by LLMTagger.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMTagger asks an OpenAI compatible model for a JSON assessment.
type LLMTagger struct {
	client ChatCompleter
	model  string
	log    *zap.Logger
}

func NewLLMTagger(client ChatCompleter, model string, log *zap.Logger) *LLMTagger {
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMTagger{client: client, model: model, log: log}
}

// NewOpenAIClient builds a go-openai client, honouring a custom base URL for
// compatible gateways.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (t *LLMTagger) Assess(ctx context.Context, text string) (models.Assessment, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: 0,
		MaxTokens:   40,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return models.Assessment{}, apperr.Service("sentiment completion", err)
	}
	if len(resp.Choices) == 0 {
		return models.Assessment{}, apperr.Service("sentiment completion returned no choices", nil)
	}

	a, err := parseAssessment(resp.Choices[0].Message.Content)
	if err != nil {
		t.log.Debug("unusable sentiment output", zap.String("content", resp.Choices[0].Message.Content), zap.Error(err))
		return models.Assessment{}, apperr.Service("sentiment output", err)
	}
	return a, nil
}

// parseAssessment extracts the first JSON object from content, tolerating
// code fences and chatter around it.
func parseAssessment(content string) (models.Assessment, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return models.Assessment{}, fmt.Errorf("no json object in %q", content)
	}

	var raw struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return models.Assessment{}, fmt.Errorf("decode assessment: %w", err)
	}
	label, err := models.ParseMood(raw.Label)
	if err != nil {
		return models.Assessment{}, err
	}
	a, _ := models.Assessment{Label: label, Score: raw.Score}.Normalize()
	return a, nil
}
