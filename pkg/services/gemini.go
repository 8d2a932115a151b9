package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"Companion/models"
	"Companion/pkg/apperr"
)

const (
	defaultGeminiModel = "gemini-2.0-flash"
	minReplyLength     = 10
)

var (
	ErrGeminiDisabled = errors.New("gemini is disabled via config")
	ErrShortReply     = errors.New("reply too short")
)

// ContentGenerator is the subset of *genai.Models used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	Enabled      bool
	Model        string
	HistoryLimit int
	// RetryDelay is the pause before retrying an overloaded model.
	RetryDelay time.Duration
}

type GeminiGenerator struct {
	models ContentGenerator
	cfg    GeminiConfig
	log    *zap.Logger
}

// NewGeminiClient connects to the Gemini API with an API key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

func NewGeminiGenerator(models ContentGenerator, cfg GeminiConfig, log *zap.Logger) *GeminiGenerator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 6
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiGenerator{models: models, cfg: cfg, log: log.Named("gemini")}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req ReplyRequest) (string, error) {
	if !g.cfg.Enabled {
		return "", apperr.Service("gemini", ErrGeminiDisabled)
	}

	contents := geminiContents(req, g.cfg.HistoryLimit)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(req), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.8),
		TopP:              genai.Ptr[float32](0.9),
		MaxOutputTokens:   150,
	}

	candidates := []string{g.cfg.Model, defaultGeminiModel}
	tried := make(map[string]bool)
	var errs []error
	for _, m := range candidates {
		m = strings.TrimSpace(m)
		if m == "" || tried[m] {
			continue
		}
		tried[m] = true

		text, err := g.call(ctx, m, contents, config)
		if err != nil && isRetriable(err) {
			sleepWithContext(ctx, g.cfg.RetryDelay)
			text, err = g.call(ctx, m, contents, config)
		}
		if err == nil {
			return text, nil
		}
		g.log.Warn("model failed", zap.String("model", m), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", m, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", apperr.Service("all gemini models failed", errors.Join(errs...))
}

func (g *GeminiGenerator) call(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	resp, err := g.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if len(text) <= minReplyLength {
		return "", fmt.Errorf("%w: %q", ErrShortReply, text)
	}
	return text, nil
}

// geminiContents maps the last limit history entries and the new user text
// onto user/model turns.
func geminiContents(req ReplyRequest, limit int) []*genai.Content {
	history := req.History
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Sender == models.SenderBot {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return append(contents, genai.NewContentFromText(req.UserText, genai.RoleUser))
}

func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	e := strings.ToLower(err.Error())
	if strings.Contains(e, "503") || strings.Contains(e, "unavailable") {
		return true
	}
	if strings.Contains(e, "429") || strings.Contains(e, "resource_exhausted") || strings.Contains(e, "quota") {
		return true
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
