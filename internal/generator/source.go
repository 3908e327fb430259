package generator

import (
	"context"
	"log/slog"
	"time"

	"github.com/lamim/pairforge/internal/api"
	"github.com/lamim/pairforge/internal/candidates"
	"github.com/lamim/pairforge/internal/config"
	"github.com/lamim/pairforge/internal/metrics"
	"github.com/lamim/pairforge/internal/util"
	"github.com/lamim/pairforge/pkg/models"
)

// Proposal is what one generation request produced
type Proposal struct {
	Pairs     []models.CandidatePair
	Malformed int
	Usage     api.Usage
}

// Source proposes candidate pairs. Usage is returned even when err is set,
// as long as the request itself completed.
type Source interface {
	Propose(ctx context.Context, n int) (Proposal, error)
}

// LLMSource asks an OpenAI-compatible model for candidate pairs
type LLMSource struct {
	client     *api.Client
	model      config.ModelConfig
	apiKey     string
	systemTmpl string
	userTmpl   string
	task       *config.TaskConfig
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// NewLLMSource creates a source using the "main" model
func NewLLMSource(
	client *api.Client,
	cfg *config.Config,
	apiKey string,
	task *config.TaskConfig,
	m *metrics.Collector,
	logger *slog.Logger,
) *LLMSource {
	return &LLMSource{
		client:     client,
		model:      cfg.Models["main"],
		apiKey:     apiKey,
		systemTmpl: cfg.PromptTemplates.RealtimeSystemPrompt,
		userTmpl:   cfg.PromptTemplates.RealtimeUserPrompt,
		task:       task,
		metrics:    m,
		logger:     logger,
	}
}

// Propose requests n candidate pairs and parses the reply
func (s *LLMSource) Propose(ctx context.Context, n int) (Proposal, error) {
	messages, err := Messages(s.systemTmpl, s.userTmpl, s.task, n)
	if err != nil {
		return Proposal{}, err
	}

	start := time.Now()
	resp, err := s.client.ChatCompletion(ctx, s.model, s.apiKey, messages)
	s.metrics.RecordAPIRequest(s.model.ModelName, time.Since(start), err == nil)
	if err != nil {
		return Proposal{}, err
	}

	p := Proposal{Usage: resp.Usage}
	content := resp.Choices[0].Message.Content

	result, err := candidates.Parse(content)
	if err != nil {
		s.logger.Debug("Unparseable response", "content", util.TruncateString(content, 500))
		return p, err
	}

	p.Pairs = result.Pairs
	p.Malformed = result.Malformed
	return p, nil
}
