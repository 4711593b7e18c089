package planner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/openaicompat"
	"github.com/cenkalti/backoff/v4"
	"github.com/kaptinlin/jsonrepair"

	"github.com/aristath/mofagent/internal/config"
	"github.com/aristath/mofagent/internal/logging"
	"github.com/aristath/mofagent/internal/plan"
	"github.com/aristath/mofagent/internal/tools"
)

//go:embed prompt.tmpl
var promptText string

var promptTemplate = template.Must(template.New("planner").Parse(promptText))

// maxAttempts bounds model calls for one plan.
const maxAttempts = 3

// LanguageModel is the part of fantasy.LanguageModel the planner uses.
type LanguageModel interface {
	Generate(ctx context.Context, call fantasy.Call) (*fantasy.Response, error)
}

// LLMPlanner asks an OpenAI-compatible chat model for a plan.
type LLMPlanner struct {
	provider      string
	cfg           config.ProviderConfig
	defs          []tools.Definition
	timeout       time.Duration
	retryInterval time.Duration
	model         LanguageModel
	logger        *slog.Logger
}

// Option configures an LLMPlanner.
type Option func(*LLMPlanner)

// WithModel replaces the model built from the provider configuration.
func WithModel(m LanguageModel) Option {
	return func(p *LLMPlanner) { p.model = m }
}

// WithRetryInterval sets the first wait between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(p *LLMPlanner) { p.retryInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *LLMPlanner) { p.logger = logging.OrNop(l) }
}

// NewLLMPlanner builds a planner for the configured provider. defs are the
// tool definitions rendered into the prompt.
func NewLLMPlanner(cfg config.PlannerConfig, defs []tools.Definition, opts ...Option) (*LLMPlanner, error) {
	pc, ok := cfg.Providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
	if pc.BaseURL == "" || pc.Model == "" {
		return nil, fmt.Errorf("LLM provider %q needs base_url and model", cfg.Provider)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	p := &LLMPlanner{
		provider:      cfg.Provider,
		cfg:           pc,
		defs:          defs,
		timeout:       timeout,
		retryInterval: 500 * time.Millisecond,
		logger:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "planner", "provider", p.provider)

	if pc.APIKey == "" {
		p.logger.Warn("no API key configured", "env", p.provider+"_API_KEY")
	}

	if p.model == nil {
		provider, err := openaicompat.New(
			openaicompat.WithBaseURL(pc.BaseURL),
			openaicompat.WithAPIKey(pc.APIKey),
			openaicompat.WithName(strings.ToLower(cfg.Provider)),
		)
		if err != nil {
			return nil, fmt.Errorf("creating %s provider: %w", cfg.Provider, err)
		}
		model, err := provider.LanguageModel(context.Background(), pc.Model)
		if err != nil {
			return nil, fmt.Errorf("loading model %s: %w", pc.Model, err)
		}
		p.model = model
	}
	return p, nil
}

// Prompt renders the planning prompt.
func (p *LLMPlanner) Prompt(query, initialFilePath string) (string, error) {
	toolsJSON, err := json.MarshalIndent(p.defs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding tool definitions: %w", err)
	}

	var buf bytes.Buffer
	err = promptTemplate.Execute(&buf, struct {
		Tools           string
		Query           string
		InitialFilePath string
	}{string(toolsJSON), query, initialFilePath})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}

// CreatePlan returns the parsed plan, or a *PlanningError.
func (p *LLMPlanner) CreatePlan(ctx context.Context, query, initialFilePath string) (*plan.Plan, error) {
	prompt, err := p.Prompt(query, initialFilePath)
	if err != nil {
		return nil, newPlanningError(err, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.logger.Info("requesting execution plan", "model", p.cfg.Model)
	start := time.Now()

	content, err := p.complete(ctx, prompt)
	if err != nil {
		p.logger.Error("planner request failed", "error", err)
		return nil, newPlanningError(err, nil)
	}

	raw, err := extractJSON(content)
	if err != nil {
		return nil, newPlanningError(err, nil)
	}

	pl, err := plan.Parse(raw)
	if err != nil {
		p.logger.Warn("planner output rejected", "error", err)
		return nil, newPlanningError(err, raw)
	}

	p.logger.Info("received execution plan", "steps", len(pl.Steps), "elapsed", time.Since(start))
	return pl, nil
}

// retryable reports whether a provider error is a rate limit or a transient
// server failure worth another attempt.
func retryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "too many requests", "overloaded",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable",
		"gateway timeout", "temporarily unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// complete sends the prompt as a single user message, retrying rate limits
// and server errors.
func (p *LLMPlanner) complete(ctx context.Context, prompt string) (string, error) {
	temperature := 0.0
	call := fantasy.Call{
		Prompt:      fantasy.Prompt{fantasy.NewUserMessage(prompt)},
		Temperature: &temperature,
	}

	var content string
	operation := func() error {
		resp, err := p.model.Generate(ctx, call)
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			p.logger.Warn("planner request failed, retrying", "error", err)
			return err
		}

		var text strings.Builder
		for _, c := range resp.Content {
			switch c := c.(type) {
			case fantasy.TextContent:
				text.WriteString(c.Text)
			case *fantasy.TextContent:
				text.WriteString(c.Text)
			}
		}
		if strings.TrimSpace(text.String()) == "" {
			return backoff.Permanent(errors.New("LLM returned empty response"))
		}
		content = text.String()
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return content, nil
}

// extractJSON strips a Markdown code fence from content and returns valid
// JSON, repairing it when the model produced something slightly off.
func extractJSON(content string) ([]byte, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return nil, errors.New("LLM returned empty response")
	}
	if json.Valid([]byte(s)) {
		return []byte(s), nil
	}

	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, fmt.Errorf("planner output is not JSON: %w", err)
	}
	return []byte(repaired), nil
}
