package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scriptgate/internal/domain"
	"scriptgate/internal/runner"
)

// Invoker runs a registered target. *runner.Runner satisfies it.
type Invoker interface {
	Run(ctx context.Context, req runner.Request) runner.Result
	Check(name string) error
}

// Script generates text by invoking a target through the runner. The target
// receives {system, messages, model, max_tokens} on stdin and must answer
// with {"response": "..."} on stdout.
type Script struct {
	target  string
	invoker Invoker
	logger  *slog.Logger
}

type ScriptConfig struct {
	Target  string
	Invoker Invoker
	Logger  *slog.Logger
}

func NewScript(cfg ScriptConfig) *Script {
	return &Script{target: cfg.Target, invoker: cfg.Invoker, logger: cfg.Logger}
}

func (s *Script) Name() string { return "script" }

func (s *Script) Healthy(ctx context.Context) error {
	return s.invoker.Check(s.target)
}

type scriptRequest struct {
	System    string        `json:"system,omitempty"`
	Messages  []domain.Turn `json:"messages"`
	Model     string        `json:"model,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type scriptResponse struct {
	Response     *string      `json:"response"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        domain.Usage `json:"usage"`
}

// ErrNoResponse reports target output without a "response" string.
var ErrNoResponse = errors.New(`output has no "response" string`)

// ErrScriptTimeout reports that the generation target hit its deadline.
var ErrScriptTimeout = errors.New("script generation timed out")

func (s *Script) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	payload, err := json.Marshal(scriptRequest{
		System:    req.System,
		Messages:  req.Messages,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	// The route deadline on ctx becomes the invocation deadline.
	deadline := defaultHTTPTimeout
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
		if deadline <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	start := time.Now()
	res := s.invoker.Run(ctx, runner.Request{Target: s.target, Payload: payload, Deadline: deadline})
	switch r := res.(type) {
	case runner.Success:
		var out scriptResponse
		if err := json.Unmarshal(r.Payload, &out); err != nil {
			return nil, fmt.Errorf("script %s: decode response: %w", s.target, err)
		}
		if out.Response == nil {
			return nil, fmt.Errorf("script %s: %w", s.target, ErrNoResponse)
		}
		return &domain.ChatResponse{
			Content:      *out.Response,
			FinishReason: out.FinishReason,
			Usage:        out.Usage,
			LatencyMs:    time.Since(start).Milliseconds(),
		}, nil
	case runner.Timeout:
		return nil, fmt.Errorf("script %s: %w: %w", s.target, ErrScriptTimeout, context.DeadlineExceeded)
	default:
		return nil, fmt.Errorf("script %s: %s", s.target, res.Kind())
	}
}
