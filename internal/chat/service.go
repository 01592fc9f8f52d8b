package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"scriptgate/internal/domain"
	"scriptgate/internal/logging"
	"scriptgate/internal/metrics"
)

const defaultMaxHistoryTurns = 20

// ErrEmptyMessage is returned when the visitor message is blank.
var ErrEmptyMessage = errors.New("message must be a non-empty string")

// GenerationError wraps a failed text generation call.
type GenerationError struct {
	Provider string
	Elapsed  time.Duration
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Input is one chat request as the visitor widget sends it.
type Input struct {
	Message string             `json:"message"`
	History []domain.Turn      `json:"conversation_history,omitempty"`
	Page    domain.PageContext `json:"page_context"`
}

// Reply is the chat response body.
type Reply struct {
	Response           string   `json:"response"`
	DetectedIndustry   Industry `json:"detected_industry"`
	ShouldOfferBooking bool     `json:"should_offer_booking"`
	BookingURL         *string  `json:"booking_url"`
	Timestamp          string   `json:"timestamp"`
}

type ServiceConfig struct {
	Provider        domain.Provider
	Model           string
	MaxTokens       int
	MaxHistoryTurns int
	BookingURL      string
	SystemPrompt    string
	Greetings       Greetings
	Logger          *slog.Logger
}

// Service answers visitor messages: it classifies, assembles the
// conversation, calls the provider and decides on the booking offer.
type Service struct {
	provider     domain.Provider
	model        string
	maxTokens    int
	maxHistory   int
	bookingURL   string
	systemPrompt string
	greetings    Greetings
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = defaultMaxHistoryTurns
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt()
	}
	if cfg.Greetings == nil {
		cfg.Greetings = DefaultGreetings()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Service{
		provider:     cfg.Provider,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		maxHistory:   cfg.MaxHistoryTurns,
		bookingURL:   cfg.BookingURL,
		systemPrompt: cfg.SystemPrompt,
		greetings:    cfg.Greetings,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// ProviderName names the backing provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// Healthy probes the backing provider.
func (s *Service) Healthy(ctx context.Context) error {
	return s.provider.Healthy(ctx)
}

// Respond produces the reply for one visitor message. The deadline on ctx
// bounds the generation call.
func (s *Service) Respond(ctx context.Context, in Input) (*Reply, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	logger := logging.WithContext(ctx, s.logger)

	history := boundHistory(in.History, s.maxHistory)
	industry := Classify(message, history, in.Page.EffectivePageType())
	turns := s.greetings.Assemble(history, message, in.Page)

	start := s.now()
	resp, err := s.provider.Chat(ctx, domain.ChatRequest{
		System:    s.systemPrompt,
		Messages:  turns,
		Model:     s.model,
		MaxTokens: s.maxTokens,
	})
	elapsed := s.now().Sub(start)
	metrics.Collector.ObserveGeneration(s.provider.Name(), err == nil, elapsed)
	if err != nil {
		logger.Error("generation failed", "provider", s.provider.Name(), "err", err, "elapsed", elapsed)
		return nil, &GenerationError{Provider: s.provider.Name(), Elapsed: elapsed, Err: err}
	}

	offer := ShouldOfferBooking(message, resp.Content)
	reply := &Reply{
		Response:           resp.Content,
		DetectedIndustry:   industry,
		ShouldOfferBooking: offer,
		Timestamp:          domain.Timestamp(s.now()),
	}
	if offer {
		url := s.bookingURL
		reply.BookingURL = &url
	}
	metrics.Collector.ObserveClassification(string(industry), offer)

	logger.Info("chat reply",
		"industry", industry,
		"booking", offer,
		"turns", len(turns),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed", elapsed,
	)
	return reply, nil
}
