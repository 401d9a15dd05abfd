package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/nort-backend/internal/chat/protocol"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/observability"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/platform/completion"
)

var (
	ErrGenerationFailed = errors.New("generation failed")
	ErrCancelled        = completion.ErrCancelled
)

type GenerateInput struct {
	Messages     []*types.MessageView
	SystemPrompt string
	Responder    *types.Participant
}

type GenerateReply struct {
	protocol.Reply
	Protocol protocol.Version
}

// GenerationService turns history into one validated reply. It never persists anything.
type GenerationService interface {
	GenerateReply(ctx context.Context, in GenerateInput) (*GenerateReply, error)
}

type GenerationConfig struct {
	DefaultProtocol string
	// MaxAttempts bounds validation retries. Completion retries happen inside the client.
	MaxAttempts int
	MinChars    int
}

type generationService struct {
	log    *logger.Logger
	client completion.Client
	cfg    GenerationConfig
}

func NewGenerationService(log *logger.Logger, client completion.Client, cfg GenerationConfig) GenerationService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = protocol.DefaultMinChars
	}
	return &generationService{
		log:    log.With("service", "GenerationService"),
		client: client,
		cfg:    cfg,
	}
}

func (s *generationService) strategyFor(p *types.Participant) (protocol.Strategy, error) {
	version := strings.TrimSpace(p.Config().Protocol)
	if version == "" {
		version = s.cfg.DefaultProtocol
	}
	return protocol.New(version, protocol.Options{MinChars: s.cfg.MinChars})
}

func (s *generationService) GenerateReply(ctx context.Context, in GenerateInput) (*GenerateReply, error) {
	if in.Responder == nil {
		return nil, protocol.ErrNoResponderDesignated
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	strategy, err := s.strategyFor(in.Responder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	cfg := in.Responder.Config()
	systemPrompt := in.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = cfg.SystemPrompt
	}
	frags, err := strategy.Assemble(protocol.Input{
		Messages:      in.Messages,
		SystemPrompt:  systemPrompt,
		ResponderID:   in.Responder.ID,
		ResponderName: in.Responder.Name,
	})
	if err != nil {
		return nil, err
	}
	prompt := protocol.Render(frags)
	opts := completion.Options{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stop:        strategy.StopSequences(),
	}

	metrics := observability.Current()
	version := string(strategy.Version())
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		raw, err := s.client.Complete(ctx, prompt, opts)
		if err != nil {
			if errors.Is(err, completion.ErrCancelled) {
				metrics.IncGeneration(version, "cancelled")
				return nil, err
			}
			metrics.IncGeneration(version, "provider_error")
			return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
		reply, err := strategy.Validate(raw)
		if err == nil {
			metrics.IncGeneration(version, "ok")
			return &GenerateReply{Reply: reply, Protocol: strategy.Version()}, nil
		}
		lastErr = err
		s.log.Debug("Reply rejected by validator", "responder_id", in.Responder.ID, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			metrics.IncGeneration(version, "cancelled")
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
	}
	metrics.IncGeneration(version, "invalid")
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrGenerationFailed, s.cfg.MaxAttempts, lastErr)
}
