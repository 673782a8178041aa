package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"psych-agent/internal/domain"
	"psych-agent/internal/observe"
	"psych-agent/internal/repository"
)

// noReply is returned when the model produced no candidate for the reply.
const noReply = "(No reply)"

// Generator produces ordered candidate completions for a prompt. An empty
// result is valid; an error means the backend could not be used.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) ([]string, error)
}

type ChatInput struct {
	UserID  int64
	Message string
}

type ChatOutput struct {
	Reply  string
	UserID int64
}

// ChatService runs one turn: reply generation, re-summarization, and summary
// persistence. A turn either returns a reply and stores the new summary, or
// fails without writing anything.
type ChatService struct {
	identity *IdentityResolver
	personas *PersonaResolver
	memory   repository.MemoryStore
	gen      Generator
	model    string

	metrics *observe.Metrics
	locks   *userLocks
}

type ChatOption func(*ChatService)

func WithMetrics(m *observe.Metrics) ChatOption {
	return func(s *ChatService) {
		s.metrics = m
	}
}

// WithTurnSerialization makes turns of the same user run one at a time within
// this process. Without it concurrent turns race and the last summary write
// wins.
func WithTurnSerialization(enabled bool) ChatOption {
	return func(s *ChatService) {
		if enabled {
			s.locks = newUserLocks()
		} else {
			s.locks = nil
		}
	}
}

func NewChatService(identity *IdentityResolver, personas *PersonaResolver, memory repository.MemoryStore, gen Generator, model string, opts ...ChatOption) (*ChatService, error) {
	if identity == nil {
		return nil, errors.New("usecase: identity resolver must not be nil")
	}
	if personas == nil {
		return nil, errors.New("usecase: persona resolver must not be nil")
	}
	if memory == nil {
		return nil, errors.New("usecase: memory store must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	s := &ChatService{
		identity: identity,
		personas: personas,
		memory:   memory,
		gen:      gen,
		model:    model,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// turn is the working state threaded through the stages.
type turn struct {
	userID  int64
	message string

	user         domain.User
	priorSummary string
	reply        string
	summary      string
}

type stage struct {
	name string
	run  func(ctx context.Context, t *turn) error
}

func (s *ChatService) stages() []stage {
	return []stage{
		{"identify", s.identify},
		{"load_history", s.loadHistory},
		{"generate_reply", s.generateReply},
		{"generate_summary", s.generateSummary},
		{"persist_summary", s.persistSummary},
	}
}

func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	ctx, span := observe.StartSpan(ctx, "chat.turn")
	out, err := s.chat(ctx, in)
	observe.EndSpan(span, err)

	s.metrics.RecordTurn(ctx, turnOutcome(err))
	if err != nil {
		if ue, ok := AsError(err); ok && ue.Code == ErrorInternal {
			observe.Logger(ctx).Error("chat turn failed", "user_id", in.UserID, "reason", ue.Reason, "err", ue.Err)
		}
		return ChatOutput{}, err
	}
	return out, nil
}

func (s *ChatService) chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	if strings.TrimSpace(in.Message) == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}

	if s.locks != nil {
		release, err := s.locks.acquire(ctx, in.UserID)
		if err != nil {
			return ChatOutput{}, newError(ErrorInternal, "turn_lock_cancelled", err)
		}
		defer release()
	}

	t := &turn{userID: in.UserID, message: in.Message}
	for _, st := range s.stages() {
		stageCtx, span := observe.StartSpan(ctx, "chat."+st.name)
		err := st.run(stageCtx, t)
		observe.EndSpan(span, err)
		if err != nil {
			return ChatOutput{}, err
		}
	}
	return ChatOutput{Reply: t.reply, UserID: t.user.ID}, nil
}

func (s *ChatService) identify(ctx context.Context, t *turn) error {
	u, err := s.identity.GetByID(ctx, t.userID)
	if err != nil {
		return newError(ErrorInternal, "store_read_error", err)
	}
	if u == nil {
		return newError(ErrorUnauthorized, "unknown_user", nil)
	}
	t.user = *u
	return nil
}

func (s *ChatService) loadHistory(ctx context.Context, t *turn) error {
	summary, err := s.memory.FindSummary(ctx, t.user.ID)
	if err != nil {
		return newError(ErrorInternal, "store_read_error", err)
	}
	if summary != nil {
		t.priorSummary = *summary
	}
	return nil
}

func (s *ChatService) generateReply(ctx context.Context, t *turn) error {
	prompt := buildReplyPrompt(s.personas.Effective(t.user), t.priorSummary, t.message)
	cands, err := s.generate(ctx, observe.PurposeReply, prompt)
	if err != nil {
		return newError(ErrorInternal, "generation_reply_error", err)
	}
	t.reply = firstCandidate(cands, noReply)
	return nil
}

// generateSummary keeps the prior summary when the model returns nothing, so
// an empty completion never blanks the stored memory.
func (s *ChatService) generateSummary(ctx context.Context, t *turn) error {
	prompt := buildSummarizationPrompt(t.priorSummary, t.message, t.reply)
	cands, err := s.generate(ctx, observe.PurposeSummary, prompt)
	if err != nil {
		return newError(ErrorInternal, "generation_summary_error", err)
	}
	t.summary = firstCandidate(cands, t.priorSummary)
	return nil
}

func (s *ChatService) persistSummary(ctx context.Context, t *turn) error {
	if err := s.memory.UpsertSummary(ctx, t.user.ID, t.summary); err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	s.metrics.RecordSummaryLength(ctx, utf8.RuneCountInString(t.summary))
	return nil
}

func (s *ChatService) generate(ctx context.Context, purpose, prompt string) ([]string, error) {
	start := time.Now()
	cands, err := s.gen.Generate(ctx, s.model, prompt)
	s.metrics.RecordGeneration(ctx, purpose, time.Since(start), err)
	return cands, err
}

// firstCandidate returns the first candidate, or fallback when there is none.
func firstCandidate(cands []string, fallback string) string {
	if len(cands) == 0 {
		return fallback
	}
	return cands[0]
}

func turnOutcome(err error) string {
	if err == nil {
		return observe.OutcomeOK
	}
	ue, ok := AsError(err)
	if !ok {
		return observe.OutcomeStoreError
	}
	switch ue.Reason {
	case "empty_message":
		return observe.OutcomeInvalidInput
	case "unknown_user":
		return observe.OutcomeUnknownUser
	case "generation_reply_error", "generation_summary_error":
		return observe.OutcomeGenerationError
	case "turn_lock_cancelled":
		return observe.OutcomeCancelled
	default:
		return observe.OutcomeStoreError
	}
}
