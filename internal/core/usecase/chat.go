package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
)

type ChatConfig struct {
	PromptMaxCandidates int
	TokenBudget         int
	MaxHistoryTurns     int
	Location            *time.Location
}

// ChatUseCase coordinates one grounded answer: route, retrieve, merge,
// assemble the prompt, then stream generation.
type ChatUseCase struct {
	snapshots  ports.SnapshotSource
	router     *IntentRouter
	structured *StructuredQueryGenerator
	semantic   *SemanticSearcher
	profiles   ports.ProfileRepository
	intake     ports.IntakeReader
	generator  ports.ChatGenerator
	executor   ports.Executor
	cfg        ChatConfig
	now        func() time.Time
}

func NewChatUseCase(
	snapshots ports.SnapshotSource,
	router *IntentRouter,
	structured *StructuredQueryGenerator,
	semantic *SemanticSearcher,
	profiles ports.ProfileRepository,
	intake ports.IntakeReader,
	generator ports.ChatGenerator,
	executor ports.Executor,
	cfg ChatConfig,
) *ChatUseCase {
	if cfg.PromptMaxCandidates <= 0 {
		cfg.PromptMaxCandidates = 20
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 3000
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 6
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &ChatUseCase{
		snapshots:  snapshots,
		router:     router,
		structured: structured,
		semantic:   semantic,
		profiles:   profiles,
		intake:     intake,
		generator:  generator,
		executor:   executor,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Retrieve runs every step up to and including prompt assembly.
func (uc *ChatUseCase) Retrieve(ctx context.Context, req domain.ChatRequest) (*domain.RetrievalResult, error) {
	question, history, err := splitConversation(req.Messages, uc.cfg.MaxHistoryTurns)
	if err != nil {
		return nil, err
	}
	today, err := uc.servingDate(req.ServingDate)
	if err != nil {
		return nil, err
	}

	profile, err := uc.loadProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	status := uc.loadDailyStatus(ctx, profile, today)

	intent, err := uc.router.Route(ctx, RouteInput{
		Question: question,
		Filters:  req.Filters,
		History:  history,
		Today:    today,
	})
	if err != nil {
		return nil, fmt.Errorf("route intent: %w", err)
	}

	result := &domain.RetrievalResult{Intent: intent}
	retrievalRan := intent.Kind != domain.IntentConversational
	if retrievalRan {
		if err := uc.retrieve(ctx, result, question, profile); err != nil {
			return nil, err
		}
	}

	result.Prompt = BuildPrompt(PromptInput{
		Question:     question,
		History:      history,
		Candidates:   result.Candidates,
		Profile:      profile,
		DailyStatus:  status,
		RetrievalRan: retrievalRan,
		TokenBudget:  uc.cfg.TokenBudget,
	})

	slog.Info("chat_intent_resolved",
		"kind", intent.Kind,
		"source", intent.Source,
		"ambiguous", intent.Ambiguous,
		"catalog_generation", result.Generation,
		"structured", result.StructuredCount,
		"semantic", result.SemanticCount,
		"candidates", len(result.Candidates),
		"truncated_turns", result.Prompt.TruncatedTurns,
	)
	return result, nil
}

func (uc *ChatUseCase) retrieve(ctx context.Context, result *domain.RetrievalResult, question string, profile domain.UserProfile) error {
	snap := uc.snapshots.Current()
	result.Generation = snap.Generation()
	intent := result.Intent

	var (
		structured []domain.RetrievalCandidate
		semantic   []domain.RetrievalCandidate
		outcome    StructuredOutcome
		structErr  error
	)

	group, groupCtx := errgroup.WithContext(ctx)
	if intent.Kind.UsesStructured() {
		group.Go(func() error {
			structured, outcome, structErr = uc.structured.Retrieve(groupCtx, snap, intent, question, profile.Allergies)
			if structErr != nil && domain.IsKind(structErr, domain.ErrQueryValidationFailed) {
				return nil
			}
			return structErr
		})
	}
	if intent.Kind.UsesSemantic() {
		group.Go(func() error {
			var err error
			semantic, err = uc.semantic.Search(groupCtx, snap, intent, question, profile.Allergies)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("retrieve candidates: %w", err)
	}

	result.ValidationFallback = outcome.ValidationFallback
	if structErr != nil {
		// The structured path is discarded; answer from meaning instead.
		result.ValidationFallback = true
		structured = nil
		if !intent.Kind.UsesSemantic() {
			var err error
			semantic, err = uc.semantic.Search(ctx, snap, intent, question, profile.Allergies)
			if err != nil {
				return fmt.Errorf("semantic fallback: %w", err)
			}
		}
	}

	structured = uc.safetyFilter(structured, profile.Allergies, domain.ProvenanceStructured, result)
	semantic = uc.safetyFilter(semantic, profile.Allergies, domain.ProvenanceSemantic, result)
	result.StructuredCount = len(structured)
	result.SemanticCount = len(semantic)

	merged := MergeCandidates(structured, semantic, uc.cfg.PromptMaxCandidates)
	result.Candidates = ApplyPreferences(merged, profile)
	return nil
}

// safetyFilter is the last gate before anything reaches the prompt. Both
// paths already exclude allergens, so a hit here is a defect in one of them.
func (uc *ChatUseCase) safetyFilter(
	candidates []domain.RetrievalCandidate,
	allergies []string,
	path domain.Provenance,
	result *domain.RetrievalResult,
) []domain.RetrievalCandidate {
	kept, removed := excludeAllergens(candidates, allergies)
	if len(removed) == 0 {
		return kept
	}

	keys := make([]string, 0, len(removed))
	for _, c := range removed {
		keys = append(keys, c.Item.Key())
	}
	result.SafetyExclusions += len(removed)
	slog.Error("safety_violation_prevented",
		"path", path,
		"items", keys,
		"error", domain.ErrSafetyViolation.Error(),
	)
	return kept
}

// Answer retrieves, then opens the generation stream. Opening the stream and
// reading its first chunk run under the executor, so a transient failure is
// retried before any text reaches the caller. Failures after the first chunk
// end the stream with an error.
func (uc *ChatUseCase) Answer(ctx context.Context, req domain.ChatRequest) (ports.AnswerStream, error) {
	result, err := uc.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		upstream ports.TextStream
		first    string
		finished bool
	)
	open := func(ctx context.Context) error {
		stream, err := uc.generator.StreamChat(ctx, result.Prompt.Turns)
		if err != nil {
			return err
		}
		for {
			chunk, err := stream.Next(ctx)
			if errors.Is(err, io.EOF) {
				upstream, finished = stream, true
				return nil
			}
			if err != nil {
				_ = stream.Close()
				return err
			}
			if chunk != "" {
				upstream, first = stream, chunk
				return nil
			}
		}
	}
	if err := uc.executor.Run(ctx, "chat.generate", open); err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &answerStream{
		result:   result,
		upstream: upstream,
		pending:  first,
		done:     finished,
	}, nil
}

func (uc *ChatUseCase) servingDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.DateOnly(uc.now().In(uc.cfg.Location)), nil
	}
	date, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return time.Time{}, domain.WrapError(domain.ErrInvalidInput, "parse serving date", err)
	}
	return date, nil
}

// loadProfile treats unknown users as anonymous. Any other failure aborts the
// request: answering without the user's allergies is not safe.
func (uc *ChatUseCase) loadProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || uc.profiles == nil {
		return domain.AnonymousProfile(userID), nil
	}

	profile, err := uc.profiles.GetProfile(ctx, userID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return domain.AnonymousProfile(userID), nil
		}
		return domain.UserProfile{}, fmt.Errorf("load profile: %w", err)
	}
	return profile, nil
}

func (uc *ChatUseCase) loadDailyStatus(ctx context.Context, profile domain.UserProfile, date time.Time) *domain.DailyStatus {
	if profile.Anonymous || profile.UserID == "" || uc.intake == nil {
		return nil
	}
	totals, err := uc.intake.DailyIntake(ctx, profile.UserID, date)
	if err != nil {
		slog.Warn("daily_status_unavailable", "user_id", profile.UserID, "error", err)
		return nil
	}
	status := domain.NewDailyStatus(profile, totals)
	return &status
}

type answerStream struct {
	result   *domain.RetrievalResult
	upstream ports.TextStream
	pending  string
	done     bool
	closed   bool
}

func (s *answerStream) Result() *domain.RetrievalResult { return s.result }

func (s *answerStream) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		_ = s.Close()
		return "", err
	}
	if s.pending != "" {
		chunk := s.pending
		s.pending = ""
		return chunk, nil
	}
	if s.done || s.closed {
		return "", io.EOF
	}

	for {
		chunk, err := s.upstream.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.done = true
			_ = s.Close()
			return "", io.EOF
		}
		if err != nil {
			_ = s.Close()
			return "", err
		}
		if chunk != "" {
			return chunk, nil
		}
	}
}

func (s *answerStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.upstream == nil {
		return nil
	}
	return s.upstream.Close()
}
