package suggestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"disputeflow/dispute"
	"disputeflow/logger"
	"disputeflow/metrics"
)

const (
	notFoundText       = "Dispute not found."
	cachedFallbackText = "Analysis retrieved from database."
	notConfiguredText  = "AI Configuration Error: API Key missing. Please check the completion service configuration."
	unavailableText    = "AI Service Unavailable: the completion service could not be reached. Please try again later."
)

// Store is the slice of dispute persistence the pipeline needs.
type Store interface {
	Get(ctx context.Context, id string) (dispute.Dispute, error)
	ListMessages(ctx context.Context, disputeID string) ([]dispute.Message, error)
	SaveSuggestions(ctx context.Context, id, analysis string, suggestions []dispute.Suggestion) error
}

type Service struct {
	store     Store
	completer Completer
	metrics   *metrics.Collectors
	group     singleflight.Group
}

func NewService(store Store, completer Completer) *Service {
	return &Service{store: store, completer: completer}
}

func (s *Service) WithMetrics(m *metrics.Collectors) *Service {
	s.metrics = m
	return s
}

// Generate returns the settlement options for a dispute. Stored options are
// returned as they are unless force is set. Concurrent unforced calls for the
// same dispute share one upstream request. Every outcome except a missing
// dispute is written back onto the dispute.
func (s *Service) Generate(ctx context.Context, disputeID string, force bool) Result {
	ctx = logger.WithLogFields(ctx, logger.LogFields{DisputeID: &disputeID, Component: "suggestion"})

	var res Result
	if force {
		res = s.generate(ctx, disputeID, true)
	} else {
		v, _, _ := s.group.Do(disputeID, func() (any, error) {
			return s.generate(context.WithoutCancel(ctx), disputeID, false), nil
		})
		res = v.(Result)
	}

	kind := string(res.Kind)
	if kind == "" {
		kind = "ok"
	}
	s.metrics.SuggestionResult(kind, res.Cached)
	return res
}

func (s *Service) generate(ctx context.Context, disputeID string, force bool) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "suggestion generation panicked", "panic", r)
			res = s.fail(ctx, disputeID, KindInternal, fmt.Sprintf("Internal System Error during generation: %v", r))
		}
	}()

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		if errors.Is(err, dispute.ErrNotFound) {
			return Result{Analysis: notFoundText, Suggestions: []dispute.Suggestion{}, Kind: KindNotFound}
		}
		return s.fail(ctx, disputeID, KindInternal, "Internal System Error during generation: "+err.Error())
	}

	if !force && len(d.AISuggestions) > 0 {
		analysis := d.AIAnalysis
		if analysis == "" {
			analysis = cachedFallbackText
		}
		return Result{Analysis: analysis, Suggestions: d.AISuggestions, Cached: true}
	}

	msgs, err := s.store.ListMessages(ctx, disputeID)
	if err != nil {
		return s.fail(ctx, disputeID, KindInternal, "Internal System Error during generation: "+err.Error())
	}

	text, err := s.completer.Complete(ctx, BuildPrompt(d, msgs, force))
	if err != nil {
		kind, message := describe(err)
		slog.WarnContext(ctx, "completion failed", "kind", kind, "error", err)
		return s.fail(ctx, disputeID, kind, message)
	}

	parsed := Parse(text)
	slog.InfoContext(ctx, "suggestions generated", "strategy", parsed.Strategy, "options", len(parsed.Options))

	suggestions := parsed.Options
	if suggestions == nil {
		suggestions = []dispute.Suggestion{}
	}
	if err := s.store.SaveSuggestions(ctx, disputeID, parsed.Analysis, suggestions); err != nil {
		slog.ErrorContext(ctx, "persist suggestions", "error", err)
	}
	return Result{Analysis: parsed.Analysis, Suggestions: suggestions}
}

// fail persists message as the analysis with no options and returns it.
func (s *Service) fail(ctx context.Context, disputeID string, kind ErrorKind, message string) Result {
	if err := s.store.SaveSuggestions(ctx, disputeID, message, []dispute.Suggestion{}); err != nil {
		slog.ErrorContext(ctx, "persist suggestion failure", "kind", kind, "error", err)
	}
	return Result{Analysis: message, Suggestions: []dispute.Suggestion{}, Kind: kind}
}

func describe(err error) (ErrorKind, string) {
	var upstream *UpstreamError
	switch {
	case errors.Is(err, ErrNotConfigured):
		return KindConfiguration, notConfiguredText
	case errors.As(err, &upstream):
		return KindUpstream, fmt.Sprintf("AI Service Provider Error (%d): %s...", upstream.StatusCode, logger.Prefix(upstream.Message, 100))
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable, unavailableText
	default:
		return KindInternal, "Internal System Error during generation: " + err.Error()
	}
}
