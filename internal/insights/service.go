// Package insights derives summaries and action items from finished
// session transcripts using a local LLM.
package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ivanglie/scribe/internal/llm"
	"github.com/ivanglie/scribe/internal/storage"
)

var (
	// ErrEmptyTranscript is returned when a session has no transcript yet.
	ErrEmptyTranscript = errors.New("session has no transcript")

	// ErrMissingPrompt is returned for a custom insight without a prompt.
	ErrMissingPrompt = errors.New("custom insight requires a prompt")

	// ErrUnknownType is returned for an unrecognized insight type.
	ErrUnknownType = errors.New("unknown insight type")
)

const summaryPrompt = "Summarize the following meeting transcript concisely. " +
	"Focus on key topics discussed and decisions made. Output a short paragraph."

const actionItemsPrompt = "Extract action items from the following meeting transcript. " +
	"List each item on its own line, prefixed with '- ', including the owner when mentioned. " +
	"If there are no action items, say so."

// Chatter is the LLM surface the service needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message) (string, error)
}

// Store is the persistence surface the service needs.
type Store interface {
	GetSession(id string) (storage.Session, error)
	SaveInsight(storage.Insight) error
}

// Service generates and persists insights for finished sessions.
type Service struct {
	store    Store
	chat     Chatter
	provider string
	model    string
}

// NewService wires the insight generator.
func NewService(store Store, chat Chatter, provider, model string) *Service {
	return &Service{store: store, chat: chat, provider: provider, model: model}
}

// Generate produces one insight for the session and upserts it: a repeat
// call with the same type and prompt replaces the stored content.
func (s *Service) Generate(ctx context.Context, sessionID, insightType, customPrompt string) (storage.Insight, error) {
	var system string
	switch insightType {
	case storage.InsightSummary:
		system = summaryPrompt
	case storage.InsightActionItems:
		system = actionItemsPrompt
	case storage.InsightCustom:
		if customPrompt == "" {
			return storage.Insight{}, ErrMissingPrompt
		}
		system = customPrompt
	default:
		return storage.Insight{}, fmt.Errorf("%w: %q", ErrUnknownType, insightType)
	}
	if insightType != storage.InsightCustom {
		customPrompt = ""
	}

	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return storage.Insight{}, err
	}
	if sess.Transcript == "" {
		return storage.Insight{}, ErrEmptyTranscript
	}

	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: sess.Transcript},
	}
	content, err := s.chat.Chat(ctx, s.model, messages)
	if err != nil {
		return storage.Insight{}, fmt.Errorf("generating %s insight: %w", insightType, err)
	}

	insight := storage.Insight{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		Type:         insightType,
		Content:      content,
		CustomPrompt: customPrompt,
		Provider:     s.provider,
		Model:        s.model,
		GeneratedAt:  time.Now().UTC(),
	}
	if err := s.store.SaveInsight(insight); err != nil {
		return storage.Insight{}, fmt.Errorf("saving insight: %w", err)
	}
	return insight, nil
}

// GenerateAll produces the summary and action items concurrently.
func (s *Service) GenerateAll(ctx context.Context, sessionID string) ([]storage.Insight, error) {
	types := []string{storage.InsightSummary, storage.InsightActionItems}
	results := make([]storage.Insight, len(types))

	g, ctx := errgroup.WithContext(ctx)
	for i, insightType := range types {
		g.Go(func() error {
			in, err := s.Generate(ctx, sessionID, insightType, "")
			if err != nil {
				return err
			}
			results[i] = in
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
