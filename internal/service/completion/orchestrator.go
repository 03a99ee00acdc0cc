// Package completion drives one streamed reply from the backend to the chat:
// durable placeholder, throttled progress updates, truncation and the final
// persisted text.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/convo-backend/internal/ai"
	"github.com/vultisig/convo-backend/internal/presenter"
	"github.com/vultisig/convo-backend/internal/types"
)

// TruncationSuffix is appended to replies cut at the message limit.
const TruncationSuffix = "...\n\n(Type \"continue\" to view more.)"

// User-facing failure texts.
const (
	TimeoutText     = "Generation timed out."
	RateLimitedText = "⏳ The bot is currently busy or has reached a usage limit. Please try again in a few moments."
	FailureText     = "Sorry, an error occurred."
)

const (
	defaultThrottleInterval = 500 * time.Millisecond
	titleTimeout            = 30 * time.Second
	maxTitleLength          = 100
)

var errEmptyReply = errors.New("backend returned no content")

// Outcome is the result of one completion attempt.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	RateLimited
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case RateLimited:
		return "rate_limited"
	default:
		return "failed"
	}
}

// MessageStore persists reply messages.
type MessageStore interface {
	Create(ctx context.Context, msg *types.Message) error
	UpdateContent(ctx context.Context, id string, content string) error
}

// TitleStore persists generated conversation titles.
type TitleStore interface {
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
}

// Lifecycle binds the conversation to its chat after every attempt.
type Lifecycle interface {
	Install(chatID string, conv *types.Conversation)
	Rearm(chatID string)
}

// Config holds orchestrator settings.
type Config struct {
	// ThrottleInterval is the minimum spacing between progress updates.
	ThrottleInterval time.Duration
	MessageLimit     int
	// MaxMessageCount limits the transcript sent to the backend to the most
	// recent messages. Zero sends the whole transcript.
	MaxMessageCount int
	// BackendTimeout bounds the streamed call. Zero leaves it to the backend.
	BackendTimeout time.Duration
}

// Request describes one completion.
type Request struct {
	ChatID string
	// Conversation must end with the triggering user message.
	Conversation *types.Conversation
	// SlotID is the presentation slot the reply fills. It becomes the ID of the
	// assistant message.
	SlotID            string
	SystemInstruction string
}

// Orchestrator runs completions. Callers must not run two completions for the
// same chat concurrently.
type Orchestrator struct {
	cfg       Config
	backend   ai.Backend
	presenter presenter.Presenter
	messages  MessageStore
	titles    TitleStore
	lifecycle Lifecycle
	logger    *logrus.Logger

	now func() time.Time
	wg  sync.WaitGroup
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(cfg Config, backend ai.Backend, p presenter.Presenter, messages MessageStore, titles TitleStore, lc Lifecycle, logger *logrus.Logger) *Orchestrator {
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = defaultThrottleInterval
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = presenter.Limit
	}
	return &Orchestrator{
		cfg:       cfg,
		backend:   backend,
		presenter: p,
		messages:  messages,
		titles:    titles,
		lifecycle: lc,
		logger:    logger,
		now:       time.Now,
	}
}

// Complete streams a reply into req.SlotID and returns how the attempt ended.
// Whatever the outcome, the conversation is installed as the chat's active one
// and the idle timer is rearmed.
func (o *Orchestrator) Complete(ctx context.Context, req Request) Outcome {
	logger := o.logger.WithFields(logrus.Fields{
		"chat_id":         req.ChatID,
		"conversation_id": req.Conversation.ID,
		"slot_id":         req.SlotID,
	})

	defer func() {
		o.lifecycle.Install(req.ChatID, req.Conversation)
		o.lifecycle.Rearm(req.ChatID)
	}()

	content, err := o.stream(ctx, req, logger)
	if err != nil {
		return o.fail(ctx, req, err, logger)
	}

	final := Truncate(content, o.cfg.MessageLimit)
	if err := o.messages.UpdateContent(ctx, req.SlotID, final); err != nil {
		return o.fail(ctx, req, fmt.Errorf("persist reply: %w", err), logger)
	}
	req.Conversation.SetContent(req.SlotID, final)

	if err := o.presenter.Finalize(ctx, req.ChatID, req.SlotID, final); err != nil {
		logger.WithError(err).Warn("failed to present final reply")
	}

	if req.Conversation.NeedsTitle() {
		o.generateTitle(req.Conversation, logger)
	}

	logger.WithField("length", utf8.RuneCountInString(final)).Info("completion finished")
	return Completed
}

// Wait blocks until detached title tasks have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// stream consumes the backend stream and returns the final cumulative content.
// The assistant message is created, empty, when the first chunk arrives.
func (o *Orchestrator) stream(ctx context.Context, req Request, logger *logrus.Entry) (string, error) {
	streamCtx := ctx
	if o.cfg.BackendTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, o.cfg.BackendTimeout)
		defer cancel()
	}

	s, err := o.backend.StreamComplete(streamCtx, req.SystemInstruction, o.window(req.Conversation.Messages()))
	if err != nil {
		return "", err
	}
	defer s.Close()

	var (
		content    string
		created    bool
		lastUpdate time.Time
	)
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		if !created {
			msg := types.Message{
				ID:             req.SlotID,
				ConversationID: req.Conversation.ID,
				Role:           types.RoleAssistant,
				CreatedAt:      o.now().UTC(),
			}
			if err := o.messages.Create(ctx, &msg); err != nil {
				return "", fmt.Errorf("persist reply placeholder: %w", err)
			}
			req.Conversation.Append(msg)
			created = true
		}
		content = chunk

		now := o.now()
		if !lastUpdate.IsZero() && now.Sub(lastUpdate) < o.cfg.ThrottleInterval {
			continue
		}
		lastUpdate = now
		if err := o.presenter.Update(ctx, req.ChatID, req.SlotID, presenter.GeneratingText(content, o.cfg.MessageLimit)); err != nil {
			logger.WithError(err).Warn("failed to present partial reply")
		}
	}

	if !created {
		return "", errEmptyReply
	}
	return content, nil
}

func (o *Orchestrator) window(msgs []types.Message) []types.Message {
	if o.cfg.MaxMessageCount > 0 && len(msgs) > o.cfg.MaxMessageCount {
		return msgs[len(msgs)-o.cfg.MaxMessageCount:]
	}
	return msgs
}

func (o *Orchestrator) fail(ctx context.Context, req Request, err error, logger *logrus.Entry) Outcome {
	var (
		outcome     Outcome
		text        string
		affordances []presenter.Affordance
	)
	switch {
	case errors.Is(err, ai.ErrRateLimited):
		outcome, text = RateLimited, RateLimitedText
	case errors.Is(err, ai.ErrTimeout):
		outcome, text = TimedOut, TimeoutText
		affordances = append(affordances, presenter.Retry())
	default:
		outcome, text = Failed, FailureText
		affordances = append(affordances, presenter.Retry())
	}

	logger.WithError(err).WithField("outcome", outcome.String()).Error("completion failed")

	if err := o.presenter.Finalize(ctx, req.ChatID, req.SlotID, text, affordances...); err != nil {
		logger.WithError(err).Warn("failed to present completion failure")
	}
	return outcome
}

// generateTitle names the conversation in the background from its opening
// messages. Failures leave the conversation untitled for a later attempt.
func (o *Orchestrator) generateTitle(conv *types.Conversation, logger *logrus.Entry) {
	msgs := conv.Messages()
	if len(msgs) > 2 {
		msgs = msgs[:2]
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		raw, err := o.backend.RequestOnce(ctx, ai.TitleInstruction, msgs)
		if err != nil {
			logger.WithError(err).Warn("title generation failed")
			return
		}

		title := cleanTitle(raw)
		if title == "" || !conv.SetTitle(title) {
			return
		}
		if err := o.titles.UpdateTitle(ctx, conv.ID, title); err != nil {
			logger.WithError(err).Warn("failed to persist conversation title")
			return
		}
		logger.WithField("title", title).Debug("conversation titled")
	}()
}

// Truncate cuts content that exceeds limit and appends TruncationSuffix. The
// result never exceeds limit characters.
func Truncate(content string, limit int) string {
	if utf8.RuneCountInString(content) <= limit {
		return content
	}
	return presenter.Prefix(content, limit-utf8.RuneCountInString(TruncationSuffix)) + TruncationSuffix
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.Trim(title, "\"'.!?:;,*# ")
	return presenter.Prefix(title, maxTitleLength)
}
