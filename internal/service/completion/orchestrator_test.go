package completion

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/convo-backend/internal/ai"
	"github.com/vultisig/convo-backend/internal/presenter"
	"github.com/vultisig/convo-backend/internal/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeStream struct {
	chunks []string
	err    error
	clock  *fakeClock
	step   time.Duration
	i      int
	closed bool
}

func (s *fakeStream) Recv() (string, error) {
	if s.clock != nil {
		s.clock.Advance(s.step)
	}
	if s.i < len(s.chunks) {
		s.i++
		return s.chunks[s.i-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeBackend struct {
	mu        sync.Mutex
	stream    *fakeStream
	openErr   error
	title     string
	titleErr  error
	system    string
	sent      []types.Message
	titleReqs [][]types.Message
}

func (b *fakeBackend) StreamComplete(_ context.Context, system string, transcript []types.Message) (ai.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.system = system
	b.sent = transcript
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.stream, nil
}

func (b *fakeBackend) RequestOnce(_ context.Context, system string, transcript []types.Message) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.titleReqs = append(b.titleReqs, transcript)
	if b.titleErr != nil {
		return "", b.titleErr
	}
	return b.title, nil
}

type presented struct {
	text        string
	affordances []presenter.Affordance
	at          time.Time
}

type fakePresenter struct {
	mu        sync.Mutex
	clock     *fakeClock
	updates   []presented
	finals    []presented
	updateErr error
}

func (p *fakePresenter) Send(context.Context, string, string, ...presenter.Affordance) (string, error) {
	return "slot", nil
}

func (p *fakePresenter) Update(_ context.Context, _, _, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var at time.Time
	if p.clock != nil {
		at = p.clock.Now()
	}
	p.updates = append(p.updates, presented{text: text, at: at})
	return p.updateErr
}

func (p *fakePresenter) Finalize(_ context.Context, _, _, text string, affordances ...presenter.Affordance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finals = append(p.finals, presented{text: text, affordances: affordances})
	return nil
}

type fakeMessages struct {
	creates   []types.Message
	updates   map[string]string
	updateErr error
}

func (m *fakeMessages) Create(_ context.Context, msg *types.Message) error {
	m.creates = append(m.creates, *msg)
	return nil
}

func (m *fakeMessages) UpdateContent(_ context.Context, id, content string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.updates == nil {
		m.updates = make(map[string]string)
	}
	m.updates[id] = content
	return nil
}

type fakeTitles struct {
	mu     sync.Mutex
	titles map[uuid.UUID]string
}

func (t *fakeTitles) UpdateTitle(_ context.Context, id uuid.UUID, title string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.titles == nil {
		t.titles = make(map[uuid.UUID]string)
	}
	t.titles[id] = title
	return nil
}

type fakeLifecycle struct {
	installed *types.Conversation
	rearms    int
}

func (l *fakeLifecycle) Install(_ string, conv *types.Conversation) { l.installed = conv }
func (l *fakeLifecycle) Rearm(string)                               { l.rearms++ }

type harness struct {
	orch      *Orchestrator
	backend   *fakeBackend
	presenter *fakePresenter
	messages  *fakeMessages
	titles    *fakeTitles
	lifecycle *fakeLifecycle
	clock     *fakeClock
	conv      *types.Conversation
}

func newHarness(t *testing.T, cfg Config, stream *fakeStream) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := newFakeClock()
	if stream != nil && stream.clock == nil {
		stream.clock = clock
	}

	h := &harness{
		backend:   &fakeBackend{stream: stream, title: "Capital of France"},
		presenter: &fakePresenter{clock: clock},
		messages:  &fakeMessages{},
		titles:    &fakeTitles{},
		lifecycle: &fakeLifecycle{},
		clock:     clock,
	}
	h.orch = NewOrchestrator(cfg, h.backend, h.presenter, h.messages, h.titles, h.lifecycle, logger)
	h.orch.now = clock.Now

	h.conv = types.NewConversation(uuid.New(), "!room:example.org", nil, clock.Now(), []types.Message{
		{ID: "u1", Role: types.RoleUser, Content: "What is the capital of France?"},
	})
	return h
}

func (h *harness) complete() Outcome {
	return h.orch.Complete(context.Background(), Request{
		ChatID:       "!room:example.org",
		Conversation: h.conv,
		SlotID:       "slot-1",
	})
}

func TestComplete_PersistsFinalCumulativeContent(t *testing.T) {
	h := newHarness(t, Config{}, &fakeStream{
		chunks: []string{"Paris", "Paris is", "Paris is the capital."},
		step:   100 * time.Millisecond,
	})

	outcome := h.complete()
	h.orch.Wait()

	require.Equal(t, Completed, outcome)

	require.Len(t, h.messages.creates, 1)
	assert.Equal(t, "slot-1", h.messages.creates[0].ID)
	assert.Equal(t, types.RoleAssistant, h.messages.creates[0].Role)
	assert.Empty(t, h.messages.creates[0].Content)

	require.Len(t, h.messages.updates, 1)
	assert.Equal(t, "Paris is the capital.", h.messages.updates["slot-1"])

	require.Len(t, h.presenter.finals, 1)
	assert.Equal(t, "Paris is the capital.", h.presenter.finals[0].text)
	assert.Empty(t, h.presenter.finals[0].affordances)

	last := h.conv.LastMessage()
	require.NotNil(t, last)
	assert.Equal(t, "Paris is the capital.", last.Content)

	assert.Same(t, h.conv, h.lifecycle.installed)
	assert.Equal(t, 1, h.lifecycle.rearms)
	assert.True(t, h.backend.stream.closed)
}

func TestComplete_ThrottlesIntermediateUpdates(t *testing.T) {
	var chunks []string
	for i := 1; i <= 20; i++ {
		chunks = append(chunks, strings.Repeat("a", i))
	}
	h := newHarness(t, Config{ThrottleInterval: 500 * time.Millisecond}, &fakeStream{
		chunks: chunks,
		step:   120 * time.Millisecond,
	})

	require.Equal(t, Completed, h.complete())
	h.orch.Wait()

	updates := h.presenter.updates
	require.NotEmpty(t, updates)
	assert.Less(t, len(updates), len(chunks))

	// The first chunk is presented immediately.
	assert.Equal(t, presenter.GeneratingText("a", presenter.Limit), updates[0].text)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].at.Sub(updates[i-1].at), 500*time.Millisecond)
	}
}

func TestComplete_IntermediatePresenterFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t, Config{}, &fakeStream{chunks: []string{"Hel", "Hello"}, step: time.Second})
	h.presenter.updateErr = errors.New("edit rejected")

	require.Equal(t, Completed, h.complete())
	h.orch.Wait()

	assert.Len(t, h.presenter.updates, 2)
	assert.Equal(t, "Hello", h.messages.updates["slot-1"])
}

func TestComplete_TruncatesLongReplies(t *testing.T) {
	long := strings.Repeat("x", 150)
	h := newHarness(t, Config{MessageLimit: 100}, &fakeStream{chunks: []string{long[:60], long}})

	require.Equal(t, Completed, h.complete())
	h.orch.Wait()

	persisted := h.messages.updates["slot-1"]
	require.Len(t, h.presenter.finals, 1)
	assert.Equal(t, persisted, h.presenter.finals[0].text)
	assert.True(t, strings.HasSuffix(persisted, TruncationSuffix))
	assert.Equal(t, 100, utf8.RuneCountInString(persisted))

	for _, u := range h.presenter.updates {
		assert.LessOrEqual(t, utf8.RuneCountInString(u.text), 100)
	}
}

func TestComplete_RateLimitedBeforeFirstChunk(t *testing.T) {
	h := newHarness(t, Config{}, &fakeStream{err: ai.ErrRateLimited})

	require.Equal(t, RateLimited, h.complete())

	assert.Empty(t, h.messages.creates)
	assert.Empty(t, h.messages.updates)
	require.Len(t, h.presenter.finals, 1)
	assert.Equal(t, RateLimitedText, h.presenter.finals[0].text)
	assert.Empty(t, h.presenter.finals[0].affordances)
	assert.Equal(t, 1, h.lifecycle.rearms)
	assert.Same(t, h.conv, h.lifecycle.installed)
}

func TestComplete_TimeoutAfterFirstChunkKeepsPlaceholder(t *testing.T) {
	h := newHarness(t, Config{}, &fakeStream{
		chunks: []string{"Partial"},
		err:    errors.Join(ai.ErrTimeout, context.DeadlineExceeded),
	})

	require.Equal(t, TimedOut, h.complete())

	assert.Len(t, h.messages.creates, 1)
	assert.Empty(t, h.messages.updates)
	require.Len(t, h.presenter.finals, 1)
	assert.Equal(t, TimeoutText, h.presenter.finals[0].text)
	assert.Equal(t, []presenter.Affordance{presenter.Retry()}, h.presenter.finals[0].affordances)
	assert.Equal(t, 1, h.lifecycle.rearms)
}

func TestComplete_GenericFailureHidesDetail(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.backend.openErr = errors.New("dial tcp: connection refused")

	require.Equal(t, Failed, h.complete())

	require.Len(t, h.presenter.finals, 1)
	assert.Equal(t, FailureText, h.presenter.finals[0].text)
	assert.Equal(t, []presenter.Affordance{presenter.Retry()}, h.presenter.finals[0].affordances)
	assert.Empty(t, h.messages.creates)
}

func TestComplete_EmptyStreamIsAFailure(t *testing.T) {
	h := newHarness(t, Config{}, &fakeStream{})

	require.Equal(t, Failed, h.complete())
	assert.Empty(t, h.messages.creates)
	assert.Empty(t, h.messages.updates)
}

func TestComplete_FinalPersistFailure(t *testing.T) {
	h := newHarness(t, Config{}, &fakeStream{chunks: []string{"Hi"}})
	h.messages.updateErr = errors.New("connection reset")

	require.Equal(t, Failed, h.complete())
	require.Len(t, h.presenter.finals, 1)
	assert.Equal(t, FailureText, h.presenter.finals[0].text)
}

func TestComplete_GeneratesTitle(t *testing.T) {
	h := newHarness(t, Config{}, &fakeStream{chunks: []string{"Paris."}})
	h.backend.title = "  \"Capital of France.\"\n"

	require.Equal(t, Completed, h.complete())
	h.orch.Wait()

	require.NotNil(t, h.conv.Title())
	assert.Equal(t, "Capital of France", *h.conv.Title())
	assert.Equal(t, "Capital of France", h.titles.titles[h.conv.ID])

	require.Len(t, h.backend.titleReqs, 1)
	assert.Len(t, h.backend.titleReqs[0], 2)
}

func TestComplete_TitleFailureIsSilent(t *testing.T) {
	h := newHarness(t, Config{}, &fakeStream{chunks: []string{"Paris."}})
	h.backend.titleErr = ai.ErrRateLimited

	require.Equal(t, Completed, h.complete())
	h.orch.Wait()

	assert.Nil(t, h.conv.Title())
	assert.Empty(t, h.titles.titles)
	assert.True(t, h.conv.NeedsTitle())
}

func TestComplete_SkipsTitleForLongConversations(t *testing.T) {
	h := newHarness(t, Config{}, &fakeStream{chunks: []string{"Sure."}})
	h.conv.Append(types.Message{ID: "a0", Role: types.RoleAssistant, Content: "Paris."})
	h.conv.Append(types.Message{ID: "u2", Role: types.RoleUser, Content: "Thanks"})

	require.Equal(t, Completed, h.complete())
	h.orch.Wait()

	assert.Empty(t, h.backend.titleReqs)
}

func TestComplete_WindowsTranscript(t *testing.T) {
	h := newHarness(t, Config{MaxMessageCount: 2}, &fakeStream{chunks: []string{"ok"}})
	h.conv.Append(types.Message{ID: "a0", Role: types.RoleAssistant, Content: "Paris."})
	h.conv.Append(types.Message{ID: "u2", Role: types.RoleUser, Content: "And Spain?"})

	require.Equal(t, Completed, h.complete())
	h.orch.Wait()

	require.Len(t, h.backend.sent, 2)
	assert.Equal(t, "a0", h.backend.sent[0].ID)
	assert.Equal(t, "u2", h.backend.sent[1].ID)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))

	got := Truncate(strings.Repeat("日", 200), 100)
	assert.Equal(t, 100, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, TruncationSuffix))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "rate_limited", RateLimited.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "failed", Failed.String())
}
