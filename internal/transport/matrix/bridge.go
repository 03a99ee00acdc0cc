package matrix

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// handleTimeout bounds the handling of one inbound message, including the
// streamed reply.
const handleTimeout = 5 * time.Minute

// roomQueueSize is how many messages a room can have waiting before the sync
// loop blocks on it.
const roomQueueSize = 64

type inbound struct {
	eventID string
	body    string
}

// ChatService handles the operations a participant can trigger.
type ChatService interface {
	Start(ctx context.Context, chatID string) error
	HandleMessage(ctx context.Context, chatID, userMessageID, text string) error
	Retry(ctx context.Context, chatID string) error
	NewConversation(ctx context.Context, chatID string) error
	Resume(ctx context.Context, chatID string, convID uuid.UUID) error
	History(ctx context.Context, chatID string) error
	ListModes(ctx context.Context, chatID string) error
	SelectMode(ctx context.Context, chatID string, id uuid.UUID) error
	ClearMode(ctx context.Context, chatID string) error
	BeginAddMode(ctx context.Context, chatID, title string) error
	SubmitModePrompt(ctx context.Context, chatID, prompt string) error
	ShowModes(ctx context.Context, chatID string) error
	ShowMode(ctx context.Context, chatID string, id uuid.UUID) error
	BeginEditMode(ctx context.Context, chatID string, id uuid.UUID) error
	DeleteMode(ctx context.Context, chatID string, id uuid.UUID) error
	AwaitingModeInput(chatID string) bool
}

// Config holds the Matrix account and room filter.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// AllowedRooms limits the rooms served. Empty serves every joined room.
	AllowedRooms []string
}

// NewClient creates a Matrix client for the configured account.
func NewClient(cfg Config) (*mautrix.Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return client, nil
}

// Bridge receives room messages and dispatches them to the chat service.
// Messages in one room are handled one at a time, in arrival order.
type Bridge struct {
	cfg    Config
	client *mautrix.Client
	chat   ChatService
	logger *logrus.Logger

	// mu guards closed against enqueues racing the shutdown of the queues.
	mu      sync.RWMutex
	closed  bool
	queues  sync.Map // room ID -> chan inbound
	wg      sync.WaitGroup
	started time.Time
}

// NewBridge creates a new Bridge.
func NewBridge(cfg Config, client *mautrix.Client, chat ChatService, logger *logrus.Logger) *Bridge {
	return &Bridge{
		cfg:    cfg,
		client: client,
		chat:   chat,
		logger: logger,
	}
}

// Run syncs with the homeserver until ctx is cancelled, then waits for
// in-flight messages to finish.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.WithFields(logrus.Fields{
		"homeserver": b.cfg.Homeserver,
		"user_id":    b.cfg.UserID,
	}).Info("starting matrix bridge")

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	b.started = time.Now()
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		b.handleEvent(ctx, evt)
	})

	err := b.client.SyncWithContext(ctx)
	b.closeQueues()
	b.wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("matrix sync failed: %w", err)
	}

	b.logger.Info("matrix bridge stopped")
	return nil
}

func (b *Bridge) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}
	// The first sync replays room history.
	if time.UnixMilli(evt.Timestamp).Before(b.started) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText || content.RelatesTo.GetReplaceID() != "" {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.WithField("room", roomID).Debug("ignoring message from non-allowed room")
		return
	}

	body := strings.TrimSpace(content.Body)
	if body == "" {
		return
	}

	b.enqueue(ctx, roomID, inbound{eventID: evt.ID.String(), body: body})
}

// enqueue hands a message to the room's worker, starting it on first use. Each
// room has one worker, so its messages are handled one at a time in the order
// they were received.
func (b *Bridge) enqueue(ctx context.Context, roomID string, msg inbound) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	q, ok := b.queues.Load(roomID)
	if !ok {
		var loaded bool
		q, loaded = b.queues.LoadOrStore(roomID, make(chan inbound, roomQueueSize))
		if !loaded {
			b.wg.Add(1)
			go b.work(ctx, roomID, q.(chan inbound))
		}
	}
	q.(chan inbound) <- msg
}

// work handles a room's messages until its queue is closed.
func (b *Bridge) work(ctx context.Context, roomID string, queue <-chan inbound) {
	defer b.wg.Done()
	for msg := range queue {
		b.process(ctx, roomID, msg.eventID, msg.body)
	}
}

// closeQueues stops accepting messages. Workers drain what is already queued.
func (b *Bridge) closeQueues() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.queues.Range(func(_, q any) bool {
		close(q.(chan inbound))
		return true
	})
}

func (b *Bridge) process(ctx context.Context, roomID, eventID, body string) {
	// Replies keep streaming while the bridge shuts down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
	defer cancel()

	if err := b.dispatch(ctx, roomID, eventID, body); err != nil {
		b.logger.WithError(err).WithField("room", roomID).Error("failed to handle message")
	}
}

// dispatch routes a message body to the chat service.
func (b *Bridge) dispatch(ctx context.Context, roomID, eventID, body string) error {
	cmd, ok := parseCommand(body)
	if !ok {
		if b.chat.AwaitingModeInput(roomID) {
			return b.chat.SubmitModePrompt(ctx, roomID, body)
		}
		return b.chat.HandleMessage(ctx, roomID, eventID, body)
	}

	b.logger.WithFields(logrus.Fields{
		"room":    roomID,
		"command": cmd.name,
	}).Debug("received command")

	switch cmd.name {
	case "start":
		return b.chat.Start(ctx, roomID)
	case "new":
		return b.chat.NewConversation(ctx, roomID)
	case "retry":
		return b.chat.Retry(ctx, roomID)
	case "history":
		return b.chat.History(ctx, roomID)
	case "mode":
		return b.chat.ListModes(ctx, roomID)
	case "mode_clear":
		return b.chat.ClearMode(ctx, roomID)
	case "mode_add":
		return b.chat.BeginAddMode(ctx, roomID, cmd.arg)
	case "mode_show":
		return b.chat.ShowModes(ctx, roomID)
	}

	target, err := uuid.Parse(cmd.arg)
	if err != nil {
		return b.chat.HandleMessage(ctx, roomID, eventID, body)
	}
	switch cmd.name {
	case "resume":
		return b.chat.Resume(ctx, roomID, target)
	case "mode_select":
		return b.chat.SelectMode(ctx, roomID, target)
	case "mode_detail":
		return b.chat.ShowMode(ctx, roomID, target)
	case "mode_edit":
		return b.chat.BeginEditMode(ctx, roomID, target)
	case "mode_delete":
		return b.chat.DeleteMode(ctx, roomID, target)
	}
	return b.chat.HandleMessage(ctx, roomID, eventID, body)
}

func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.cfg.AllowedRooms, roomID)
}

type command struct {
	name string
	arg  string
}

// idCommands carry their target as a suffix, as in /resume_<id>.
var idCommands = []string{"resume", "mode_select", "mode_detail", "mode_edit", "mode_delete"}

// parseCommand splits "/name arg" and "/name_<id>" forms.
func parseCommand(body string) (command, bool) {
	if !strings.HasPrefix(body, "/") {
		return command{}, false
	}

	name, arg, _ := strings.Cut(body[1:], " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)
	if name == "" {
		return command{}, false
	}

	for _, prefix := range idCommands {
		if rest, ok := strings.CutPrefix(name, prefix+"_"); ok && rest != "" {
			return command{name: prefix, arg: rest}, true
		}
	}
	return command{name: name, arg: arg}, true
}
