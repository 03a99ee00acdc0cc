// Package matrix connects chats in Matrix rooms to the chat service. A room ID
// is the chat ID and an event ID is the reply slot ID.
package matrix

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/vultisig/convo-backend/internal/presenter"
)

// eventSender is the part of *mautrix.Client the presenter uses.
type eventSender interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Presenter delivers replies as notices and rewrites them with edits.
type Presenter struct {
	client eventSender
}

// NewPresenter creates a Presenter sending through client.
func NewPresenter(client *mautrix.Client) *Presenter {
	return &Presenter{client: client}
}

// Send implements presenter.Presenter.
func (p *Presenter) Send(ctx context.Context, chatID, text string, affordances ...presenter.Affordance) (string, error) {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    presenter.Render(text, affordances),
	}

	resp, err := p.client.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", chatID, err)
	}
	return resp.EventID.String(), nil
}

// Update implements presenter.Presenter.
func (p *Presenter) Update(ctx context.Context, chatID, slotID, text string) error {
	return p.edit(ctx, chatID, slotID, text)
}

// Finalize implements presenter.Presenter.
func (p *Presenter) Finalize(ctx context.Context, chatID, slotID, text string, affordances ...presenter.Affordance) error {
	return p.edit(ctx, chatID, slotID, presenter.Render(text, affordances))
}

func (p *Presenter) edit(ctx context.Context, chatID, slotID, body string) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    body,
	}
	content.SetEdit(id.EventID(slotID))

	if _, err := p.client.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, content); err != nil {
		return fmt.Errorf("edit %s in %s: %w", slotID, chatID, err)
	}
	return nil
}
