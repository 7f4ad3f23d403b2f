package chat

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cargomart/cargomart-go/internal/bus"
	"github.com/cargomart/cargomart-go/internal/models"
)

// TypingEvent is published on bus.Typing while a participant types.
type TypingEvent struct {
	ConversationID string `json:"chatId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// QueuePositionEvent is published on bus.QueuePosition as a support thread
// moves through the queue.
type QueuePositionEvent struct {
	ConversationID string `json:"chatId"`
	State          string `json:"state"`
	Position       int    `json:"position"`
}

// ContactEvent is published on bus.ContactsUpdate for the contact-request
// lifecycle. Kind is the frame event name that produced it.
type ContactEvent struct {
	Kind      string `json:"-"`
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	Name      string `json:"name,omitempty"`
}

// GPSRequestEvent is published on bus.GPSRequest when a counterparty asks
// for, or responds to, a location-sharing request.
type GPSRequestEvent struct {
	Kind      string `json:"-"`
	RequestID string `json:"requestId"`
	OrderID   string `json:"orderId,omitempty"`
	Accepted  bool   `json:"accepted,omitempty"`
}

// SendFailure is published on bus.MessageSendFailed when the outbox gives
// up on an optimistic message.
type SendFailure struct {
	ConversationID string
	ClientNonce    string
	Cause          error
}

// HandleFrame routes one realtime frame. Message frames enter the
// reconcile path; presence and lifecycle frames are re-published as typed
// bus events. Unknown events are logged and dropped so a gateway rollout
// with new frame types cannot wedge the client.
func (e *Engine) HandleFrame(f models.Frame) {
	switch f.Event {
	case models.EventMessage:
		var m models.Message
		if err := json.Unmarshal(f.Raw, &m); err != nil {
			e.logger.Warn("malformed message frame", zap.Error(err))
			return
		}
		e.Reconcile(m)

	case models.EventTyping:
		var ev TypingEvent
		if err := json.Unmarshal(f.Raw, &ev); err != nil {
			e.logger.Warn("malformed typing frame", zap.Error(err))
			return
		}
		e.bus.Publish(bus.Typing, ev)

	case models.EventQueuePosition:
		var ev QueuePositionEvent
		if err := json.Unmarshal(f.Raw, &ev); err != nil {
			e.logger.Warn("malformed queue_position frame", zap.Error(err))
			return
		}
		e.applyQueuePosition(ev)

	case models.EventContactRequest, models.EventContactAccepted,
		models.EventContactDeclined, models.EventContactRemoved:
		var ev ContactEvent
		if err := json.Unmarshal(f.Raw, &ev); err != nil {
			e.logger.Warn("malformed contact frame", zap.Error(err), zap.String("event", f.Event))
			return
		}
		ev.Kind = f.Event
		e.bus.Publish(bus.ContactsUpdate, ev)

	case models.EventGPSRequestCreated, models.EventGPSRequestResponded:
		var ev GPSRequestEvent
		if err := json.Unmarshal(f.Raw, &ev); err != nil {
			e.logger.Warn("malformed gps frame", zap.Error(err), zap.String("event", f.Event))
			return
		}
		ev.Kind = f.Event
		e.bus.Publish(bus.GPSRequest, ev)

	case models.EventCallStarted, models.EventCallEnded:
		// Call lifecycle belongs to the signaling bridge, which registers
		// its own frame handler.

	default:
		e.logger.Debug("unhandled frame", zap.String("event", f.Event))
	}
}

// applyQueuePosition updates a support conversation's queue state and
// republishes both the raw position event and the conversation summary.
func (e *Engine) applyQueuePosition(ev QueuePositionEvent) {
	e.mu.Lock()
	conv := e.convs[ev.ConversationID]
	if conv == nil {
		conv = &models.Conversation{ID: ev.ConversationID, IsSupport: true}
		e.convs[ev.ConversationID] = conv
	}
	conv.IsSupport = true
	conv.SupportStatus = &models.SupportStatus{State: ev.State, Position: ev.Position}
	snapshot := *conv
	e.mu.Unlock()

	if err := e.db.UpsertConversation(rowFromConversation(&snapshot)); err != nil {
		e.logger.Warn("persist conversation", zap.Error(err))
	}
	e.bus.Publish(bus.QueuePosition, ev)
	e.bus.Publish(bus.ConversationUpdated, snapshot)
}
