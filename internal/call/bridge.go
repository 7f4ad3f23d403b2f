// Package call records call outcomes into conversation timelines. Media
// and signaling transport live elsewhere; this bridge only turns lifecycle
// events into immutable call-card messages, exactly once per call.
package call

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cargomart/cargomart-go/internal/bus"
	"github.com/cargomart/cargomart-go/internal/models"
)

// ErrDuplicateReport is returned when a call outcome was already recorded.
var ErrDuplicateReport = errors.New("call already reported")

// Timeline is the slice of the chat engine the bridge writes into.
type Timeline interface {
	Reconcile(m models.Message)
}

// FrameSender sends signaling frames on the realtime socket.
type FrameSender interface {
	Send(frame any) error
}

// Report is published on bus.CallReport with every recorded outcome.
type Report struct {
	ConversationID string
	Detail         models.CallDetail
}

// ringing tracks a call between its start and end frames.
type ringing struct {
	conversationID string
	direction      models.CallDirection
	startedAt      int64
}

// Bridge folds call lifecycle frames and host-app reports into call-card
// messages.
type Bridge struct {
	engine Timeline
	sender FrameSender
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	active   map[string]ringing
	reported map[string]struct{}
}

// NewBridge creates a bridge writing through the given timeline.
func NewBridge(engine Timeline, sender FrameSender, b *bus.Bus, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		engine:   engine,
		sender:   sender,
		bus:      b,
		logger:   logger,
		active:   make(map[string]ringing),
		reported: make(map[string]struct{}),
	}
}

// StartCall asks the gateway to ring a conversation and returns the new
// call ID. With no live socket the caller gets the transport error back
// and nothing is recorded.
func (br *Bridge) StartCall(conversationID string) (string, error) {
	callID := uuid.NewString()
	frame := map[string]any{
		"event":  "call_start",
		"chatId": conversationID,
		"callId": callID,
	}
	if err := br.sender.Send(frame); err != nil {
		return "", err
	}
	br.mu.Lock()
	br.active[callID] = ringing{
		conversationID: conversationID,
		direction:      models.CallOutgoing,
		startedAt:      time.Now().UnixMilli(),
	}
	br.mu.Unlock()
	br.logger.Info("call started", zap.String("call", callID), zap.String("conversation", conversationID))
	return callID, nil
}

type callFrame struct {
	CallID         string `json:"callId"`
	ConversationID string `json:"chatId"`
	Direction      string `json:"direction"`
	Status         string `json:"status"`
	Duration       int    `json:"duration"`
}

// HandleFrame consumes call lifecycle frames from the realtime socket.
func (br *Bridge) HandleFrame(f models.Frame) {
	switch f.Event {
	case models.EventCallStarted:
		var cf callFrame
		if err := json.Unmarshal(f.Raw, &cf); err != nil {
			br.logger.Warn("malformed call_started frame", zap.Error(err))
			return
		}
		br.mu.Lock()
		br.active[cf.CallID] = ringing{
			conversationID: cf.ConversationID,
			direction:      models.CallDirection(cf.Direction),
			startedAt:      time.Now().UnixMilli(),
		}
		br.mu.Unlock()

	case models.EventCallEnded:
		var cf callFrame
		if err := json.Unmarshal(f.Raw, &cf); err != nil {
			br.logger.Warn("malformed call_ended frame", zap.Error(err))
			return
		}
		detail := models.CallDetail{
			CallID:    cf.CallID,
			Status:    models.CallStatus(cf.Status),
			Direction: models.CallDirection(cf.Direction),
			Duration:  cf.Duration,
		}
		if err := br.Record(cf.ConversationID, detail); err != nil && !errors.Is(err, ErrDuplicateReport) {
			br.logger.Warn("record call", zap.Error(err), zap.String("call", cf.CallID))
		}
	}
}

// Record writes one call outcome into its conversation. The second report
// for the same call ID, whether from a socket frame or the host app, is
// rejected with ErrDuplicateReport and leaves the timeline untouched.
func (br *Bridge) Record(conversationID string, detail models.CallDetail) error {
	if detail.CallID == "" {
		return errors.New("call report without call ID")
	}

	br.mu.Lock()
	if _, dup := br.reported[detail.CallID]; dup {
		br.mu.Unlock()
		return ErrDuplicateReport
	}
	br.reported[detail.CallID] = struct{}{}

	started, wasActive := br.active[detail.CallID]
	delete(br.active, detail.CallID)
	br.mu.Unlock()

	if conversationID == "" && wasActive {
		conversationID = started.conversationID
	}
	if detail.Direction == "" && wasActive {
		detail.Direction = started.direction
	}

	msg := models.Message{
		EventID:        "call:" + detail.CallID,
		ConversationID: conversationID,
		SentAt:         time.Now().UnixMilli(),
		Kind:           models.KindCall,
		Status:         models.StatusReceived,
		Call:           &detail,
	}
	br.engine.Reconcile(msg)
	br.bus.Publish(bus.CallReport, Report{ConversationID: conversationID, Detail: detail})
	br.logger.Info("call recorded",
		zap.String("call", detail.CallID),
		zap.String("status", string(detail.Status)),
		zap.Int("duration", detail.Duration))
	return nil
}
