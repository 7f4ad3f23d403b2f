// Package outbox drains queued optimistic messages to the REST API. The
// chat engine inserts the optimistic entry; this loop only moves it to the
// server and reports the outcome back through the engine.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cargomart/cargomart-go/internal/models"
	"github.com/cargomart/cargomart-go/internal/store"
)

// MessageSender sends one outgoing message. The client nonce travels to
// the server so the echo frame can be matched to the optimistic entry.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID, clientNonce, content string) (*models.Message, error)
}

// Reconciler is the slice of the chat engine the sender reports into.
type Reconciler interface {
	Reconcile(m models.Message)
	MarkSendFailed(conversationID, clientNonce string, cause error)
}

// Sender polls the outbox table and pushes queued entries.
type Sender struct {
	db     *store.DB
	api    MessageSender
	engine Reconciler
	logger *zap.Logger

	interval time.Duration
	cancel   context.CancelFunc
}

// NewSender creates a sender polling every 500ms.
func NewSender(db *store.DB, api MessageSender, engine Reconciler, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		api:      api,
		engine:   engine,
		logger:   logger,
		interval: 500 * time.Millisecond,
	}
}

// Start begins the drain loop.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop halts the drain loop. In-flight sends finish their bookkeeping.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Retry puts a failed entry back in the queue. The next poll picks it up.
func (s *Sender) Retry(clientNonce string) error {
	return s.db.RequeueOutbox(clientNonce)
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Drain sends every queued entry once, oldest first. A failed entry is
// parked as failed rather than retried automatically; retry is a user
// action so a permanently rejected message cannot loop forever.
func (s *Sender) Drain(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientNonce); err != nil {
			s.logger.Error("mark sending", zap.Error(err), zap.String("nonce", entry.ClientNonce))
			continue
		}

		confirmed, err := s.api.SendMessage(ctx, entry.ConversationID, entry.ClientNonce, entry.Content)
		if err != nil {
			s.logger.Warn("send failed",
				zap.Error(err),
				zap.String("nonce", entry.ClientNonce),
				zap.String("conversation", entry.ConversationID))
			if dberr := s.db.MarkOutboxFailed(entry.ClientNonce, err.Error()); dberr != nil {
				s.logger.Error("mark failed", zap.Error(dberr))
			}
			s.engine.MarkSendFailed(entry.ConversationID, entry.ClientNonce, err)
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientNonce, confirmed.ServerID); err != nil {
			s.logger.Error("mark sent", zap.Error(err), zap.String("nonce", entry.ClientNonce))
		}

		// The confirmation upgrades the optimistic entry's identity even
		// if the socket echo never arrives.
		m := *confirmed
		if m.ClientNonce == "" {
			m.ClientNonce = entry.ClientNonce
		}
		if m.ConversationID == "" {
			m.ConversationID = entry.ConversationID
		}
		s.engine.Reconcile(m)

		s.logger.Info("message sent",
			zap.String("nonce", entry.ClientNonce),
			zap.String("server_id", confirmed.ServerID))
	}
}
