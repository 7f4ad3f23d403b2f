// Package chat keeps the local view of conversations and timelines
// consistent with the server. Messages arrive over the realtime socket,
// from REST history pages, and from the local outbox; the engine collapses
// all three paths onto one deduplicated, totally ordered timeline per
// conversation.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cargomart/cargomart-go/internal/bus"
	"github.com/cargomart/cargomart-go/internal/models"
	"github.com/cargomart/cargomart-go/internal/rest"
	"github.com/cargomart/cargomart-go/internal/status"
	"github.com/cargomart/cargomart-go/internal/store"
)

// API is the REST surface the engine depends on.
type API interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID, cursor string, limit int) (*rest.MessagesPage, error)
	MarkRead(ctx context.Context, conversationID string) error
	SetPinned(ctx context.Context, conversationID string, pinned bool) error
	SetMuted(ctx context.Context, conversationID string, muted bool) error
}

// timeline holds one conversation's messages sorted by messageLess, with
// every alias key (server ID, nonce, event ID) indexed so any delivery path
// finds the same entry.
type timeline struct {
	msgs  []*models.Message
	index map[string]*models.Message
}

func newTimeline() *timeline {
	return &timeline{index: make(map[string]*models.Message)}
}

func (t *timeline) lookup(m *models.Message) *models.Message {
	for _, k := range aliasKeys(m) {
		if found, ok := t.index[k]; ok {
			return found
		}
	}
	return nil
}

func (t *timeline) register(m *models.Message) {
	for _, k := range aliasKeys(m) {
		t.index[k] = m
	}
}

// Engine is the chat sync engine.
// FrameSender sends frames on the realtime socket.
type FrameSender interface {
	Send(frame any) error
}

// pendingMsg is a reconcile waiting for the current pass to finish.
type pendingMsg struct {
	m        models.Message
	backfill bool
}

type Engine struct {
	api      API
	socket   FrameSender
	db       *store.DB
	bus      *bus.Bus
	selfID   string
	pageSize int
	logger   *zap.Logger

	mu        sync.Mutex
	convs     map[string]*models.Conversation
	timelines map[string]*timeline

	// Reconcile re-entered from a bus handler queues here instead of
	// nesting, so each pass sees a settled timeline.
	reconciling bool
	pending     []pendingMsg

	unsub func()
}

// New creates an engine. selfID is the local participant, used to stamp
// optimistic sends.
func New(api API, socket FrameSender, db *store.DB, b *bus.Bus, selfID string, pageSize int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Engine{
		api:       api,
		socket:    socket,
		db:        db,
		bus:       b,
		selfID:    selfID,
		pageSize:  pageSize,
		logger:    logger,
		convs:     make(map[string]*models.Conversation),
		timelines: make(map[string]*timeline),
	}
}

// Start warms the in-memory state from the cache and arranges a
// conversation refresh every time the connection comes (back) up.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.warmFromCache(); err != nil {
		return err
	}
	e.unsub = e.bus.Subscribe(bus.ConnectionStateChanged, func(ev bus.Event) {
		change, ok := ev.Payload.(status.StatusChange)
		if !ok || change.To != status.Connected {
			return
		}
		go func() {
			if err := e.RefreshConversations(ctx); err != nil {
				e.logger.Warn("conversation refresh failed", zap.Error(err))
			}
		}()
	})
	return nil
}

// Close detaches the engine from the bus.
func (e *Engine) Close() {
	if e.unsub != nil {
		e.unsub()
	}
}

func (e *Engine) warmFromCache() error {
	convs, err := e.db.ListConversations(0)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, row := range convs {
		c := conversationFromRow(row)
		e.convs[c.ID] = c
		msgs, err := e.db.ListMessages(c.ID, 0, e.pageSize)
		if err != nil {
			return err
		}
		tl := newTimeline()
		for i := range msgs {
			m := messageFromRow(msgs[i])
			tl.msgs = append(tl.msgs, m)
			tl.register(m)
		}
		sortMessages(tl.msgs)
		e.timelines[c.ID] = tl
	}
	return nil
}

// SendMessage performs an optimistic send: the message appears in the
// timeline immediately with status "sending" and a queued outbox entry
// carries it to the server.
func (e *Engine) SendMessage(conversationID, content string) (*models.Message, error) {
	m := models.Message{
		ClientNonce:    uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       e.selfID,
		SentAt:         time.Now().UnixMilli(),
		Content:        content,
		Kind:           models.KindText,
		Status:         models.StatusSending,
	}
	if err := e.db.QueueOutbox(m.ClientNonce, conversationID, content); err != nil {
		return nil, err
	}
	e.Reconcile(m)
	return &m, nil
}

// MarkSendFailed flips an optimistic message to failed after the outbox
// gave up on it. The entry stays in the timeline so the user can retry.
func (e *Engine) MarkSendFailed(conversationID, clientNonce string, cause error) {
	e.mu.Lock()
	tl := e.timelines[conversationID]
	var failed *models.Message
	if tl != nil {
		failed = tl.index["nonce:"+clientNonce]
	}
	if failed != nil {
		failed.Status = models.StatusFailed
	}
	e.mu.Unlock()
	if failed == nil {
		return
	}
	if err := e.db.UpsertMessage(rowFromMessage(failed)); err != nil {
		e.logger.Warn("persist failed message", zap.Error(err))
	}
	e.bus.Publish(bus.MessageSendFailed, SendFailure{
		ConversationID: conversationID,
		ClientNonce:    clientNonce,
		Cause:          cause,
	})
	e.publishUpserted(*failed)
}

// Reconcile folds one message into its conversation timeline. It is
// idempotent: redelivering the same message, under any of its identities,
// leaves exactly one entry. Calls arriving while a reconcile is already
// running (from a bus handler reacting to the publish) are queued and
// processed after the current pass, never nested.
func (e *Engine) Reconcile(m models.Message) {
	e.reconcile(m, false)
}

// reconcile distinguishes live deliveries from backfill: history pages and
// summary overlays carry messages the user has already been accounted for,
// so they never touch the unread counter.
func (e *Engine) reconcile(m models.Message, backfill bool) {
	e.mu.Lock()
	if e.reconciling {
		e.pending = append(e.pending, pendingMsg{m: m, backfill: backfill})
		e.mu.Unlock()
		return
	}
	e.reconciling = true
	e.mu.Unlock()

	e.apply(m, backfill)
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.reconciling = false
			e.mu.Unlock()
			return
		}
		next := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()
		e.apply(next.m, next.backfill)
	}
}

func (e *Engine) apply(m models.Message, backfill bool) {
	if m.ConversationID == "" {
		e.logger.Warn("message without conversation dropped")
		return
	}
	if m.Status == "" {
		m.Status = models.StatusReceived
	}

	e.mu.Lock()
	tl := e.timelines[m.ConversationID]
	if tl == nil {
		tl = newTimeline()
		e.timelines[m.ConversationID] = tl
	}

	var entry *models.Message
	oldKey := ""
	inserted := false
	if existing := tl.lookup(&m); existing != nil {
		oldKey = Key(existing)
		mergeMessage(existing, &m)
		entry = existing
	} else {
		copied := m
		entry = &copied
		tl.msgs = append(tl.msgs, entry)
		inserted = true
	}
	tl.register(entry)
	sortMessages(tl.msgs)
	newKey := Key(entry)

	conv := e.touchConversation(entry, inserted && !backfill)
	snapshot := *entry
	convSnapshot := *conv
	e.mu.Unlock()

	if oldKey != "" && oldKey != newKey {
		if err := e.db.RekeyMessage(snapshot.ConversationID, oldKey, newKey); err != nil {
			e.logger.Warn("rekey message", zap.Error(err))
		}
	}
	if err := e.db.UpsertMessage(rowFromMessage(&snapshot)); err != nil {
		e.logger.Warn("persist message", zap.Error(err))
	}
	if err := e.db.UpsertConversation(rowFromConversation(&convSnapshot)); err != nil {
		e.logger.Warn("persist conversation", zap.Error(err))
	}

	e.publishUpserted(snapshot)
	e.bus.Publish(bus.ConversationUpdated, convSnapshot)
}

// mergeMessage folds an incoming copy of a known message onto the stored
// entry. Server-confirmed fields win; a pending local send flips to sent
// once any server-identified copy arrives.
func mergeMessage(dst, src *models.Message) {
	if src.ServerID != "" {
		dst.ServerID = src.ServerID
		dst.SentAt = src.SentAt
		dst.Content = src.Content
		dst.Reactions = src.Reactions
		dst.Attachments = src.Attachments
		dst.Pinned = src.Pinned
		if src.Call != nil {
			dst.Call = src.Call
		}
		if dst.Status == models.StatusSending || dst.Status == models.StatusFailed {
			dst.Status = models.StatusSent
		} else if src.Status != "" && src.Status != models.StatusReceived {
			dst.Status = src.Status
		}
	}
	if src.EventID != "" && dst.EventID == "" {
		dst.EventID = src.EventID
	}
	if src.ClientNonce != "" && dst.ClientNonce == "" {
		dst.ClientNonce = src.ClientNonce
	}
}

// touchConversation updates the conversation summary for a reconciled
// message. delivered is true only for newly inserted live deliveries;
// backfilled history must not count as unread. Caller holds e.mu.
func (e *Engine) touchConversation(m *models.Message, delivered bool) *models.Conversation {
	conv := e.convs[m.ConversationID]
	if conv == nil {
		conv = &models.Conversation{ID: m.ConversationID, CreatedAt: m.SentAt}
		e.convs[m.ConversationID] = conv
	}
	if conv.LastMessage == nil || !messageLess(m, conv.LastMessage) {
		last := *m
		conv.LastMessage = &last
	}
	if delivered && m.Status == models.StatusReceived && m.SenderID != e.selfID && !conv.Muted {
		conv.UnreadCount++
	}
	return conv
}

// Timeline returns a sorted snapshot of one conversation's messages.
func (e *Engine) Timeline(conversationID string) []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl := e.timelines[conversationID]
	if tl == nil {
		return nil
	}
	out := make([]models.Message, len(tl.msgs))
	for i, m := range tl.msgs {
		out[i] = *m
	}
	return out
}

// Conversations returns the chat list ordered by most recent activity.
func (e *Engine) Conversations() []models.Conversation {
	e.mu.Lock()
	ptrs := make([]*models.Conversation, 0, len(e.convs))
	for _, c := range e.convs {
		ptrs = append(ptrs, c)
	}
	e.mu.Unlock()
	SortConversations(ptrs, time.Now().UnixMilli())
	out := make([]models.Conversation, len(ptrs))
	for i, c := range ptrs {
		out[i] = *c
	}
	return out
}

// LoadOlder fetches one page of history before the cursor and folds it in.
// It returns the next cursor, empty when history is exhausted.
func (e *Engine) LoadOlder(ctx context.Context, conversationID, cursor string) (string, error) {
	page, err := e.api.Messages(ctx, conversationID, cursor, e.pageSize)
	if err != nil {
		return "", err
	}
	for _, m := range page.Messages {
		e.reconcile(m, true)
	}
	return page.NextCursor, nil
}

// RespondGPSRequest answers a counterparty's location-sharing request over
// the realtime socket. With no live socket the transport error comes back
// and the request stays unanswered.
func (e *Engine) RespondGPSRequest(requestID string, accept bool) error {
	frame := map[string]any{
		"event":     models.EventGPSRequestResponded,
		"requestId": requestID,
		"accepted":  accept,
	}
	if err := e.socket.Send(frame); err != nil {
		return err
	}
	e.logger.Info("gps request answered",
		zap.String("request", requestID), zap.Bool("accepted", accept))
	return nil
}

// RefreshConversations pulls the authoritative chat list and overlays it on
// the local state. Local timelines are kept; summaries come from the server.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	convs, err := e.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	for i := range convs {
		incoming := convs[i]
		e.mu.Lock()
		existing := e.convs[incoming.ID]
		if existing == nil {
			c := incoming
			e.convs[incoming.ID] = &c
			existing = &c
		} else {
			existing.Participants = incoming.Participants
			existing.IsGroup = incoming.IsGroup
			existing.IsSupport = incoming.IsSupport
			existing.SupportStatus = incoming.SupportStatus
			existing.UnreadCount = incoming.UnreadCount
			existing.Muted = incoming.Muted
			existing.PinnedByMe = incoming.PinnedByMe
			if existing.CreatedAt == 0 {
				existing.CreatedAt = incoming.CreatedAt
			}
		}
		snapshot := *existing
		e.mu.Unlock()

		if err := e.db.UpsertConversation(rowFromConversation(&snapshot)); err != nil {
			e.logger.Warn("persist conversation", zap.Error(err))
		}
		e.bus.Publish(bus.ConversationUpdated, snapshot)
		if incoming.LastMessage != nil {
			// The summary's unread count is authoritative; folding the
			// preview message in must not bump it again.
			e.reconcile(*incoming.LastMessage, true)
		}
	}
	return nil
}

// MarkRead zeroes the unread counter optimistically and reverts if the
// server call fails.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	return e.optimisticUpdate(conversationID,
		func(c *models.Conversation) { c.UnreadCount = 0 },
		func() error { return e.api.MarkRead(ctx, conversationID) })
}

// SetPinned toggles the pinned flag optimistically.
func (e *Engine) SetPinned(ctx context.Context, conversationID string, pinned bool) error {
	return e.optimisticUpdate(conversationID,
		func(c *models.Conversation) { c.PinnedByMe = pinned },
		func() error { return e.api.SetPinned(ctx, conversationID, pinned) })
}

// SetMuted toggles the muted flag optimistically.
func (e *Engine) SetMuted(ctx context.Context, conversationID string, muted bool) error {
	return e.optimisticUpdate(conversationID,
		func(c *models.Conversation) { c.Muted = muted },
		func() error { return e.api.SetMuted(ctx, conversationID, muted) })
}

func (e *Engine) optimisticUpdate(conversationID string, mutate func(*models.Conversation), call func() error) error {
	e.mu.Lock()
	conv := e.convs[conversationID]
	if conv == nil {
		conv = &models.Conversation{ID: conversationID}
		e.convs[conversationID] = conv
	}
	before := *conv
	mutate(conv)
	snapshot := *conv
	e.mu.Unlock()

	e.bus.Publish(bus.ConversationUpdated, snapshot)

	if err := call(); err != nil {
		e.mu.Lock()
		*conv = before
		reverted := *conv
		e.mu.Unlock()
		e.bus.Publish(bus.ConversationUpdated, reverted)
		return err
	}
	if err := e.db.UpsertConversation(rowFromConversation(&snapshot)); err != nil {
		e.logger.Warn("persist conversation", zap.Error(err))
	}
	return nil
}

func (e *Engine) publishUpserted(m models.Message) {
	e.bus.Publish(bus.MessageUpserted, m)
}
