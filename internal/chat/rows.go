package chat

import (
	"github.com/cargomart/cargomart-go/internal/models"
	"github.com/cargomart/cargomart-go/internal/store"
)

func rowFromMessage(m *models.Message) *store.Message {
	row := &store.Message{
		ConversationID: m.ConversationID,
		DedupKey:       Key(m),
		ServerID:       m.ServerID,
		ClientNonce:    m.ClientNonce,
		EventID:        m.EventID,
		SenderID:       m.SenderID,
		SentAt:         m.SentAt,
		Content:        m.Content,
		Kind:           string(m.Kind),
		Status:         string(m.Status),
		Pinned:         m.Pinned,
	}
	if m.Call != nil {
		row.CallID = m.Call.CallID
		row.CallStatus = string(m.Call.Status)
		row.CallDirection = string(m.Call.Direction)
		row.CallDuration = m.Call.Duration
	}
	return row
}

func messageFromRow(row store.Message) *models.Message {
	m := &models.Message{
		ServerID:       row.ServerID,
		ClientNonce:    row.ClientNonce,
		EventID:        row.EventID,
		ConversationID: row.ConversationID,
		SenderID:       row.SenderID,
		SentAt:         row.SentAt,
		Content:        row.Content,
		Kind:           models.MessageKind(row.Kind),
		Status:         models.MessageStatus(row.Status),
		Pinned:         row.Pinned,
	}
	if row.CallID != "" {
		m.Call = &models.CallDetail{
			CallID:    row.CallID,
			Status:    models.CallStatus(row.CallStatus),
			Direction: models.CallDirection(row.CallDirection),
			Duration:  row.CallDuration,
		}
	}
	return m
}

func rowFromConversation(c *models.Conversation) *store.Conversation {
	row := &store.Conversation{
		ID:           c.ID,
		Participants: c.Participants,
		IsGroup:      c.IsGroup,
		IsSupport:    c.IsSupport,
		UnreadCount:  c.UnreadCount,
		Muted:        c.Muted,
		PinnedByMe:   c.PinnedByMe,
		CreatedAt:    c.CreatedAt,
	}
	if c.SupportStatus != nil {
		row.SupportState = c.SupportStatus.State
		row.SupportPosition = c.SupportStatus.Position
	}
	if c.LastMessage != nil {
		row.LastMessageAt = c.LastMessage.SentAt
		row.LastMessagePreview = c.LastMessage.Content
	}
	return row
}

func conversationFromRow(row store.Conversation) *models.Conversation {
	c := &models.Conversation{
		ID:           row.ID,
		Participants: row.Participants,
		IsGroup:      row.IsGroup,
		IsSupport:    row.IsSupport,
		UnreadCount:  row.UnreadCount,
		Muted:        row.Muted,
		PinnedByMe:   row.PinnedByMe,
		CreatedAt:    row.CreatedAt,
	}
	if row.SupportState != "" {
		c.SupportStatus = &models.SupportStatus{State: row.SupportState, Position: row.SupportPosition}
	}
	if row.LastMessageAt > 0 {
		c.LastMessage = &models.Message{
			ConversationID: row.ID,
			SentAt:         row.LastMessageAt,
			Content:        row.LastMessagePreview,
		}
	}
	return c
}
