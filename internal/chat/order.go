package chat

import (
	"sort"
	"strings"

	"github.com/cargomart/cargomart-go/internal/models"
)

// messageLess is the total order of a conversation timeline: sent time
// ascending, ties broken by server ID and then client nonce so the order
// is stable across devices that saw the same messages.
func messageLess(a, b *models.Message) bool {
	if a.SentAt != b.SentAt {
		return a.SentAt < b.SentAt
	}
	if a.ServerID != b.ServerID {
		return a.ServerID < b.ServerID
	}
	return a.ClientNonce < b.ClientNonce
}

func sortMessages(msgs []*models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return messageLess(msgs[i], msgs[j])
	})
}

// activityTS is the timestamp a conversation sorts by: its last message,
// falling back to creation time for empty threads, and to now for threads
// created locally this instant so they surface at the top.
func activityTS(c *models.Conversation, now int64) int64 {
	if c.LastMessage != nil {
		return c.LastMessage.SentAt
	}
	if c.CreatedAt > 0 {
		return c.CreatedAt
	}
	return now
}

// SortConversations orders the chat list by most recent activity, newest
// first. Ties fall back to the conversation ID so the order is deterministic.
func SortConversations(convs []*models.Conversation, now int64) {
	sort.SliceStable(convs, func(i, j int) bool {
		ti, tj := activityTS(convs[i], now), activityTS(convs[j], now)
		if ti != tj {
			return ti > tj
		}
		return strings.Compare(convs[i].ID, convs[j].ID) < 0
	})
}
