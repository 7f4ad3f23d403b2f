package chat

import (
	"fmt"

	"github.com/cargomart/cargomart-go/internal/models"
)

// Key computes a message's canonical identity. The strongest available
// identifier wins: server ID, then client nonce, then originating event ID,
// then a (timestamp, sender) pair as a last resort. Two messages with the
// same key are the same message regardless of which path delivered them.
func Key(m *models.Message) string {
	switch {
	case m.ServerID != "":
		return "id:" + m.ServerID
	case m.ClientNonce != "":
		return "nonce:" + m.ClientNonce
	case m.EventID != "":
		return "event:" + m.EventID
	default:
		return fmt.Sprintf("ts:%d:%s", m.SentAt, m.SenderID)
	}
}

// aliasKeys returns every identity under which a message can be recognized,
// strongest first. A server echo of an optimistic send carries both the
// server ID and the client nonce, and must collapse onto the row stored
// under the nonce before the ID was known.
func aliasKeys(m *models.Message) []string {
	keys := make([]string, 0, 3)
	if m.ServerID != "" {
		keys = append(keys, "id:"+m.ServerID)
	}
	if m.ClientNonce != "" {
		keys = append(keys, "nonce:"+m.ClientNonce)
	}
	if m.EventID != "" {
		keys = append(keys, "event:"+m.EventID)
	}
	if len(keys) == 0 {
		keys = append(keys, Key(m))
	}
	return keys
}
