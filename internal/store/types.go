package store

// Conversation is the cached row for a chat thread.
type Conversation struct {
	ID                 string
	Participants       []string
	IsGroup            bool
	IsSupport          bool
	SupportState       string
	SupportPosition    int
	UnreadCount        int
	Muted              bool
	PinnedByMe         bool
	CreatedAt          int64
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is the cached row for one timeline entry. DedupKey is the
// engine-computed canonical identity; the (conversation, key) pair is unique.
type Message struct {
	ID             int64
	ConversationID string
	DedupKey       string
	ServerID       string
	ClientNonce    string
	EventID        string
	SenderID       string
	SentAt         int64
	Content        string
	Kind           string
	Status         string
	Pinned         bool
	CallID         string
	CallStatus     string
	CallDirection  string
	CallDuration   int
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientNonce    string
	ConversationID string
	Content        string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerID       string
}
