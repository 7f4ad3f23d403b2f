// Package models holds the domain types shared between the realtime
// connection, the chat sync engine, the tracking stream and the REST client.
package models

import "encoding/json"

// MessageKind distinguishes ordinary chat messages from call cards and
// system notices rendered inside a conversation timeline.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindCall   MessageKind = "call"
	KindSystem MessageKind = "system"
)

// MessageStatus tracks the local delivery state of a message.
// Server-delivered messages are "received"; locally-issued ones move
// sending -> sent, or to failed when the send could not be completed.
type MessageStatus string

const (
	StatusSending  MessageStatus = "sending"
	StatusSent     MessageStatus = "sent"
	StatusFailed   MessageStatus = "failed"
	StatusReceived MessageStatus = "received"
)

// Message is one entry in a conversation timeline. ServerID is empty for
// optimistic entries that have not been confirmed yet; ClientNonce is empty
// for messages that originated on another device.
type Message struct {
	ServerID       string        `json:"id,omitempty"`
	ClientNonce    string        `json:"clientNonce,omitempty"`
	EventID        string        `json:"eventId,omitempty"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	SentAt         int64         `json:"sentAt"` // Unix ms
	Content        string        `json:"content"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	Pinned         bool          `json:"pinned,omitempty"`
	Kind           MessageKind   `json:"kind"`
	Status         MessageStatus `json:"status,omitempty"`
	Call           *CallDetail   `json:"call,omitempty"`
}

// Attachment references an uploaded file by ID; storage is external.
type Attachment struct {
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size,omitempty"`
}

// Reaction is an emoji reaction left by a participant.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// SupportStatus reflects where a support conversation sits in the queue.
type SupportStatus struct {
	State    string `json:"state"` // waiting|assigned|resolved
	Position int    `json:"position,omitempty"`
}

// Conversation is a chat between a cargo owner and one or more carriers,
// or a support-queue thread.
type Conversation struct {
	ID            string         `json:"chatId"`
	Participants  []string       `json:"participants"`
	IsGroup       bool           `json:"isGroup"`
	IsSupport     bool           `json:"isSupport"`
	SupportStatus *SupportStatus `json:"supportStatus,omitempty"`
	UnreadCount   int            `json:"unreadCount"`
	LastMessage   *Message       `json:"lastMessage,omitempty"`
	Muted         bool           `json:"muted"`
	PinnedByMe    bool           `json:"pinnedByMe"`
	CreatedAt     int64          `json:"createdAt"` // Unix ms
}

// TrackPoint is one GPS sample in a tracking session. Speed, Heading and
// Accuracy are optional; zero means not reported.
type TrackPoint struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	TS       int64   `json:"ts"` // Unix ms
	Speed    float64 `json:"speed,omitempty"`
	Heading  float64 `json:"heading,omitempty"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// TrackSession resolves a tracking share link to a streamable session.
type TrackSession struct {
	SessionID  string `json:"sessionId"`
	ShareToken string `json:"shareToken,omitempty"`
	Active     bool   `json:"active"`
}

// CallStatus is the terminal outcome of a call.
type CallStatus string

const (
	CallEnded    CallStatus = "ended"    // answered, has a duration
	CallMissed   CallStatus = "missed"   // incoming, never answered
	CallRejected CallStatus = "rejected" // recipient declined
	CallCanceled CallStatus = "canceled" // caller aborted before answer
)

// CallDirection distinguishes who initiated a call.
type CallDirection string

const (
	CallIncoming CallDirection = "incoming"
	CallOutgoing CallDirection = "outgoing"
)

// CallDetail carries the call card fields attached to a kind=call Message.
type CallDetail struct {
	CallID    string        `json:"callId"`
	Status    CallStatus    `json:"status"`
	Direction CallDirection `json:"direction"`
	Duration  int           `json:"duration,omitempty"` // seconds
}

// Frame is one JSON frame received on the realtime socket. Event is the
// routing discriminator; Raw is the complete frame body for the consumer
// to decode into a typed payload.
type Frame struct {
	Event string
	Raw   json.RawMessage
}

// Realtime frame event names carried in the "event" field.
const (
	EventMessage             = "message"
	EventTyping              = "typing"
	EventQueuePosition       = "queue_position"
	EventGPSRequestCreated   = "GPS_REQUEST_CREATED"
	EventGPSRequestResponded = "GPS_REQUEST_RESPONDED"
	EventContactRequest      = "CONTACT_REQUEST"
	EventContactAccepted     = "CONTACT_ACCEPTED"
	EventContactDeclined     = "CONTACT_DECLINED"
	EventContactRemoved      = "contact_removed"
	EventCallStarted         = "call_started"
	EventCallEnded           = "call_ended"
)

// Track socket frame types carried in the "type" field.
const (
	TrackFrameInit  = "init"
	TrackFrameBatch = "batch"
	TrackFramePoint = "point"
)

// TrackFrame is one frame on the tracking socket.
type TrackFrame struct {
	Type   string       `json:"type"`
	Points []TrackPoint `json:"points,omitempty"`
	Point  *TrackPoint  `json:"point,omitempty"`
}
