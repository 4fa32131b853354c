// Package bus provides in-process message delivery between registered agents
// with priority ordering, time-to-live, and request/response correlation.
package bus

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by bus operations. Callers are expected to branch
// with errors.Is and fall back or retry; none of these are fatal.
var (
	ErrAgentExists  = errors.New("agent already registered")
	ErrUnknownAgent = errors.New("agent not registered")
	ErrMailboxFull  = errors.New("mailbox at capacity")
	ErrNotRunning   = errors.New("bus not running")
	ErrNoResponse   = errors.New("no response within timeout")
)

// MessageType represents the type of message
type MessageType string

const (
	TypeDecision            MessageType = "decision"
	TypePerformanceUpdate   MessageType = "performance_update"
	TypeMarketData          MessageType = "market_data"
	TypeCoordinationRequest MessageType = "coordination_request"
	TypeAllocationUpdate    MessageType = "allocation_update"
	TypeSystemEvent         MessageType = "system_event"
	TypeHeartbeat           MessageType = "heartbeat"
	TypeError               MessageType = "error"
)

// Priority represents message priority
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns a human-readable priority name
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Message is one unit of delivery. Owned by the bus once submitted; never
// mutated, only delivered or expired.
type Message struct {
	ID            string                 `json:"id"`
	Type          MessageType            `json:"type"`
	Sender        string                 `json:"sender"`
	Recipient     string                 `json:"recipient,omitempty"` // Empty means broadcast
	Payload       map[string]interface{} `json:"payload"`
	Priority      Priority               `json:"priority"`
	CreatedAt     time.Time              `json:"created_at"`
	ExpiresAt     time.Time              `json:"expires_at,omitempty"` // Zero means no expiry
	CorrelationID string                 `json:"correlation_id,omitempty"`
	ReplyTo       string                 `json:"reply_to,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewMessage creates a message with a generated id and creation timestamp
func NewMessage(msgType MessageType, sender string, payload map[string]interface{}) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Sender:    sender,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
	}
}

// Expired reports whether the message's TTL has passed at the given instant.
// Messages without an expiry never expire.
func (m *Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

// copyFor clones the message for an independent delivery to one recipient.
// The clone carries the same id so correlated broadcasts remain traceable.
func (m *Message) copyFor(recipient string) *Message {
	clone := *m
	clone.Recipient = recipient
	return &clone
}
