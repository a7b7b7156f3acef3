package communication

import (
	"context"
	"time"
)

// MessageType is the closed set of message kinds the core understands.
// Stages may carry arbitrary payloads in Data, but the type itself drives
// routing and logging.
type MessageType string

const (
	TypeDataUpdate MessageType = "data_update"
	TypeError      MessageType = "error"
	TypeAlert      MessageType = "alert"
)

// Priority orders delivery when a mailbox has a backlog.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Message is one mailbox delivery. ID is assigned by the messenger if the
// caller leaves it empty, and is the key consumers use for idempotent
// at-least-once handling.
type Message struct {
	ID       string                 `json:"id"`
	From     string                 `json:"from"`
	To       string                 `json:"to"`
	Type     MessageType            `json:"type"`
	CardID   string                 `json:"card_id"`
	Priority Priority               `json:"priority"`
	Data     map[string]interface{} `json:"data"`
	SentAt   time.Time              `json:"sent_at"`
}

// Messenger is the mailbox-style transport stages use to broadcast
// progress and coordinate shared state for a card's run. "all" is a
// reserved recipient meaning every registered mailbox.
type Messenger interface {
	// Send delivers msg to its recipient mailbox (or every mailbox, if
	// To is "all"), assigning an ID and SentAt if unset.
	Send(ctx context.Context, msg Message) error

	// Receive drains pending messages addressed to recipient, in
	// priority-then-arrival order.
	Receive(ctx context.Context, recipient string) ([]Message, error)

	// GetSharedState returns the shared-state mapping for cardID.
	GetSharedState(ctx context.Context, cardID string) (map[string]interface{}, error)

	// UpdateSharedState merges patch into cardID's shared state. Patch
	// keys overwrite; it is not a deep merge.
	UpdateSharedState(ctx context.Context, cardID string, patch map[string]interface{}) error
}

// AgentInfo describes a registered mailbox recipient, kept for parity with
// the wider framework's agent-discovery shape even though this messenger
// has no network-discovery component of its own.
type AgentInfo struct {
	Name         string   `json:"name"`
	Namespace    string   `json:"namespace"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
	LastSeen     string   `json:"last_seen"`
}

// CommunicationError represents an error during message delivery.
type CommunicationError struct {
	Agent   string
	Message string
	Cause   error
}

func (e *CommunicationError) Error() string {
	if e.Cause != nil {
		return "communication with " + e.Agent + " failed: " + e.Message + ": " + e.Cause.Error()
	}
	return "communication with " + e.Agent + " failed: " + e.Message
}

func (e *CommunicationError) Unwrap() error {
	return e.Cause
}

// CommunicationOptions contains optional parameters for message delivery.
type CommunicationOptions struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// DefaultCommunicationOptions returns default communication options.
func DefaultCommunicationOptions() *CommunicationOptions {
	return &CommunicationOptions{
		Timeout:    30 * time.Second,
		Retries:    3,
		RetryDelay: 1 * time.Second,
	}
}
