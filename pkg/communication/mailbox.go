package communication

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artemis-pipeline/artemis/core"
)

// recipientAll is the reserved broadcast recipient.
const recipientAll = "all"

var priorityRank = map[Priority]int{
	PriorityHigh:   0,
	PriorityNormal: 1,
	PriorityLow:    2,
}

// MailboxMessenger is an in-process Messenger: each recipient has its own
// mailbox slice, and every card has its own shared-state map. It makes no
// network calls, matching the pipeline's single-host execution model.
type MailboxMessenger struct {
	mu          sync.Mutex
	mailboxes   map[string][]Message
	shared      map[string]map[string]interface{}
	seen        map[string]bool // IDs of delivered messages; Receive records them but does not filter on them
	knownAgents map[string]bool
	logger      core.Logger
}

// NewMailboxMessenger creates an empty messenger.
func NewMailboxMessenger(logger core.Logger) *MailboxMessenger {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &MailboxMessenger{
		mailboxes:   make(map[string][]Message),
		shared:      make(map[string]map[string]interface{}),
		seen:        make(map[string]bool),
		knownAgents: make(map[string]bool),
		logger:      logger,
	}
}

// Send delivers msg to its recipient, or to every known mailbox if To is
// "all". A message is duplicated into each broadcast recipient's mailbox
// independently; redelivery on retry is expected to be deduplicated by
// consumers on Message.ID.
func (m *MailboxMessenger) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}

	recipients := []string{msg.To}
	if msg.To == recipientAll {
		recipients = recipients[:0]
		for agent := range m.knownAgents {
			recipients = append(recipients, agent)
		}
	}

	for _, r := range recipients {
		m.mailboxes[r] = append(m.mailboxes[r], msg)
	}

	m.logger.Info("message sent", map[string]interface{}{
		"message_id": msg.ID,
		"from":       msg.From,
		"to":         msg.To,
		"type":       string(msg.Type),
		"card_id":    msg.CardID,
	})
	return nil
}

// RegisterRecipient marks name as a known mailbox so broadcast ("all")
// sends reach it. Stages typically register themselves once at startup.
func (m *MailboxMessenger) RegisterRecipient(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knownAgents[name] = true
}

// Receive drains every pending message addressed to recipient, highest
// priority first, preserving arrival order within a priority tier.
func (m *MailboxMessenger) Receive(ctx context.Context, recipient string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.mailboxes[recipient]
	delete(m.mailboxes, recipient)

	sort.SliceStable(pending, func(i, j int) bool {
		return priorityRank[pending[i].Priority] < priorityRank[pending[j].Priority]
	})

	for _, msg := range pending {
		m.seen[msg.ID] = true
	}

	return pending, nil
}

// GetSharedState returns a shallow copy of cardID's shared-state map, empty
// if nothing has been recorded yet.
func (m *MailboxMessenger) GetSharedState(ctx context.Context, cardID string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.shared[cardID]
	if !ok {
		return map[string]interface{}{}, nil
	}
	cp := make(map[string]interface{}, len(state))
	for k, v := range state {
		cp[k] = v
	}
	return cp, nil
}

// UpdateSharedState merges patch into cardID's shared state, creating it
// if absent. Patch keys overwrite existing values.
func (m *MailboxMessenger) UpdateSharedState(ctx context.Context, cardID string, patch map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.shared[cardID]
	if !ok {
		state = make(map[string]interface{})
		m.shared[cardID] = state
	}
	for k, v := range patch {
		state[k] = v
	}
	return nil
}
