// Package communication implements the agent messenger: a mailbox-style
// transport stages use to broadcast data updates, errors, and alerts to
// each other, plus a per-card shared-state store.
//
// # Core Components
//
// The package provides the following key components:
//   - Messenger: interface for sending messages and reading/patching
//     per-card shared state
//   - MailboxMessenger: in-process implementation backed by per-recipient
//     mailboxes
//   - CommunicationError: structured error type for delivery failures
//
// # Delivery Semantics
//
// Delivery is at-least-once - a message can be redelivered after a
// transient failure - so consumers key their own idempotency off
// Message.ID rather than assuming single delivery.
//
// # Usage Example
//
//	messenger := communication.NewMailboxMessenger(logger)
//	err := messenger.Send(ctx, communication.Message{
//	    From:     "development",
//	    To:       "all",
//	    Type:     communication.TypeDataUpdate,
//	    CardID:   "card-123",
//	    Priority: communication.PriorityNormal,
//	    Data:     map[string]interface{}{"stage": "development"},
//	})
package communication
