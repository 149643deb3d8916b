package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	ChangesExchange = "aurora.changes"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

var ErrClosed = errors.New("change bus is closed")

type ChangeKind string

const (
	ChatCreated     ChangeKind = "chat_created"
	ChatDeleted     ChangeKind = "chat_deleted"
	MessageAppended ChangeKind = "message_appended"
)

// ChangeEvent announces that a user's chat directory or a chat's message log
// changed. It carries no data: receivers reload the full snapshot.
type ChangeEvent struct {
	Kind   ChangeKind
	UserId string
	ChatId uuid.UUID
}

type Publisher interface {
	PublishChange(ctx context.Context, event ChangeEvent) error

	Close()
}

type Reciever interface {
	Changes() <-chan ChangeEvent

	Close()
}

// Bus is a Publisher whose events are delivered back to its own Reciever, as
// well as to every other process attached to the same backing broker.
type Bus interface {
	Publisher
	Reciever
}
