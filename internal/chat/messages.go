package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"aurora-backend/internal/database"
	"aurora-backend/internal/messaging"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessageLog is the ordered, append-only transcript of each chat.
type MessageLog struct {
	db    *gorm.DB
	hub   *Hub
	clock *storeClock
}

func NewMessageLog(db *gorm.DB, hub *Hub) *MessageLog {
	return &MessageLog{db: db, hub: hub, clock: newStoreClock()}
}

type appendOptions struct {
	metadata map[string]any
}

type AppendOption func(*appendOptions)

// WithMetadata attaches details about how a message was produced, such as the
// model that generated it.
func WithMetadata(metadata map[string]any) AppendOption {
	return func(o *appendOptions) {
		o.metadata = metadata
	}
}

func toMessage(record database.ChatMessage) Message {
	msg := Message{
		Id:        record.Id,
		ChatId:    record.ChatId,
		Role:      Role(record.Role),
		Content:   record.Content,
		Timestamp: record.Timestamp,
	}
	if len(record.Metadata) > 0 {
		if err := json.Unmarshal(record.Metadata, &msg.Metadata); err != nil {
			slog.Warn("ignoring malformed message metadata", "message_id", record.Id, "error", err)
		}
	}
	return msg
}

// Subscribe delivers the chat's messages in timestamp order, once on attach
// and again after every change to the chat. A deleted chat yields an empty
// transcript.
func (l *MessageLog) Subscribe(userId string, chatId uuid.UUID, fn func([]Message)) (detach func()) {
	return watch(l.hub,
		func(event messaging.ChangeEvent) bool {
			return event.UserId == userId && event.ChatId == chatId
		},
		func(ctx context.Context) ([]Message, error) {
			return l.List(ctx, userId, chatId)
		},
		fn,
	)
}

func (l *MessageLog) List(ctx context.Context, userId string, chatId uuid.UUID) ([]Message, error) {
	var records []database.ChatMessage
	if err := l.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatId, userId).
		Order("timestamp ASC, id ASC").
		Find(&records).Error; err != nil {
		slog.Error("error listing messages", "chat_id", chatId, "error", err)
		return nil, fmt.Errorf("error listing messages: %w", err)
	}

	messages := make([]Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, toMessage(record))
	}
	return messages, nil
}

// Append adds a message to the end of the chat. The timestamp is assigned
// here, never by the caller. It fails with ErrChatNotFound if the chat does
// not exist or belongs to someone else.
func (l *MessageLog) Append(ctx context.Context, userId string, chatId uuid.UUID, role Role, content string, opts ...AppendOption) (Message, error) {
	var options appendOptions
	for _, opt := range opts {
		opt(&options)
	}

	record := database.ChatMessage{
		Id:      uuid.New(),
		ChatId:  chatId,
		UserId:  userId,
		Role:    string(role),
		Content: content,
	}

	if options.metadata != nil {
		metadata, err := json.Marshal(options.metadata)
		if err != nil {
			return Message{}, fmt.Errorf("error serializing message metadata: %w", err)
		}
		record.Metadata = datatypes.JSON(metadata)
	}

	err := l.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var count int64
		if err := txn.Model(&database.ChatSession{}).Where("id = ? AND user_id = ?", chatId, userId).Count(&count).Error; err != nil {
			return fmt.Errorf("error checking chat: %w", err)
		}
		if count == 0 {
			return ErrChatNotFound
		}

		record.Timestamp = l.clock.Next()

		if err := txn.Create(&record).Error; err != nil {
			return fmt.Errorf("error saving message: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			slog.Warn("dropping message for missing chat", "chat_id", chatId, "role", role)
			return Message{}, err
		}
		slog.Error("error appending message", "chat_id", chatId, "error", err)
		return Message{}, fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	l.hub.Publish(ctx, messaging.ChangeEvent{Kind: messaging.MessageAppended, UserId: userId, ChatId: chatId})
	return toMessage(record), nil
}
