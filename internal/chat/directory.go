package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"aurora-backend/internal/database"
	"aurora-backend/internal/messaging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Directory is the per-user list of chats.
type Directory struct {
	db    *gorm.DB
	hub   *Hub
	clock *storeClock
}

func NewDirectory(db *gorm.DB, hub *Hub) *Directory {
	return &Directory{db: db, hub: hub, clock: newStoreClock()}
}

func toChatSession(record database.ChatSession) ChatSession {
	return ChatSession{Id: record.Id, Title: record.Title, CreatedAt: record.CreatedAt}
}

// Subscribe delivers the user's chats, newest first, once on attach and again
// after every chat is created or deleted.
func (d *Directory) Subscribe(userId string, fn func([]ChatSession)) (detach func()) {
	return watch(d.hub,
		func(event messaging.ChangeEvent) bool {
			return event.UserId == userId && (event.Kind == messaging.ChatCreated || event.Kind == messaging.ChatDeleted)
		},
		func(ctx context.Context) ([]ChatSession, error) {
			return d.List(ctx, userId, 0)
		},
		fn,
	)
}

// List returns the user's chats, newest first. A limit of 0 returns all of them.
func (d *Directory) List(ctx context.Context, userId string, limit int) ([]ChatSession, error) {
	query := d.db.WithContext(ctx).Where("user_id = ?", userId).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []database.ChatSession
	if err := query.Find(&records).Error; err != nil {
		slog.Error("error listing chats", "user_id", userId, "error", err)
		return nil, fmt.Errorf("error listing chats: %w", err)
	}

	chats := make([]ChatSession, 0, len(records))
	for _, record := range records {
		chats = append(chats, toChatSession(record))
	}
	return chats, nil
}

func (d *Directory) Get(ctx context.Context, userId string, chatId uuid.UUID) (ChatSession, error) {
	var record database.ChatSession
	if err := d.db.WithContext(ctx).Where("id = ? AND user_id = ?", chatId, userId).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ChatSession{}, ErrChatNotFound
		}
		slog.Error("error loading chat", "chat_id", chatId, "error", err)
		return ChatSession{}, fmt.Errorf("error loading chat: %w", err)
	}
	return toChatSession(record), nil
}

func (d *Directory) Create(ctx context.Context, userId, title string) (uuid.UUID, error) {
	record := database.ChatSession{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     title,
		CreatedAt: d.clock.Next(),
	}

	if err := d.db.WithContext(ctx).Create(&record).Error; err != nil {
		slog.Error("error creating chat", "user_id", userId, "error", err)
		return uuid.Nil, fmt.Errorf("%w: error creating chat: %v", ErrStoreWrite, err)
	}

	d.hub.Publish(ctx, messaging.ChangeEvent{Kind: messaging.ChatCreated, UserId: userId, ChatId: record.Id})
	return record.Id, nil
}

// Delete removes the chat and all of its messages in one transaction. If it
// fails nothing is removed.
func (d *Directory) Delete(ctx context.Context, userId string, chatId uuid.UUID) error {
	err := d.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var record database.ChatSession
		if err := txn.Where("id = ? AND user_id = ?", chatId, userId).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChatNotFound
			}
			return fmt.Errorf("error loading chat: %w", err)
		}

		if err := txn.Delete(&database.ChatMessage{}, "chat_id = ?", chatId).Error; err != nil {
			return fmt.Errorf("error deleting messages: %w", err)
		}

		if err := txn.Delete(&database.ChatSession{}, "id = ?", chatId).Error; err != nil {
			return fmt.Errorf("error deleting chat: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return err
		}
		slog.Error("error deleting chat", "chat_id", chatId, "error", err)
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	d.hub.Publish(ctx, messaging.ChangeEvent{Kind: messaging.ChatDeleted, UserId: userId, ChatId: chatId})
	return nil
}
