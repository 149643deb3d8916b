// Package chat stores per-user conversations and drives the conversational
// turn for a connected client.
package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrStoreWrite    = errors.New("store write failed")
	ErrChatNotFound  = errors.New("chat not found")
	ErrTurnInFlight  = errors.New("a response is still being generated")
	ErrNotSignedIn   = errors.New("please sign in to chat")
	ErrSessionClosed = errors.New("chat session is closed")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	titleLength = 50
	labelLength = 20
)

type ChatSession struct {
	Id        uuid.UUID
	Title     string
	CreatedAt time.Time
}

// Label is the title as shown in a chat list.
func (c ChatSession) Label() string {
	if c.Title == "" {
		return "New Chat"
	}
	runes := []rune(c.Title)
	if len(runes) > labelLength {
		return string(runes[:labelLength]) + "..."
	}
	return c.Title
}

type Message struct {
	Id        uuid.UUID
	ChatId    uuid.UUID
	Role      Role
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// Title derives a chat title from the first message of the conversation.
func Title(text string) string {
	runes := []rune(text)
	if len(runes) > titleLength {
		return string(runes[:titleLength])
	}
	return text
}
