package api

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
}

type SignInRequest struct {
	Credential string `json:"credential"`
}

type SignInResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type ChatSession struct {
	Id        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

type ListChatSessionsParams struct {
	Limit int `schema:"limit"`
}

type GetChatSessionsResponse struct {
	Sessions []ChatSession `json:"sessions"`
}

type Message struct {
	Id        uuid.UUID      `json:"id"`
	ChatId    uuid.UUID      `json:"chat_id"`
	Role      string         `json:"role"` // "user" or "assistant"
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type GetMessagesResponse struct {
	Messages []Message `json:"messages"`
}

type SendMessageRequest struct {
	ChatId  *uuid.UUID `json:"chat_id,omitempty"` // omitted to start a new chat
	Message string     `json:"message"`
}

// TurnEvent is one frame of the streamed reply to SendMessageRequest. The
// first frame names the chat, then deltas follow, then a final frame with Done
// set carries the complete reply.
type TurnEvent struct {
	ChatId *uuid.UUID `json:"chat_id,omitempty"`
	Delta  string     `json:"delta,omitempty"`
	Done   bool       `json:"done,omitempty"`
	Reply  string     `json:"reply,omitempty"`
}

const (
	LiveSelect  = "select"
	LiveNew     = "new"
	LiveSubmit  = "submit"
	LiveDelete  = "delete"
	LiveDraft   = "draft"
	LiveSignIn  = "signin"
	LiveSignOut = "signout"
)

// LiveCommand is sent by the browser over the live connection.
type LiveCommand struct {
	Type       string     `json:"type"`
	ChatId     *uuid.UUID `json:"chat_id,omitempty"`
	Text       string     `json:"text,omitempty"`
	Credential string     `json:"credential,omitempty"`
}

const (
	LiveView  = "view"
	LiveError = "error"
)

// LiveFrame is pushed by the server over the live connection.
type LiveFrame struct {
	Type  string `json:"type"`
	View  *View  `json:"view,omitempty"`
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

type View struct {
	User          *User         `json:"user"`
	Chats         []ChatSession `json:"chats"`
	CurrentChatId *uuid.UUID    `json:"current_chat_id"`
	Messages      []Message     `json:"messages"`
	Draft         string        `json:"draft"`
	Partial       string        `json:"partial"`
	Error         string        `json:"error"`
	TurnInFlight  bool          `json:"turn_in_flight"`
}
