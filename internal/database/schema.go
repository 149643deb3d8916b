package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleUser      string = "user"
	RoleAssistant string = "assistant"
)

type User struct {
	Id          string `gorm:"size:128;primaryKey"`
	Email       string
	DisplayName string
	PhotoURL    string
	CreatedAt   time.Time
	LastLogin   time.Time

	AuthSessions []AuthSession `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`
}

type AuthSession struct {
	Token  uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId string    `gorm:"size:128;index;not null"`
	User   *User     `gorm:"foreignKey:UserId"`

	CreationTime time.Time
}

type ChatSession struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId string    `gorm:"size:128;index;not null"`
	Title  string

	// Assigned by the store, never by the client.
	CreatedAt time.Time `gorm:"index"`

	Messages []ChatMessage `gorm:"foreignKey:ChatId;constraint:OnDelete:CASCADE"`
}

type ChatMessage struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChatId uuid.UUID `gorm:"type:uuid;index;not null"`
	UserId string    `gorm:"size:128;not null"`

	Role      string `gorm:"size:20;not null"`
	Content   string
	Timestamp time.Time `gorm:"index"`

	Metadata datatypes.JSON `gorm:"type:jsonb"` // {"model": "...", "temperature": 0.7}
}
