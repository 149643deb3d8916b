package versions

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Snapshot of the schema as first shipped. Later columns are added by the
// numbered migrations, so these types must not change.

type User struct {
	Id          string `gorm:"size:128;primaryKey"`
	Email       string
	DisplayName string
	PhotoURL    string
	CreatedAt   time.Time
}

type AuthSession struct {
	Token  uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId string    `gorm:"size:128;index;not null"`
	User   *User     `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`

	CreationTime time.Time
}

type ChatSession struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId    string    `gorm:"size:128;index;not null"`
	Title     string
	CreatedAt time.Time `gorm:"index"`

	Messages []ChatMessage `gorm:"foreignKey:ChatId;constraint:OnDelete:CASCADE"`
}

type ChatMessage struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChatId    uuid.UUID `gorm:"type:uuid;index;not null"`
	UserId    string    `gorm:"size:128;not null"`
	Role      string    `gorm:"size:20;not null"`
	Content   string
	Timestamp time.Time `gorm:"index"`
}

func Migration0(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &AuthSession{}, &ChatSession{}, &ChatMessage{})
}
