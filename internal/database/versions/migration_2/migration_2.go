package migration_2

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type User struct {
	LastLogin time.Time
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&User{}, "last_login"); err != nil {
		return fmt.Errorf("error adding last_login column: %w", err)
	}

	// Existing users have never been seen since the column was introduced,
	// so their creation time is the best known login.
	if err := db.Exec("UPDATE users SET last_login = created_at WHERE last_login IS NULL").Error; err != nil {
		return fmt.Errorf("error backfilling last_login: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&User{}, "last_login"); err != nil {
		return fmt.Errorf("error dropping last_login column: %w", err)
	}
	return nil
}
