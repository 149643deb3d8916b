package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const sqliteScheme = "sqlite://"

// NewDatabase opens the database named by databaseURL and brings its schema up
// to date. Supported forms are postgres://, postgresql:// and sqlite://<path>.
func NewDatabase(databaseURL string) (*gorm.DB, error) {
	log.Println("Connecting to database...")

	var dialector gorm.Dialector
	isSqlite := false
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		dialector = postgres.Open(databaseURL)
	case strings.HasPrefix(databaseURL, sqliteScheme):
		dsn, err := sqliteDSN(strings.TrimPrefix(databaseURL, sqliteScheme))
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
		isSqlite = true
	default:
		return nil, fmt.Errorf("unsupported database url '%s'", databaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unable to access connection pool: %w", err)
	}

	if isSqlite {
		// SQLite only supports one writer at a time, and every in-memory
		// connection would otherwise see its own empty database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxIdleTime(time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("unable to migrate database: %w", err)
	}

	log.Println("Database connection established.")
	return db, nil
}

func sqliteDSN(path string) (string, error) {
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	// Foreign keys are off by default in SQLite and the message cascade relies on them.
	return path + sep + "_foreign_keys=on", nil
}
