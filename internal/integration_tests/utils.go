package integrationtests

import (
	"context"
	"testing"
	"time"

	"aurora-backend/internal/chat"
	"aurora-backend/internal/database"
	"aurora-backend/internal/messaging"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

func skipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func setupRabbitMQContainer(t *testing.T, ctx context.Context) string {
	rabbitmqContainer, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err, "Failed to start RabbitMQ container")

	t.Cleanup(func() {
		err := rabbitmqContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate RabbitMQ container")
	})

	connStr, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err, "Failed to get RabbitMQ AMQP URL")

	return connStr
}

func createDB(t *testing.T, ctx context.Context) *gorm.DB {
	db, err := database.NewDatabase(setupPostgresContainer(t, ctx))
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// replica is one server process: its own bus connection and hub over the
// shared database.
type replica struct {
	hub       *chat.Hub
	directory *chat.Directory
	log       *chat.MessageLog
}

func startReplica(t *testing.T, db *gorm.DB, bus messaging.Bus) replica {
	hub := chat.NewHub(bus)
	hub.Start()
	t.Cleanup(func() {
		hub.Close()
		bus.Close()
	})

	return replica{
		hub:       hub,
		directory: chat.NewDirectory(db, hub),
		log:       chat.NewMessageLog(db, hub),
	}
}
