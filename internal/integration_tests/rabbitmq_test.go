package integrationtests

import (
	"context"
	"testing"
	"time"

	"aurora-backend/internal/chat"
	"aurora-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRabbitMQBus(t *testing.T) {
	skipIfShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	url := setupRabbitMQContainer(t, ctx)

	busA, err := messaging.NewRabbitMQBus(url)
	require.NoError(t, err)
	defer busA.Close()

	busB, err := messaging.NewRabbitMQBus(url)
	require.NoError(t, err)
	defer busB.Close()

	t.Run("Publish fans out to every bus", func(t *testing.T) {
		event := messaging.ChangeEvent{Kind: messaging.MessageAppended, UserId: "u1", ChatId: uuid.New()}
		require.NoError(t, busA.PublishChange(ctx, event))

		for _, bus := range []messaging.Bus{busA, busB} {
			select {
			case received := <-bus.Changes():
				assert.Equal(t, event, received)
			case <-time.After(4 * time.Second):
				t.Fatal("Timed out waiting for change event")
			}
		}
	})

	t.Run("Publish after close fails", func(t *testing.T) {
		bus, err := messaging.NewRabbitMQBus(url)
		require.NoError(t, err)
		bus.Close()

		err = bus.PublishChange(ctx, messaging.ChangeEvent{Kind: messaging.ChatCreated, UserId: "u1"})
		assert.Error(t, err)
	})
}

func TestChangesReachOtherReplicas(t *testing.T) {
	skipIfShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t, ctx)
	url := setupRabbitMQContainer(t, ctx)

	busA, err := messaging.NewRabbitMQBus(url)
	require.NoError(t, err)
	busB, err := messaging.NewRabbitMQBus(url)
	require.NoError(t, err)

	nodeA := startReplica(t, db, busA)
	nodeB := startReplica(t, db, busB)

	chats := make(chan []chat.ChatSession, 16)
	detach := nodeB.directory.Subscribe("u1", func(snapshot []chat.ChatSession) {
		chats <- snapshot
	})
	defer detach()

	waitForSnapshot(t, chats, func(s []chat.ChatSession) bool { return len(s) == 0 })

	chatId, err := nodeA.directory.Create(ctx, "u1", "from replica a")
	require.NoError(t, err)

	snapshot := waitForSnapshot(t, chats, func(s []chat.ChatSession) bool { return len(s) == 1 })
	assert.Equal(t, chatId, snapshot[0].Id)
	assert.Equal(t, "from replica a", snapshot[0].Title)

	messages := make(chan []chat.Message, 16)
	detachLog := nodeB.log.Subscribe("u1", chatId, func(snapshot []chat.Message) {
		messages <- snapshot
	})
	defer detachLog()

	_, err = nodeA.log.Append(ctx, "u1", chatId, chat.RoleUser, "hello")
	require.NoError(t, err)

	transcript := waitForSnapshot(t, messages, func(s []chat.Message) bool { return len(s) == 1 })
	assert.Equal(t, "hello", transcript[0].Content)

	require.NoError(t, nodeA.directory.Delete(ctx, "u1", chatId))
	waitForSnapshot(t, chats, func(s []chat.ChatSession) bool { return len(s) == 0 })
}

func waitForSnapshot[T any](t *testing.T, snapshots <-chan T, cond func(T) bool) T {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case snapshot := <-snapshots:
			if cond(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatal("Timed out waiting for snapshot")
		}
	}
}
