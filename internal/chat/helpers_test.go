package chat

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"aurora-backend/internal/completion"
	"aurora-backend/internal/database"
	"aurora-backend/internal/messaging"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const waitTimeout = 5 * time.Second

func createDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase("sqlite://file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// failChatDeletes makes every delete of a chat row fail, after any message
// deletes in the same transaction have already run.
func failChatDeletes(t *testing.T, db *gorm.DB) {
	err := db.Callback().Delete().Before("gorm:delete").Register("test:fail_chat_delete", func(tx *gorm.DB) {
		if tx.Statement.Table == "chat_sessions" {
			tx.AddError(errors.New("disk I/O error"))
		}
	})
	require.NoError(t, err)
}

type testStores struct {
	db        *gorm.DB
	hub       *Hub
	directory *Directory
	log       *MessageLog
}

func newTestStores(t *testing.T) testStores {
	db := createDB(t)
	bus := messaging.NewInMemoryQueue()
	hub := NewHub(bus)
	hub.Start()
	t.Cleanup(func() {
		hub.Close()
		bus.Close()
	})

	return testStores{
		db:        db,
		hub:       hub,
		directory: NewDirectory(db, hub),
		log:       NewMessageLog(db, hub),
	}
}

// latest records the most recent snapshot delivered to a subscriber.
type latest[T any] struct {
	mu    sync.Mutex
	value T
	count int
}

func (l *latest[T]) set(value T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = value
	l.count++
}

func (l *latest[T]) get() (T, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.count
}

func (l *latest[T]) waitFor(t *testing.T, cond func(T) bool) T {
	t.Helper()
	var value T
	require.Eventually(t, func() bool {
		v, count := l.get()
		value = v
		return count > 0 && cond(v)
	}, waitTimeout, 5*time.Millisecond)
	return value
}

type fakeStream struct {
	deltas chan string
	err    error
}

func newFakeStream() *fakeStream {
	return &fakeStream{deltas: make(chan string)}
}

type streamCall struct {
	history []completion.Turn
	input   string
}

// fakeLLM replays a fixed reply, or if streams is set, hands out each queued
// stream to the next call so the test controls when fragments arrive.
type fakeLLM struct {
	chunks  []string
	err     error
	streams chan *fakeStream

	mu    sync.Mutex
	calls []streamCall
}

func (l *fakeLLM) Model() string {
	return "fake-model"
}

func (l *fakeLLM) Stream(ctx context.Context, history []completion.Turn, input string) iter.Seq2[string, error] {
	l.mu.Lock()
	l.calls = append(l.calls, streamCall{history: append([]completion.Turn(nil), history...), input: input})
	l.mu.Unlock()

	return func(yield func(string, error) bool) {
		if l.streams != nil {
			stream := <-l.streams
			for delta := range stream.deltas {
				if !yield(delta, nil) {
					return
				}
			}
			if stream.err != nil {
				yield("", stream.err)
			}
			return
		}

		for _, chunk := range l.chunks {
			if !yield(chunk, nil) {
				return
			}
		}
		if l.err != nil {
			yield("", l.err)
		}
	}
}

func (l *fakeLLM) recordedCalls() []streamCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]streamCall(nil), l.calls...)
}
