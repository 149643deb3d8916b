package chat

import (
	"context"
	"log/slog"
	"sync"

	"aurora-backend/internal/messaging"
)

// Hub turns change events from the bus into fresh snapshots for subscribers.
// Every subscription has its own goroutine, so a slow subscriber never delays
// another, and bursts of events for one subscription collapse into a single
// reload. Callbacks are never invoked on the caller's goroutine.
type Hub struct {
	bus messaging.Bus

	mu     sync.Mutex
	subs   map[int]*subscription
	nextId int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscription struct {
	match   func(messaging.ChangeEvent) bool
	refresh func(ctx context.Context)

	dirty chan struct{}
	stop  chan struct{}
	once  sync.Once
}

func (s *subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *subscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func NewHub(bus messaging.Bus) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		bus:    bus,
		subs:   make(map[int]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start consumes change events until Close is called.
func (h *Hub) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case event, ok := <-h.bus.Changes():
				if !ok {
					slog.Info("change bus closed, stopping hub")
					return
				}
				h.Notify(event)
			case <-h.ctx.Done():
				return
			}
		}
	}()
}

// Notify marks every subscription interested in event as dirty.
func (h *Hub) Notify(event messaging.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if sub.match(event) {
			sub.markDirty()
		}
	}
}

func (h *Hub) Publish(ctx context.Context, event messaging.ChangeEvent) {
	if err := h.bus.PublishChange(ctx, event); err != nil {
		// Local subscribers still see the change; other replicas catch up on
		// their next event for the same key.
		slog.Error("error publishing change event", "kind", event.Kind, "user_id", event.UserId, "chat_id", event.ChatId, "error", err)
		h.Notify(event)
	}
}

// watch registers a subscription and schedules its initial load. Snapshots
// that fail to load are logged and skipped. The returned detach func does not
// wait for a load already in progress, so one delivery may race with detach.
func watch[T any](h *Hub, match func(messaging.ChangeEvent) bool, load func(ctx context.Context) (T, error), deliver func(T)) (detach func()) {
	sub := &subscription{
		match: match,
		dirty: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	sub.refresh = func(ctx context.Context) {
		snapshot, err := load(ctx)
		if err != nil {
			slog.Error("error loading snapshot for subscriber", "error", err)
			return
		}
		if sub.stopped() {
			return
		}
		deliver(snapshot)
	}
	sub.markDirty()

	h.mu.Lock()
	subId := h.nextId
	h.nextId++
	h.subs[subId] = sub
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-sub.dirty:
				if sub.stopped() {
					return
				}
				sub.refresh(h.ctx)
			case <-sub.stop:
				return
			case <-h.ctx.Done():
				return
			}
		}
	}()

	return func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.subs, subId)
			h.mu.Unlock()
			close(sub.stop)
		})
	}
}

// Close stops the hub and waits for every subscription goroutine to exit.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}
