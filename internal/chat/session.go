package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"aurora-backend/internal/completion"
	"aurora-backend/internal/identity"

	"github.com/google/uuid"
)

type ChatDirectory interface {
	Subscribe(userId string, fn func([]ChatSession)) (detach func())
	Get(ctx context.Context, userId string, chatId uuid.UUID) (ChatSession, error)
	Create(ctx context.Context, userId, title string) (uuid.UUID, error)
	Delete(ctx context.Context, userId string, chatId uuid.UUID) error
}

type ChatLog interface {
	Subscribe(userId string, chatId uuid.UUID, fn func([]Message)) (detach func())
	List(ctx context.Context, userId string, chatId uuid.UUID) ([]Message, error)
	Append(ctx context.Context, userId string, chatId uuid.UUID, role Role, content string, opts ...AppendOption) (Message, error)
}

type IdentityWatcher interface {
	Watch(fn func(*identity.Identity)) (detach func())
}

// View is a point-in-time copy of everything a client renders.
type View struct {
	User          *identity.Identity
	Chats         []ChatSession
	CurrentChatId *uuid.UUID
	Messages      []Message
	Draft         string
	Partial       string
	Error         string
	TurnInFlight  bool
}

// Session coordinates one client's conversation: which chat is selected, the
// live transcript of that chat, and the turn currently being generated.
//
// All state is guarded by mu. Store snapshots arrive on hub goroutines and are
// applied only if their subscription generation is still current; stream
// fragments are applied only if their turn token is still current. Messages the
// session appends itself go into the transcript straight away and stay there
// until a snapshot contains them. A turn that
// is superseded by SelectChat, NewChat or a sign-out keeps running and still
// persists its reply to the chat it was started in.
type Session struct {
	directory ChatDirectory
	log       ChatLog
	llm       completion.Client

	mu sync.Mutex

	user          *identity.Identity
	chats         []ChatSession
	currentChatId *uuid.UUID
	messages      []Message
	snapshot      []Message
	pending       []Message
	draft         string
	partial       string
	errText       string
	turnInFlight  bool

	turn uint64

	dirGen    uint64
	detachDir func()
	logGen    uint64
	detachLog func()

	detachIdentity func()

	listeners      map[int]func(View)
	nextListenerId int
	closed         bool
}

func NewSession(directory ChatDirectory, log ChatLog, llm completion.Client, identities IdentityWatcher) *Session {
	s := &Session{
		directory: directory,
		log:       log,
		llm:       llm,
		listeners: make(map[int]func(View)),
	}
	s.detachIdentity = identities.Watch(s.setUser)
	return s
}

func (s *Session) setUser(id *identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if id == nil && s.user == nil {
		return
	}
	if id != nil && s.user != nil && id.Id == s.user.Id {
		return
	}

	s.resetSelection()
	s.detachDirectory()
	s.chats = nil
	s.draft = ""

	if id == nil {
		s.user = nil
	} else {
		user := *id
		s.user = &user
		s.attachDirectory()
	}

	s.notify()
}

// The following helpers require s.mu to be held.

func (s *Session) attachDirectory() {
	s.dirGen++
	gen := s.dirGen
	s.detachDir = s.directory.Subscribe(s.user.Id, func(chats []ChatSession) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.dirGen {
			return
		}
		s.chats = chats
		s.notify()
	})
}

func (s *Session) detachDirectory() {
	s.dirGen++
	if s.detachDir != nil {
		s.detachDir()
		s.detachDir = nil
	}
}

func (s *Session) attachLog(chatId uuid.UUID) {
	s.detachTranscript()

	gen := s.logGen
	s.detachLog = s.log.Subscribe(s.user.Id, chatId, func(messages []Message) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.logGen {
			return
		}
		s.applySnapshot(messages)
		s.notify()
	})
}

func (s *Session) applySnapshot(messages []Message) {
	seen := make(map[uuid.UUID]bool, len(messages))
	for _, msg := range messages {
		seen[msg.Id] = true
	}

	var pending []Message
	for _, msg := range s.pending {
		if !seen[msg.Id] {
			pending = append(pending, msg)
		}
	}

	s.snapshot = messages
	s.pending = pending
	s.mergeTranscript()
}

func (s *Session) mergeTranscript() {
	merged := make([]Message, 0, len(s.snapshot)+len(s.pending))
	merged = append(merged, s.snapshot...)
	merged = append(merged, s.pending...)
	slices.SortStableFunc(merged, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	s.messages = merged
}

func (s *Session) detachTranscript() {
	s.logGen++
	if s.detachLog != nil {
		s.detachLog()
		s.detachLog = nil
	}
	s.messages = nil
	s.snapshot = nil
	s.pending = nil
}

// resetSelection returns to Idle with no chat selected and invalidates any
// turn in flight.
func (s *Session) resetSelection() {
	s.detachTranscript()
	s.currentChatId = nil
	s.partial = ""
	s.errText = ""
	s.turnInFlight = false
	s.turn++
}

func (s *Session) view() View {
	v := View{
		Chats:        append([]ChatSession(nil), s.chats...),
		Messages:     append([]Message(nil), s.messages...),
		Draft:        s.draft,
		Partial:      s.partial,
		Error:        s.errText,
		TurnInFlight: s.turnInFlight,
	}
	if s.user != nil {
		user := *s.user
		v.User = &user
	}
	if s.currentChatId != nil {
		chatId := *s.currentChatId
		v.CurrentChatId = &chatId
	}
	return v
}

func (s *Session) notify() {
	if len(s.listeners) == 0 {
		return
	}
	v := s.view()
	for _, fn := range s.listeners {
		fn(v)
	}
}

// View returns the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// OnChange calls fn with the current view and again after every change. fn is
// called with the session locked, in order, and must not block or call back
// into the session.
func (s *Session) OnChange(fn func(View)) (detach func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	listenerId := s.nextListenerId
	s.nextListenerId++
	s.listeners[listenerId] = fn
	fn(s.view())

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listeners != nil {
			delete(s.listeners, listenerId)
		}
	}
}

// Updates returns a channel that always holds the most recent view not yet
// received. Intermediate views are dropped when the reader falls behind.
func (s *Session) Updates() (<-chan View, func()) {
	updates := make(chan View, 1)
	detach := s.OnChange(func(v View) {
		// Only one sender exists since listeners run under the session lock.
		for {
			select {
			case updates <- v:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	return updates, detach
}

func (s *Session) SelectChat(ctx context.Context, chatId uuid.UUID) error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return ErrNotSignedIn
	}
	userId := s.user.Id
	s.mu.Unlock()

	if _, err := s.directory.Get(ctx, userId, chatId); err != nil {
		return err
	}

	// The transcript is loaded before returning so a submit right after
	// selecting sees the whole conversation.
	messages, err := s.log.List(ctx, userId, chatId)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.user == nil || s.user.Id != userId {
		return ErrNotSignedIn
	}

	s.resetSelection()
	s.currentChatId = &chatId
	s.attachLog(chatId)
	s.applySnapshot(messages)
	s.notify()
	return nil
}

func (s *Session) NewChat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.resetSelection()
	s.draft = ""
	s.notify()
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.draft == text {
		return
	}
	s.draft = text
	s.notify()
}

// DeleteChat deletes a chat and its messages. Deleting the selected chat also
// starts a new chat.
func (s *Session) DeleteChat(ctx context.Context, chatId uuid.UUID) error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return ErrNotSignedIn
	}
	userId := s.user.Id
	s.mu.Unlock()

	err := s.directory.Delete(ctx, userId, chatId)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return err
	}
	if err != nil {
		if errors.Is(err, ErrStoreWrite) {
			s.errText = errorText(err)
			s.notify()
		}
		return err
	}

	if s.currentChatId != nil && *s.currentChatId == chatId {
		s.resetSelection()
		s.draft = ""
		s.notify()
	}
	return nil
}

func errorText(err error) string {
	return "Error: " + err.Error()
}

func toTurns(messages []Message) []completion.Turn {
	turns := make([]completion.Turn, 0, len(messages))
	for _, msg := range messages {
		role := completion.RoleUser
		if msg.Role == RoleAssistant {
			role = completion.RoleAssistant
		}
		turns = append(turns, completion.Turn{Role: role, Content: msg.Content})
	}
	return turns
}

// Submit runs one turn: it creates a chat if none is selected, persists the
// user message, streams the reply into the view and persists the complete
// reply. It returns the reply. Whitespace-only text is ignored.
//
// The caller's context bounds the whole turn, including the final write, so
// callers that want the reply saved after a client disconnects should detach
// it from the request.
func (s *Session) Submit(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	if s.user == nil {
		s.mu.Unlock()
		return "", ErrNotSignedIn
	}
	if s.turnInFlight {
		s.mu.Unlock()
		return "", ErrTurnInFlight
	}

	s.turn++
	turn := s.turn
	s.turnInFlight = true
	s.partial = ""
	s.errText = ""
	s.draft = ""
	userId := s.user.Id
	var chatId uuid.UUID
	newChat := s.currentChatId == nil
	if !newChat {
		chatId = *s.currentChatId
	}
	// Prior turns only, taken from the mirror rather than the store, which may
	// not have caught up yet.
	history := toTurns(s.messages)
	s.notify()
	s.mu.Unlock()

	if newChat {
		var err error
		chatId, err = s.directory.Create(ctx, userId, Title(text))
		if err != nil {
			s.failTurn(turn, err)
			return "", err
		}

		s.mu.Lock()
		if s.isCurrent(turn) {
			s.currentChatId = &chatId
			s.attachLog(chatId)
			s.notify()
		}
		s.mu.Unlock()
	}

	userMsg, err := s.log.Append(ctx, userId, chatId, RoleUser, text)
	if err != nil {
		s.failTurn(turn, err)
		return "", err
	}
	s.record(userMsg)

	var reply strings.Builder
	for delta, err := range s.llm.Stream(ctx, history, text) {
		if err != nil {
			slog.Warn("completion stream failed", "chat_id", chatId, "received", reply.Len(), "error", err)
			s.failTurn(turn, err)
			return reply.String(), err
		}

		reply.WriteString(delta)

		s.mu.Lock()
		if s.isCurrent(turn) {
			s.partial = reply.String()
			s.notify()
		}
		s.mu.Unlock()
	}

	content := reply.String()
	metadata := map[string]any{
		"model":             s.llm.Model(),
		"temperature":       completion.Temperature,
		"max_output_tokens": completion.MaxOutputTokens,
	}
	assistantMsg, err := s.log.Append(ctx, userId, chatId, RoleAssistant, content, WithMetadata(metadata))
	if err != nil {
		s.failTurn(turn, err)
		return content, err
	}

	s.mu.Lock()
	changed := s.recordLocked(assistantMsg)
	if s.isCurrent(turn) {
		s.partial = ""
		s.turnInFlight = false
		changed = true
	}
	if changed {
		s.notify()
	}
	s.mu.Unlock()

	return content, nil
}

// record puts a message this session appended into the transcript if its chat
// is still selected.
func (s *Session) record(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recordLocked(msg) {
		s.notify()
	}
}

func (s *Session) recordLocked(msg Message) bool {
	if s.closed || s.currentChatId == nil || *s.currentChatId != msg.ChatId {
		return false
	}
	for _, existing := range s.messages {
		if existing.Id == msg.Id {
			return false
		}
	}
	s.pending = append(s.pending, msg)
	s.mergeTranscript()
	return true
}

func (s *Session) isCurrent(turn uint64) bool {
	return !s.closed && s.turn == turn
}

// failTurn ends the turn with an inline error. Any partial reply stays visible.
func (s *Session) failTurn(turn uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isCurrent(turn) {
		slog.Info("discarding error from superseded turn", "error", err)
		return
	}
	s.turnInFlight = false
	s.errText = errorText(err)
	s.notify()
}

// Close detaches every subscription and invalidates any turn in flight. The
// turn itself runs to completion.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.detachTranscript()
	s.detachDirectory()
	s.turn++
	s.closed = true
	s.listeners = nil
	detachIdentity := s.detachIdentity
	s.mu.Unlock()

	if detachIdentity != nil {
		detachIdentity()
	}
}
