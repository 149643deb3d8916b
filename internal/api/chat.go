package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"aurora-backend/internal/chat"
	"aurora-backend/internal/completion"
	"aurora-backend/internal/identity"
	"aurora-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxListLimit = 200

type ChatService struct {
	directory *chat.Directory
	log       *chat.MessageLog
	llm       completion.Client
}

func NewChatService(directory *chat.Directory, log *chat.MessageLog, llm completion.Client) *ChatService {
	return &ChatService{directory: directory, log: log, llm: llm}
}

// AddRoutes expects the router to already require authentication.
func (s *ChatService) AddRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/sessions", RestHandler(s.ListSessions))
		r.Get("/sessions/{chat_id}", RestHandler(s.GetSession))
		r.Delete("/sessions/{chat_id}", RestHandler(s.DeleteSession))
		r.Get("/sessions/{chat_id}/messages", RestHandler(s.GetMessages))
		r.Post("/messages", RestStreamHandler(s.SendMessage))
	})
}

func chatError(err error) error {
	switch {
	case errors.Is(err, chat.ErrChatNotFound):
		return CodedError(http.StatusNotFound, err)
	case errors.Is(err, chat.ErrTurnInFlight):
		return CodedError(http.StatusConflict, err)
	case errors.Is(err, chat.ErrNotSignedIn):
		return CodedError(http.StatusUnauthorized, err)
	case errors.Is(err, chat.ErrSessionClosed):
		return CodedError(http.StatusGone, err)
	case errors.Is(err, completion.ErrCompletion):
		return CodedError(http.StatusBadGateway, err)
	default:
		return CodedError(http.StatusInternalServerError, err)
	}
}

func requestUser(r *http.Request) (identity.Identity, error) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		return identity.Identity{}, CodedErrorf(http.StatusUnauthorized, "not signed in")
	}
	return id, nil
}

func (s *ChatService) ListSessions(r *http.Request) (any, error) {
	user, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListChatSessionsParams](r)
	if err != nil {
		return nil, err
	}
	if params.Limit < 0 || params.Limit > maxListLimit {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must be between 0 and %d", maxListLimit)
	}

	chats, err := s.directory.List(r.Context(), user.Id, params.Limit)
	if err != nil {
		return nil, chatError(err)
	}

	return api.GetChatSessionsResponse{Sessions: convertChatSessions(chats)}, nil
}

func (s *ChatService) GetSession(r *http.Request) (any, error) {
	user, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	chatId, err := URLParamUUID(r, "chat_id")
	if err != nil {
		return nil, err
	}

	session, err := s.directory.Get(r.Context(), user.Id, chatId)
	if err != nil {
		return nil, chatError(err)
	}

	return convertChatSession(session), nil
}

func (s *ChatService) DeleteSession(r *http.Request) (any, error) {
	user, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	chatId, err := URLParamUUID(r, "chat_id")
	if err != nil {
		return nil, err
	}

	if err := s.directory.Delete(r.Context(), user.Id, chatId); err != nil {
		return nil, chatError(err)
	}

	return nil, nil
}

func (s *ChatService) GetMessages(r *http.Request) (any, error) {
	user, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	chatId, err := URLParamUUID(r, "chat_id")
	if err != nil {
		return nil, err
	}

	if _, err := s.directory.Get(r.Context(), user.Id, chatId); err != nil {
		return nil, chatError(err)
	}

	messages, err := s.log.List(r.Context(), user.Id, chatId)
	if err != nil {
		return nil, chatError(err)
	}

	return api.GetMessagesResponse{Messages: convertMessages(messages)}, nil
}

type turnResult struct {
	reply string
	err   error
}

// SendMessage runs one turn for a client that does not hold a live connection
// and streams the reply as it is generated.
func (s *ChatService) SendMessage(r *http.Request) (StreamResponse, error) {
	user, err := requestUser(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.SendMessageRequest](r)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Message) == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "message must not be empty")
	}

	session := chat.NewSession(s.directory, s.log, s.llm, identity.NewAdapter(nil, &user))

	if req.ChatId != nil {
		if err := session.SelectChat(r.Context(), *req.ChatId); err != nil {
			session.Close()
			return nil, chatError(err)
		}
	}

	return func(yield func(any, error) bool) {
		defer session.Close()

		updates, detach := session.Updates()
		defer detach()

		done := make(chan turnResult, 1)
		go func() {
			// The reply is saved even if the client goes away mid-stream.
			reply, err := session.Submit(context.WithoutCancel(r.Context()), req.Message)
			done <- turnResult{reply: reply, err: err}
		}()

		var chatId *uuid.UUID
		sent := 0

		announce := func(id *uuid.UUID) bool {
			if chatId != nil || id == nil {
				return true
			}
			chatId = id
			return yield(api.TurnEvent{ChatId: chatId}, nil)
		}

		for {
			select {
			case view := <-updates:
				if !announce(view.CurrentChatId) {
					return
				}
				if len(view.Partial) > sent {
					delta := view.Partial[sent:]
					sent = len(view.Partial)
					if !yield(api.TurnEvent{Delta: delta}, nil) {
						return
					}
				}

			case result := <-done:
				if !announce(session.View().CurrentChatId) {
					return
				}
				if len(result.reply) > sent {
					if !yield(api.TurnEvent{Delta: result.reply[sent:]}, nil) {
						return
					}
				}
				if result.err != nil {
					slog.Warn("turn failed", "user_id", user.Id, "error", result.err)
					yield(nil, chatError(result.err))
					return
				}
				yield(api.TurnEvent{ChatId: chatId, Done: true, Reply: result.reply}, nil)
				return

			case <-r.Context().Done():
				return
			}
		}
	}, nil
}
