package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"aurora-backend/internal/chat"
	"aurora-backend/internal/completion"
	"aurora-backend/internal/identity"
	"aurora-backend/pkg/api"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

const liveErrorBuffer = 16

// LiveService serves the browser's live connection. Each connection gets its
// own chat.Session: the browser sends commands and the server pushes the
// session's view after every change.
type LiveService struct {
	directory      *chat.Directory
	log            *chat.MessageLog
	llm            completion.Client
	auth           *identity.Service
	originPatterns []string
}

func NewLiveService(directory *chat.Directory, log *chat.MessageLog, llm completion.Client, auth *identity.Service, originPatterns []string) *LiveService {
	return &LiveService{
		directory:      directory,
		log:            log,
		llm:            llm,
		auth:           auth,
		originPatterns: originPatterns,
	}
}

// AddRoutes expects the router to already require authentication.
func (s *LiveService) AddRoutes(r chi.Router) {
	r.Get("/chat/live", s.ServeLive)
}

type liveConn struct {
	session *chat.Session
	adapter *identity.Adapter
	errors  chan api.LiveFrame
}

func (c *liveConn) sendError(err error) {
	if errors.Is(err, identity.ErrAuth) {
		err = CodedError(http.StatusUnauthorized, err)
	}

	var cerr *codedError
	if !errors.As(err, &cerr) {
		errors.As(chatError(err), &cerr)
	}
	frame := api.LiveFrame{Type: api.LiveError, Error: err.Error(), Code: cerr.code}

	select {
	case c.errors <- frame:
	default:
		slog.Warn("dropping live error frame, client is not reading", "error", err)
	}
}

func (s *LiveService) ServeLive(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "not signed in", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		slog.Error("failed to accept websocket", "user_id", user.Id, "error", err)
		return
	}
	defer ws.CloseNow()

	slog.Info("live connection opened", "user_id", user.Id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	adapter := identity.NewAdapter(s.auth.Tokens(), &user)
	conn := &liveConn{
		session: chat.NewSession(s.directory, s.log, s.llm, adapter),
		adapter: adapter,
		errors:  make(chan api.LiveFrame, liveErrorBuffer),
	}
	defer conn.session.Close()

	updates, detach := conn.session.Updates()
	defer detach()

	go func() {
		defer cancel()
		s.writeLoop(ctx, ws, updates, conn.errors)
	}()

	s.readLoop(ctx, ws, conn, identity.TokenFromContext(r.Context()))

	cancel()

	if err := ws.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
		slog.Debug("failed to close websocket", "user_id", user.Id, "error", err)
	}
	slog.Info("live connection closed", "user_id", user.Id)
}

func (s *LiveService) writeLoop(ctx context.Context, ws *websocket.Conn, updates <-chan chat.View, errs <-chan api.LiveFrame) {
	for {
		var frame api.LiveFrame
		select {
		case view := <-updates:
			frame = api.LiveFrame{Type: api.LiveView, View: convertView(view)}
		case frame = <-errs:
		case <-ctx.Done():
			return
		}

		if err := wsjson.Write(ctx, ws, frame); err != nil {
			if ctx.Err() == nil {
				slog.Warn("live write failed", "error", err)
			}
			return
		}
	}
}

func (s *LiveService) readLoop(ctx context.Context, ws *websocket.Conn, conn *liveConn, token string) {
	for {
		var cmd api.LiveCommand
		if err := wsjson.Read(ctx, ws, &cmd); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("live connection closed by client")
			} else {
				slog.Warn("live read failed", "error", err)
			}
			return
		}

		switch cmd.Type {
		case api.LiveSelect:
			if cmd.ChatId == nil {
				conn.sendError(CodedErrorf(http.StatusBadRequest, "chat_id is required"))
				continue
			}
			if err := conn.session.SelectChat(ctx, *cmd.ChatId); err != nil {
				conn.sendError(err)
			}

		case api.LiveNew:
			conn.session.NewChat()

		case api.LiveDraft:
			conn.session.SetDraft(cmd.Text)

		case api.LiveSubmit:
			go func(text string) {
				// The turn outlives the connection so the reply is still saved.
				if _, err := conn.session.Submit(context.WithoutCancel(ctx), text); err != nil {
					conn.sendError(err)
				}
			}(cmd.Text)

		case api.LiveDelete:
			if cmd.ChatId == nil {
				conn.sendError(CodedErrorf(http.StatusBadRequest, "chat_id is required"))
				continue
			}
			if err := conn.session.DeleteChat(ctx, *cmd.ChatId); err != nil {
				conn.sendError(err)
			}

		case api.LiveSignIn:
			if _, err := conn.adapter.SignIn(ctx, cmd.Credential); err != nil {
				conn.sendError(err)
				continue
			}
			token = cmd.Credential

		case api.LiveSignOut:
			if err := s.auth.SignOut(ctx, token); err != nil {
				conn.sendError(err)
			}
			if err := conn.adapter.SignOut(ctx); err != nil {
				conn.sendError(err)
			}

		default:
			conn.sendError(CodedErrorf(http.StatusBadRequest, "unknown command type '%s'", cmd.Type))
		}
	}
}
