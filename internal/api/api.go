package api

import (
	"net/http"

	"aurora-backend/internal/identity"

	"github.com/go-chi/chi/v5"
)

type BackendService struct {
	auth *AuthService
	chat *ChatService
	live *LiveService

	identities *identity.Service
}

func NewBackendService(identities *identity.Service, chat *ChatService, live *LiveService) *BackendService {
	return &BackendService{
		auth:       NewAuthService(identities),
		chat:       chat,
		live:       live,
		identities: identities,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	s.auth.AddRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(s.identities))
		s.chat.AddRoutes(r)
		s.live.AddRoutes(r)
	})
}
