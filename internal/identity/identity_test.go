package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"aurora-backend/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

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

func TestDevProvider(t *testing.T) {
	id, err := DevProvider{}.Authenticate(context.Background(), "dev:u1:Ada Lovelace:ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, Identity{Id: "u1", DisplayName: "Ada Lovelace", Email: "ada@example.com"}, id)

	id, err = DevProvider{}.Authenticate(context.Background(), "dev:u2")
	require.NoError(t, err)
	assert.Equal(t, Identity{Id: "u2", DisplayName: "u2"}, id)

	_, err = DevProvider{}.Authenticate(context.Background(), "u3")
	assert.ErrorIs(t, err, ErrAuth)

	_, err = DevProvider{}.Authenticate(context.Background(), "dev::name")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestGoogleProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokeninfo", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("id_token") {
		case "good":
			w.Write([]byte(`{"sub": "1234", "email": "a@b.com", "name": "A B", "picture": "https://img/a.png", "aud": "client-1"}`))
		case "other-client":
			w.Write([]byte(`{"sub": "1234", "aud": "client-2"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "invalid_token"}`))
		}
	}))
	defer server.Close()

	provider := newGoogleProvider(server.URL, "client-1")

	id, err := provider.Authenticate(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, Identity{Id: "1234", DisplayName: "A B", Email: "a@b.com", AvatarURL: "https://img/a.png"}, id)

	_, err = provider.Authenticate(context.Background(), "other-client")
	assert.ErrorIs(t, err, ErrAuth)

	_, err = provider.Authenticate(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrAuth)

	_, err = provider.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrAuth)
}

type failingProvider struct {
	DevProvider
}

func (failingProvider) Deauthenticate(ctx context.Context, id Identity) error {
	return errors.New("provider unavailable")
}

func TestAdapterSignInAndOut(t *testing.T) {
	adapter := NewAdapter(DevProvider{}, nil)
	assert.Nil(t, adapter.CurrentUser())

	var mu sync.Mutex
	var seen []*Identity
	detach := adapter.Watch(func(id *Identity) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
	})

	id, err := adapter.SignIn(context.Background(), "dev:u1:Ada:ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.Id)
	require.NotNil(t, adapter.CurrentUser())
	assert.Equal(t, "u1", adapter.CurrentUser().Id)

	require.NoError(t, adapter.SignOut(context.Background()))
	assert.Nil(t, adapter.CurrentUser())

	detach()
	_, err = adapter.SignIn(context.Background(), "dev:u2")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Nil(t, seen[0])
	assert.Equal(t, "u1", seen[1].Id)
	assert.Nil(t, seen[2])
}

func TestAdapterRevertsToSignedOutOnFailure(t *testing.T) {
	adapter := NewAdapter(DevProvider{}, &Identity{Id: "u1"})

	var last *Identity
	adapter.Watch(func(id *Identity) { last = id })
	require.NotNil(t, last)

	_, err := adapter.SignIn(context.Background(), "not-a-dev-credential")
	assert.ErrorIs(t, err, ErrAuth)
	assert.Nil(t, adapter.CurrentUser())
	assert.Nil(t, last)
}

func TestAdapterSignOutFailureStillSignsOut(t *testing.T) {
	adapter := NewAdapter(failingProvider{}, &Identity{Id: "u1"})

	err := adapter.SignOut(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
	assert.Nil(t, adapter.CurrentUser())
}

func TestServiceSignInCreatesProfileOnce(t *testing.T) {
	db := createDB(t)
	service := NewService(db, DevProvider{})

	token1, id, err := service.SignIn(context.Background(), "dev:u1:Ada:ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.Id)

	var user database.User
	require.NoError(t, db.First(&user, "id = ?", "u1").Error)
	assert.Equal(t, "Ada", user.DisplayName)
	assert.Equal(t, "ada@example.com", user.Email)
	firstLogin := user.LastLogin
	createdAt := user.CreatedAt

	// A later sign-in refreshes the last login but keeps the original profile.
	token2, _, err := service.SignIn(context.Background(), "dev:u1:Renamed:new@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, token1, token2)

	var users []database.User
	require.NoError(t, db.Find(&users).Error)
	require.Len(t, users, 1)
	assert.Equal(t, "Ada", users[0].DisplayName)
	assert.True(t, users[0].CreatedAt.Equal(createdAt))
	assert.False(t, users[0].LastLogin.Before(firstLogin))

	resolved, err := service.Resolve(context.Background(), token2.String())
	require.NoError(t, err)
	assert.Equal(t, Identity{Id: "u1", DisplayName: "Ada", Email: "ada@example.com"}, resolved)
}

func TestServiceSignOutRevokesToken(t *testing.T) {
	db := createDB(t)
	service := NewService(db, DevProvider{})

	token, _, err := service.SignIn(context.Background(), "dev:u1")
	require.NoError(t, err)

	require.NoError(t, service.SignOut(context.Background(), token.String()))

	_, err = service.Resolve(context.Background(), token.String())
	assert.ErrorIs(t, err, ErrAuth)

	// Revoking again is harmless.
	require.NoError(t, service.SignOut(context.Background(), token.String()))
}

func TestServiceRejectsBadCredentials(t *testing.T) {
	db := createDB(t)
	service := NewService(db, DevProvider{})

	_, _, err := service.SignIn(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrAuth)

	_, err = service.Resolve(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestTokenProvider(t *testing.T) {
	db := createDB(t)
	service := NewService(db, DevProvider{})

	token, _, err := service.SignIn(context.Background(), "dev:u1:Ada")
	require.NoError(t, err)

	adapter := NewAdapter(service.Tokens(), nil)
	id, err := adapter.SignIn(context.Background(), token.String())
	require.NoError(t, err)
	assert.Equal(t, "Ada", id.DisplayName)
}

func TestMiddleware(t *testing.T) {
	db := createDB(t)
	service := NewService(db, DevProvider{})

	token, _, err := service.SignIn(context.Background(), "dev:u1:Ada")
	require.NoError(t, err)

	handler := Middleware(service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "u1", id.Id)
		assert.Equal(t, token.String(), TokenFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token.String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/?token="+token.String(), nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/?token=00000000-0000-0000-0000-000000000000", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
