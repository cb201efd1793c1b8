package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/auth"
	"github.com/schoolhub/schoolhub/internal/remote"
)

func newRemoteService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"tok-1","refreshToken":"ref-1","user":{"id":1,"email":"ana@school.test","firstName":"Ana","lastName":"Lima","role":"User"}}`))
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newManager(t *testing.T, srv *httptest.Server) (*auth.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return auth.NewManager(auth.ManagerConfig{
		NewClient: func() *remote.Client { return remote.New(srv.URL) },
		StorageFor: func(clientID string) auth.Storage {
			return auth.NewRedisStorage(client, "client:"+clientID, time.Hour)
		},
	}), mr
}

func TestManagerIsolatesClients(t *testing.T) {
	srv := newRemoteService(t)
	m, mr := newManager(t, srv)
	ctx := context.Background()

	a := m.Acquire(ctx, "a")
	b := m.Acquire(ctx, "b")
	_, err := a.Session.Login(ctx, creds)
	require.NoError(t, err)

	assert.Equal(t, "tok-1", a.API.Bearer())
	assert.Empty(t, b.API.Bearer())
	assert.True(t, a.Session.IsAuthenticated())
	assert.False(t, b.Session.IsAuthenticated())
	assert.True(t, mr.Exists("client:a:auth"))
	assert.False(t, mr.Exists("client:b:auth"))
	assert.Same(t, a, m.Acquire(ctx, "a"))
}

func TestManagerRestoresAfterForget(t *testing.T) {
	srv := newRemoteService(t)
	m, _ := newManager(t, srv)
	ctx := context.Background()

	first := m.Acquire(ctx, "a")
	_, err := first.Session.Login(ctx, creds)
	require.NoError(t, err)

	m.Forget("a")
	assert.Equal(t, 0, m.Len())

	again := m.Acquire(ctx, "a")
	assert.NotSame(t, first, again)
	assert.True(t, again.Session.IsAuthenticated())
	assert.Equal(t, "tok-1", again.API.Bearer())
}

func TestManagerForgetsOnLogout(t *testing.T) {
	srv := newRemoteService(t)
	m, mr := newManager(t, srv)
	ctx := context.Background()

	cs := m.Acquire(ctx, "a")
	_, err := cs.Session.Login(ctx, creds)
	require.NoError(t, err)
	cs.Session.Logout(ctx)

	assert.Equal(t, 0, m.Len())
	assert.False(t, mr.Exists("client:a:auth"))
	assert.False(t, m.Acquire(ctx, "a").Session.IsAuthenticated())
}

func TestManagerSweep(t *testing.T) {
	srv := newRemoteService(t)
	m, _ := newManager(t, srv)
	ctx := context.Background()
	m.Acquire(ctx, "a")
	m.Acquire(ctx, "b")

	assert.Equal(t, 0, m.Sweep(time.Hour))
	assert.Equal(t, 2, m.Sweep(-time.Second))
	assert.Equal(t, 0, m.Len())
}

func TestManagerSweepKeepsSessionsInUse(t *testing.T) {
	srv := newRemoteService(t)
	m, _ := newManager(t, srv)
	ctx := context.Background()
	busy := m.Acquire(ctx, "busy")
	m.Acquire(ctx, "idle")

	end := busy.Begin()
	assert.Equal(t, 1, m.Sweep(-time.Second))
	assert.Same(t, busy, m.Acquire(ctx, "busy"))

	end()
	assert.Equal(t, 1, m.Sweep(-time.Second))
	assert.Equal(t, 0, m.Len())
}

func TestManagerAcquireConcurrently(t *testing.T) {
	srv := newRemoteService(t)
	m, _ := newManager(t, srv)
	ctx := context.Background()

	var wg sync.WaitGroup
	got := make([]*auth.ClientSession, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.Acquire(ctx, "same")
		}(i)
	}
	wg.Wait()
	for _, cs := range got {
		assert.Same(t, got[0], cs)
	}
}
