package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *SessionManager {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "meridian_session", "test-secret", time.Hour, false)
}

func TestSessionRoundTrip(t *testing.T) {
	sm := newTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, sess)

	sess.SetUser("42")
	sess.SetOrigin("Firefox 128 on Linux (desktop)", "10.0.0.5")
	sess.Set("theme", "dark")

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, req, sess))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "meridian_session", cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)

	// A second request with the cookie sees the same state.
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req2)
	require.NoError(t, err)
	require.Equal(t, "42", loaded.User())
	require.Equal(t, "10.0.0.5", loaded.IP())
	require.Equal(t, "Firefox 128 on Linux (desktop)", loaded.Device())
	require.Equal(t, "dark", loaded.Get("theme"))
}

func TestSessionDestroy(t *testing.T) {
	sm := newTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.SetUser("42")
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, req, sess))
	cookie := rec.Result().Cookies()[0]

	req2 := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req2.AddCookie(cookie)
	sess2, err := sm.Load(ctx, req2)
	require.NoError(t, err)
	sm.Destroy(sess2)

	rec2 := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec2, req2, sess2))
	expired := rec2.Result().Cookies()
	require.Len(t, expired, 1)
	require.Equal(t, -1, expired[0].MaxAge)

	// The server-side state is gone; a fresh load yields an anonymous session.
	req3 := httptest.NewRequest(http.MethodGet, "/", nil)
	req3.AddCookie(cookie)
	sess3, err := sm.Load(ctx, req3)
	require.NoError(t, err)
	require.Empty(t, sess3.User())
}

func TestSessionContextHelpers(t *testing.T) {
	sm := newTestManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)

	ctx := ContextWithSession(context.Background(), sess)
	require.Same(t, sess, SessionFromContext(ctx))
	require.Nil(t, SessionFromContext(context.Background()))
}

func TestCSRFTokenLifecycle(t *testing.T) {
	sm := newTestManager(t)
	csrf := NewCSRFManager("csrf-secret")
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)

	token, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Idempotent per session.
	again, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, token, again)

	require.NoError(t, csrf.VerifyToken(ctx, sess, token))
	require.ErrorIs(t, csrf.VerifyToken(ctx, sess, "forged"), ErrCSRFTokenMismatch)
	require.ErrorIs(t, csrf.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
	require.ErrorIs(t, csrf.VerifyToken(ctx, nil, token), ErrCSRFTokenMissing)
}
