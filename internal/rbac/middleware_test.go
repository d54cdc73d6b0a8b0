package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-qms/meridian/internal/shared"
)

func requestWithUser(t *testing.T, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	if userID == "" {
		return req
	}
	sess := &shared.Session{}
	sess.SetUser(userID)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAny(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.direct[7] = []PermissionGrant{{UserID: 7, Code: shared.PermRolesView}}
	e, _, _, _ := newTestEnforcer(repo)
	mw := Middleware{Enforcer: e}

	handler := mw.RequireAny(shared.PermRolesView, shared.PermRolesEdit)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser(t, "7"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser(t, "8"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAll(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.direct[7] = []PermissionGrant{{UserID: 7, Code: shared.PermAuditView}}
	repo.direct[9] = []PermissionGrant{
		{UserID: 9, Code: shared.PermAuditView},
		{UserID: 9, Code: shared.PermAuditExport},
	}
	e, _, _, _ := newTestEnforcer(repo)
	mw := Middleware{Enforcer: e}

	handler := mw.RequireAll(shared.PermAuditView, shared.PermAuditExport)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser(t, "9"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser(t, "7"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardWithoutSession(t *testing.T) {
	e, _, _, _ := newTestEnforcer(newMemoryRBACRepo())
	mw := Middleware{Enforcer: e}

	handler := mw.RequireAny(shared.PermRolesView)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser(t, ""))
	require.Equal(t, http.StatusForbidden, rec.Code)

	// An anonymous session is as good as none.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser(t, "  "))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardWithNoRequirementsPassesThrough(t *testing.T) {
	e, _, _, _ := newTestEnforcer(newMemoryRBACRepo())
	mw := Middleware{Enforcer: e}

	handler := mw.RequireAll()(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser(t, ""))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
