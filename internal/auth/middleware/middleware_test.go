package auth_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/scormetry/scormetry/internal/auth/middleware"
	"github.com/scormetry/scormetry/internal/db"
	"github.com/scormetry/scormetry/internal/rbac"
	"github.com/scormetry/scormetry/internal/users"
)

func seed(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:auth_%d?mode=memory&cache=shared", time.Now().UnixNano())
	dbh, err := db.Open(ctx, db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	_, _, err = users.Upsert(ctx, dbh, []users.User{{ID: "j1", Username: "jude", Role: "judge", Password: "s3cret"}})
	require.NoError(t, err)
	return dbh
}

func login(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	return rec
}

func TestLoginAndMiddleware(t *testing.T) {
	dbh := seed(t)
	svc := auth.NewAuthService("test-secret", time.Hour)
	h := auth.LoginHandler(svc, dbh)

	assert.Equal(t, http.StatusBadRequest, login(t, h, "{").Code)
	assert.Equal(t, http.StatusUnauthorized, login(t, h, `{"username":"jude","password":"nope"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, login(t, h, `{"username":"ghost","password":"s3cret"}`).Code)

	rec := login(t, h, `{"username":"jude","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "judge", out["role"])

	var gotSub, gotRole string
	protected := auth.JWTMiddleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = auth.SubjectFromContext(r.Context())
		gotRole = rbac.RoleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+out["access_token"])
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "j1", gotSub)
	assert.Equal(t, "judge", gotRole)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParse_RejectsForeignSignature(t *testing.T) {
	tok, err := auth.NewAuthService("one", time.Hour).IssueJWT("u1", "teacher")
	require.NoError(t, err)

	_, err = auth.NewAuthService("two", time.Hour).Parse(tok)
	assert.Error(t, err)
}

func TestAttachRoleFromDB(t *testing.T) {
	dbh := seed(t)
	var role string
	h := auth.AttachRoleFromDB(dbh, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role = rbac.RoleFromContext(r.Context())
	}))

	serve := func(sub, claimRole string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := auth.WithSubject(req.Context(), sub)
		ctx = rbac.WithRole(ctx, claimRole)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req.WithContext(ctx))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve("j1", "admin"))
	assert.Equal(t, "judge", role, "stored role overrides the claim")
	assert.Equal(t, http.StatusForbidden, serve("stranger", "teacher"))
}
