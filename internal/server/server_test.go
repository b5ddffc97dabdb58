package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
	"github.com/rumor-ml/commons.systems/tally/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tally/internal/registry"
	"github.com/rumor-ml/commons.systems/tally/internal/store/sqlite"
	"github.com/rumor-ml/commons.systems/tally/internal/streaming"
)

type stubVerifier struct{}

func (stubVerifier) VerifyIDToken(_ context.Context, token string) (*auth.Token, error) {
	if token == "good" {
		return &auth.Token{UID: "user-1"}, nil
	}
	return nil, errors.New("bad token")
}

func newServer(t *testing.T, opts Options) *Server {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	hub := streaming.NewStreamHub()
	opts.Service = pipeline.New(ledger.New(s), registry.MustNew(), pipeline.WithBroadcaster(hub))
	opts.Hub = hub
	opts.Logger = zerolog.Nop()
	return New(opts)
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Origin", "https://app.example.com")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_HealthIsPublic(t *testing.T) {
	srv := newServer(t, Options{Verifier: stubVerifier{}, AllowedOrigins: []string{"*"}})
	w := get(srv.Handler(), "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestServer_RequiresToken(t *testing.T) {
	srv := newServer(t, Options{Verifier: stubVerifier{}})
	assert.Equal(t, http.StatusUnauthorized, get(srv.Handler(), "/api/accounts", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(srv.Handler(), "/api/accounts", "bad").Code)
	assert.Equal(t, http.StatusOK, get(srv.Handler(), "/api/accounts", "good").Code)
}

func TestServer_LocalMode(t *testing.T) {
	srv := newServer(t, Options{})
	w := get(srv.Handler(), "/api/rules", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"), "no origins configured")

	w = get(srv.Handler(), "/api/import/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_MethodRouting(t *testing.T) {
	srv := newServer(t, Options{})
	req := httptest.NewRequest(http.MethodPut, "/api/rules", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_StaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>tally</h1>"), 0o644))
	srv := newServer(t, Options{StaticDir: dir})

	w := get(srv.Handler(), "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tally")
}
