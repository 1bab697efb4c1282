package server_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/internal/server"
)

func TestNewRouter_MethodAndParams(t *testing.T) {
	handlers := []*server.HttpHandler{
		server.AsHttpHandler(http.MethodPost, "/commands/{command}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, chi.URLParam(r, "command"))
		})).Handler,
		server.AsHttpHandler("", "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})).Handler,
	}

	srv := httptest.NewServer(server.NewRouter(handlers, zap.NewNop()))
	defer srv.Close()

	res, err := http.Post(srv.URL+"/commands/teams.get_all", "application/json", nil)
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "teams.get_all", string(body))

	res, err = http.Get(srv.URL + "/commands/teams.get_all")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestNewRouter_RecoversPanics(t *testing.T) {
	handlers := []*server.HttpHandler{
		server.AsHttpHandler(http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})).Handler,
	}

	srv := httptest.NewServer(server.NewRouter(handlers, zap.NewNop()))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/boom")
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHttpServer_ServeAndShutdown(t *testing.T) {
	s := server.NewHttpServer(server.HttpServerParams{
		Context: context.Background(),
		Config:  server.HttpConfig{Host: "127.0.0.1", Port: 0, H2c: true},
		Handlers: []*server.HttpHandler{
			server.AsHttpHandler(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "pong")
			})).Handler,
		},
		Logger: zap.NewNop(),
	})

	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background())
	}()

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start listening")
	}

	res, err := http.Get(fmt.Sprintf("http://%s/ping", s.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, "pong", string(body))

	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}
