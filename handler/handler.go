package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/config"
	"github.com/touchline-analytics/touchline-host/runtime"
)

// APIKeyHeader carries the shared secret when auth is configured.
const APIKeyHeader = "api-key"

// maxBodySize bounds command payloads read from clients.
const maxBodySize = 8 << 20

type CommandHandlerParams struct {
	fx.In

	Runtime runtime.Runtime
	Config  config.Config
	Log     *zap.Logger
}

func NewCommandHandler(params CommandHandlerParams) *CommandHandler {
	return &CommandHandler{
		runtime: params.Runtime,
		config:  params.Config,
		log:     params.Log.Named("handler"),
	}
}

// CommandHandler bridges HTTP clients to the worker runtime.
type CommandHandler struct {
	runtime runtime.Runtime
	config  config.Config
	log     *zap.Logger
}

// Authorize rejects requests without the configured api key.
func (h *CommandHandler) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.config.Auth.Key != "" && r.Header.Get(APIKeyHeader) != h.config.Auth.Key {
			h.requestLog(r).Debug("unauthorized request")
			writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *CommandHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	if err := h.runtime.Initialize(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: h.runtime.Status()})
}

func (h *CommandHandler) Command(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r)

	command := chi.URLParam(r, "command")
	if command == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "missing command"})
		return
	}

	data, err := readPayload(r)
	if err != nil {
		log.Debug("invalid payload", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
		return
	}

	log = log.With(zap.String("command", command))
	log.Debug("forwarding command")

	result, err := h.runtime.Command(r.Context(), command, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: result})
}

func (h *CommandHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	// a disconnecting client must not cut the grace period short
	if err := h.runtime.Cleanup(context.WithoutCancel(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: h.runtime.Status()})
}

func (h *CommandHandler) Paths(w http.ResponseWriter, r *http.Request) {
	paths, err := h.runtime.Paths()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: paths})
}

func (h *CommandHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: h.runtime.Status()})
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *CommandHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)

	log := h.requestLog(r).With(zap.Error(err), zap.Int("status", status))
	if status >= http.StatusInternalServerError {
		log.Warn("request failed")
	} else {
		log.Debug("request failed")
	}

	writeJSON(w, status, envelope{Error: err.Error()})
}

func (h *CommandHandler) requestLog(r *http.Request) *zap.Logger {
	return h.log.With(
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var errPayloadNotObject = errors.New("payload must be a JSON object")

// readPayload decodes an optional JSON object body. An empty body yields
// a nil payload.
func readPayload(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(string(body)) == "" {
		return nil, nil
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, errPayloadNotObject
		}
		return nil, err
	}

	if data == nil {
		return nil, errPayloadNotObject
	}

	return data, nil
}
