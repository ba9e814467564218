package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/appserver/core/engine"
	"github.com/dmitrymomot/appserver/core/logger"
)

// Processor runs a transport request through the engine.
type Processor interface {
	Process(r *http.Request, resp *engine.TransportResponse) error
}

// HealthFunc reports process health for the liveness endpoint.
type HealthFunc func(ctx context.Context) error

type handler struct {
	processor  Processor
	logger     *slog.Logger
	healthPath string
	health     HealthFunc
}

// HandlerOption configures the engine handler.
type HandlerOption func(*handler)

// WithHandlerLogger sets the logger used for write failures.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHealthcheck answers path with 200 when fn succeeds and 503 otherwise.
// The path is matched before routing so it never reaches an application.
func WithHealthcheck(path string, fn HealthFunc) HandlerOption {
	return func(h *handler) {
		h.healthPath = path
		h.health = fn
	}
}

// Handler adapts p to http.Handler. Requests the engine rejects are answered
// with the error's status code and message.
func Handler(p Processor, opts ...HandlerOption) http.Handler {
	h := &handler{
		processor: p,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.health != nil && h.healthPath != "" && r.URL.Path == h.healthPath {
		h.serveHealth(w, r)
		return
	}

	resp := engine.NewTransportResponse()
	if err := h.processor.Process(r, resp); err != nil {
		writeError(w, err)
		return
	}
	if !resp.Dispatched() {
		writeError(w, engine.ErrInternal.WithMessage("response was not dispatched"))
		return
	}

	if err := resp.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write response",
			logger.Component("server"),
			logger.Path(r.URL.Path),
			logger.StatusCode(resp.Status),
			logger.Error(err))
	}
}

func (h *handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.health(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

func writeError(w http.ResponseWriter, err error) {
	var e engine.Error
	if !errors.As(err, &e) {
		e = engine.ErrInternal
	}
	if e.Status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	http.Error(w, e.Message, e.StatusCode())
}
