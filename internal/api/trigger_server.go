package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/abelzeko/river-levels/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxEventSize = 1 << 20

// EventHandler runs one invocation for a raw event payload
type EventHandler interface {
	HandleEvent(ctx context.Context, payload []byte) (bool, error)
}

// TriggerServer exposes invocations and metrics over HTTP
type TriggerServer struct {
	addr    string
	handler EventHandler
	router  chi.Router
}

type invokeResponse struct {
	Ingested bool   `json:"ingested"`
	Error    string `json:"error,omitempty"`
}

// NewTriggerServer creates a new HTTP trigger listening on addr
func NewTriggerServer(addr string, handler EventHandler) *TriggerServer {
	s := &TriggerServer{addr: addr, handler: handler}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/invoke", s.invoke)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the router of the server
func (s *TriggerServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *TriggerServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Trigger server listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Println("Shutting down trigger server")
	return srv.Shutdown(shutdownCtx)
}

func (s *TriggerServer) invoke(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, invokeResponse{Error: "failed to read body"})
		return
	}

	ingested, err := s.handler.HandleEvent(r.Context(), payload)
	if err != nil {
		log.Printf("Error handling event (request %s): %v", middleware.GetReqID(r.Context()), err)
		writeJSON(w, http.StatusInternalServerError, invokeResponse{Ingested: ingested, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{Ingested: ingested})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}
