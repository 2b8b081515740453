// Package httpapi exposes the bot over HTTP: a webhook endpoint for the
// chat transport plus health and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"commissioni/internal/bot"
	"commissioni/internal/log"
)

// Update is one incoming webhook payload. Exactly one of Text, Command
// or Callback is expected to be set.
type Update struct {
	UserID   int64    `json:"user_id"`
	Name     string   `json:"name"`
	Text     string   `json:"text,omitempty"`
	Command  string   `json:"command,omitempty"`
	Args     []string `json:"args,omitempty"`
	Callback string   `json:"callback,omitempty"`
}

type replyButton struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

type replyFile struct {
	Name    string `json:"name"`
	Content []byte `json:"content"` // base64 in JSON
}

type reply struct {
	Text    string          `json:"text"`
	Buttons [][]replyButton `json:"buttons,omitempty"`
	File    *replyFile      `json:"file,omitempty"`
}

// Server wraps http.Server with the bot routes mounted.
type Server struct {
	http.Server

	svc    *bot.Service
	logger *log.Logger

	shutdownOnce sync.Once
}

func NewServer(addr string, svc *bot.Service, logger *log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		svc:    svc,
		logger: logger.WithComponent(log.ComponentHTTP),
	}

	mux.HandleFunc("/hook", s.withRequestLog(s.handleHook))
	mux.HandleFunc("/healthz", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type requestIDKey struct{}

// RequestID returns the id withRequestLog attached to the context, or
// an empty string outside a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) withRequestLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))
		w.Header().Set("X-Request-ID", requestID)

		next(w, r)

		s.logger.InfoContext(r.Context(), "Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			log.FieldTraceID, requestID,
			log.FieldDuration, time.Since(start).Milliseconds())
	}
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var u Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		s.logger.ErrorContext(r.Context(), "Bad webhook payload",
			log.FieldTraceID, RequestID(r.Context()),
			log.FieldError, err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if u.UserID == 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	var (
		resp bot.Response
		err  error
	)
	switch {
	case u.Callback != "":
		resp, err = s.svc.HandleCallback(r.Context(), u.UserID, u.Callback)
	case u.Command != "":
		resp, err = s.svc.HandleCommand(r.Context(), u.UserID, u.Name, u.Command, u.Args)
	default:
		resp, err = s.svc.HandleText(r.Context(), u.UserID, u.Name, u.Text)
	}
	if err != nil {
		// The response still carries the user-facing text; log the cause.
		s.logger.ErrorContext(r.Context(), "Update failed",
			log.FieldActor, u.UserID,
			log.FieldTraceID, RequestID(r.Context()),
			log.FieldError, err)
	}

	out := reply{Text: resp.Text}
	for _, row := range resp.Buttons {
		var buttons []replyButton
		for _, b := range row {
			buttons = append(buttons, replyButton{Label: b.Label, Data: b.Data})
		}
		out.Buttons = append(out.Buttons, buttons)
	}
	if resp.File != nil {
		out.File = &replyFile{Name: resp.File.Name, Content: resp.File.Content}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.ErrorContext(r.Context(), "Encode reply failed", log.FieldError, err)
	}
}
