// Package api exposes the progression engine over HTTP.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/p-n-ai/pai-progress/internal/engine"
	"github.com/p-n-ai/pai-progress/internal/notify"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
)

const maxBodyBytes = 1 << 20

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds dependencies for the HTTP server.
type Config struct {
	Engine *engine.Engine
	Auth   *Authenticator
	// Hub streams live events. Nil disables /ws/progress.
	Hub *notify.Hub
	// Checks run on /readyz, keyed by dependency name.
	Checks map[string]HealthCheck
}

// Server serves the engine API.
type Server struct {
	engine   *engine.Engine
	auth     *Authenticator
	hub      *notify.Hub
	checks   map[string]HealthCheck
	validate *validator.Validate
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	auth := cfg.Auth
	if auth == nil {
		auth = NewAuthenticator("", false)
	}
	return &Server{
		engine:   cfg.Engine,
		auth:     auth,
		hub:      cfg.Hub,
		checks:   cfg.Checks,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.Handle("GET /progress/unlock-status", s.authed(s.handleUnlockStatus))
	mux.Handle("POST /progress/nodes/complete", s.authed(s.handleCompleteNodes))
	mux.Handle("POST /progress/tech-stack", s.authed(s.handleChooseTechStack))
	mux.Handle("GET /progress/roadmaps/{roadmapId}", s.authed(s.handleRoadmapProgress))
	mux.Handle("GET /progress/masters/{masterId}", s.authed(s.handleMasterProgress))

	mux.Handle("POST /quiz/start", s.authed(s.handleStartQuiz))
	mux.Handle("POST /quiz/submit", s.authed(s.handleSubmitQuiz))
	mux.Handle("GET /quiz/attempts/{attemptId}", s.authed(s.handleGetAttempt))
	mux.Handle("GET /quiz/results", s.authed(s.handleResults))
	mux.Handle("GET /quiz/weak-topics", s.authed(s.handleWeakTopics))

	mux.Handle("GET /certificate", s.authed(s.handleGetCertificate))
	mux.Handle("POST /certificate", s.authed(s.handleIssueCertificate))
	mux.Handle("GET /certificates", s.authed(s.handleListCertificates))
	mux.HandleFunc("GET /certificates/{certificateId}/verify", s.handleVerifyCertificate)

	mux.Handle("GET /admin/reports/quiz-results", s.admin(s.handleQuizResultsReport))
	mux.Handle("DELETE /admin/users/{userId}", s.admin(s.handleDeleteUser))

	if s.hub != nil {
		mux.Handle("GET /ws/progress", s.authed(s.handleEvents))
	}
	return logRequests(mux)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, id Identity)

func (s *Server) authed(h authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Identify(r)
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r.WithContext(withIdentity(r.Context(), id)), id)
	})
}

func (s *Server) admin(h authedHandler) http.Handler {
	return s.authed(func(w http.ResponseWriter, r *http.Request, id Identity) {
		if !id.Admin {
			writeError(w, apperr.New(apperr.KindForbidden, "admin role required"))
			return
		}
		h(w, r, id)
	})
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			slog.Warn("readiness check failed", "dependency", name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":     "unavailable",
				"dependency": name,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return apperr.Validation("invalid request: %v", err)
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return apperr.Validation("invalid request: %s", strings.Join(fields, "; "))
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	detail := errorDetail{Code: kind.String(), Message: err.Error()}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		detail.Message = appErr.Message
		detail.Missing = appErr.Missing
		if len(appErr.Missing) > 0 {
			detail.Reason = strings.Join(appErr.Missing, ",")
		}
	}
	if kind == apperr.KindInternal {
		slog.Error("request failed", "error", err)
		detail.Message = "internal error"
	}
	writeJSON(w, kind.HTTPStatus(), errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
