// Package httpapi is the HTTP trigger and operator control surface.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rivernews/slack-middleware-server/internal/archive"
	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/pubsub"
	"github.com/rivernews/slack-middleware-server/internal/queue"
)

// Error statuses of an errorResponse.
const (
	StatusUnauthenticated  = "unauthenticated"
	StatusMissingParameter = "missing-parameter"
	StatusInternal         = "internal"
)

const (
	defaultTerminateReason = "terminated by operator"
	defaultRecentLimit     = 20
)

// Supervisor submits supervisor jobs.
type Supervisor interface {
	Enqueue(ctx context.Context, req model.SupervisorJobRequest) (string, error)
	Await(ctx context.Context, id string) (string, error)
}

// Queue is the operator view of one queue.
type Queue interface {
	Name() string
	Get(ctx context.Context, id string) (queue.Record, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Archive holds records of jobs already expired from Redis.
type Archive interface {
	Get(ctx context.Context, queueName, id string) (queue.Record, error)
	Recent(ctx context.Context, queueName string, limit int) ([]queue.Record, error)
}

type Deps struct {
	Supervisor   Supervisor
	Queues       []Queue
	Archive      Archive
	Publisher    pubsub.Broker
	AdminChannel string
	// Token protects every route except /health, empty disables the check.
	Token string
}

// Server is the HTTP adapter of the middleware.
type Server struct {
	deps   Deps
	mux    *http.ServeMux
	server *http.Server
}

func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("POST /supervisor-jobs", s.auth(s.handleSubmit))
	s.mux.Handle("POST /queues/pause", s.auth(s.handlePause))
	s.mux.Handle("POST /queues/resume", s.auth(s.handleResume))
	s.mux.Handle("POST /queues/terminate", s.auth(s.handleTerminate))
	s.mux.Handle("GET /jobs/{queue}", s.auth(s.handleRecentJobs))
	s.mux.Handle("GET /jobs/{queue}/{id}", s.auth(s.handleGetJob))
}

type errorResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
}

type queuesResponse struct {
	Queues []string `json:"queues"`
}

type terminateRequest struct {
	Reason string `json:"reason"`
}

type terminateResponse struct {
	Message   string `json:"message"`
	Receivers int64  `json:"receivers"`
}

func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got == "" {
				got = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.Token)) != 1 {
				s.writeError(w, http.StatusUnauthorized, StatusUnauthenticated, "missing or invalid token")
				return
			}
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit enqueues a supervisor job, with ?wait=true it also waits for
// the job to finish.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req model.SupervisorJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, StatusMissingParameter, "invalid JSON: "+err.Error())
		return
	}
	if req.IsEmpty() {
		s.writeError(w, http.StatusBadRequest, StatusMissingParameter,
			model.ErrEmptySupervisorRequest.Error()+": one of orgInfo, orgInfoList, scraperJobRequestData or crossRequestData is required")
		return
	}

	id, err := s.deps.Supervisor.Enqueue(r.Context(), req)
	if err != nil {
		s.internalError(w, r, "enqueueing supervisor job", err)
		return
	}
	slog.InfoContext(r.Context(), "supervisor job enqueued", "job_id", id)
	if r.URL.Query().Get("wait") != "true" {
		s.writeJSON(w, http.StatusCreated, submitResponse{ID: id})
		return
	}

	result, err := s.deps.Supervisor.Await(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "supervisor job "+id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, submitResponse{ID: id, Result: result})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.eachQueue(w, r, "pausing", Queue.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.eachQueue(w, r, "resuming", Queue.Resume)
}

func (s *Server) eachQueue(w http.ResponseWriter, r *http.Request, verb string, op func(Queue, context.Context) error) {
	var names []string
	for _, q := range s.deps.Queues {
		if err := op(q, r.Context()); err != nil {
			s.internalError(w, r, verb+" queue "+q.Name(), err)
			return
		}
		names = append(names, q.Name())
	}
	slog.InfoContext(r.Context(), verb+" queues", "queues", names)
	s.writeJSON(w, http.StatusOK, queuesResponse{Queues: names})
}

// handleTerminate broadcasts a terminate message every running scraper job
// honors. The reason is read from the JSON body or the reason parameter.
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" && r.ContentLength != 0 {
		var body terminateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, StatusMissingParameter, "invalid JSON: "+err.Error())
			return
		}
		reason = body.Reason
	}
	if reason == "" {
		reason = defaultTerminateReason
	}
	msg := pubsub.Message{Type: pubsub.TypeTerminate, Destination: pubsub.ToAll, Payload: reason}
	n, err := s.deps.Publisher.Publish(r.Context(), s.deps.AdminChannel, msg.String())
	if err != nil {
		s.internalError(w, r, "publishing terminate", err)
		return
	}
	slog.WarnContext(r.Context(), "terminate broadcast", "reason", reason, "receivers", n)
	s.writeJSON(w, http.StatusOK, terminateResponse{Message: msg.String(), Receivers: n})
}

// handleGetJob looks the job up in Redis first and in the archive once it
// expired there.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	name, id := r.PathValue("queue"), r.PathValue("id")
	var q Queue
	for _, c := range s.deps.Queues {
		if c.Name() == name {
			q = c
		}
	}
	if q == nil {
		s.writeError(w, http.StatusNotFound, StatusMissingParameter, "unknown queue "+name)
		return
	}

	rec, err := q.Get(r.Context(), id)
	if errors.Is(err, queue.ErrJobNotFound) && s.deps.Archive != nil {
		rec, err = s.deps.Archive.Get(r.Context(), name, id)
	}
	switch {
	case errors.Is(err, queue.ErrJobNotFound), errors.Is(err, archive.ErrNotFound):
		s.writeError(w, http.StatusNotFound, StatusMissingParameter, "job "+id+" not found in queue "+name)
	case err != nil:
		s.internalError(w, r, "reading job "+id, err)
	default:
		s.writeJSON(w, http.StatusOK, rec)
	}
}

// handleRecentJobs lists the latest archived jobs of a queue, newest first.
func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("queue")
	if s.deps.Archive == nil {
		s.writeError(w, http.StatusNotFound, StatusMissingParameter, "no job archive configured")
		return
	}
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, StatusMissingParameter, "limit must be a positive number")
			return
		}
		limit = n
	}
	recs, err := s.deps.Archive.Recent(r.Context(), name, limit)
	if err != nil {
		s.internalError(w, r, "listing jobs of "+name, err)
		return
	}
	if recs == nil {
		recs = []queue.Record{}
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	slog.ErrorContext(r.Context(), what, "error", err)
	s.writeError(w, http.StatusInternalServerError, StatusInternal, what+": "+err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, status, msg string) {
	s.writeJSON(w, code, errorResponse{Message: msg, Status: status})
}

// ListenAndServe serves until ctx is done, then shuts the server down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.server.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
