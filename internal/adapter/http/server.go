package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cwygoda/songbridge/internal/domain"
)

const maxBodyBytes = 1 << 20

// Options configures the HTTP adapter.
type Options struct {
	// Secret, when set, must match the token query parameter on callbacks.
	Secret string
	// Poll is the default policy for GET /jobs/{id}; its budget is also
	// the longest poll a request may ask for.
	Poll    domain.PollPolicy
	Logger  zerolog.Logger
	Metrics http.Handler
	MCP     http.Handler
}

// Server is the HTTP adapter for the webhook and job API.
type Server struct {
	svc    *domain.BridgeService
	router chi.Router
	server *http.Server
	opts   Options
}

// NewServer creates a new HTTP server.
func NewServer(svc *domain.BridgeService, addr string, opts Options) *Server {
	s := &Server{
		svc:    svc,
		router: chi.NewRouter(),
		opts:   opts,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long-polls hold the response open for up to one poll budget.
		WriteTimeout: opts.Poll.Budget() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP, requestID(s.opts.Logger), requestLogger, middleware.Recoverer)

	r.Post("/webhook", s.handleWebhook)
	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	if s.opts.MCP != nil {
		r.Handle("/mcp", s.opts.MCP)
	}
}

// callbackPayload is the provider's webhook body.
type callbackPayload struct {
	Code *int   `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		CallbackType string `json:"callbackType"`
		TaskID       string `json:"task_id"`
		TaskIDCamel  string `json:"taskId"`
		Data         []struct {
			AudioURL string `json:"audio_url"`
			ImageURL string `json:"image_url"`
			Title    string `json:"title"`
		} `json:"data"`
	} `json:"data"`
}

func (p callbackPayload) toDomain() domain.Callback {
	cb := domain.Callback{Message: p.Msg}
	if p.Code != nil {
		cb.Code = *p.Code
	}
	if p.Data == nil {
		return cb
	}
	cb.Stage = p.Data.CallbackType
	cb.JobID = p.Data.TaskID
	if cb.JobID == "" {
		cb.JobID = p.Data.TaskIDCamel
	}
	if p.Data.Data != nil {
		cb.Tracks = make([]domain.Track, 0, len(p.Data.Data))
		for _, t := range p.Data.Data {
			cb.Tracks = append(cb.Tracks, domain.Track{AudioURL: t.AudioURL, ImageURL: t.ImageURL, Title: t.Title})
		}
	}
	return cb
}

// submitRequest is the request body for POST /jobs.
type submitRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style"`
	Title        string `json:"title"`
	Instrumental *bool  `json:"instrumental"`
}

// jobResponse is the JSON response for job endpoints.
type jobResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	AudioURL  string `json:"audio_url,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	Title     string `json:"title,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ackResponse acknowledges a webhook delivery.
type ackResponse struct {
	Message string `json:"message"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())

	if s.opts.Secret != "" && !s.authorized(r) {
		log.Warn().Err(domain.ErrUnauthorizedCallback).Msg("webhook rejected")
		s.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("webhook body unreadable")
		s.writeJSON(w, http.StatusBadRequest, ackResponse{Message: "Invalid webhook payload"})
		return
	}

	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("webhook payload is not valid JSON")
		s.writeJSON(w, http.StatusBadRequest, ackResponse{Message: "Invalid webhook payload"})
		return
	}

	in, err := s.svc.Ingest(r.Context(), payload.toDomain())
	switch {
	case errors.Is(err, domain.ErrMalformedCallback):
		log.Warn().Err(err).Str("job_id", in.JobID).Msg("malformed callback")
		s.writeJSON(w, http.StatusBadRequest, ackResponse{Message: "Invalid webhook payload"})
		return
	case errors.Is(err, domain.ErrRegistryFull):
		log.Error().Err(err).Str("job_id", in.JobID).Msg("callback dropped")
		s.writeError(w, r, http.StatusServiceUnavailable, "registry full")
		return
	case err != nil:
		log.Error().Err(err).Str("job_id", in.JobID).Msg("callback failed")
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	ev := log.Info()
	if in.Outcome == domain.IngestDuplicate {
		ev = log.Warn()
	}
	ev.Str("job_id", in.JobID).Str("outcome", string(in.Outcome)).Msg("callback received")
	s.writeJSON(w, http.StatusOK, ackResponse{Message: "Received"})
}

func (s *Server) authorized(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Webhook-Token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Secret)) == 1
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Instrumental == nil {
		s.writeError(w, r, http.StatusBadRequest, "instrumental is required")
		return
	}

	job, err := s.svc.Submit(r.Context(), domain.GenerateRequest{
		Prompt:       req.Prompt,
		Style:        req.Style,
		Title:        req.Title,
		Instrumental: *req.Instrumental,
	})
	if err != nil {
		status, msg := submitStatus(err)
		if status >= http.StatusInternalServerError {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("submit failed")
		}
		s.writeError(w, r, status, msg)
		return
	}

	s.writeJSON(w, http.StatusAccepted, jobToResponse(job))
}

func submitStatus(err error) (int, string) {
	var perr *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrInvalidPrompt):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrProviderRejected):
		if errors.As(err, &perr) && perr.Message != "" {
			return http.StatusBadGateway, perr.Message
		}
		return http.StatusBadGateway, "provider rejected request"
	case errors.Is(err, domain.ErrProviderUnreachable):
		return http.StatusServiceUnavailable, "provider unreachable"
	case errors.Is(err, domain.ErrRegistryFull):
		return http.StatusServiceUnavailable, "registry full"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "latest" {
		id = ""
	}

	policy, err := s.pollPolicy(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.svc.Await(r.Context(), id, policy)
	switch {
	case err == nil, errors.Is(err, domain.ErrJobFailed):
		s.writeJSON(w, http.StatusOK, jobToResponse(job))
	case errors.Is(err, domain.ErrStillPending):
		if id == "" {
			id = s.svc.Latest()
		}
		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(policy.Interval/time.Second))))
		s.writeJSON(w, http.StatusAccepted, jobResponse{JobID: id, Status: string(domain.StatusPending)})
	case errors.Is(err, domain.ErrJobNotFound):
		s.writeError(w, r, http.StatusNotFound, "job not found")
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, r, http.StatusGatewayTimeout, "poll deadline exceeded")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to write.
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("job_id", id).Msg("poll failed")
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// pollPolicy reads attempts and interval overrides from the query string.
func (s *Server) pollPolicy(r *http.Request) (domain.PollPolicy, error) {
	policy := s.opts.Poll
	q := r.URL.Query()
	if v := q.Get("attempts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return policy, errors.New("invalid attempts")
		}
		policy.MaxAttempts = n
	}
	if v := q.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return policy, errors.New("invalid interval")
		}
		policy.Interval = d
	}
	if err := policy.Validate(); err != nil {
		return policy, err
	}
	if policy.Budget() > s.opts.Poll.Budget() {
		return policy, errors.New("poll budget exceeds server limit")
	}
	return policy, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg, RequestID: RequestIDFromContext(r.Context())})
}

func jobToResponse(job *domain.Job) jobResponse {
	resp := jobResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		Error:     job.FailureReason,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.Result != nil {
		resp.AudioURL = job.Result.AudioURL
		resp.ImageURL = job.Result.ImageURL
		resp.Title = job.Result.Title
	}
	return resp
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
