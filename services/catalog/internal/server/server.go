package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"appcatalog/internal/metrics"
	"appcatalog/internal/ratelimit"
	"appcatalog/internal/util"
	"appcatalog/pkg/domain"
	"appcatalog/services/catalog/internal/app"
)

const (
	maxBodyBytes = 1 << 20
	apiPrefix    = "/api/"
	serviceName  = "catalog"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AdminToken     string
	Limiter        ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
	Metrics        *metrics.Metrics
	StaticDir      string
	Now            func() time.Time
}

// Server exposes the catalog over HTTP.
type Server struct {
	app        *app.App
	adminToken string
	limiter    ratelimit.Limiter
	proxies    *util.TrustedProxies
	metrics    *metrics.Metrics
	staticDir  string
	now        func() time.Time
	mux        *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("catalog app required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		app:        cfg.App,
		adminToken: strings.TrimSpace(cfg.AdminToken),
		limiter:    cfg.Limiter,
		proxies:    cfg.TrustedProxies,
		metrics:    cfg.Metrics,
		staticDir:  strings.TrimSpace(cfg.StaticDir),
		now:        cfg.Now,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = util.WithSecurityHeaders(apiPrefix, util.WithCORS(s.mux))
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(h)
	}
	return util.WithRequestID(util.WithRequestLog(serviceName, h))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /api/apps", s.handleListApps)
	s.mux.Handle("POST /api/apps", s.adminOnly(s.handleCreateApp))
	s.mux.HandleFunc("GET /api/apps/{id}", s.handleGetApp)
	s.mux.HandleFunc("POST /api/apps/{id}/download", s.handleDownload)
	s.mux.Handle("POST /api/apps/{id}/rate", s.rateLimited(s.handleRate))
	s.mux.Handle("POST /api/apps/{id}/feedback", s.rateLimited(s.handleFeedback))
	s.mux.HandleFunc("GET /api/categories", s.handleCategories)
	s.mux.HandleFunc("GET /api/stores", s.handleStores)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc(apiPrefix, notFound)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.staticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	} else {
		s.mux.HandleFunc("/", notFound)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	group := q.Get("store")
	if group == "" {
		group = q.Get("group")
	}
	apps, err := s.app.ListApps(r.Context(), domain.Filter{
		Category: q.Get("category"),
		Tag:      q.Get("tag"),
		Query:    q.Get("q"),
		Store:    group,
		Sort:     domain.ParseSortKey(q.Get("sort")),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"apps": apps})
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	record, ok, err := s.app.GetApp(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !ok {
		writeAppError(w, r, app.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var payload domain.NewApp
	if !decodeJSON(w, r, &payload) {
		return
	}
	created, err := s.app.CreateApp(r.Context(), payload)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.IncrementDownload(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.AddRating(r.Context(), r.PathValue("id"), app.RatingInput{
		Rating:  float64(req.Rating),
		Comment: string(req.Comment),
		User:    string(req.User),
		Persona: string(req.Persona),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := s.app.AddFeedback(r.Context(), r.PathValue("id"), app.FeedbackInput{
		Comment: string(req.Comment),
		User:    string(req.User),
		Persona: string(req.Persona),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.app.ListCategories(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.app.ListStores(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": stores})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.GetStats(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// adminOnly enforces the static credential: X-User-Role must be admin and,
// when an admin token is configured, X-Admin-Token must equal it.
func (s *Server) adminOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Role") != "admin" {
			s.audit(r, "catalog.admin.authorize", "fail", "reason", "role")
			writeError(w, r, http.StatusForbidden, "AUTH_FORBIDDEN", "Admin role required")
			return
		}
		if s.adminToken != "" {
			got := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
				s.audit(r, "catalog.admin.authorize", "fail", "reason", "token")
				writeError(w, r, http.StatusForbidden, "AUTH_FORBIDDEN", "Admin role required")
				return
			}
		}
		s.audit(r, "catalog.admin.authorize", "success")
		next(w, r)
	})
}

func (s *Server) rateLimited(next http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "submit|" + util.ClientIP(r, s.proxies)
		if !s.limiter.Allow(r.Context(), key) {
			s.audit(r, "catalog.ratelimit", "blocked")
			w.Header().Set("Retry-After", "60")
			writeError(w, r, http.StatusTooManyRequests, "SYSTEM_RATE_LIMITED", "too many submissions, retry later")
			return
		}
		next(w, r)
	})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.proxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "SYSTEM_NOT_FOUND", "not found")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "SYSTEM_BODY_TOO_LARGE", "request body too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, "SYSTEM_INVALID_JSON", "invalid JSON body")
		return false
	}
	return true
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, RequestID: util.RequestIDFromRequest(r)})
}

// writeAppError maps catalog errors to status codes. Client errors keep their
// message; store failures are logged and reported with the store diagnostic.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "CATALOG_APP_NOT_FOUND", "App not found")
	case errors.Is(err, app.ErrDuplicateID):
		writeError(w, r, http.StatusConflict, "CATALOG_DUPLICATE_ID", "App id already exists")
	case errors.Is(err, app.ErrMissingField):
		writeError(w, r, http.StatusBadRequest, "CATALOG_MISSING_FIELD", err.Error())
	case errors.Is(err, app.ErrInvalidRating):
		writeError(w, r, http.StatusBadRequest, "CATALOG_INVALID_RATING", err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("catalog request failed", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "CATALOG_STORE_FAILURE", err.Error())
	}
}
