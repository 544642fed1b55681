package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/footballistika/predictor/internal/auth"
	"github.com/footballistika/predictor/internal/config"
	"github.com/footballistika/predictor/internal/metrics"
	"github.com/footballistika/predictor/internal/service"
)

// API error codes
const (
	CodeInvalidSignature  = "invalid_signature"
	CodeExpired           = "expired"
	CodeMissingUser       = "missing_user"
	CodeBadUserJSON       = "bad_user_json"
	CodeDeadlinePassed    = "deadline_passed"
	CodeBadPayload        = "bad_payload"
	CodeScoresOutOfRange  = "scores_out_of_range"
	CodeMatchNotAvailable = "match_not_available"
	CodeAlreadyPredicted  = "already_predicted"
	CodeNotFound          = "not_found"
	CodeForbidden         = "forbidden"
	CodeInvalidTeams      = "invalid_teams"
	CodeInvalidRules      = "invalid_rules"
	CodeInternalError     = "internal_error"
)

// InitDataHeader carries initData on requests without a body
const InitDataHeader = "X-Telegram-Init-Data"

const maxBodyBytes = 1 << 20

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the prediction API
type Handler struct {
	service  *service.PredictionService
	verifier *auth.Verifier
	game     *config.GameConfig
	origins  []string
	metrics  *metrics.Metrics
	checks   map[string]HealthCheck
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.PredictionService, verifier *auth.Verifier, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		service:  svc,
		verifier: verifier,
		game:     &cfg.Game,
		origins:  cfg.Server.AllowedOrigins,
		metrics:  m,
		checks:   make(map[string]HealthCheck),
		logger:   logger,
	}
}

// AddHealthCheck registers a dependency probe for /health
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware(h.origins))

	r.Get("/health", h.HealthCheck)
	if h.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api/webapp", func(r chi.Router) {
		r.Get("/ping", h.Ping)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Post("/login", h.Login)
			r.Post("/profile", h.Profile)
			r.Post("/matches", h.Matches)
			r.Post("/prediction", h.SubmitPrediction)
			r.Post("/leaderboard", h.Leaderboard)
			r.Post("/result-accuracy", h.ResultAccuracy)
			r.Post("/goal-accuracy", h.GoalAccuracy)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Use(h.requireAdmin)

		r.Post("/matches", h.CreateMatch)
		r.Get("/matches/pending", h.PendingMatches)
		r.Post("/matches/{matchID}/result", h.SetResult)
		r.Get("/averages", h.Averages)
		r.Get("/predictions", h.PendingPredictions)
		r.Get("/rules", h.GetRules)
		r.Put("/rules", h.UpdateRules)
	})

	return r
}

// corsMiddleware allows the configured origins. Entries may contain shell
// patterns such as https://app-git-*.vercel.app. An empty list allows any origin.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case len(allowed) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && originAllowed(allowed, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID, "+InitDataHeader)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, pattern := range allowed {
		if pattern == origin {
			return true
		}
		if ok, _ := path.Match(pattern, origin); ok {
			return true
		}
	}
	return false
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeOK writes {"ok": true} merged with fields
func (h *Handler) writeOK(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	h.writeJSON(w, status, body)
}

// writeError writes {"ok": false, "error": code}
func (h *Handler) writeError(w http.ResponseWriter, status int, code string) {
	h.writeJSON(w, status, map[string]any{"ok": false, "error": code})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", "dependency", name, "error", err)
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	h.writeJSON(w, status, map[string]any{
		"ok":     status == http.StatusOK,
		"status": results,
	})
}

// payload is a request body decoded from a form or a flat JSON object
type payload struct {
	initData string
	fields   map[string]string
}

func (p payload) get(name string) string {
	return p.fields[name]
}

func (p payload) intField(name string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(p.fields[name]))
	return v, err == nil
}

func (p payload) int64Field(name string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(p.fields[name]), 10, 64)
	return v, err == nil
}

var errBadPayload = errors.New(CodeBadPayload)

// readPayload accepts JSON bodies, urlencoded or multipart forms and query
// parameters. initData may also arrive in InitDataHeader.
func readPayload(r *http.Request) (payload, error) {
	p := payload{fields: make(map[string]string)}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return p, errBadPayload
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			var raw map[string]json.RawMessage
			if err := json.Unmarshal(body, &raw); err != nil {
				return p, errBadPayload
			}
			for k, v := range raw {
				var s string
				if err := json.Unmarshal(v, &s); err == nil {
					p.fields[k] = s
					continue
				}
				p.fields[k] = string(v)
			}
		}
		for k, v := range r.URL.Query() {
			if _, ok := p.fields[k]; !ok && len(v) > 0 {
				p.fields[k] = v[0]
			}
		}
	} else {
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxBodyBytes))
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
				return p, errBadPayload
			}
		} else if err := r.ParseForm(); err != nil {
			return p, errBadPayload
		}
		for k, v := range r.Form {
			if len(v) > 0 {
				p.fields[k] = v[0]
			}
		}
	}

	p.initData = p.fields["initData"]
	if p.initData == "" {
		p.initData = r.Header.Get(InitDataHeader)
	}
	return p, nil
}
