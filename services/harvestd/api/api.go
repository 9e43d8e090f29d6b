package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"farmnet/services/harvestd/storage"
)

// Server exposes the indexer over a REST API. Read routes are open; admin
// routes require a JWT signed with the configured secret.
type Server struct {
	store     *storage.Store
	jwtSecret string
	issuer    string
	audience  []string

	router http.Handler
}

// Config bundles the server dependencies.
type Config struct {
	Store     *storage.Store
	JWTSecret string
	Issuer    string
	Audience  []string
}

// New constructs the configured router.
func New(cfg Config) *Server {
	s := &Server{
		store:     cfg.Store,
		jwtSecret: cfg.JWTSecret,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/farms/{farmID}/events", s.handleFarmEvents)
		r.Get("/farms/{farmID}/totals", s.handleFarmTotals)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireJWT)
			r.Delete("/events", s.handlePrune)
		})
	})

	s.router = r
	return s
}

// Handler returns the HTTP surface.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	count, err := s.store.CountEvents()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "events": count})
}

func (s *Server) handleFarmEvents(w http.ResponseWriter, r *http.Request) {
	farmID, ok := farmIDParam(w, r)
	if !ok {
		return
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := s.store.ListEventsByFarm(farmID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type eventView struct {
		ID         string          `json:"id"`
		Type       string          `json:"type"`
		FarmID     string          `json:"farmId"`
		Actor      string          `json:"actor,omitempty"`
		Amount     string          `json:"amount,omitempty"`
		Attributes json.RawMessage `json:"attributes"`
		CreatedAt  time.Time       `json:"createdAt"`
	}
	views := make([]eventView, 0, len(events))
	for _, evt := range events {
		views = append(views, eventView{
			ID:         evt.ID.String(),
			Type:       evt.Type,
			FarmID:     evt.FarmID,
			Actor:      evt.Actor,
			Amount:     evt.Amount,
			Attributes: json.RawMessage(evt.Attributes),
			CreatedAt:  evt.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleFarmTotals(w http.ResponseWriter, r *http.Request) {
	farmID, ok := farmIDParam(w, r)
	if !ok {
		return
	}
	totals, err := s.store.TotalsByFarm(farmID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("before"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "before query parameter required (RFC3339)")
		return
	}
	cutoff, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid before timestamp: %v", err))
		return
	}
	removed, err := s.store.PruneBefore(cutoff)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *Server) requireJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.jwtSecret == "" {
			writeError(w, http.StatusForbidden, "admin routes are disabled: no jwt secret configured")
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))

		options := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
		if s.issuer != "" {
			options = append(options, jwt.WithIssuer(s.issuer))
		}
		for _, aud := range s.audience {
			options = append(options, jwt.WithAudience(aud))
		}
		token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.jwtSecret), nil
		}, options...)
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func farmIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	farmID := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "farmID")))
	farmID = strings.TrimPrefix(farmID, "0x")
	if len(farmID) != 64 {
		writeError(w, http.StatusBadRequest, "farm id must be 32 hex-encoded bytes")
		return "", false
	}
	for _, c := range farmID {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			writeError(w, http.StatusBadRequest, "farm id must be hex")
			return "", false
		}
	}
	return farmID, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
