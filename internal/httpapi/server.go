package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/drewbeer/polaris-gslb/internal/httpapi/middleware"
	"github.com/drewbeer/polaris-gslb/internal/report"
	"github.com/drewbeer/polaris-gslb/internal/scheduler"
	"github.com/drewbeer/polaris-gslb/internal/state"
)

const defaultVerdictCount = 50

// Kicker triggers an immediate run for one monitor.
type Kicker interface {
	Kick(name string) (bool, error)
}

type Server struct {
	Logger    *zap.Logger
	Table     *state.Table
	Verdicts  *report.Ring
	Kicker    Kicker
	AdminKeys []string
}

func NewServer(l *zap.Logger, tbl *state.Table, ring *report.Ring, k Kicker, adminKeys []string) *Server {
	return &Server{Logger: l, Table: tbl, Verdicts: ring, Kicker: k, AdminKeys: adminKeys}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)
	r.Use(middleware.RateLimit(600, 60))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/state", s.handleState)
	r.Get("/api/verdicts", s.handleVerdicts)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireKey(s.AdminKeys))
		r.Post("/api/kick/{name}", s.handleKick)
	})

	return r
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Table.Snapshot())
}

func (s *Server) handleVerdicts(w http.ResponseWriter, r *http.Request) {
	n := defaultVerdictCount
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			http.Error(w, "bad n", http.StatusBadRequest)
			return
		}
		n = v
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Verdicts.Recent(n))
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ok, err := s.Kicker.Kick(name)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case errors.Is(err, scheduler.ErrUnknownMonitor):
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown monitor"})
	case err != nil:
		s.Logger.Warn("kick_error", zap.String("monitor", name), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "kick failed"})
	case !ok:
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "monitor is mid-run"})
	default:
		s.Logger.Info("kick_accepted", zap.String("monitor", name))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "scheduled", "monitor": name})
	}
}
