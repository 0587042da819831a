// Package restapi implements the REST read surface: GET-only views over
// the OrderStore for positions/holdings/funds/orders, plus /health. Order
// placement has no REST surface here (spec.md §1) — the core only exposes
// the order-acceptance function other code calls.
//
// Grounded on the feed simulator's internal/api package: a Server struct
// holding its dependencies, Register attaching routes to a *http.ServeMux,
// writeJSON/writeError helpers, PathValue-based routing.
package restapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ndrandal/marketgateway/internal/proxy"
	"github.com/ndrandal/marketgateway/internal/store"
)

// Server serves the read-only REST surface.
type Server struct {
	store   *store.Store
	proxy   *proxy.Server
	startAt time.Time
}

// New constructs a Server. proxy may be nil in tests that don't exercise
// /health's client count.
func New(st *store.Store, px *proxy.Server) *Server {
	return &Server{store: st, proxy: px, startAt: time.Now()}
}

// Register attaches routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/positions/{user}", s.handlePositions)
	mux.HandleFunc("GET /api/holdings/{user}", s.handleHoldings)
	mux.HandleFunc("GET /api/funds/{user}", s.handleFunds)
	mux.HandleFunc("GET /api/orders/{user}", s.handleOrders)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	all, err := s.store.ListOpenPositions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]any, 0, len(all))
	for _, p := range all {
		if p.UserID == user {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	out, err := s.store.ListHoldings(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFunds(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	f, err := s.store.GetFunds(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "no funds row for user "+user)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	groups, err := s.store.OpenOrdersGrouped(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var out []any
	for _, orders := range groups {
		for _, o := range orders {
			if o.UserID == user {
				out = append(out, o)
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if s.proxy != nil {
		clients = s.proxy.ClientCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": clients,
		"uptime":  time.Since(s.startAt).String(),
	})
}
