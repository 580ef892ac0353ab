package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/carverrun/internal/execution"
)

// Health statuses
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// writeJSON writes JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

// health handles GET /health. Any failing check or open breaker degrades
// the response to 503.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string, len(s.opts.Checks)),
		Circuits:  make(map[string]CircuitHealth, len(s.opts.Breakers)),
	}

	names := make([]string, 0, len(s.opts.Checks))
	for name := range s.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.opts.Checks[name](r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = StatusDegraded
			continue
		}
		resp.Checks[name] = StatusOK
	}

	for name, b := range s.opts.Breakers {
		counts := b.Counts()
		state := b.State()
		resp.Circuits[name] = CircuitHealth{
			Name:     name,
			State:    state.String(),
			Requests: counts.Requests,
			Failures: counts.TotalFailures,
		}
		if state == gobreaker.StateOpen {
			resp.Status = StatusDegraded
		}
	}

	if last, ok := s.opts.Store.Latest(); ok {
		resp.LastCycle = last.CycleID
		at := last.AsOf
		resp.LastCycleAt = &at
	}
	if s.opts.Hub != nil {
		resp.Clients = s.opts.Hub.Count()
	}

	status := http.StatusOK
	if resp.Status != StatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// targets handles GET /targets. ?trades=true keeps only rebalances.
func (s *Server) targets(w http.ResponseWriter, r *http.Request) {
	last, ok := s.opts.Store.Latest()
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "no_cycle", "No decision cycle has completed yet")
		return
	}

	targets := last.Targets
	if raw := r.URL.Query().Get("trades"); raw != "" {
		tradesOnly, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_parameter", "trades must be a boolean")
			return
		}
		if tradesOnly {
			targets = last.Trades()
		}
	}
	if targets == nil {
		targets = []execution.Target{}
	}

	writeJSON(w, http.StatusOK, TargetsResponse{
		CycleID: last.CycleID,
		AsOf:    last.AsOf,
		Targets: targets,
		Skipped: last.Skipped,
	})
}

// target handles GET /targets/{symbol}
func (s *Server) target(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	last, ok := s.opts.Store.Latest()
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "no_cycle", "No decision cycle has completed yet")
		return
	}
	t, ok := last.Target(symbol)
	if !ok {
		writeError(w, r, http.StatusNotFound, "symbol_not_found", "No target for symbol "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, TargetResponse{
		CycleID: last.CycleID,
		AsOf:    last.AsOf,
		Target:  t,
		Signals: last.Signals[symbol],
	})
}
