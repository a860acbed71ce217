package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lightdaemon/lightd/pkg/types"
)

func (s *Server) mountBilling(r chi.Router) {
	r.Route("/billing", func(br chi.Router) {
		br.Get("/rates", s.handleGetRates)
		br.Put("/rates", s.handleUpdateRates)
		br.Get("/containers", s.handleTrackedContainers)
		br.Get("/{containerID}/usage", s.handleUsageSnapshot)
		br.Get("/{containerID}/cost", s.handleEstimatedCost)
	})
}

func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Billing.GetRates())
}

func (s *Server) handleUpdateRates(w http.ResponseWriter, r *http.Request) {
	var rates types.BillingRates
	if err := decodeJSON(r, &rates); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Billing.UpdateRates(rates)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTrackedContainers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Billing.TrackedContainers())
}

func (s *Server) durationHours(r *http.Request) float64 {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return 1.0
	}
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil || hours <= 0 {
		return 1.0
	}
	return hours
}

func (s *Server) handleUsageSnapshot(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerID")
	snapshot, err := s.deps.Billing.GetUsageSnapshot(containerID, s.durationHours(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleEstimatedCost(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerID")
	snapshot, err := s.deps.Billing.GetUsageSnapshot(containerID, s.durationHours(r))
	if err != nil {
		writeError(w, err)
		return
	}
	cost := s.deps.Billing.CalculateCost(snapshot)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"usage": snapshot,
		"estimated_cost": cost,
	})
}
