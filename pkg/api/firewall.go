package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lightdaemon/lightd/pkg/types"
)

func (s *Server) mountFirewall(r chi.Router) {
	r.Route("/firewall/{containerID}", func(cr chi.Router) {
		cr.Get("/rules", s.handleListFirewallRules)
		cr.Post("/rules", s.handleAddFirewallRule)
		cr.Get("/ddos", s.handleGetDDoS)
		cr.Post("/ddos", s.handleEnableDDoS)
	})
	r.Route("/firewall/rules/{ruleID}", func(rr chi.Router) {
		rr.Delete("/", s.handleRemoveFirewallRule)
		rr.Post("/toggle", s.handleToggleFirewallRule)
	})
}

func (s *Server) handleListFirewallRules(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerID")
	rules, err := s.deps.Firewall.ListForContainer(containerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleAddFirewallRule(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerID")
	var rule types.FirewallRule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, err)
		return
	}
	rule.ContainerID = containerID
	if err := s.deps.Firewall.AddRule(&rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleRemoveFirewallRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleID")
	if err := s.deps.Firewall.RemoveRule(ruleID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleFirewallRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleID")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Firewall.ToggleRule(ruleID, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetDDoS(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerID")
	profile, err := s.deps.Firewall.GetDDoSProtection(containerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleEnableDDoS(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerID")
	var profile types.DDoSProtection
	if err := decodeJSON(r, &profile); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Firewall.EnableDDoSProtection(containerID, &profile); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
