package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lightdaemon/lightd/pkg/lightderr"
)

func (s *Server) mountNetwork(r chi.Router) {
	r.Route("/network/ports", func(pr chi.Router) {
		pr.Get("/", s.handleListPorts)
		pr.Post("/", s.handleAddPort)
		pr.Post("/bulk", s.handleBulkAddPorts)
		pr.Get("/available", s.handleListAvailablePorts)
		pr.Get("/random", s.handleRandomAvailablePort)

		pr.Route("/{id}", func(ir chi.Router) {
			ir.Get("/", s.handleGetPort)
			ir.Delete("/", s.handleDeletePort)
			ir.Post("/release", s.handleReleasePort)
		})
	})
}

type addPortRequest struct {
	IP       string `json:"ip"`
	Port     uint16 `json:"port"`
	Protocol string `json:"protocol"`
}

func (s *Server) handleAddPort(w http.ResponseWriter, r *http.Request) {
	var req addPortRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.deps.PortPool.Add(req.IP, req.Port, req.Protocol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleBulkAddPorts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ports []addPortRequest `json:"ports"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Ports) == 0 {
		writeError(w, lightderr.New(lightderr.Validation, "ports must not be empty"))
		return
	}
	for _, p := range req.Ports {
		if _, err := s.deps.PortPool.Add(p.IP, p.Port, p.Protocol); err != nil {
			writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleListPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := s.deps.PortPool.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ports)
}

func (s *Server) handleListAvailablePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := s.deps.PortPool.ListAvailable()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ports)
}

func (s *Server) handleRandomAvailablePort(w http.ResponseWriter, r *http.Request) {
	port, err := s.deps.PortPool.GetRandomAvailable()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, port)
}

func (s *Server) handleGetPort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	port, err := s.deps.PortPool.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, port)
}

func (s *Server) handleDeletePort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.PortPool.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReleasePort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.PortPool.ReturnToPool(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
