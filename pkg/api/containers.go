package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/power"
	"github.com/lightdaemon/lightd/pkg/types"
	"github.com/lightdaemon/lightd/pkg/update"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (s *Server) mountContainers(r chi.Router) {
	r.Route("/containers", func(cr chi.Router) {
		cr.Post("/", s.handleCreateContainer)
		cr.Get("/", s.handleListContainers)

		cr.Route("/{id}", func(ir chi.Router) {
			ir.Get("/", s.handleGetContainer)
			ir.Delete("/", s.handleDeleteContainer)
			ir.Get("/status", s.handleContainerStatus)
			ir.Post("/reinstall", s.handleReinstall)
			ir.Post("/repair", s.handleRepair)
			ir.Post("/validate", s.handleValidate)
			ir.Post("/start", s.handlePower(power.ActionStart))
			ir.Post("/kill", s.handlePower(power.ActionKill))
			ir.Post("/restart", s.handlePower(power.ActionRestart))
			ir.Post("/rebind-network", s.handleRebindNetwork)
			ir.Put("/resources", s.handleUpdateResources)
			ir.Get("/resources", s.handleGetResources)
			ir.Put("/volumes", s.handleUpdateVolumes)
			ir.Put("/start-pattern", s.handleUpdateStartPattern)
		})
	})
}

// requestedPort names the container-side port and protocol a creation
// request wants published; the host port is assigned by the Port Pool, not
// the caller.
type requestedPort struct {
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
}

type createContainerRequest struct {
	InternalID     string            `json:"internal_id"`
	VolumeID       string            `json:"volume_id"`
	Image          string            `json:"image"`
	StartupCommand string            `json:"startup_command"`
	InstallScript  string            `json:"install_script"`
	Mount          map[string]string `json:"mount"`
	Limits         types.ResourceLimits `json:"limits"`
	Ports          []requestedPort   `json:"ports"`
}

func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var req createContainerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.InternalID == "" {
		writeError(w, lightderr.New(lightderr.Validation, "internal_id is required"))
		return
	}
	if req.Image == "" {
		writeError(w, lightderr.New(lightderr.Validation, "image is required"))
		return
	}
	for _, p := range req.Ports {
		if p.Protocol != "tcp" && p.Protocol != "udp" {
			writeError(w, lightderr.New(lightderr.Validation, "protocol must be tcp or udp"))
			return
		}
	}

	ports, err := s.allocatePorts(req.Ports)
	if err != nil {
		writeError(w, err)
		return
	}

	state, err := s.deps.Registry.Create(req.InternalID, req.VolumeID, req.Image, req.StartupCommand, req.Mount, req.Limits, ports)
	if err != nil {
		s.releaseBindings(ports)
		writeError(w, err)
		return
	}

	if err := s.deps.Lifecycle.Install(state.InternalID, req.Image, req.InstallScript); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, state)
}

// allocatePorts claims one pool entry per requested port, per §4.2's
// get_random_available/mark_in_use discipline. On any failure it releases
// everything already claimed before returning, so a partial allocation
// never leaks.
func (s *Server) allocatePorts(requested []requestedPort) ([]types.PortBinding, error) {
	if len(requested) == 0 {
		return nil, nil
	}
	bindings := make([]types.PortBinding, 0, len(requested))
	for _, rp := range requested {
		rec, err := s.deps.PortPool.Allocate(rp.Protocol)
		if err != nil {
			s.releaseBindings(bindings)
			return nil, err
		}
		bindings = append(bindings, types.PortBinding{
			ContainerPort: rp.ContainerPort,
			HostPort:      int(rec.Port),
			Protocol:      rp.Protocol,
		})
	}
	return bindings, nil
}

func (s *Server) releaseBindings(bindings []types.PortBinding) {
	for _, b := range bindings {
		if err := s.deps.PortPool.ReturnByHostPort(uint16(b.HostPort), b.Protocol); err != nil {
			log.WithComponent("api").Warn().Err(err).Int("host_port", b.HostPort).Msg("failed to release allocated port")
		}
	}
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.deps.Registry.List()
	if err != nil {
		writeError(w, err)
		return
	}

	offset := parseQueryInt(r, "offset", 0)
	limit := parseQueryInt(r, "limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	total := len(containers)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"containers": containers[offset:end],
		"total":      total,
		"offset":     offset,
		"limit":      limit,
	})
}

func parseQueryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.deps.Registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.deps.Registry.Delete(id)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, p := range state.Ports {
		if err := s.deps.PortPool.ReturnByHostPort(uint16(p.HostPort), p.Protocol); err != nil {
			log.WithContainer(id).Warn().Err(err).Int("host_port", p.HostPort).Msg("failed to return port on delete")
		}
	}
	s.deps.Firewall.CleanupContainer(id)
	s.deps.Billing.ClearContainer(id)
	s.deps.Hub.RemoveChannel(id)
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Healthy bool          `json:"healthy"`
	Issue   string        `json:"issue,omitempty"`
	State   *types.ContainerState `json:"state"`
}

func (s *Server) handleContainerStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	healthy, issue, err := s.deps.Registry.Validate(id)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := s.deps.Registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Healthy: healthy, Issue: string(issue), State: state})
}

type reinstallRequest struct {
	Image         string `json:"image"`
	InstallScript string `json:"install_script"`
}

func (s *Server) handleReinstall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req reinstallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Lifecycle.Reinstall(id, req.Image, req.InstallScript); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Image string `json:"image"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	repaired, err := s.deps.Lifecycle.Repair(id, req.Image)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"repaired": repaired})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inSync, err := s.deps.Lifecycle.VerifySync(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"in_sync": inSync})
}

func (s *Server) handlePower(action power.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.deps.Power.Execute(id, action); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

type rebindRequest struct {
	Ports []types.PortBinding `json:"ports"`
	Image string               `json:"image"`
}

func (s *Server) handleRebindNetwork(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rebindRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.NetRebind.Rebind(id, req.Ports, req.Image); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUpdateResources(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req update.ResourceLimits
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Update.UpdateResources(id, req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetResources(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limits, err := s.deps.Update.GetResources(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

func (s *Server) handleUpdateVolumes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Mounts map[string]string `json:"mounts"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Update.UpdateVolumes(id, req.Mounts); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUpdateStartPattern(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		StartPattern string `json:"start_pattern"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.deps.Registry.UpdateStartPattern(id, req.StartPattern); err != nil {
		writeError(w, err)
		return
	}
	if ch := s.deps.Hub.GetChannel(id); ch != nil {
		ch.SetStartPattern(req.StartPattern)
	}
	w.WriteHeader(http.StatusOK)
}
