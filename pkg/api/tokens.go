package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lightdaemon/lightd/pkg/lightderr"
)

const defaultTokenTTL = 60 * time.Second

func (s *Server) mountTokens(r chi.Router) {
	r.Post("/auth/tokens", s.handleGenerateToken)
}

type generateTokenRequest struct {
	TTLSeconds  int64 `json:"ttl_seconds"`
	RemoveOnUse bool  `json:"remove_on_use"`
}

func (s *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var req generateTokenRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	} else {
		req.RemoveOnUse = true
	}

	ttl := defaultTokenTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	if s.deps.TokenAuth == nil {
		writeError(w, lightderr.New(lightderr.Unsupported, "token issuance is disabled"))
		return
	}

	rec, err := s.deps.TokenAuth.Generate(ttl, req.RemoveOnUse)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
