package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/matzehuels/depscan/pkg/errors"
	"github.com/matzehuels/depscan/pkg/lookup"
	"github.com/matzehuels/depscan/pkg/manifest"
)

type submitRequest struct {
	Input    *string `json:"input"`
	UseCache *bool   `json:"useCache"`
}

type submitResponse struct {
	ID         string `json:"id"`
	Generation uint64 `json:"generation"`
	Packages   int    `json:"packages"`
}

type stateResponse struct {
	lookup.Snapshot
	Filtered []lookup.Result `json:"filtered"`
	Counts   lookup.Counts   `json:"counts"`
}

type searchRequest struct {
	Search string `json:"search"`
}

type cacheModeRequest struct {
	UseCache *bool `json:"useCache"`
}

// handleSubmit accepts either the raw manifest text or a JSON envelope with
// an "input" field. A JSON body without "input" is taken as the manifest
// itself, so a package.json can be posted as is.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "read request body"))
		return
	}

	input := string(body)
	if isJSON(r) {
		var req submitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid JSON body"))
			return
		}
		if req.Input != nil {
			input = *req.Input
			if req.UseCache != nil {
				s.orch.SetUseCache(*req.UseCache)
			}
		}
	}

	sub, err := s.orch.Start(s.baseCtx, input)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("submission started", "id", sub.ID, "generation", sub.Generation, "packages", sub.Packages)
	writeJSON(w, http.StatusAccepted, submitResponse{
		ID:         sub.ID,
		Generation: sub.Generation,
		Packages:   sub.Packages,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := manifest.ParseKind(q.Get("kind"))
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid kind"))
		return
	}

	snap := s.orch.Snapshot()
	if q.Has("q") {
		snap.Search = q.Get("q")
	}
	filtered := snap.FilteredKind(kind)
	if filtered == nil {
		filtered = []lookup.Result{}
	}
	writeJSON(w, http.StatusOK, stateResponse{
		Snapshot: snap,
		Filtered: filtered,
		Counts:   snap.Counts(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.orch.SetSearch(req.Search)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheMode(w http.ResponseWriter, r *http.Request) {
	var req cacheModeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UseCache == nil {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "useCache is required"))
		return
	}
	s.orch.SetUseCache(*req.UseCache)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r, s.orch.Snapshot)
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid JSON body"))
		return false
	}
	return true
}
