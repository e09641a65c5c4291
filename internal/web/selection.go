package web

import (
	"net/http"
	"strings"
)

type selectionResponse struct {
	Active bool     `json:"active"`
	IDs    []string `json:"ids"`
}

type selectionRequest struct {
	// Active switches selection mode; nil leaves it unchanged.
	Active *bool    `json:"active"`
	IDs    []string `json:"ids"`
}

type commitResponse struct {
	Succeeded  []string `json:"succeeded"`
	Failed     []string `json:"failed"`
	Unresolved []string `json:"unresolved"`
	Chunks     int      `json:"chunks"`
	Error      string   `json:"error,omitempty"`
}

func (s *Server) selectionState() selectionResponse {
	sel := s.deps.Session.Selection()
	return selectionResponse{Active: sel.Active(), IDs: sel.Selected()}
}

func (s *Server) handleGetSelection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.selectionState())
}

// handlePostSelection switches the mode and adds ids.
func (s *Server) handlePostSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sel := s.deps.Session.Selection()
	if req.Active != nil {
		sel.SetMode(*req.Active)
	}
	sel.Select(req.IDs...)
	writeJSON(w, http.StatusOK, s.selectionState())
}

func (s *Server) handleClearSelection(w http.ResponseWriter, _ *http.Request) {
	s.deps.Session.Selection().Clear()
	writeJSON(w, http.StatusOK, s.selectionState())
}

// POST /api/selection/toggle?id=
func (s *Server) handleToggleSelection(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	s.deps.Session.Selection().Toggle(id)
	writeJSON(w, http.StatusOK, s.selectionState())
}

// handleCommitSelection deletes the selection in chunks. A partial failure
// answers 502 with the per-id outcome.
func (s *Server) handleCommitSelection(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Session.CommitSelection(r.Context())
	resp := commitResponse{
		Succeeded:  nonNil(res.Succeeded),
		Failed:     nonNil(res.Failed),
		Unresolved: nonNil(res.Unresolved),
		Chunks:     res.Chunks,
	}
	status := http.StatusOK
	if err := res.Err(); err != nil {
		resp.Error = err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
