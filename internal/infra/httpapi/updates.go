package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"cliproxy/internal/domain"
)

type updateRequest struct {
	Target string `json:"target"`
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	force := queryFlag(r.URL.Query().Get("force"))
	writeJSON(w, http.StatusOK, s.updates.Check(r.Context(), force))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := readJSONBody(w, r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	outcome, err := s.applier.Apply(r.Context(), strings.TrimSpace(req.Target))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleCleanup accepts JSON sent as text/plain, which the host application
// uses to avoid a CORS preflight. An unparsable body counts as empty.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	var req domain.CleanupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		req = domain.CleanupRequest{}
	}
	result, err := s.cleaner.Cleanup(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func readJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		if isBodyTooLarge(err) {
			return domain.E(domain.CodeInvalidArgument, "http.body", "Request body too large", err)
		}
		return domain.E(domain.CodeInvalidArgument, "http.body", "Failed to read request body", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.E(domain.CodeInvalidArgument, "http.body", "Invalid JSON body", err)
	}
	return nil
}
