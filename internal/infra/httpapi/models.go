package httpapi

import (
	"net/http"
	"strings"
	"time"

	"cliproxy/internal/domain"
)

type allModelsResponse struct {
	Tools     map[string]domain.ModelCatalog `json:"tools"`
	FetchedAt time.Time                      `json:"fetched_at"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	toolID := strings.TrimSpace(query.Get("tool"))
	force := queryFlag(query.Get("refresh"))

	if toolID != "" {
		catalog, err := s.models.List(r.Context(), toolID, force)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, catalog)
		return
	}

	all, err := s.models.ListAll(r.Context(), force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allModelsResponse{Tools: all, FetchedAt: s.now().UTC()})
}

func queryFlag(value string) bool {
	return value == "1" || value == "true"
}
