package httpapi

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"cliproxy/internal/domain"
)

type toolHealth struct {
	domain.Availability
	Mode domain.ToolMode `json:"mode"`
}

type healthResponse struct {
	Status          string                `json:"status"`
	Version         string                `json:"version"`
	Tools           map[string]toolHealth `json:"tools"`
	UpdateAvailable bool                  `json:"updateAvailable"`
	LatestVersion   string                `json:"latestVersion"`
}

type toolSummary struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Mode         domain.ToolMode `json:"mode"`
	DefaultModel string          `json:"defaultModel"`
	Available    bool            `json:"available"`
	Error        string          `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tools := s.registry.List()
	results := s.probeAll(r.Context(), tools, s.probeTimeout)

	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		Tools:         make(map[string]toolHealth, len(tools)),
		LatestVersion: s.version,
	}
	for i, tool := range tools {
		desc := tool.Descriptor()
		resp.Tools[desc.ID] = toolHealth{Availability: results[i], Mode: desc.Mode}
	}
	if s.updates != nil {
		if status, ok := s.updates.Cached(); ok {
			resp.UpdateAvailable = status.HasUpdates
			if status.Proxy != nil && status.Proxy.Latest != "" {
				resp.LatestVersion = status.Proxy.Latest
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := s.registry.List()
	results := s.probeAll(r.Context(), tools, 0)

	summaries := make([]toolSummary, 0, len(tools))
	for i, tool := range tools {
		desc := tool.Descriptor()
		name := desc.Command
		if name == "" {
			name = desc.Name
		}
		summaries = append(summaries, toolSummary{
			ID:           desc.ID,
			Name:         name,
			Mode:         desc.Mode,
			DefaultModel: desc.DefaultModel,
			Available:    results[i].Available,
			Error:        results[i].Error,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": summaries})
}

// probeAll checks every tool concurrently. With a positive timeout a probe
// that has not answered in time is reported as unavailable while it keeps
// running in the background.
func (s *Server) probeAll(ctx context.Context, tools []domain.Tool, timeout time.Duration) []domain.Availability {
	results := make([]domain.Availability, len(tools))
	var group errgroup.Group
	for i, tool := range tools {
		group.Go(func() error {
			results[i] = s.probe(ctx, tool, timeout)
			return nil
		})
	}
	_ = group.Wait()
	return results
}

func (s *Server) probe(ctx context.Context, tool domain.Tool, timeout time.Duration) domain.Availability {
	if s.availability == nil {
		return tool.Probe(ctx)
	}
	if timeout <= 0 {
		return s.availability.Check(ctx, tool, false)
	}

	done := make(chan domain.Availability, 1)
	go func() {
		done <- s.availability.Check(context.WithoutCancel(ctx), tool, false)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-done:
		return result
	case <-timer.C:
		return domain.Availability{Available: false, Error: "Health check timed out"}
	case <-ctx.Done():
		return domain.Availability{Available: false, Error: "Check failed"}
	}
}
