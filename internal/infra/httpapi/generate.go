package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/admission"
	"cliproxy/internal/infra/stream"
	"cliproxy/internal/infra/telemetry"
)

type generateRequest struct {
	Tool    string
	Model   string
	Prompt  string
	Timeout time.Duration
	Stream  bool
}

type generateResponse struct {
	Success   bool            `json:"success"`
	Result    string          `json:"result"`
	Tool      string          `json:"tool"`
	Mode      domain.ToolMode `json:"mode"`
	Model     string          `json:"model"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// parseGenerateRequest reads the body leniently: stream may be a boolean or
// "true", and timeout is milliseconds given as a number or numeric string.
func parseGenerateRequest(w http.ResponseWriter, r *http.Request) (generateRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		if isBodyTooLarge(err) {
			return generateRequest{}, domain.E(domain.CodeInvalidArgument, "http.generate", "Request body too large", err)
		}
		return generateRequest{}, domain.E(domain.CodeInvalidArgument, "http.generate", "Failed to read request body", err)
	}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		return generateRequest{}, domain.E(domain.CodeInvalidArgument, "http.generate", "Invalid JSON body", nil)
	}
	fields := gjson.GetManyBytes(body, "tool", "model", "prompt", "timeout", "stream")
	req := generateRequest{
		Tool:   stringField(fields[0]),
		Model:  stringField(fields[1]),
		Prompt: stringField(fields[2]),
	}
	if ms := fields[3].Float(); ms > 0 {
		req.Timeout = time.Duration(ms * float64(time.Millisecond))
	}
	switch fields[4].Type {
	case gjson.True:
		req.Stream = true
	case gjson.String:
		req.Stream = fields[4].Str == "true"
	}
	if r.URL.Query().Get("stream") == "true" {
		req.Stream = true
	}
	return req, nil
}

func stringField(value gjson.Result) string {
	if value.Type != gjson.String {
		return ""
	}
	return value.Str
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := parseGenerateRequest(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	model, err := s.admission.Admit(admission.Request{Tool: req.Tool, Prompt: req.Prompt, Model: req.Model})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	tool, err := s.registry.Get(req.Tool)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.availability != nil {
		if status := s.availability.Check(r.Context(), tool, false); !status.Available {
			message := status.Error
			if message == "" {
				message = tool.Descriptor().ID + " is not available"
			}
			writeDomainError(w, domain.E(domain.CodeToolUnavailable, "http.generate", message, nil))
			return
		}
	}

	execReq := domain.ExecutionRequest{
		Tool:    req.Tool,
		Model:   model,
		Prompt:  req.Prompt,
		Timeout: req.Timeout,
		Stream:  req.Stream,
	}
	if req.Stream {
		s.streamGenerate(w, r, execReq)
		return
	}

	result, err := s.executor.Execute(r.Context(), execReq)
	if r.Context().Err() != nil {
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Success:   true,
		Result:    result.Output,
		Tool:      result.Tool,
		Mode:      result.Mode,
		Model:     result.Model,
		ElapsedMs: result.Elapsed.Milliseconds(),
	})
}

func (s *Server) streamGenerate(w http.ResponseWriter, r *http.Request, req domain.ExecutionRequest) {
	ctx := r.Context()
	sse, err := stream.NewWriter(ctx, w)
	if err != nil {
		writeDomainError(w, domain.E(domain.CodeInternal, "http.generate", "Streaming is not supported by this connection", err))
		return
	}
	events, err := s.executor.Stream(ctx, req)
	sse.Start()
	if err != nil {
		stream.Reject(sse, err)
		return
	}
	if streamErr := stream.Relay(events, sse); streamErr != nil && !errors.Is(streamErr, domain.ErrAborted) {
		telemetry.LoggerWithRequest(ctx, s.logger).Debug("stream ended with error",
			telemetry.ToolField(req.Tool),
			zap.Error(streamErr),
		)
	}
}
