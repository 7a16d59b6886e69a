package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/admission"
)

const defaultChatTool = "claude"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// splitChatModel maps "tool/model" onto a tool id and an optional model.
func splitChatModel(value string) (tool, model string) {
	value = strings.TrimSpace(value)
	tool, model, _ = strings.Cut(value, "/")
	if tool == "" {
		tool = defaultChatTool
	}
	return tool, strings.TrimSpace(model)
}

// lastUserPrompt returns the content of the last user message. Content may
// be a string or a list of typed parts; text parts are concatenated.
func lastUserPrompt(messages gjson.Result) string {
	var prompt string
	messages.ForEach(func(_, message gjson.Result) bool {
		if message.Get("role").String() != "user" {
			return true
		}
		content := message.Get("content")
		switch {
		case content.Type == gjson.String:
			prompt = content.Str
		case content.IsArray():
			var parts []string
			content.ForEach(func(_, part gjson.Result) bool {
				if part.Type == gjson.String {
					parts = append(parts, part.Str)
				} else if text := part.Get("text"); text.Type == gjson.String {
					parts = append(parts, text.Str)
				}
				return true
			})
			prompt = strings.Join(parts, "\n")
		default:
			prompt = ""
		}
		return true
	})
	return prompt
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || (len(body) > 0 && !gjson.ValidBytes(body)) {
		writeChatError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	toolID, model := splitChatModel(gjson.GetBytes(body, "model").String())
	prompt := lastUserPrompt(gjson.GetBytes(body, "messages"))
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "No prompt provided")
		return
	}

	canonical, err := s.admission.Admit(admission.Request{Tool: toolID, Prompt: prompt, Model: model})
	if err != nil {
		writeChatError(w, statusFor(err), domain.MessageFrom(err))
		return
	}
	result, err := s.executor.Execute(r.Context(), domain.ExecutionRequest{
		Tool:   toolID,
		Model:  canonical,
		Prompt: prompt,
	})
	if r.Context().Err() != nil {
		return
	}
	if err != nil {
		writeChatError(w, statusFor(err), domain.MessageFrom(err))
		return
	}

	writeJSON(w, http.StatusOK, chatCompletion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: s.now().Unix(),
		Model:   toolID,
		Choices: []chatChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: result.Output},
			FinishReason: "stop",
		}},
	})
}

func writeChatError(w http.ResponseWriter, status int, message string) {
	var body chatErrorBody
	body.Error.Message = message
	writeJSON(w, status, body)
}
