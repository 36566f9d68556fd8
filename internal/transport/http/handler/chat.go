package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"studyrag/internal/app"
	"studyrag/internal/model"
	"studyrag/internal/transport/http/middleware"
	"studyrag/internal/transport/http/response"
)

type ChatHandler struct {
	ragService *app.RAGService
}

type ChatCompletionRequest struct {
	UserID         string              `json:"userId" binding:"required"`
	Messages       []model.ChatMessage `json:"messages" binding:"required,min=1"`
	IsUseKnowledge bool                `json:"isUseKnowledge"`
	CourseID       string              `json:"courseId"`
	CourseTitle    string              `json:"courseTitle"`
}

func NewChatHandler(ragService *app.RAGService) *ChatHandler {
	return &ChatHandler{ragService: ragService}
}

func (h *ChatHandler) Completions(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "identity missing")
		return
	}

	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.ragService.Chat(c.Request.Context(), identity, chatInput(req))
	if err != nil {
		writePipelineError(c, err, "chat completion failed")
		return
	}

	response.OK(c, result)
}

// StreamingCompletions streams the completion as SSE: one "data:" event per
// text increment, then a terminal "done" event carrying the citations.
// Closing the connection cancels the request context and stops generation.
func (h *ChatHandler) StreamingCompletions(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "identity missing")
		return
	}

	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	// Authorization, validation and retrieval run before the response
	// commits, so their failures carry real status codes. Only generation
	// failures fall back to the in-stream error event.
	stream, err := h.ragService.OpenChatStream(c.Request.Context(), identity, chatInput(req))
	if err != nil {
		writePipelineError(c, err, "chat completion failed")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	result, err := stream.Run(c.Request.Context(), func(chunk string) error {
		if _, writeErr := c.Writer.Write([]byte("data: " + sanitizeSSE(chunk) + "\n\n")); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if c.Request.Context().Err() != nil {
			return
		}
		// Headers are committed once streaming starts; generation
		// failures can only be reported in-stream.
		if _, writeErr := c.Writer.Write([]byte("event: error\ndata: upstream service unavailable, please retry\n\n")); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	terminal, _ := json.Marshal(gin.H{"sources": result.Sources})
	if _, writeErr := c.Writer.Write([]byte("event: done\ndata: " + string(terminal) + "\n\n")); writeErr == nil {
		flusher.Flush()
	}
}

func chatInput(req ChatCompletionRequest) app.ChatInput {
	return app.ChatInput{
		OwnerSubjectID: req.UserID,
		Messages:       req.Messages,
		UseKnowledge:   req.IsUseKnowledge,
		CourseID:       req.CourseID,
		CourseTitle:    req.CourseTitle,
	}
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
