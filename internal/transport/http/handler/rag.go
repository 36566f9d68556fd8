package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"studyrag/internal/app"
	"studyrag/internal/pkg/pdfextract"
	"studyrag/internal/transport/http/middleware"
	"studyrag/internal/transport/http/response"
)

const maxPDFSize = 10 << 20 // 10 MB

type RAGHandler struct {
	ragService *app.RAGService
}

type IngestRequest struct {
	UserID      string `json:"userId" binding:"required"`
	DocumentID  string `json:"documentId" binding:"required"`
	Document    string `json:"document" binding:"required"`
	Title       string `json:"title"`
	CourseID    string `json:"courseId"`
	CourseTitle string `json:"courseTitle"`
}

type QuestionRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Query    string `json:"query" binding:"required"`
	CourseID string `json:"courseId"`
}

type DeleteDocumentRequest struct {
	UserID     string `json:"userId" binding:"required"`
	DocumentID string `json:"documentId" binding:"required"`
}

func NewRAGHandler(ragService *app.RAGService) *RAGHandler {
	return &RAGHandler{ragService: ragService}
}

func (h *RAGHandler) Ingest(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "identity missing")
		return
	}

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.ragService.Ingest(c.Request.Context(), identity, app.IngestInput{
		OwnerSubjectID: req.UserID,
		DocumentID:     req.DocumentID,
		Title:          req.Title,
		CourseID:       req.CourseID,
		CourseTitle:    req.CourseTitle,
		Text:           req.Document,
	})
	if err != nil {
		writePipelineError(c, err, "ingest failed")
		return
	}

	response.OK(c, gin.H{
		"status":           "done",
		"chunks_processed": result.ChunksProcessed,
	})
}

// IngestPDF accepts a multipart form with "file" (PDF) plus the ingest
// fields, extracts text and runs the same pipeline.
func (h *RAGHandler) IngestPDF(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "identity missing")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxPDFSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10MB)")
		return
	}
	if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are allowed")
		return
	}

	userID := c.PostForm("userId")
	documentID := c.PostForm("documentId")
	if userID == "" || documentID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "userId and documentId are required")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	text, err := pdfextract.ExtractText(f)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to extract text from PDF")
		return
	}
	if strings.TrimSpace(text) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "PDF contains no extractable text")
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}

	result, err := h.ragService.Ingest(c.Request.Context(), identity, app.IngestInput{
		OwnerSubjectID: userID,
		DocumentID:     documentID,
		Title:          title,
		CourseID:       c.PostForm("courseId"),
		CourseTitle:    c.PostForm("courseTitle"),
		Text:           text,
	})
	if err != nil {
		writePipelineError(c, err, "ingest failed")
		return
	}

	response.OK(c, gin.H{
		"status":           "done",
		"chunks_processed": result.ChunksProcessed,
	})
}

func (h *RAGHandler) Question(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "identity missing")
		return
	}

	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.ragService.Answer(c.Request.Context(), identity, app.AnswerInput{
		OwnerSubjectID: req.UserID,
		Query:          req.Query,
		CourseID:       req.CourseID,
	})
	if err != nil {
		writePipelineError(c, err, "question failed")
		return
	}

	response.OK(c, result)
}

func (h *RAGHandler) DeleteDocument(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "identity missing")
		return
	}

	var req DeleteDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.ragService.DeleteDocument(c.Request.Context(), identity, app.DeleteInput{
		OwnerSubjectID: req.UserID,
		DocumentID:     req.DocumentID,
	})
	if err != nil {
		writePipelineError(c, err, "delete document failed")
		return
	}

	response.OK(c, result)
}

func writePipelineError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrForbidden):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, "not allowed to access this partition")
	case errors.Is(err, app.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "no vectors found for this documentId")
	case errors.Is(err, app.ErrUpstream):
		response.Error(c, http.StatusBadGateway, response.CodeUpstream, "upstream service unavailable, please retry")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
