package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dentprep/exam-service/internal/services"
	"github.com/dentprep/exam-service/internal/utils"
)

// multipartOverhead is allowed on top of the document limit for form fields
// and boundaries.
const multipartOverhead = 64 << 10

type DocumentHandler struct {
	BaseHandler
	service  services.DocumentService
	maxBytes int64
}

func NewDocumentHandler(service services.DocumentService, maxBytes int64, logger utils.Logger) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = services.DefaultMaxUploadBytes
	}
	return &DocumentHandler{
		BaseHandler: NewBaseHandler(logger),
		service:     service,
		maxBytes:    maxBytes,
	}
}

// UploadDocument stores a study document
// @Summary Upload document
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "UTF-8 text document"
// @Param title formData string false "Title, defaults to the file name"
// @Param subject_id formData int false "Subject"
// @Success 201 {object} models.StudyDocument
// @Failure 413 {object} ErrorResponse
// @Router /documents [post]
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.handleServiceError(c, services.ErrDocumentTooLarge)
			return
		}
		h.badRequest(c, "A file field is required", err)
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(fileHeader.Filename, filepath.Ext(fileHeader.Filename))
	}

	var subjectID *uint
	if raw := c.PostForm("subject_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || v == 0 {
			h.badRequest(c, "Invalid subject_id", err)
			return
		}
		id := uint(v)
		subjectID = &id
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.badRequest(c, "Unable to read uploaded file", err)
		return
	}
	defer file.Close()

	h.LogRequest(c, "Uploading document", "filename", fileHeader.Filename, "size", fileHeader.Size)

	doc, err := h.service.Upload(c.Request.Context(), userID, &services.UploadDocumentInput{
		Title:       title,
		ContentType: fileHeader.Header.Get("Content-Type"),
		SubjectID:   subjectID,
		Size:        fileHeader.Size,
		Content:     file,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// ListDocuments lists the caller's documents
// @Summary List documents
// @Tags documents
// @Produce json
// @Success 200 {object} ListResponse
// @Router /documents [get]
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	limit, offset := h.parsePagination(c)

	docs, total, err := h.service.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: docs, Total: total, Limit: limit, Offset: offset})
}

// GetDocument returns document metadata
// @Summary Get document
// @Tags documents
// @Produce json
// @Param id path uint true "Document ID"
// @Success 200 {object} models.StudyDocument
// @Router /documents/{id} [get]
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	doc, err := h.service.Get(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// DownloadDocument streams the stored document
// @Summary Download document
// @Tags documents
// @Produce octet-stream
// @Param id path uint true "Document ID"
// @Success 200 {file} binary
// @Router /documents/{id}/download [get]
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	doc, rc, err := h.service.Download(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Title+".txt"))
	c.Header("Content-Type", doc.ContentType)
	c.Header("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.LogError(c, err, "Failed to stream document", "document_id", id)
	}
}

// DeleteDocument removes a document and its stored content
// @Summary Delete document
// @Tags documents
// @Param id path uint true "Document ID"
// @Success 204
// @Router /documents/{id} [delete]
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
