package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"staffchat/internal/app"
	"staffchat/internal/transport/http/response"
)

const maxUploadSize = 50 << 20 // 50 MB

type DocumentHandler struct {
	documents *app.DocumentService
}

func NewDocumentHandler(documents *app.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

type PasteDocumentRequest struct {
	Name    string `json:"name"`
	Content string `json:"content" binding:"required"`
}

type ToggleDocumentRequest struct {
	Enabled bool `json:"enabled"`
}

// Upload accepts a multipart form with a "document" file field.
func (h *DocumentHandler) Upload(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	fileHeader, err := c.FormFile("document")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing document file")
		return
	}
	if fileHeader.Size > maxUploadSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "document exceeds size limit")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read upload failed")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil || int64(len(data)) > maxUploadSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read upload failed")
		return
	}

	doc, err := h.documents.Upload(user, c.Param("id"), fileHeader.Filename, fileHeader.Header.Get("Content-Type"), data)
	if err != nil {
		respondDocumentError(c, err, "upload document failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Paste(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req PasteDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	doc, err := h.documents.Paste(user, c.Param("id"), req.Name, req.Content)
	if err != nil {
		respondDocumentError(c, err, "paste document failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	views, err := h.documents.List(user, c.Param("id"))
	if err != nil {
		respondDocumentError(c, err, "list documents failed")
		return
	}
	response.OK(c, views)
}

// Status reports background parsing/indexing progress for one document.
func (h *DocumentHandler) Status(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	docID, ok := parseDocumentID(c)
	if !ok {
		return
	}

	status, err := h.documents.Status(user, c.Param("id"), docID)
	if err != nil {
		respondDocumentError(c, err, "get document status failed")
		return
	}
	if status == nil {
		response.OK(c, gin.H{"document_id": docID, "status": "unknown"})
		return
	}
	response.OK(c, status)
}

func (h *DocumentHandler) Toggle(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req ToggleDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	docID, ok := parseDocumentID(c)
	if !ok {
		return
	}

	if err := h.documents.SetEnabled(user, c.Param("id"), docID, req.Enabled); err != nil {
		respondDocumentError(c, err, "toggle document failed")
		return
	}
	response.OK(c, gin.H{"document_id": docID, "enabled": req.Enabled})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	user, ok := getUsernameFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	docID, ok := parseDocumentID(c)
	if !ok {
		return
	}

	if err := h.documents.Delete(c.Request.Context(), user, c.Param("id"), docID); err != nil {
		respondDocumentError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": docID})
}

func parseDocumentID(c *gin.Context) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param("doc_id"), 10, 64)
	if err != nil || id64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return 0, false
	}
	return uint(id64), true
}

func respondDocumentError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrEmptyDocument):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrChatNotFound):
		response.Error(c, http.StatusNotFound, response.CodeChatNotFound, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
