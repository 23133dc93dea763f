package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telecare-server/internal/services"
	"telecare-server/internal/utils"
)

// DocumentHandler stores files attached to appointments.
type DocumentHandler struct {
	documents *services.DocumentService
	maxBytes  int64
	log       *zap.Logger
}

func NewDocumentHandler(documents *services.DocumentService, maxBytes int64, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxBytes: maxBytes, log: log}
}

// UploadDocument accepts a multipart form with the file in the "file" field.
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	appointmentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.BadRequest(c, "File upload error: "+err.Error())
		return
	}
	defer file.Close()

	// One byte past the limit is enough for the service to reject it.
	reader := io.Reader(file)
	if h.maxBytes > 0 {
		reader = io.LimitReader(file, h.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		utils.InternalServerError(c, "Failed to read file: "+err.Error())
		return
	}

	doc, err := h.documents.Upload(c.Request.Context(), who, appointmentID, services.UploadInput{
		FileName: header.Filename,
		FileType: header.Header.Get("Content-Type"),
		Data:     data,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Created(c, "Document uploaded successfully", doc)
}

// ListDocuments returns attachment metadata for an appointment.
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	appointmentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	docs, err := h.documents.List(c.Request.Context(), who, appointmentID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "Documents fetched successfully", docs)
}

// DownloadDocument streams the stored file back as an attachment.
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "documentId")
	if !ok {
		return
	}

	doc, err := h.documents.Get(c.Request.Context(), who, id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName})
	if disposition == "" {
		disposition = fmt.Sprintf("attachment; filename=%q", "document")
	}
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, doc.FileType, doc.FileData)
}
