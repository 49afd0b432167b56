package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"pulse/internal/service/analysis"
)

const (
	uploadField = "file"
	// room for the multipart envelope around the file itself
	multipartOverhead = 1 << 20
)

func (h *Handler) createAnalysis(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.analysis.MaxUploadBytes()+multipartOverhead)

	fileHeader, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.analysisFailure(c, userID, analysis.ErrFileTooLarge)
			return
		}
		h.analysisFailure(c, userID, fmt.Errorf("%w: %v", analysis.ErrNoFile, err))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		h.analysisFailure(c, userID, fmt.Errorf("%w: open upload: %v", analysis.ErrNoFile, err))
		return
	}
	defer f.Close()

	record, err := h.analysis.Analyze(c.Request.Context(), userID, analysis.Upload{
		DeclaredType: fileHeader.Header.Get("Content-Type"),
		Filename:     fileHeader.Filename,
		Size:         fileHeader.Size,
		Content:      f,
	})
	if err != nil {
		h.analysisFailure(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) listHistory(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	records, err := h.analysis.History(c.Request.Context(), userID)
	if err != nil {
		h.analysisFailure(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) getAnalysis(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	record, err := h.analysis.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.analysisFailure(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) deleteAnalysis(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.analysis.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.analysisFailure(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "analysis deleted"})
}

// analysisFailure logs the full error and answers with a fixed message for
// its kind.
func (h *Handler) analysisFailure(c *gin.Context, userID int64, err error) {
	kind := analysis.KindOf(err)
	status, msg := failureResponse(err, h.analysis.MaxUploadBytes())
	log.Printf("[api] %s %s %s failed for user %d: kind=%s err=%v",
		RequestIDFromContext(c), c.Request.Method, c.FullPath(), userID, kind, err)
	c.JSON(status, gin.H{"msg": msg})
}

func failureResponse(err error, maxUploadBytes int64) (int, string) {
	switch {
	case errors.Is(err, analysis.ErrNoFile):
		return http.StatusBadRequest, "no file uploaded"
	case errors.Is(err, analysis.ErrUnsupportedType):
		return http.StatusBadRequest, "unsupported file type, upload a PDF, DOCX or TXT file"
	case errors.Is(err, analysis.ErrFileTooLarge):
		return http.StatusBadRequest, fmt.Sprintf("file exceeds the %s limit", sizeLabel(maxUploadBytes))
	case errors.Is(err, analysis.ErrInvalidFile):
		return http.StatusBadRequest, "file content does not match its type"
	case errors.Is(err, analysis.ErrExtractionFailed):
		return http.StatusBadRequest, "could not read text from the file"
	case errors.Is(err, analysis.ErrEmptyContent):
		return http.StatusBadRequest, "no readable text found in the file"
	case errors.Is(err, analysis.ErrTimeout):
		return http.StatusInternalServerError, "analysis timed out, please try again"
	case errors.Is(err, analysis.ErrAnalysisFailed):
		return http.StatusInternalServerError, "analysis failed, please try again"
	case errors.Is(err, analysis.ErrNotAuthorized):
		return http.StatusUnauthorized, "not authorized to modify this analysis"
	case errors.Is(err, analysis.ErrNotFound):
		return http.StatusNotFound, "analysis not found"
	case errors.Is(err, analysis.ErrStorage):
		return http.StatusInternalServerError, "could not access saved analyses"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func sizeLabel(n int64) string {
	if n >= 1<<20 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d KB", n>>10)
}
