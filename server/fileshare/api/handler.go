package api

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	commonlog "akashshare/server/common/log"
	"akashshare/server/common/middleware"
	"akashshare/server/common/transport/httpresp"
	"akashshare/server/fileshare/domain"
	"akashshare/server/fileshare/service"
)

// multipartOverhead covers boundaries and part headers on top of the file itself.
const multipartOverhead = 64 * 1024

type Handler struct {
	files   *service.FileService
	limiter middleware.Limiter
}

func NewHandler(files *service.FileService, limiter middleware.Limiter) *Handler {
	return &Handler{files: files, limiter: limiter}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/upload", h.limit("upload"), h.upload)
	r.GET("/download/:code", h.limit("download"), h.download)
	r.GET("/preview/:code", h.limit("download"), h.preview)
}

func (h *Handler) limit(scope string) gin.HandlerFunc {
	if h.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RateLimit(scope, h.limiter)
}

func (h *Handler) upload(c *gin.Context) {
	if max := h.files.MaxFileBytes(); max > 0 {
		if c.Request.ContentLength > max+multipartOverhead {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrFileTooLarge))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max+multipartOverhead)
	}
	form, err := c.MultipartForm()
	if err != nil {
		if isBodyTooLarge(err) {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrFileTooLarge))
			return
		}
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrNoFileUploaded))
		return
	}
	defer func() { _ = form.RemoveAll() }()

	total := 0
	for _, headers := range form.File {
		total += len(headers)
	}
	files := form.File["file"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrNoFileUploaded))
		return
	}
	if total > 1 {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrMultipleFiles))
		return
	}

	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		commonlog.Errorf("event=http_upload action=open_part status=failed err=%v", err)
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrUploadFailed))
		return
	}
	defer f.Close()

	rec, err := h.files.Upload(c.Request.Context(), service.UploadInput{
		Filename: fh.Filename,
		Size:     fh.Size,
		Body:     f,
	})
	if err != nil {
		writeError(c, err, httpresp.ErrUploadFailed)
		return
	}
	c.JSON(http.StatusCreated, httpresp.NewUploadResponse(rec.Code, rec.DisplayName, rec.SizeBytes, rec.ExpiresAt))
}

func (h *Handler) download(c *gin.Context) {
	rec, rc, err := h.files.Download(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err, httpresp.ErrDownloadFailed)
		return
	}
	defer rc.Close()

	etag := `"` + rec.Checksum + `"`
	if rec.Checksum != "" && c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	extra := map[string]string{
		"Content-Disposition": contentDisposition(rec.DisplayName),
		"Cache-Control":       "private, no-store",
	}
	if rec.Checksum != "" {
		extra["ETag"] = etag
	}
	c.DataFromReader(http.StatusOK, rec.SizeBytes, rec.MimeType, rc, extra)
}

func (h *Handler) preview(c *gin.Context) {
	thumb, err := h.files.Preview(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err, httpresp.ErrDownloadFailed)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/jpeg", thumb)
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrFileTooLarge):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrFileTooLarge))
	case errors.Is(err, domain.ErrTypeNotAllowed):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrFileTypeNotAllowed))
	case errors.Is(err, domain.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidCodeFormat))
	case domain.IsValidation(err):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrFileNotFound))
	case errors.Is(err, domain.ErrNotImage):
		c.JSON(http.StatusUnsupportedMediaType, httpresp.NewErrorResponse(httpresp.ErrNotAnImage))
	case errors.Is(err, domain.ErrExhaustedRetries):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse(httpresp.ErrCodeSpaceBusy))
	default:
		commonlog.Errorf("event=http_file action=%s status=failed err=%v", c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(fallback))
	}
}

func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
