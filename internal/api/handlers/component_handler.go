// server/internal/api/handlers/component_handler.go
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lab-booking-api-server/internal/inventory"
	"lab-booking-api-server/internal/s3"

	"github.com/gin-gonic/gin"
)

const maxImageSize = 5 << 20

// ImageUploader stores an image and returns its public URL.
type ImageUploader interface {
	UploadFile(ctx context.Context, file io.Reader, objectKey, contentType string) (string, error)
}

type ComponentHandler struct {
	Ledger   *inventory.Ledger
	Uploader ImageUploader
	Log      *slog.Logger
}

type RestockRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}

func (h *ComponentHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Component not found"})
	case errors.Is(err, inventory.ErrInvalidComponent), errors.Is(err, inventory.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.Log.Error("component request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process component"})
	}
}

// ListComponents trả về toàn bộ linh kiện, hoặc lọc theo ?q=
func (h *ComponentHandler) ListComponents(c *gin.Context) {
	components, err := h.Ledger.SearchComponents(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, components)
}

func (h *ComponentHandler) GetComponent(c *gin.Context) {
	component, err := h.Ledger.GetComponent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, component)
}

func (h *ComponentHandler) CreateComponent(c *gin.Context) {
	var req inventory.NewComponent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	component, err := h.Ledger.AddComponent(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, component)
}

func (h *ComponentHandler) UpdateComponent(c *gin.Context) {
	var patch inventory.ComponentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	component, err := h.Ledger.UpdateComponent(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, component)
}

func (h *ComponentHandler) RestockComponent(c *gin.Context) {
	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	component, err := h.Ledger.Restock(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, component)
}

// UploadImage nhận file ảnh (multipart, field "image"), đẩy lên S3 và lưu URL.
func (h *ComponentHandler) UploadImage(c *gin.Context) {
	if h.Uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Image storage is not configured"})
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()

	// fail fast before uploading anything for an unknown component
	if _, err := h.Ledger.GetComponent(ctx, id); err != nil {
		h.fail(c, err)
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Image file is required"})
		return
	}
	if fileHeader.Size > maxImageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image must be at most 5MB"})
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File must be an image"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open uploaded file"})
		return
	}
	defer file.Close()

	key := s3.ComponentImageKey(id, fileHeader.Filename, time.Now())
	url, err := h.Uploader.UploadFile(ctx, file, key, contentType)
	if err != nil {
		h.Log.Error("image upload failed", "component", id, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to upload image"})
		return
	}

	component, err := h.Ledger.SetImage(ctx, id, url)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, component)
}
