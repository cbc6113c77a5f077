package handler

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/wall/internal/storage"
	"github.com/d60-Lab/wall/pkg/response"
)

type uploadResponse struct {
	Path        string `json:"path"`
	Bucket      string `json:"bucket"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// UploadObject 上传对象（请求体即文件内容）
// @Summary 上传对象
// @Tags 存储
// @Accept image/jpeg,image/png,image/gif
// @Produce json
// @Param bucket path string true "桶"
// @Param key path string true "对象键"
// @Success 201 {object} response.Response{data=uploadResponse}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 413 {object} response.Response
// @Failure 415 {object} response.Response
// @Router /storage/v1/object/{bucket}/{key} [post]
func (h *Handler) UploadObject(c *gin.Context) {
	bucket, key := c.Param("bucket"), strings.TrimPrefix(c.Param("key"), "/")

	if declared := c.GetHeader("Content-Type"); declared != "" && len(h.allowedTypes) > 0 {
		mt, _, err := mime.ParseMediaType(declared)
		if err != nil || !contains(h.allowedTypes, mt) {
			response.UnsupportedMediaType(c, fmt.Sprintf("content type %q not allowed", declared))
			return
		}
	}
	if c.Request.ContentLength > h.store.MaxSize() {
		response.TooLarge(c, fmt.Sprintf("object exceeds %d bytes", h.store.MaxSize()))
		return
	}

	obj, err := h.store.Put(bucket, key, c.Request.Body)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrInvalidKey):
		response.BadRequest(c, err.Error())
		return
	case errors.Is(err, storage.ErrObjectExists):
		response.Conflict(c, "The resource already exists")
		return
	case errors.Is(err, storage.ErrTooLarge):
		response.TooLarge(c, fmt.Sprintf("object exceeds %d bytes", h.store.MaxSize()))
		return
	case errors.Is(err, storage.ErrUnsupportedType):
		response.UnsupportedMediaType(c, err.Error())
		return
	default:
		response.InternalError(c, err)
		return
	}

	response.Created(c, uploadResponse{Path: obj.Path(), Bucket: obj.Bucket, Size: obj.Size, ContentType: obj.ContentType})
}

// GetObject 公开读取对象
// @Summary 读取对象
// @Tags 存储
// @Param bucket path string true "桶"
// @Param key path string true "对象键"
// @Success 200
// @Failure 404 {object} response.Response
// @Router /storage/v1/object/public/{bucket}/{key} [get]
func (h *Handler) GetObject(c *gin.Context) {
	bucket, key := c.Param("bucket"), strings.TrimPrefix(c.Param("key"), "/")
	f, obj, err := h.store.Open(bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			response.NotFound(c, "object not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.Header("Content-Type", obj.ContentType)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(c.Writer, c.Request, key, st.ModTime(), f)
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
