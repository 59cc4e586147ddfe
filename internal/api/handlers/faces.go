package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/doorgate/internal/face"
	"github.com/your-org/doorgate/internal/storage"
	"github.com/your-org/doorgate/internal/vision"
	"github.com/your-org/doorgate/pkg/dto"
)

// FaceHandler manages reference enrollment: the administrative
// collaborator that adds, replaces and removes the face on file per uid.
type FaceHandler struct {
	store face.AdminStore
	minio *storage.MinIOStore // optional source-image archive
	// ExtractFn embeds the single face expected in an upload.
	ExtractFn func(imageData []byte) ([]float32, error)
}

func NewFaceHandler(store face.AdminStore, minio *storage.MinIOStore) *FaceHandler {
	return &FaceHandler{store: store, minio: minio}
}

// Enroll accepts a multipart image upload and puts a reference face on
// file for the uid, replacing any previous one.
func (h *FaceHandler) Enroll(c *gin.Context) {
	uid := c.Param("uid")

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	if h.ExtractFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision pipeline not initialized"})
		return
	}

	embedding, err := h.ExtractFn(imageData)
	if err != nil {
		if errors.Is(err, vision.ErrNoFace) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face found in image"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to extract face: " + err.Error()})
		return
	}

	var sourceKey string
	if h.minio != nil {
		sourceKey = "references/" + uid + "/" + uuid.New().String() + "_" + header.Filename
		if err := h.minio.PutReferenceImage(c.Request.Context(), sourceKey, imageData, header.Header.Get("Content-Type")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store image failed"})
			return
		}
	}

	if err := h.store.Enroll(c.Request.Context(), uid, imageData, embedding, sourceKey); err != nil {
		if errors.Is(err, face.ErrUnknownIdentity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uid"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.ReferenceResponse{UID: uid, SourceKey: sourceKey})
}

func (h *FaceHandler) Remove(c *gin.Context) {
	uid := c.Param("uid")

	if err := h.store.Remove(c.Request.Context(), uid); err != nil {
		if errors.Is(err, face.ErrUnknownIdentity) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no reference for uid"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *FaceHandler) List(c *gin.Context) {
	uids, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ReferenceResponse, 0, len(uids))
	for _, uid := range uids {
		resp = append(resp, dto.ReferenceResponse{UID: uid})
	}
	c.JSON(http.StatusOK, gin.H{"references": resp, "total": len(resp)})
}
