package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
)

const (
	DefaultMaxImageBytes = 10 << 20
	storageTypeGCS       = "gcs"
)

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ObjectStore is the blob backend behind ImageStore.
type ObjectStore interface {
	Put(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}

// ImageStore validates chat images by content and stores them under
// chat/{roomID}/.
type ImageStore struct {
	objects  ObjectStore
	maxBytes int64
	now      func() time.Time
}

func NewImageStore(objects ObjectStore, maxBytes int64) *ImageStore {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &ImageStore{objects: objects, maxBytes: maxBytes, now: time.Now}
}

func (s *ImageStore) StoreImage(ctx context.Context, roomID string, file usecase.ImageUpload) (*entity.Media, error) {
	if file.Body == nil {
		return nil, errors.BadRequest("Image file is required", nil)
	}

	data, err := io.ReadAll(io.LimitReader(file.Body, s.maxBytes+1))
	if err != nil {
		return nil, errors.BadRequest("Failed to read image", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, errors.BadRequest(fmt.Sprintf("Image exceeds %d bytes", s.maxBytes), nil)
	}
	if len(data) == 0 {
		return nil, errors.BadRequest("Image file is empty", nil)
	}

	// The declared content type is ignored; only the bytes decide.
	mime := mimetype.Detect(data)
	ext, ok := allowedImageTypes[mime.String()]
	if !ok {
		return nil, errors.BadRequest("Unsupported image type", nil).With("mime_type", mime.String())
	}

	media := &entity.Media{
		MimeType:    mime.String(),
		SizeBytes:   int64(len(data)),
		StorageType: storageTypeGCS,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		media.Width = cfg.Width
		media.Height = cfg.Height
	}

	objectName := fmt.Sprintf("chat/%s/%s-%s%s", roomID, s.now().UTC().Format("20060102150405"), uuid.New().String(), ext)
	url, err := s.objects.Put(ctx, objectName, media.MimeType, data)
	if err != nil {
		return nil, errors.StorageError("Failed to upload image", err)
	}
	media.URL = url
	return media, nil
}

var _ usecase.MediaStorage = (*ImageStore)(nil)
