package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
)

type fakeObjects struct {
	puts map[string][]byte
	err  error
}

func (f *fakeObjects) Put(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[objectName] = data
	return "https://storage.googleapis.com/bucket/" + objectName, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStoreImageSniffsContent(t *testing.T) {
	objects := &fakeObjects{}
	store := NewImageStore(objects, 0)

	data := pngBytes(t, 4, 3)
	media, err := store.StoreImage(context.Background(), "room-1", usecase.ImageUpload{
		Filename:    "photo.jpg",
		ContentType: "image/jpeg",
		Body:        bytes.NewReader(data),
	})
	require.NoError(t, err)

	assert.Equal(t, "image/png", media.MimeType)
	assert.Equal(t, 4, media.Width)
	assert.Equal(t, 3, media.Height)
	assert.EqualValues(t, len(data), media.SizeBytes)
	assert.Equal(t, "gcs", media.StorageType)
	assert.True(t, strings.HasPrefix(media.URL, "https://storage.googleapis.com/bucket/chat/room-1/"))
	assert.True(t, strings.HasSuffix(media.URL, ".png"))
	assert.Len(t, objects.puts, 1)
}

func TestStoreImageRejectsNonImages(t *testing.T) {
	store := NewImageStore(&fakeObjects{}, 0)

	_, err := store.StoreImage(context.Background(), "room-1", usecase.ImageUpload{
		Filename:    "evil.png",
		ContentType: "image/png",
		Body:        strings.NewReader("#!/bin/sh\necho hi\n"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestStoreImageEnforcesSizeLimit(t *testing.T) {
	store := NewImageStore(&fakeObjects{}, 16)

	_, err := store.StoreImage(context.Background(), "room-1", usecase.ImageUpload{
		Body: bytes.NewReader(pngBytes(t, 64, 64)),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))

	_, err = store.StoreImage(context.Background(), "room-1", usecase.ImageUpload{Body: bytes.NewReader(nil)})
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestStoreImageReportsBackendFailure(t *testing.T) {
	store := NewImageStore(&fakeObjects{err: stderrors.New("bucket gone")}, 0)

	_, err := store.StoreImage(context.Background(), "room-1", usecase.ImageUpload{
		Body: bytes.NewReader(pngBytes(t, 2, 2)),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeStorage))
}
