package analyze

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallery/internal/exif/exiftest"
	"gallery/internal/storage"
)

type stubBlobs struct {
	enabled   bool
	uploadErr error
	deleteErr error
	uploads   map[string]string // name -> content type
	deleted   []string
}

func (s *stubBlobs) Enabled() bool { return s.enabled }

func (s *stubBlobs) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	if s.uploads == nil {
		s.uploads = map[string]string{}
	}
	s.uploads[name] = contentType
	return nil
}

func (s *stubBlobs) Delete(ctx context.Context, name string) error {
	s.deleted = append(s.deleted, name)
	return s.deleteErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var blobPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\.`)

func TestBlobName(t *testing.T) {
	cases := map[string]string{
		"Holiday.JPG":     "jpg",
		"archive.tar.PNG": "png",
		"noext":           "noext",
		"trailingdot.":    "",
	}
	for in, ext := range cases {
		name := BlobName(in)
		assert.Regexp(t, blobPattern, name)
		assert.Equal(t, "."+ext, name[36:], in)
	}
	assert.NotEqual(t, BlobName("a.jpg"), BlobName("a.jpg"))
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "image/jpeg", DetectMIME(exiftest.JPEG(2, 2)))
	assert.Equal(t, "image/jpeg", DetectMIME([]byte("plain text body")))
	assert.Equal(t, "image/png", DetectMIME([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")))
}

func TestAnalyzeLocalOnly(t *testing.T) {
	data := exiftest.WithEXIF(exiftest.JPEG(4, 4), exiftest.SampleTIFF())
	a := New(nil, nil, quietLogger())

	res, err := a.Analyze(context.Background(), "cat.jpg", data)
	require.NoError(t, err)
	assert.Empty(t, res.BlobName)
	assert.Equal(t, "image/jpeg", res.MIME)
	assert.Equal(t, "cat.jpg", res.Meta.Filename)
	require.NotNil(t, res.Meta.Camera)
	assert.Equal(t, "TestCam X100", *res.Meta.Camera)

	decoded, err := base64.StdEncoding.DecodeString(res.ImageData)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestAnalyzeUploadsAndRecords(t *testing.T) {
	ctx := context.Background()
	blobs := &stubBlobs{enabled: true}
	store, err := storage.New(filepath.Join(t.TempDir(), "gallery.db"))
	require.NoError(t, err)
	defer store.Close()

	a := New(blobs, store, quietLogger())
	res, err := a.Analyze(ctx, "Shot.JPEG", exiftest.JPEG(4, 4))
	require.NoError(t, err)
	assert.Regexp(t, blobPattern, res.BlobName)
	assert.Equal(t, "jpeg", filepath.Ext(res.BlobName)[1:])
	assert.Equal(t, "image/jpeg", blobs.uploads[res.BlobName])

	recs, err := store.RecentUploads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.BlobName, recs[0].BlobName)
	assert.Equal(t, "Shot.JPEG", recs[0].Filename)

	a.Discard(ctx, res.BlobName)
	assert.Equal(t, []string{res.BlobName}, blobs.deleted)
	recs, err = store.RecentUploads(ctx, 10)
	require.NoError(t, err)
	assert.NotNil(t, recs[0].DeletedAt)
}

func TestAnalyzeSwallowsUploadFailure(t *testing.T) {
	blobs := &stubBlobs{enabled: true, uploadErr: errors.New("403 forbidden")}
	a := New(blobs, nil, quietLogger())

	res, err := a.Analyze(context.Background(), "x.png", []byte("not really an image"))
	require.NoError(t, err)
	assert.Empty(t, res.BlobName)
	assert.Equal(t, "image/jpeg", res.MIME)
	assert.Nil(t, res.Meta.Camera)
	assert.Equal(t, "x.png", res.Meta.Filename)
}

func TestDiscardIgnoresErrors(t *testing.T) {
	blobs := &stubBlobs{enabled: true, deleteErr: errors.New("gone")}
	a := New(blobs, nil, quietLogger())

	a.Discard(context.Background(), "missing.jpg")
	assert.Equal(t, []string{"missing.jpg"}, blobs.deleted)

	disabled := &stubBlobs{}
	New(disabled, nil, quietLogger()).Discard(context.Background(), "a.jpg")
	assert.Empty(t, disabled.deleted)
}
