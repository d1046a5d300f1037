// Package analyze extracts metadata from a single uploaded image and,
// when a blob store is configured, keeps the original bytes there.
package analyze

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"gallery/internal/blobstore"
	"gallery/internal/exif"
	"gallery/internal/logging"
	"gallery/internal/metadata"
	"gallery/internal/storage"
)

const fallbackMIME = "image/jpeg"

// Result is what the upload page renders.
type Result struct {
	Meta      metadata.Record
	ImageData string // standard base64 of the uploaded bytes
	MIME      string
	BlobName  string // empty when nothing was stored
}

// Analyzer runs the request-time extraction.
type Analyzer struct {
	blobs blobstore.Store
	store *storage.Store
	log   *slog.Logger
	now   func() time.Time
}

// New returns an Analyzer. blobs may be blobstore.Disabled and store may be nil.
func New(blobs blobstore.Store, store *storage.Store, logger *slog.Logger) *Analyzer {
	if blobs == nil {
		blobs = blobstore.Disabled{}
	}
	return &Analyzer{blobs: blobs, store: store, log: logger, now: time.Now}
}

// Analyze uploads data (when the blob store is enabled), extracts and
// normalizes its metadata and returns the rendering view. Blob failures are
// logged and leave BlobName empty.
func (a *Analyzer) Analyze(ctx context.Context, filename string, data []byte) (Result, error) {
	mime := DetectMIME(data)

	var blobName string
	if a.blobs.Enabled() {
		name := BlobName(filename)
		err := a.blobs.Upload(ctx, name, data, mime)
		logging.LogUpload(a.log, name, filename, len(data), err)
		if err == nil {
			blobName = name
		}
	}

	raw, err := exif.ExtractBytes(data)
	if err != nil {
		return Result{}, fmt.Errorf("extract metadata: %w", err)
	}
	meta := metadata.Clean(raw)
	meta.Filename = filename

	if blobName != "" {
		rec := storage.UploadRecord{
			BlobName:  blobName,
			Filename:  filename,
			MIME:      mime,
			Size:      int64(len(data)),
			Meta:      meta,
			CreatedAt: a.now().UTC(),
		}
		if err := a.store.RecordUpload(ctx, rec); err != nil {
			a.log.Warn("record upload failed", "blob", blobName, "error", err)
		}
	}

	return Result{
		Meta:      meta,
		ImageData: base64.StdEncoding.EncodeToString(data),
		MIME:      mime,
		BlobName:  blobName,
	}, nil
}

// Discard deletes a previously uploaded blob. Failures are only logged.
func (a *Analyzer) Discard(ctx context.Context, blobName string) {
	if blobName == "" || !a.blobs.Enabled() {
		return
	}
	if err := a.blobs.Delete(ctx, blobName); err != nil {
		a.log.Warn("blob delete failed", "blob", blobName, "error", err)
		return
	}
	a.log.Info("blob deleted", "blob", blobName)
	if err := a.store.MarkUploadDeleted(ctx, blobName); err != nil {
		a.log.Warn("mark upload deleted failed", "blob", blobName, "error", err)
	}
}

// BlobName returns "<uuid4>.<ext>" where ext is the lower-cased text after
// the last dot of filename, or the whole lower-cased filename without a dot.
func BlobName(filename string) string {
	ext := filename
	if i := strings.LastIndex(filename, "."); i >= 0 {
		ext = filename[i+1:]
	}
	return uuid.New().String() + "." + strings.ToLower(ext)
}

// DetectMIME sniffs the content type, defaulting to image/jpeg for anything
// that is not recognizably an image.
func DetectMIME(data []byte) string {
	if m := mimetype.Detect(data); strings.HasPrefix(m.String(), "image/") {
		return m.String()
	}
	return fallbackMIME
}
