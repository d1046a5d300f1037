package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"gallery/internal/exif"
	"gallery/internal/fsutil"
	"gallery/internal/logging"
	"gallery/internal/metadata"
	"gallery/internal/storage"
)

const (
	defaultJPEGQuality = 90
	jsonIndent         = "    "
)

// Options configures a batch run.
type Options struct {
	RawDir       string
	ProcessedDir string
	OutputPath   string
	Extensions   []string // lower-cased, with leading dot; fsutil defaults when empty
	MaxDimension int      // longest allowed side; 0 disables resizing
	JPEGQuality  int
	Workers      int
}

// Summary describes a finished run.
type Summary struct {
	Records  []metadata.Record
	Resized  int
	Duration time.Duration
}

// Pipeline builds the processed gallery and its metadata file from a raw directory.
type Pipeline struct {
	log   *slog.Logger
	store *storage.Store
}

// New creates a Pipeline. store may be nil, in which case the SQLite mirror is skipped.
func New(logger *slog.Logger, store *storage.Store) *Pipeline {
	return &Pipeline{log: logger, store: store}
}

// Run processes every image in opts.RawDir and rewrites opts.OutputPath with
// one record per image, ordered by filename. Any image that fails aborts the run.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Summary, error) {
	start := time.Now()
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = defaultJPEGQuality
	}

	logging.LogRunStart(p.log, opts.RawDir, opts.ProcessedDir, opts.OutputPath, opts.Workers)

	sum, err := p.run(ctx, opts)
	sum.Duration = time.Since(start)
	if err != nil {
		logging.LogRunError(p.log, sum.Duration, err)
		return sum, err
	}
	logging.LogRunComplete(p.log, len(sum.Records), sum.Resized, sum.Duration)
	return sum, nil
}

func (p *Pipeline) run(ctx context.Context, opts Options) (Summary, error) {
	var sum Summary

	if err := os.MkdirAll(opts.ProcessedDir, 0o755); err != nil {
		return sum, fmt.Errorf("create processed dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return sum, fmt.Errorf("create output dir: %w", err)
	}

	files, err := fsutil.ListImages(opts.RawDir, opts.Extensions)
	if err != nil {
		return sum, fmt.Errorf("list raw images: %w", err)
	}

	records := make([]metadata.Record, len(files))
	var resized atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, path := range files {
		g.Go(func() error {
			rec, didResize, err := p.processImage(gctx, path, opts)
			if err != nil {
				return fmt.Errorf("process %s: %w", filepath.Base(path), err)
			}
			if didResize {
				resized.Add(1)
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	if err := writeRecords(opts.OutputPath, records); err != nil {
		return sum, err
	}
	if err := p.store.ReplacePhotos(ctx, records); err != nil {
		return sum, fmt.Errorf("mirror catalog: %w", err)
	}

	sum.Records = records
	sum.Resized = int(resized.Load())
	return sum, nil
}

func (p *Pipeline) processImage(ctx context.Context, path string, opts Options) (metadata.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return metadata.Record{}, false, err
	}

	name := filepath.Base(path)
	dst := filepath.Join(opts.ProcessedDir, name)

	w, h, err := dimensions(path)
	if err != nil {
		return metadata.Record{}, false, err
	}

	didResize := opts.MaxDimension > 0 && (w > opts.MaxDimension || h > opts.MaxDimension)
	if didResize {
		err = resize(path, dst, opts.MaxDimension, opts.JPEGQuality)
	} else {
		err = fsutil.CopyFile(path, dst)
	}
	if err != nil {
		return metadata.Record{}, false, err
	}

	raw, err := exif.ExtractFile(path)
	if err != nil {
		return metadata.Record{}, false, err
	}
	rec := metadata.Clean(raw)
	rec.Filename = name

	p.log.Debug("processed image", "file", name, "width", w, "height", h, "resized", didResize)
	return rec, didResize, nil
}

func dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func resize(src, dst string, maxDim, quality int) error {
	format, err := imaging.FormatFromFilename(src)
	if err != nil {
		return err
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	fitted := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	return fsutil.WriteAtomic(dst, func(w io.Writer) error {
		return imaging.Encode(w, fitted, format, imaging.JPEGQuality(quality))
	})
}

func writeRecords(path string, records []metadata.Record) error {
	if records == nil {
		records = []metadata.Record{}
	}
	data, err := json.MarshalIndent(records, "", jsonIndent)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
