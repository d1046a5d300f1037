package cli

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"gallery/internal/analyze"
	"gallery/internal/blobstore"
	"gallery/internal/config"
	"gallery/internal/gallery"
	"gallery/internal/pipeline"
	"gallery/internal/server"
	"gallery/internal/storage"
	"gallery/internal/web"
)

type pipelineRunner interface {
	Run(ctx context.Context, opts pipeline.Options) (pipeline.Summary, error)
}

type pipelineFactory func(store *storage.Store) pipelineRunner

type serverFunc func(ctx context.Context, addr string) error

// Root wires CLI commands to the gallery components.
type Root struct {
	cfg         *config.Config
	log         *slog.Logger
	newPipeline pipelineFactory
	serveFn     serverFunc
}

// NewRoot constructs the CLI root.
func NewRoot(cfg *config.Config, logger *slog.Logger) *Root {
	r := &Root{cfg: cfg, log: logger}
	r.newPipeline = func(store *storage.Store) pipelineRunner {
		return pipeline.New(logger, store)
	}
	r.serveFn = r.serve
	return r
}

func (r *Root) openStore() (*storage.Store, error) {
	store, err := storage.New(r.cfg.Paths.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", r.cfg.Paths.DatabasePath, err)
	}
	return store, nil
}

// serve runs the websocket hub, the metadata watcher and the HTTP server
// until ctx is cancelled or one of them fails.
func (r *Root) serve(ctx context.Context, addr string) error {
	store, err := r.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	catalog, err := gallery.OpenWithFallback(r.cfg.Paths.MetadataFile, store, r.log)
	if err != nil {
		return err
	}

	blobs, err := blobstore.New(ctx, r.cfg.Storage, r.log)
	if err != nil {
		return err
	}

	hub := web.NewHub(r.log)
	catalog.OnReload(hub.GalleryReloaded)

	srv, err := server.New(server.Options{
		Addr:           addr,
		ProcessedDir:   r.cfg.Paths.ProcessedDir,
		StaticDir:      r.cfg.Paths.StaticDir,
		MaxUploadBytes: r.cfg.Server.MaxUploadMB << 20,
		RecentUploads:  r.cfg.Server.RecentUploads,
	}, catalog, analyze.New(blobs, store, r.log), store, hub, r.log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return catalog.Watch(gctx) })
	g.Go(func() error { return srv.Start(gctx) })
	return g.Wait()
}
