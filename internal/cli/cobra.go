package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"gallery/internal/analyze"
	"gallery/internal/blobstore"
	"gallery/internal/pipeline"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gallery",
		Short: "Personal photo gallery with EXIF metadata",
		Long: `gallery builds a browsable photo gallery from a directory of images,
extracting camera metadata, and serves it together with an upload analyzer.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newProcessCmd(root))
	rootCmd.AddCommand(newAnalyzeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gallery and the upload analyzer",
		Long: `Start the HTTP server. The gallery reloads itself whenever the metadata
file is rewritten by "gallery process".

Examples:
  gallery serve
  gallery serve --addr 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root.log.Info("starting server",
				"addr", addr,
				"metadata", root.cfg.Paths.MetadataFile,
				"processed_dir", root.cfg.Paths.ProcessedDir,
				"blob_storage", root.cfg.Storage.ConnectionString != "",
			)
			return root.serveFn(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Addr, "server address (host:port)")
	return cmd
}

func newProcessCmd(root *Root) *cobra.Command {
	var opts pipeline.Options

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Build the processed gallery and its metadata file",
		Long: `Copy (and downscale when needed) every image in the raw directory into the
processed directory and write the extracted metadata as a JSON array.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			opts.Extensions = root.cfg.Pipeline.Extensions
			sum, err := root.newPipeline(store).Run(commandContext(cmd), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline complete. Extracted metadata for %d photos.\n", len(sum.Records))
			return nil
		},
	}

	cfg := root.cfg
	cmd.Flags().StringVar(&opts.RawDir, "raw-dir", cfg.Paths.RawDir, "directory of original images")
	cmd.Flags().StringVar(&opts.ProcessedDir, "processed-dir", cfg.Paths.ProcessedDir, "directory for gallery-ready images")
	cmd.Flags().StringVarP(&opts.OutputPath, "output", "o", cfg.Paths.MetadataFile, "metadata JSON file")
	cmd.Flags().IntVar(&opts.MaxDimension, "max-dimension", cfg.Pipeline.MaxDimension, "downscale images whose longest side exceeds this (0 disables)")
	cmd.Flags().IntVar(&opts.JPEGQuality, "quality", cfg.Pipeline.JPEGQuality, "JPEG quality for downscaled images")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "j", cfg.Pipeline.Workers, "images processed in parallel")

	return cmd
}

func newAnalyzeCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file>",
		Short: "Print the normalized metadata of a single image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			a := analyze.New(blobstore.Disabled{}, nil, root.log)
			res, err := a.Analyze(commandContext(cmd), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "    ")
			return enc.Encode(res.Meta)
		},
	}
}
