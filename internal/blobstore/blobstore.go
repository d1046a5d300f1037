// Package blobstore stores uploaded originals in Azure Blob Storage, or
// nowhere at all when no connection string is configured.
package blobstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"gallery/internal/config"
)

// Store is the blob sink used by the analyzer.
type Store interface {
	Enabled() bool
	Upload(ctx context.Context, name string, data []byte, contentType string) error
	Delete(ctx context.Context, name string) error
}

// New picks the store once at startup: an empty connection string yields Disabled.
func New(ctx context.Context, cfg config.Storage, log *slog.Logger) (Store, error) {
	if cfg.ConnectionString == "" {
		log.Info("blob storage disabled, uploads stay local")
		return Disabled{}, nil
	}
	a, err := NewAzure(ctx, cfg.ConnectionString, cfg.Container, log)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Disabled is the local-only store.
type Disabled struct{}

func (Disabled) Enabled() bool                                         { return false }
func (Disabled) Upload(context.Context, string, []byte, string) error { return nil }
func (Disabled) Delete(context.Context, string) error                  { return nil }

// containerAPI is the subset of *azblob.Client used here.
type containerAPI interface {
	CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error)
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DeleteBlob(ctx context.Context, containerName string, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
}

// Azure writes blobs into a single container.
type Azure struct {
	client    containerAPI
	container string
	log       *slog.Logger
}

// NewAzure connects with a storage account connection string and makes sure
// the container exists.
func NewAzure(ctx context.Context, connectionString, container string, log *slog.Logger) (*Azure, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}
	return newAzure(ctx, client, container, log)
}

func newAzure(ctx context.Context, client containerAPI, container string, log *slog.Logger) (*Azure, error) {
	a := &Azure{client: client, container: container, log: log}
	if _, err := client.CreateContainer(ctx, container, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			// the container may still be usable; uploads surface real problems
			log.Warn("create container failed", "container", container, "error", err)
		}
	} else {
		log.Info("created blob container", "container", container)
	}
	return a, nil
}

func (a *Azure) Enabled() bool { return true }

// Upload writes data under name, overwriting any existing blob.
func (a *Azure) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}
	if _, err := a.client.UploadBuffer(ctx, a.container, name, data, opts); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

func (a *Azure) Delete(ctx context.Context, name string) error {
	if _, err := a.client.DeleteBlob(ctx, a.container, name, nil); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}
