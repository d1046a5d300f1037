package blobstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallery/internal/config"
)

type fakeContainer struct {
	createErr error
	uploadErr error
	created   []string
	uploads   map[string][]byte
	types     map[string]string
	deleted   []string
}

func (f *fakeContainer) CreateContainer(ctx context.Context, name string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error) {
	f.created = append(f.created, name)
	return azblob.CreateContainerResponse{}, f.createErr
}

func (f *fakeContainer) UploadBuffer(ctx context.Context, container, name string, buf []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	if f.uploadErr != nil {
		return azblob.UploadBufferResponse{}, f.uploadErr
	}
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
		f.types = map[string]string{}
	}
	f.uploads[container+"/"+name] = buf
	if o != nil && o.HTTPHeaders != nil && o.HTTPHeaders.BlobContentType != nil {
		f.types[container+"/"+name] = *o.HTTPHeaders.BlobContentType
	}
	return azblob.UploadBufferResponse{}, nil
}

func (f *fakeContainer) DeleteBlob(ctx context.Context, container, name string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error) {
	f.deleted = append(f.deleted, container+"/"+name)
	return azblob.DeleteBlobResponse{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWithoutConnectionStringIsDisabled(t *testing.T) {
	store, err := New(context.Background(), config.Storage{Container: "uploads"}, discardLogger())
	require.NoError(t, err)
	assert.False(t, store.Enabled())
	assert.NoError(t, store.Upload(context.Background(), "a.jpg", []byte("x"), "image/jpeg"))
	assert.NoError(t, store.Delete(context.Background(), "a.jpg"))
}

func TestAzureCreatesContainerAndUploads(t *testing.T) {
	ctx := context.Background()
	fake := &fakeContainer{}
	a, err := newAzure(ctx, fake, "uploads", discardLogger())
	require.NoError(t, err)
	assert.True(t, a.Enabled())
	assert.Equal(t, []string{"uploads"}, fake.created)

	require.NoError(t, a.Upload(ctx, "abc.jpg", []byte("jpeg"), "image/jpeg"))
	assert.Equal(t, []byte("jpeg"), fake.uploads["uploads/abc.jpg"])
	assert.Equal(t, "image/jpeg", fake.types["uploads/abc.jpg"])

	require.NoError(t, a.Delete(ctx, "abc.jpg"))
	assert.Equal(t, []string{"uploads/abc.jpg"}, fake.deleted)
}

func TestAzureIgnoresExistingContainer(t *testing.T) {
	fake := &fakeContainer{createErr: &azcore.ResponseError{ErrorCode: string(bloberror.ContainerAlreadyExists), StatusCode: 409}}
	a, err := newAzure(context.Background(), fake, "uploads", discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestAzureUploadError(t *testing.T) {
	fake := &fakeContainer{uploadErr: errors.New("network down")}
	a, err := newAzure(context.Background(), fake, "uploads", discardLogger())
	require.NoError(t, err)

	err = a.Upload(context.Background(), "abc.png", []byte("png"), "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abc.png")
}
