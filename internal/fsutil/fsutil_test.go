package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.JPG"))
	touch(t, filepath.Join(dir, "a.png"))
	touch(t, filepath.Join(dir, "c.jpeg"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "raw.nef"))
	touch(t, filepath.Join(dir, "nested", "d.jpg"))

	files, err := ListImages(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.JPG"),
		filepath.Join(dir, "c.jpeg"),
	}, files)

	files, err = ListImages(dir, []string{"nef"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "raw.nef")}, files)

	_, err = ListImages(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("x/PHOTO.JPEG"))
	assert.True(t, IsImageFile("a.png"))
	assert.False(t, IsImageFile("a.txt"))
	assert.False(t, IsImageFile("jpg"))

	assert.True(t, IsImageFile("raw.NEF", "nef", ".jpg"))
	assert.False(t, IsImageFile("a.png", ".nef"))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	require.NoError(t, os.WriteFile(src, []byte("image bytes"), 0o644))

	dst := filepath.Join(dir, "dst.jpg")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "image bytes", string(data))
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photos.json")

	require.NoError(t, WriteFileAtomic(path, []byte("[]")))
	require.NoError(t, WriteFileAtomic(path, []byte("[1]")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[1]", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteAtomicFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photos.json")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o644))

	err := WriteAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("encode failed")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}
