package exif

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallery/internal/exif/exiftest"
	"gallery/internal/metadata"
)

func TestExtractJPEGWithEXIF(t *testing.T) {
	data := exiftest.WithEXIF(exiftest.JPEG(8, 8), exiftest.SampleTIFF())

	raw, err := ExtractBytes(data)
	require.NoError(t, err)

	assert.Equal(t, "TestCam X100", raw["Model"])
	assert.Equal(t, metadata.Rational{Num: 1, Den: 200}, raw["ExposureTime"])
	assert.Equal(t, metadata.Rational{Num: 28, Den: 10}, raw["FNumber"])
	assert.Equal(t, 400, raw["ISOSpeedRatings"])
	assert.Equal(t, "2023:01:01 10:00:00", raw["DateTimeOriginal"])
	assert.Equal(t, "2023:02:02 12:00:00", raw["DateTime"])

	rec := metadata.Clean(raw)
	require.NotNil(t, rec.Shutter)
	assert.Equal(t, "1/200", *rec.Shutter)
	require.NotNil(t, rec.Aperture)
	assert.Equal(t, "f/2.8", *rec.Aperture)
	require.NotNil(t, rec.FocalLength)
	assert.Equal(t, "35.0", *rec.FocalLength)
	require.NotNil(t, rec.ISO)
	assert.Equal(t, 400, *rec.ISO)
}

func TestExtractPlainJPEG(t *testing.T) {
	raw, err := ExtractBytes(exiftest.JPEG(4, 4))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestExtractPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))

	raw, err := ExtractBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestExtractGarbage(t *testing.T) {
	raw, err := ExtractBytes([]byte("not an image"))
	require.NoError(t, err)
	assert.NotNil(t, raw)
	assert.Empty(t, raw)
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.jpg")
	require.NoError(t, os.WriteFile(path, exiftest.WithEXIF(exiftest.JPEG(4, 4), exiftest.SampleTIFF()), 0o644))

	raw, err := ExtractFile(path)
	require.NoError(t, err)
	assert.Equal(t, "TestCam X100", raw["Model"])

	_, err = ExtractFile(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)
}

func TestExtractRejectsOversizedCounts(t *testing.T) {
	cases := map[string]exiftest.Entry{
		// 8 * count runs far past the end of the block
		"rational past end": {
			Tag: exiftest.TagExposureTime, Type: exiftest.TypeRational, Count: 0x60000000,
			Data: make([]byte, 8),
		},
		// 4 * count wraps to 4 in 32 bits and would be read inline
		"long wraps": {
			Tag: exiftest.TagISOSpeedRatings, Type: exiftest.TypeLong, Count: 0x40000001,
			Data: make([]byte, 4),
		},
		"short wraps": {
			Tag: exiftest.TagISOSpeedRatings, Type: exiftest.TypeShort, Count: 0x80000001,
			Data: make([]byte, 4),
		},
	}

	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			tif := exiftest.TIFF(
				[]exiftest.Entry{exiftest.ASCII(exiftest.TagModel, "TestCam X100")},
				[]exiftest.Entry{entry},
			)
			raw, err := ExtractBytes(exiftest.WithEXIF(exiftest.JPEG(4, 4), tif))
			require.NoError(t, err)
			assert.Empty(t, raw)
		})
	}
}

func TestExtractRejectsValueOffsetPastEnd(t *testing.T) {
	tif := exiftest.SampleTIFF()
	// first IFD0 entry is Model, stored out of line
	binary.LittleEndian.PutUint32(tif[8+2+8:], uint32(len(tif)))

	raw, err := ExtractBytes(exiftest.WithEXIF(exiftest.JPEG(4, 4), tif))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestExtractRejectsIFDCycle(t *testing.T) {
	tif := exiftest.SampleTIFF()
	// IFD0 holds Model, DateTime and the Exif pointer
	next := 8 + 2 + 12*3
	binary.LittleEndian.PutUint32(tif[next:], 8)

	raw, err := ExtractBytes(tif)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestExtractBareTIFF(t *testing.T) {
	raw, err := ExtractBytes(exiftest.SampleTIFF())
	require.NoError(t, err)
	assert.Equal(t, "TestCam X100", raw["Model"])
	assert.Equal(t, "Prime 35mm", raw["LensModel"])
}

func TestExtractSurvivesCorruptedHeaders(t *testing.T) {
	base := exiftest.WithEXIF(exiftest.JPEG(4, 4), exiftest.SampleTIFF())
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		data := bytes.Clone(base)
		for n := rng.Intn(6) + 1; n > 0; n-- {
			data[rng.Intn(200)] = byte(rng.Intn(256))
		}
		raw, err := ExtractBytes(data)
		require.NoError(t, err, "iteration %d", i)
		require.NotNil(t, raw, "iteration %d", i)
	}
}
