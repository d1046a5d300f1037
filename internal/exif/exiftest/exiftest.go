// Package exiftest builds small EXIF payloads for tests.
package exiftest

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
)

// TIFF field types used by the builders.
const (
	TypeShort    uint16 = 3
	TypeLong     uint16 = 4
	TypeRational uint16 = 5
	typeASCII    uint16 = 2
)

// Tag IDs for the fields the gallery reads.
const (
	TagModel            uint16 = 0x0110
	TagDateTime         uint16 = 0x0132
	TagExifPointer      uint16 = 0x8769
	TagExposureTime     uint16 = 0x829a
	TagFNumber          uint16 = 0x829d
	TagISOSpeedRatings  uint16 = 0x8827
	TagDateTimeOriginal uint16 = 0x9003
	TagFocalLength      uint16 = 0x920a
	TagLensModel        uint16 = 0xa434
)

// Entry is a single IFD entry; Data holds the little-endian encoded value.
type Entry struct {
	Tag   uint16
	Type  uint16
	Count uint32
	Data  []byte
}

// ASCII returns a NUL-terminated string entry.
func ASCII(tag uint16, s string) Entry {
	data := append([]byte(s), 0)
	return Entry{Tag: tag, Type: typeASCII, Count: uint32(len(data)), Data: data}
}

// Short returns a single SHORT entry.
func Short(tag uint16, v uint16) Entry {
	data := binary.LittleEndian.AppendUint16(nil, v)
	return Entry{Tag: tag, Type: TypeShort, Count: 1, Data: data}
}

// Rational returns a single RATIONAL entry.
func Rational(tag uint16, num, den uint32) Entry {
	data := binary.LittleEndian.AppendUint32(nil, num)
	data = binary.LittleEndian.AppendUint32(data, den)
	return Entry{Tag: tag, Type: TypeRational, Count: 1, Data: data}
}

// TIFF lays out a little-endian TIFF with ifd0 as the first directory and exifIFD
// linked from it through the Exif pointer tag.
func TIFF(ifd0, exifIFD []Entry) []byte {
	const headerSize = 8
	ifdSize := func(n int) int { return 2 + 12*n + 4 }

	ifd0Off := headerSize
	exifOff := ifd0Off + ifdSize(len(ifd0)+1)
	dataOff := exifOff + ifdSize(len(exifIFD))

	var data bytes.Buffer
	writeIFD := func(buf *bytes.Buffer, entries []Entry) {
		_ = binary.Write(buf, binary.LittleEndian, uint16(len(entries)))
		for _, e := range entries {
			_ = binary.Write(buf, binary.LittleEndian, e.Tag)
			_ = binary.Write(buf, binary.LittleEndian, e.Type)
			_ = binary.Write(buf, binary.LittleEndian, e.Count)
			if len(e.Data) <= 4 {
				inline := make([]byte, 4)
				copy(inline, e.Data)
				buf.Write(inline)
				continue
			}
			_ = binary.Write(buf, binary.LittleEndian, uint32(dataOff+data.Len()))
			data.Write(e.Data)
			if data.Len()%2 == 1 {
				data.WriteByte(0)
			}
		}
		_ = binary.Write(buf, binary.LittleEndian, uint32(0))
	}

	pointer := Entry{
		Tag:   TagExifPointer,
		Type:  TypeLong,
		Count: 1,
		Data:  binary.LittleEndian.AppendUint32(nil, uint32(exifOff)),
	}

	var out bytes.Buffer
	out.WriteString("II")
	_ = binary.Write(&out, binary.LittleEndian, uint16(42))
	_ = binary.Write(&out, binary.LittleEndian, uint32(ifd0Off))
	writeIFD(&out, append(append([]Entry{}, ifd0...), pointer))
	writeIFD(&out, exifIFD)
	out.Write(data.Bytes())
	return out.Bytes()
}

// JPEG encodes a w×h solid image.
func JPEG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

// WithEXIF inserts an APP1 Exif segment carrying tiffData right after the SOI marker.
func WithEXIF(jpegData, tiffData []byte) []byte {
	payload := append([]byte("Exif\x00\x00"), tiffData...)
	var out bytes.Buffer
	out.Write(jpegData[:2])
	out.Write([]byte{0xff, 0xe1})
	_ = binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(jpegData[2:])
	return out.Bytes()
}

// SampleTIFF returns a TIFF carrying a typical set of camera tags.
func SampleTIFF() []byte {
	return TIFF(
		[]Entry{
			ASCII(TagModel, "TestCam X100"),
			ASCII(TagDateTime, "2023:02:02 12:00:00"),
		},
		[]Entry{
			Rational(TagExposureTime, 1, 200),
			Rational(TagFNumber, 28, 10),
			Short(TagISOSpeedRatings, 400),
			ASCII(TagDateTimeOriginal, "2023:01:01 10:00:00"),
			Rational(TagFocalLength, 35, 1),
			ASCII(TagLensModel, "Prime 35mm"),
		},
	)
}
