package exif

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"strings"

	goexif "github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"gallery/internal/metadata"
)

// Extract decodes the EXIF block of an image into a raw tag dictionary keyed by
// standard tag name. Images without EXIF (PNG, stripped JPEGs) and blocks whose
// layout does not fit inside the image yield an empty map.
func Extract(r io.Reader) (metadata.Raw, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	tif := locateTIFF(data)
	if tif == nil || !checkTIFF(tif) {
		return metadata.Raw{}, nil
	}
	return decode(tif), nil
}

// ExtractBytes is Extract over an in-memory image.
func ExtractBytes(data []byte) (metadata.Raw, error) {
	return Extract(bytes.NewReader(data))
}

// ExtractFile opens path and extracts its EXIF tags.
func ExtractFile(path string) (metadata.Raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Extract(f)
}

func decode(tif []byte) (raw metadata.Raw) {
	raw = metadata.Raw{}
	// malformed tag values can still panic inside goexif
	defer func() {
		if recover() != nil {
			raw = metadata.Raw{}
		}
	}()

	x, err := goexif.Decode(bytes.NewReader(tif))
	if x == nil || (err != nil && goexif.IsCriticalError(err)) {
		return raw
	}
	_ = x.Walk(walker(raw))
	return raw
}

// locateTIFF returns the TIFF structure carried by data: the whole input for a
// bare TIFF, or the payload of the first APP1 Exif segment of a JPEG.
func locateTIFF(data []byte) []byte {
	switch {
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return data
	case bytes.HasPrefix(data, []byte("Exif\x00\x00")):
		return data[6:]
	}

	for i := 0; i+3 < len(data); i++ {
		if data[i] != 0xff || data[i+1] != 0xe1 {
			continue
		}
		n := int(binary.BigEndian.Uint16(data[i+2:])) - 2
		start := i + 4
		if n <= 0 {
			continue
		}
		if start+n > len(data) {
			return nil
		}
		seg := data[start : start+n]
		if !bytes.HasPrefix(seg, []byte("Exif\x00\x00")) {
			return nil
		}
		return seg[6:]
	}
	return nil
}

// Byte sizes of the TIFF field types 1..12.
var typeSize = [...]uint64{0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8}

// Pointer tags for the Exif, GPS and Interoperability directories.
var subIFDTags = map[uint16]bool{0x8769: true, 0x8825: true, 0xa005: true}

const maxIFDs = 32

type tiffCheck struct {
	b     []byte
	order binary.ByteOrder
	seen  map[uint32]bool
}

// checkTIFF walks the IFD chain and the sub-IFDs the decoder follows and
// reports whether every entry's value lies inside the buffer, every type is
// known and no directory is visited twice.
func checkTIFF(b []byte) bool {
	if len(b) < 8 {
		return false
	}
	c := &tiffCheck{b: b, seen: map[uint32]bool{}}
	switch string(b[:4]) {
	case "II*\x00":
		c.order = binary.LittleEndian
	case "MM\x00*":
		c.order = binary.BigEndian
	default:
		return false
	}

	next := c.order.Uint32(b[4:])
	for next != 0 {
		if c.seen[next] {
			return false
		}
		var ok bool
		if next, ok = c.dir(next); !ok {
			return false
		}
	}
	return true
}

func (c *tiffCheck) dir(off uint32) (next uint32, ok bool) {
	c.seen[off] = true
	if len(c.seen) > maxIFDs {
		return 0, false
	}
	size := uint64(len(c.b))
	if uint64(off)+2 > size {
		return 0, false
	}
	n := uint64(c.order.Uint16(c.b[off:]))
	end := uint64(off) + 2 + 12*n
	if end > size {
		return 0, false
	}

	for i := uint64(0); i < n; i++ {
		e := c.b[uint64(off)+2+12*i:]
		tag := c.order.Uint16(e)
		typ := c.order.Uint16(e[2:])
		count := c.order.Uint32(e[4:])
		if typ == 0 || int(typ) >= len(typeSize) {
			return 0, false
		}
		valLen := typeSize[typ] * uint64(count)
		if valLen > size {
			return 0, false
		}
		val := e[8:12]
		if valLen > 4 {
			valOff := uint64(c.order.Uint32(val))
			if valOff+valLen > size {
				return 0, false
			}
			val = c.b[valOff : valOff+valLen]
		}

		if !subIFDTags[tag] || count == 0 {
			continue
		}
		sub, isInt := c.first(typ, val)
		if !isInt || c.seen[sub] {
			continue
		}
		if _, ok := c.dir(sub); !ok {
			return 0, false
		}
	}

	if end+4 > size {
		return 0, true
	}
	return c.order.Uint32(c.b[end:]), true
}

func (c *tiffCheck) first(typ uint16, val []byte) (uint32, bool) {
	switch typ {
	case 1, 6:
		return uint32(val[0]), true
	case 3, 8:
		return uint32(c.order.Uint16(val)), true
	case 4, 9:
		return c.order.Uint32(val), true
	}
	return 0, false
}

type walker metadata.Raw

func (w walker) Walk(name goexif.FieldName, tag *tiff.Tag) error {
	if v, ok := tagValue(tag); ok {
		w[string(name)] = v
	}
	return nil
}

func tagValue(tag *tiff.Tag) (any, bool) {
	n := int(tag.Count)
	switch tag.Format() {
	case tiff.StringVal:
		s, err := tag.StringVal()
		if err != nil {
			return nil, false
		}
		return strings.TrimRight(s, "\x00"), true
	case tiff.IntVal:
		vals := make([]int, 0, n)
		for i := 0; i < n; i++ {
			v, err := tag.Int(i)
			if err != nil {
				return nil, false
			}
			vals = append(vals, v)
		}
		if len(vals) == 1 {
			return vals[0], true
		}
		return vals, len(vals) > 0
	case tiff.RatVal:
		vals := make([]metadata.Rational, 0, n)
		for i := 0; i < n; i++ {
			num, den, err := tag.Rat2(i)
			if err != nil {
				return nil, false
			}
			vals = append(vals, metadata.Rational{Num: num, Den: den})
		}
		if len(vals) == 1 {
			return vals[0], true
		}
		return vals, len(vals) > 0
	case tiff.FloatVal:
		vals := make([]float64, 0, n)
		for i := 0; i < n; i++ {
			v, err := tag.Float(i)
			if err != nil {
				return nil, false
			}
			vals = append(vals, v)
		}
		if len(vals) == 1 {
			return vals[0], true
		}
		return vals, len(vals) > 0
	case tiff.UndefVal:
		return bytes.Clone(tag.Val), true
	}
	return nil, false
}
