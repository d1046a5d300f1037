package metadata

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Raw maps EXIF tag names to decoded tag values.
type Raw map[string]any

// Rational is an unsigned or signed EXIF rational kept as its numerator/denominator pair.
type Rational struct {
	Num int64
	Den int64
}

// Float returns the rational as a float64. A zero denominator yields NaN or ±Inf.
func (r Rational) Float() float64 {
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	if r.Den == 0 {
		return strconv.FormatInt(r.Num, 10) + "/0"
	}
	return formatFloat(r.Float())
}

// Record is the normalized per-photo attribute set written to photos.json.
// Nil fields are encoded as JSON null.
type Record struct {
	Camera      *string `json:"camera"`
	Lens        *string `json:"lens"`
	ISO         *int    `json:"iso"`
	Aperture    *string `json:"aperture"`
	Shutter     *string `json:"shutter"`
	FocalLength *string `json:"focal_length"`
	Timestamp   *string `json:"timestamp"`
	Filename    string  `json:"filename"`
}

// Clean converts a raw EXIF dictionary into a Record. Every field defaults
// independently; missing or malformed tags never fail the record.
func Clean(raw Raw) Record {
	rec := Record{
		Camera:  text(raw["Model"]),
		Lens:    text(raw["LensModel"]),
		ISO:     integer(raw["ISOSpeedRatings"]),
		Shutter: FormatExposure(raw["ExposureTime"]),
	}

	// zero apertures and focal lengths are treated as absent
	if fn := raw["FNumber"]; Truthy(fn) {
		rec.Aperture = ptr("f/" + Format(fn))
	}
	if fl := raw["FocalLength"]; Truthy(fl) {
		rec.FocalLength = ptr(Format(fl))
	}

	ts := raw["DateTimeOriginal"]
	if !Truthy(ts) {
		ts = raw["DateTime"]
	}
	rec.Timestamp = text(ts)

	return rec
}

// FormatExposure renders an exposure time pair as "1/<den/num>". Values that are
// not a usable numeric pair fall back to their string form, nil stays nil.
func FormatExposure(v any) *string {
	if v == nil {
		return nil
	}
	num, den, ok := pair(v)
	if ok && num != 0 && den != 0 {
		q := den / num
		if !math.IsNaN(q) && !math.IsInf(q, 0) && math.Abs(q) < math.MaxInt64 {
			return ptr("1/" + strconv.FormatInt(int64(math.Round(q)), 10))
		}
	}
	return ptr(Format(v))
}

// Format returns the display form of a raw tag value.
func Format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return strconv.Quote(string(val))
	case Rational:
		return val.String()
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case bool:
		if val {
			return "True"
		}
		return "False"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = Format(rv.Index(i).Interface())
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case reflect.Pointer:
		if rv.IsNil() {
			return ""
		}
		return Format(rv.Elem().Interface())
	}

	return fmt.Sprint(v)
}

// Truthy reports whether v counts as present: nil, empty strings, numeric zero,
// zero rationals and empty sequences do not.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case Rational:
		return val.Num != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func pair(v any) (num, den float64, ok bool) {
	if r, isRat := v.(Rational); isRat {
		return float64(r.Num), float64(r.Den), true
	}
	if _, isBytes := v.([]byte); isBytes {
		return 0, 0, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return 0, 0, false
	}
	if rv.Len() != 2 {
		return 0, 0, false
	}
	num, okNum := number(rv.Index(0).Interface())
	den, okDen := number(rv.Index(1).Interface())
	return num, den, okNum && okDen
}

func number(v any) (float64, bool) {
	if r, ok := v.(Rational); ok {
		return r.Float(), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func text(v any) *string {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return ptr(s)
	}
	return ptr(Format(v))
}

func integer(v any) *int {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			n := int(val)
			return &n
		}
		return nil
	case []int:
		if len(val) > 0 {
			n := val[0]
			return &n
		}
		return nil
	case []any:
		if len(val) > 0 {
			return integer(val[0])
		}
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := int(rv.Int())
		return &n
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := int(rv.Uint())
		return &n
	}
	return nil
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func ptr(s string) *string {
	return &s
}
