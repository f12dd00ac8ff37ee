// Package bitfield provides functionality to pack and unpack struct fields into integers.
// This is a simplified version based on golang.org/x/text/internal/gen/bitfield
//
// Fields are laid out from the least significant bit upward in declaration
// order. Only fields with a `bitfield:",N"` tag take part; a field that
// covers reserved bits must still be declared so later fields land on the
// right offset.
package bitfield

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// Config determines settings for packing and generation.
type Config struct {
	// NumBits fixes the maximum allowed bits for the integer representation.
	// If NumBits is not 8, 16, 32, or 64, the actual underlying integer size
	// will be the next largest available.
	NumBits uint
}

var defaultConfig = Config{NumBits: 64}

// Field is the position of one tagged struct field inside the packed word.
type Field struct {
	Name  string
	Index int // struct field index
	Shift uint
	Width uint
}

// Mask returns the in-place mask of the field.
func (f Field) Mask() uint64 {
	return mask(f.Width) << f.Shift
}

// Get extracts the field from a packed word.
func (f Field) Get(packed uint64) uint64 {
	return (packed >> f.Shift) & mask(f.Width)
}

// Set returns packed with the field replaced by v. Bits of v above the
// field width are dropped.
func (f Field) Set(packed, v uint64) uint64 {
	return (packed &^ f.Mask()) | ((v & mask(f.Width)) << f.Shift)
}

func mask(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

// Layout returns the bit positions of the tagged fields of struct x.
func Layout(x interface{}) ([]Field, error) {
	t := reflect.TypeOf(x)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("Layout: expected struct, got %v", t)
	}
	return layout(t, &defaultConfig)
}

// Lookup returns the named field of the layout.
func Lookup(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func layout(t reflect.Type, c *Config) ([]Field, error) {
	var (
		fields    []Field
		bitOffset uint
	)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("bitfield")
		if tag == "" {
			continue // Skip fields without bitfield tag
		}

		// Parse tag: "methodName,bits" or just ",bits"
		var bits uint
		_, err := fmt.Sscanf(tag, ",%d", &bits)
		if err != nil {
			// Try with method name
			var methodName string
			_, err := fmt.Sscanf(tag, "%s,%d", &methodName, &bits)
			if err != nil {
				return nil, fmt.Errorf("invalid bitfield tag %q on field %s", tag, field.Name)
			}
		}

		if bits == 0 {
			continue
		}

		switch field.Type.Kind() {
		case reflect.Bool,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		default:
			return nil, fmt.Errorf("unsupported field type %v for field %s", field.Type.Kind(), field.Name)
		}

		fields = append(fields, Field{Name: field.Name, Index: i, Shift: bitOffset, Width: bits})
		bitOffset += bits
	}

	// Check if total bits exceed target size
	if c.NumBits > 0 && bitOffset > c.NumBits {
		return nil, fmt.Errorf("total bits %d exceeds NumBits %d", bitOffset, c.NumBits)
	}
	return fields, nil
}

// Pack packs annotated bit ranges of struct x into an integer.
// Only fields that have a "bitfield" tag are compacted.
// Returns the packed value as uint64 and any error encountered.
func Pack(x interface{}, c *Config) (packed uint64, err error) {
	if c == nil {
		c = &defaultConfig
	}

	v := reflect.ValueOf(x)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return 0, fmt.Errorf("Pack: expected struct, got %v", v.Kind())
	}

	fields, err := layout(v.Type(), c)
	if err != nil {
		return 0, errors.Wrap(err, "Pack")
	}

	for _, f := range fields {
		fieldValue := v.Field(f.Index)
		var fieldBits uint64

		switch fieldValue.Kind() {
		case reflect.Bool:
			if fieldValue.Bool() {
				fieldBits = 1
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			fieldBits = fieldValue.Uint()
		default:
			val := fieldValue.Int()
			if val < 0 {
				return 0, fmt.Errorf("Pack: negative value %d for field %s", val, f.Name)
			}
			fieldBits = uint64(val)
		}

		// Check if value fits in bits
		if fieldBits > mask(f.Width) {
			return 0, fmt.Errorf("Pack: value %d exceeds %d bits for field %s", fieldBits, f.Width, f.Name)
		}

		packed |= fieldBits << f.Shift
	}

	return packed, nil
}

// Unpack is the inverse of Pack: it stores each tagged bit range of packed
// into the matching field of the struct x points to.
func Unpack(packed uint64, x interface{}, c *Config) error {
	if c == nil {
		c = &defaultConfig
	}

	v := reflect.ValueOf(x)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("Unpack: expected pointer to struct, got %v", v.Kind())
	}
	v = v.Elem()

	fields, err := layout(v.Type(), c)
	if err != nil {
		return errors.Wrap(err, "Unpack")
	}

	for _, f := range fields {
		fieldValue := v.Field(f.Index)
		if !fieldValue.CanSet() {
			return fmt.Errorf("Unpack: field %s is not settable", f.Name)
		}
		bits := f.Get(packed)

		switch fieldValue.Kind() {
		case reflect.Bool:
			fieldValue.SetBool(bits != 0)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if fieldValue.OverflowUint(bits) {
				return fmt.Errorf("Unpack: value %d overflows field %s", bits, f.Name)
			}
			fieldValue.SetUint(bits)
		default:
			if bits > 1<<62 || fieldValue.OverflowInt(int64(bits)) {
				return fmt.Errorf("Unpack: value %d overflows field %s", bits, f.Name)
			}
			fieldValue.SetInt(int64(bits))
		}
	}
	return nil
}
