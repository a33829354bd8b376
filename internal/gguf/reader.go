package gguf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ReadFile opens path and parses the GGUF header and metadata.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close() // read-only, nothing to flush
	}()
	return Read(bufio.NewReader(f))
}

// Read parses the header and every KV pair from r.
func Read(r io.Reader) (*File, error) {
	d := &decoder{r: r}

	file := &File{KV: make(map[string]interface{})}
	file.Header.Magic = d.u32()
	if d.err != nil {
		return nil, d.fail()
	}
	if file.Header.Magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: file.Header.Magic}
	}

	file.Header.Version = d.u32()
	if d.err != nil {
		return nil, d.fail()
	}
	// Version 1 used 32-bit counts and is long obsolete.
	if file.Header.Version < 2 || file.Header.Version > GGUFVersion {
		return nil, ErrUnsupportedVersion{Version: file.Header.Version}
	}

	file.Header.TensorCount = d.u64()
	file.Header.KVCount = d.u64()
	if d.err != nil {
		return nil, d.fail()
	}
	if file.Header.KVCount > MaxKVCount {
		return nil, fmt.Errorf("gguf: kv count %d exceeds limit %d", file.Header.KVCount, MaxKVCount)
	}

	for i := uint64(0); i < file.Header.KVCount; i++ {
		key := d.str()
		typ := MetadataValueType(d.u32())
		if d.err != nil {
			return nil, d.fail()
		}
		val, err := d.value(typ)
		if err != nil {
			return nil, fmt.Errorf("gguf: key %q: %w", key, err)
		}
		file.KV[key] = val
	}

	return file, nil
}

// String returns a string-typed metadata value.
func (f *File) String(key string) (string, bool) {
	s, ok := f.KV[key].(string)
	return s, ok
}

// Uint returns an unsigned integer value widened to uint64.
func (f *File) Uint(key string) (uint64, bool) {
	switch v := f.KV[key].(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int32:
		if v >= 0 {
			return uint64(v), true
		}
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

func (f *File) Architecture() string {
	s, _ := f.String("general.architecture")
	return s
}

func (f *File) Name() string {
	s, _ := f.String("general.name")
	return s
}

// ContextLength looks up "<arch>.context_length".
func (f *File) ContextLength() uint64 {
	n, _ := f.Uint(f.Architecture() + ".context_length")
	return n
}

type decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *decoder) fail() error {
	if errors.Is(d.err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return d.err
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return d.buf[:n]
	}
	if _, err := io.ReadFull(d.r, d.buf[:n]); err != nil {
		d.err = err
	}
	return d.buf[:n]
}

func (d *decoder) u8() uint8   { return d.read(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.read(2)) }
func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.read(4)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.read(8)) }

func (d *decoder) str() string {
	n := d.u64()
	if d.err != nil {
		return ""
	}
	if n > MaxStringLen {
		d.err = fmt.Errorf("gguf: string length %d exceeds limit %d", n, MaxStringLen)
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = err
		return ""
	}
	return string(b)
}

func (d *decoder) value(typ MetadataValueType) (interface{}, error) {
	var v interface{}
	switch typ {
	case TypeUint8:
		v = d.u8()
	case TypeInt8:
		v = int8(d.u8())
	case TypeUint16:
		v = d.u16()
	case TypeInt16:
		v = int16(d.u16())
	case TypeUint32:
		v = d.u32()
	case TypeInt32:
		v = int32(d.u32())
	case TypeFloat32:
		v = math.Float32frombits(d.u32())
	case TypeBool:
		v = d.u8() != 0
	case TypeString:
		v = d.str()
	case TypeArray:
		elemType := MetadataValueType(d.u32())
		n := d.u64()
		if d.err != nil {
			return nil, d.fail()
		}
		if elemType == TypeArray {
			return nil, errors.New("nested arrays are not supported")
		}
		if n > MaxArrayLen {
			return nil, fmt.Errorf("array length %d exceeds limit %d", n, MaxArrayLen)
		}
		arr := make([]interface{}, 0, min(n, 4096))
		for i := uint64(0); i < n; i++ {
			elem, err := d.value(elemType)
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		v = arr
	case TypeUint64:
		v = d.u64()
	case TypeInt64:
		v = int64(d.u64())
	case TypeFloat64:
		v = math.Float64frombits(d.u64())
	default:
		return nil, fmt.Errorf("unsupported metadata type: %s", typ)
	}
	if d.err != nil {
		return nil, d.fail()
	}
	return v, nil
}
