package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// KV is one ordered metadata entry for Encode.
type KV struct {
	Key   string
	Value interface{}
}

// Encode writes a metadata-only GGUF stream: header plus KV pairs, no
// tensor infos or data even if tensorCount is non-zero.
func Encode(w io.Writer, version uint32, tensorCount uint64, kvs []KV) error {
	e := &encoder{w: w}
	e.put(uint32(GGUFMagic))
	e.put(version)
	e.put(tensorCount)
	e.put(uint64(len(kvs)))
	for _, kv := range kvs {
		e.str(kv.Key)
		if err := e.value(kv.Value, true); err != nil {
			return fmt.Errorf("gguf: key %q: %w", kv.Key, err)
		}
	}
	return e.err
}

// WriteFile encodes kvs into a new file at path.
func WriteFile(path string, kvs []KV) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := Encode(bw, GGUFVersion, 0, kvs); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) put(v interface{}) {
	if e.err == nil {
		e.err = binary.Write(e.w, binary.LittleEndian, v)
	}
}

func (e *encoder) str(s string) {
	e.put(uint64(len(s)))
	if e.err == nil {
		_, e.err = io.WriteString(e.w, s)
	}
}

func typeOf(v interface{}) (MetadataValueType, bool) {
	switch v.(type) {
	case uint8:
		return TypeUint8, true
	case int8:
		return TypeInt8, true
	case uint16:
		return TypeUint16, true
	case int16:
		return TypeInt16, true
	case uint32:
		return TypeUint32, true
	case int32:
		return TypeInt32, true
	case float32:
		return TypeFloat32, true
	case bool:
		return TypeBool, true
	case string:
		return TypeString, true
	case []interface{}, []string, []uint32, []int32, []float32:
		return TypeArray, true
	case uint64:
		return TypeUint64, true
	case int64:
		return TypeInt64, true
	case float64:
		return TypeFloat64, true
	}
	return 0, false
}

func (e *encoder) value(v interface{}, withType bool) error {
	typ, ok := typeOf(v)
	if !ok {
		return fmt.Errorf("unsupported Go type %T", v)
	}
	if withType {
		e.put(uint32(typ))
	}
	switch x := v.(type) {
	case bool:
		var b uint8
		if x {
			b = 1
		}
		e.put(b)
	case string:
		e.str(x)
	case []string:
		return e.array(TypeString, len(x), func(i int) interface{} { return x[i] })
	case []uint32:
		return e.array(TypeUint32, len(x), func(i int) interface{} { return x[i] })
	case []int32:
		return e.array(TypeInt32, len(x), func(i int) interface{} { return x[i] })
	case []float32:
		return e.array(TypeFloat32, len(x), func(i int) interface{} { return x[i] })
	case []interface{}:
		if len(x) == 0 {
			return e.array(TypeUint8, 0, nil)
		}
		elemType, ok := typeOf(x[0])
		if !ok || elemType == TypeArray {
			return fmt.Errorf("unsupported array element %T", x[0])
		}
		return e.array(elemType, len(x), func(i int) interface{} { return x[i] })
	default:
		e.put(x)
	}
	return e.err
}

func (e *encoder) array(elemType MetadataValueType, n int, at func(int) interface{}) error {
	e.put(uint32(elemType))
	e.put(uint64(n))
	for i := 0; i < n; i++ {
		v := at(i)
		if t, _ := typeOf(v); t != elemType {
			return fmt.Errorf("mixed array element %T", v)
		}
		if err := e.value(v, false); err != nil {
			return err
		}
	}
	return e.err
}
