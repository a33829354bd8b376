package gguf

import "fmt"

const (
	GGUFMagic   = 0x46554747 // "GGUF"
	GGUFVersion = 3

	// HeaderSize is magic + version + tensor count + KV count.
	HeaderSize = 24
)

// Limits applied while parsing so a corrupt file fails fast instead of
// driving huge allocations.
const (
	MaxStringLen = 1 << 20
	MaxArrayLen  = 1 << 24
	MaxKVCount   = 1 << 16
)

type MetadataValueType uint32

const (
	TypeUint8   MetadataValueType = 0
	TypeInt8    MetadataValueType = 1
	TypeUint16  MetadataValueType = 2
	TypeInt16   MetadataValueType = 3
	TypeUint32  MetadataValueType = 4
	TypeInt32   MetadataValueType = 5
	TypeFloat32 MetadataValueType = 6
	TypeBool    MetadataValueType = 7
	TypeString  MetadataValueType = 8
	TypeArray   MetadataValueType = 9
	TypeUint64  MetadataValueType = 10
	TypeInt64   MetadataValueType = 11
	TypeFloat64 MetadataValueType = 12
)

type Header struct {
	Magic       uint32
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// File is the parsed metadata section of a GGUF artifact. Tensor data is
// never read.
type File struct {
	Header Header
	KV     map[string]interface{}
}

// Error types
type ErrInvalidMagic struct{ Magic uint32 }

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid GGUF magic: %x", e.Magic)
}

type ErrUnsupportedVersion struct{ Version uint32 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported GGUF version: %d", e.Version)
}

func (t MetadataValueType) String() string {
	switch t {
	case TypeUint8:
		return "uint8"
	case TypeInt8:
		return "int8"
	case TypeUint16:
		return "uint16"
	case TypeInt16:
		return "int16"
	case TypeUint32:
		return "uint32"
	case TypeInt32:
		return "int32"
	case TypeFloat32:
		return "float32"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypeUint64:
		return "uint64"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	default:
		return fmt.Sprintf("UNKNOWN_TYPE_%d", uint32(t))
	}
}
