// Package tensor provides the dense tensor type and reference kernels
// used by the Forge graph compiler.
package tensor

// DType is a constraint for supported tensor element types.
type DType interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint8 | ~bool
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types. String is representable so that the type
// resolver can name it in errors, but string tensors cannot be
// allocated or compiled.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	Uint8
	Bool
	String
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Uint8, Bool:
		return 1
	default:
		panic("data type has no fixed element size: " + dt.String())
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the type is a floating-point type.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float64
}

// IsInt reports whether the type is an integer type.
func (dt DataType) IsInt() bool {
	return dt == Int32 || dt == Int64 || dt == Uint8
}

// Narrow returns the 32-bit counterpart of a 64-bit-wide type.
// The second result is false when the type is not 64-bit wide.
func (dt DataType) Narrow() (DataType, bool) {
	switch dt {
	case Int64:
		return Int32, true
	case Float64:
		return Float32, true
	default:
		return dt, false
	}
}

// ParseDataType parses a data type name as produced by String.
func ParseDataType(s string) (DataType, bool) {
	switch s {
	case "float32":
		return Float32, true
	case "float64":
		return Float64, true
	case "int32":
		return Int32, true
	case "int64":
		return Int64, true
	case "uint8":
		return Uint8, true
	case "bool":
		return Bool, true
	case "string":
		return String, true
	default:
		return 0, false
	}
}

// inferDataType infers DataType from a generic type T.
func inferDataType[T DType](dummy T) DataType {
	switch any(dummy).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case bool:
		return Bool
	default:
		panic("unsupported type")
	}
}
