package tensor

import (
	"bytes"
	"fmt"
	"strings"
	"unsafe"
)

// Device represents the compute device tensor data is associated with.
type Device int

// Supported compute devices. Only CPU has an in-tree backend; the
// accelerator devices identify externally provided builders.
const (
	CPU Device = iota
	CUDA
	Vulkan
	Metal
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case Vulkan:
		return "Vulkan"
	case Metal:
		return "Metal"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// ParseDevice maps a device name to its Device value. Matching is
// case-insensitive.
func ParseDevice(s string) (Device, bool) {
	for _, d := range []Device{CPU, CUDA, Vulkan, Metal, WebGPU} {
		if strings.EqualFold(s, d.String()) {
			return d, true
		}
	}
	return CPU, false
}

// RawTensor is a dense row-major tensor.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
	device Device
}

// NewRaw creates a zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if dtype == String {
		return nil, fmt.Errorf("string tensors are not supported")
	}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// FromSlice creates a RawTensor from a Go slice. The slice length must
// match the number of elements in the shape.
func FromSlice[T DType](data []T, shape Shape, device Device) (*RawTensor, error) {
	var dummy T
	dtype := inferDataType(dummy)

	t, err := NewRaw(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	if len(data) != t.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, t.NumElements())
	}
	copy(t.data, unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*dtype.Size()))
	return t, nil
}

// Scalar creates a rank-0 tensor holding a single value.
func Scalar[T DType](value T, device Device) *RawTensor {
	t, err := FromSlice([]T{value}, Shape{}, device)
	if err != nil {
		panic(err) // scalar shape is always valid
	}
	return t
}

// Ones creates a tensor filled with the value one. Used to materialize
// example inputs for dynamic-shape specs.
func Ones(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	t, err := NewRaw(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	n := t.NumElements()
	switch dtype {
	case Float32:
		d := t.AsFloat32()
		for i := 0; i < n; i++ {
			d[i] = 1
		}
	case Float64:
		d := t.AsFloat64()
		for i := 0; i < n; i++ {
			d[i] = 1
		}
	case Int32:
		d := t.AsInt32()
		for i := 0; i < n; i++ {
			d[i] = 1
		}
	case Int64:
		d := t.AsInt64()
		for i := 0; i < n; i++ {
			d[i] = 1
		}
	case Uint8:
		d := t.AsUint8()
		for i := 0; i < n; i++ {
			d[i] = 1
		}
	case Bool:
		d := t.AsBool()
		for i := 0; i < n; i++ {
			d[i] = true
		}
	}
	return t, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape { return r.shape }

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int { return r.stride }

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType { return r.dtype }

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device { return r.device }

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int { return r.shape.NumElements() }

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int { return len(r.data) }

// Data returns the raw byte slice backing the tensor.
func (r *RawTensor) Data() []byte { return r.data }

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	r.mustBe(Float32)
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	r.mustBe(Float64)
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	r.mustBe(Int32)
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	r.mustBe(Int64)
	return unsafe.Slice((*int64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsUint8 interprets the data as []uint8.
// Panics if the tensor's dtype is not Uint8.
func (r *RawTensor) AsUint8() []uint8 {
	r.mustBe(Uint8)
	return r.data
}

// AsBool interprets the data as []bool.
// Panics if the tensor's dtype is not Bool.
func (r *RawTensor) AsBool() []bool {
	r.mustBe(Bool)
	return unsafe.Slice((*bool)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

func (r *RawTensor) mustBe(dt DataType) {
	if r.dtype != dt {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", r.dtype, dt))
	}
	if len(r.data) == 0 {
		panic("tensor has no data")
	}
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:   data,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		device: r.device,
	}
}

// ToDevice returns a copy of the tensor tagged for the given device.
func (r *RawTensor) ToDevice(device Device) *RawTensor {
	if r.device == device {
		return r
	}
	c := r.Clone()
	c.device = device
	return c
}

// BitEqual reports whether two tensors have identical shape, dtype and
// bit-identical contents.
func BitEqual(a, b *RawTensor) bool {
	return a.dtype == b.dtype && a.shape.Equal(b.shape) && bytes.Equal(a.data, b.data)
}
