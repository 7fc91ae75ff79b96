package cpu

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/born-ml/forge/internal/tensor"
)

// Engine file format:
//
//	magic "FRGE" (4) | version uint32 (4) | header length uint64 (8) |
//	checksum [32] | header JSON | padding to 64 | weight blobs
//
// The checksum is SHA-256 over everything after the fixed header.
const (
	magicBytes    = "FRGE"
	formatVersion = 1
	dataAlignment = 64
	fixedHeader   = 4 + 4 + 8 + 32
)

// Format errors.
var (
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported engine format version")
	ErrChecksumMismatch   = errors.New("checksum mismatch: engine may be corrupted")
	ErrTruncated          = errors.New("engine data truncated")
)

// encode serializes a recorded program and its weight data.
func encode(prog *program, constData map[int]*tensor.RawTensor) ([]byte, error) {
	// Lay out weight blobs, aligned for direct slicing.
	var offset int64
	for i := range prog.Consts {
		c := &prog.Consts[i]
		offset = align(offset)
		c.Offset = offset
		offset += c.Size
	}
	blobSize := offset

	header, err := json.Marshal(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal engine header: %w", err)
	}

	bodyStart := align(int64(len(header)))
	buf := make([]byte, fixedHeader+bodyStart+blobSize)
	copy(buf, magicBytes)
	binary.LittleEndian.PutUint32(buf[4:], formatVersion)
	binary.LittleEndian.PutUint64(buf[8:], uint64(len(header)))
	copy(buf[fixedHeader:], header)

	blob := buf[fixedHeader+bodyStart:]
	for i := range prog.Consts {
		c := &prog.Consts[i]
		t, ok := constData[c.ID]
		if !ok {
			return nil, fmt.Errorf("constant %q has no data", c.Name)
		}
		copy(blob[c.Offset:c.Offset+c.Size], t.Data())
	}

	sum := sha256.Sum256(buf[fixedHeader:])
	copy(buf[16:fixedHeader], sum[:])
	return buf, nil
}

// decode parses a serialized engine back into a program and its
// weight tensors. The checksum is always verified.
func decode(data []byte) (*program, map[int]*tensor.RawTensor, error) {
	if len(data) < fixedHeader {
		return nil, nil, ErrTruncated
	}
	if string(data[:4]) != magicBytes {
		return nil, nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != formatVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	headerLen := binary.LittleEndian.Uint64(data[8:])
	if uint64(len(data)-fixedHeader) < headerLen {
		return nil, nil, ErrTruncated
	}

	var stored [32]byte
	copy(stored[:], data[16:fixedHeader])
	if sha256.Sum256(data[fixedHeader:]) != stored {
		return nil, nil, ErrChecksumMismatch
	}

	var prog program
	if err := json.Unmarshal(data[fixedHeader:fixedHeader+int(headerLen)], &prog); err != nil {
		return nil, nil, fmt.Errorf("failed to parse engine header: %w", err)
	}

	blob := data[fixedHeader+align(int64(headerLen)):]
	consts := make(map[int]*tensor.RawTensor, len(prog.Consts))
	for i := range prog.Consts {
		c := &prog.Consts[i]
		if c.Offset < 0 || c.Offset+c.Size > int64(len(blob)) {
			return nil, nil, fmt.Errorf("%w: constant %q extends beyond data section", ErrTruncated, c.Name)
		}
		t, err := tensor.NewRaw(tensor.Shape(c.Shape), c.DType, tensor.CPU)
		if err != nil {
			return nil, nil, fmt.Errorf("constant %q: %w", c.Name, err)
		}
		copy(t.Data(), blob[c.Offset:c.Offset+c.Size])
		consts[c.ID] = t
	}
	return &prog, consts, nil
}

func align(n int64) int64 {
	return (n + dataAlignment - 1) / dataAlignment * dataAlignment
}
