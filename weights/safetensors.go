// Package weights - Pretrained weight files: safetensors codec, local store and network loading.
package weights

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gorgonia.org/tensor"
)

// DType is the element type of a stored tensor.
type DType string

const (
	// DTypeF32 is IEEE 754 single precision.
	DTypeF32 DType = "F32"
	// DTypeF16 is IEEE 754 half precision.
	DTypeF16 DType = "F16"
)

const metadataKey = "__metadata__"

// maxHeaderSize guards against reading garbage as a header length.
const maxHeaderSize = 100 << 20

// ErrCorrupt is returned when a weight file cannot be decoded.
var ErrCorrupt = errors.New("corrupt weight file")

// TensorInfo describes one tensor in a safetensors header.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// File is an open safetensors file. Tensors are read on demand and the file
// is safe for concurrent Tensor calls.
type File struct {
	Tensors  map[string]TensorInfo
	Metadata map[string]string

	r      io.ReaderAt
	closer io.Closer
	base   int64
}

// Open opens a safetensors file from disk.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	sf, err := NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "open %s", path)
	}
	sf.closer = f
	return sf, nil
}

// NewReader decodes the header of a safetensors stream of the given size.
func NewReader(r io.ReaderAt, size int64) (*File, error) {
	var lenBuf [8]byte
	if _, err := r.ReadAt(lenBuf[:], 0); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "read header length")
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n > maxHeaderSize || int64(n)+8 > size {
		return nil, errors.Wrapf(ErrCorrupt, "header length %d exceeds file size %d", n, size)
	}

	header := make([]byte, n)
	if _, err := r.ReadAt(header, 8); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "read header")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "decode header: %v", err)
	}

	f := &File{
		Tensors:  make(map[string]TensorInfo, len(raw)),
		Metadata: map[string]string{},
		r:        r,
		base:     8 + int64(n),
	}
	dataSize := size - f.base
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &f.Metadata); err != nil {
				return nil, errors.Wrapf(ErrCorrupt, "decode metadata: %v", err)
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "decode tensor %q: %v", name, err)
		}
		begin, end := info.DataOffsets[0], info.DataOffsets[1]
		if begin < 0 || end < begin || end > dataSize {
			return nil, errors.Wrapf(ErrCorrupt, "tensor %q offsets %v out of range", name, info.DataOffsets)
		}
		n, ok := byteSize(info.Shape, info.DType)
		if !ok {
			return nil, errors.Wrapf(ErrCorrupt, "tensor %q has invalid shape %v or dtype %q", name, info.Shape, info.DType)
		}
		if n != end-begin {
			return nil, errors.Wrapf(ErrCorrupt, "tensor %q size does not match shape %v", name, info.Shape)
		}
		f.Tensors[name] = info
	}
	return f, nil
}

// Tensor reads and decodes the named tensor as float32.
func (f *File) Tensor(name string) (*tensor.Dense, error) {
	info, ok := f.Tensors[name]
	if !ok {
		return nil, errors.Wrapf(ErrMissingTensor, "%q", name)
	}
	raw := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := f.r.ReadAt(raw, f.base+info.DataOffsets[0]); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "read tensor %q: %v", name, err)
	}

	data := make([]float32, elements(info.Shape))
	switch info.DType {
	case DTypeF32:
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case DTypeF16:
		for i := range data {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	default:
		return nil, errors.Wrapf(ErrCorrupt, "tensor %q has unsupported dtype %q", name, info.DType)
	}
	return tensor.New(tensor.WithShape(info.Shape...), tensor.WithBacking(data)), nil
}

// Close closes the underlying file, if any.
func (f *File) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// Write encodes tensors as a safetensors stream. Tensors are laid out in
// name order; dtype selects the on-disk precision.
func Write(w io.Writer, tensors map[string]*tensor.Dense, metadata map[string]string, dtype DType) error {
	if dtype.size() == 0 {
		return errors.Errorf("unsupported dtype %q", dtype)
	}
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, name := range names {
		t := tensors[name]
		n := int64(t.Shape().TotalSize() * dtype.size())
		header[name] = TensorInfo{
			DType:       dtype,
			Shape:       append([]int(nil), t.Shape()...),
			DataOffsets: [2]int64{offset, offset + n},
		}
		offset += n
	}

	hb, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Pad so that the data section starts 8-byte aligned.
	for len(hb)%8 != 0 {
		hb = append(hb, ' ')
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hb)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(hb); err != nil {
		return err
	}

	for _, name := range names {
		data, ok := tensors[name].Data().([]float32)
		if !ok {
			return errors.Errorf("tensor %q is not float32", name)
		}
		buf := make([]byte, len(data)*dtype.size())
		for i, v := range data {
			switch dtype {
			case DTypeF32:
				binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
			case DTypeF16:
				binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
			}
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func (d DType) size() int {
	switch d {
	case DTypeF32:
		return 4
	case DTypeF16:
		return 2
	default:
		return 0
	}
}

// byteSize returns the encoded size of a tensor. It fails on a non-positive
// dimension, an unknown dtype, or a size that overflows int64.
func byteSize(shape []int, dtype DType) (int64, bool) {
	n := int64(dtype.size())
	if n == 0 {
		return 0, false
	}
	for _, d := range shape {
		if d <= 0 || n > math.MaxInt64/int64(d) {
			return 0, false
		}
		n *= int64(d)
	}
	return n, true
}

func elements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
