package bridge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Tensor files use the safetensors layout: an 8-byte little-endian header
// length, a JSON header padded with spaces to a multiple of 8, then the
// raw little-endian tensor bytes.

const (
	dtypeF32 = "F32"
	dtypeF64 = "F64"

	// maxTensorHeader bounds the header a peer can make us parse.
	maxTensorHeader = 1 << 20
)

type tensorInfo struct {
	Dtype       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// EncodeTensor serializes samples as a single one-dimensional F32 tensor
// called name.
func EncodeTensor(name string, samples []float32) ([]byte, error) {
	size := int64(len(samples)) * 4
	header, err := json.Marshal(map[string]tensorInfo{
		name: {Dtype: dtypeF32, Shape: []int{len(samples)}, DataOffsets: [2]int64{0, size}},
	})
	if err != nil {
		return nil, err
	}
	if pad := len(header) % 8; pad != 0 {
		header = append(header, strings.Repeat(" ", 8-pad)...)
	}

	buf := make([]byte, 8+len(header)+int(size))
	binary.LittleEndian.PutUint64(buf, uint64(len(header)))
	copy(buf[8:], header)

	data := buf[8+len(header):]
	for i, v := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// DecodeTensor reads the tensor called name from a safetensors buffer. F32
// and F64 tensors of any shape are accepted and returned flattened as
// float32. When name is missing and the buffer holds exactly one tensor,
// that tensor is returned.
func DecodeTensor(name string, buf []byte) ([]float32, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: tensor buffer too short", ErrMalformedFrame)
	}
	hlen := binary.LittleEndian.Uint64(buf)
	if hlen > maxTensorHeader || hlen > uint64(len(buf)-8) {
		return nil, fmt.Errorf("%w: bad tensor header length %d", ErrMalformedFrame, hlen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(buf[8:8+hlen], &header); err != nil {
		return nil, fmt.Errorf("%w: tensor header: %v", ErrMalformedFrame, err)
	}
	delete(header, "__metadata__")

	raw, ok := header[name]
	if !ok {
		if len(header) != 1 {
			return nil, fmt.Errorf("%w: tensor %q not found", ErrMalformedFrame, name)
		}
		for _, only := range header {
			raw = only
		}
	}

	var info tensorInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%w: tensor info: %v", ErrMalformedFrame, err)
	}

	data := buf[8+hlen:]
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > int64(len(data)) {
		return nil, fmt.Errorf("%w: tensor offsets [%d, %d] outside %d data bytes", ErrMalformedFrame, start, end, len(data))
	}
	data = data[start:end]

	var elem int
	switch info.Dtype {
	case dtypeF32:
		elem = 4
	case dtypeF64:
		elem = 8
	default:
		return nil, fmt.Errorf("%w: unsupported tensor dtype %q", ErrMalformedFrame, info.Dtype)
	}

	count, err := shapeCount(info.Shape, len(data)/elem)
	if err != nil {
		return nil, err
	}
	if len(data) != count*elem {
		return nil, fmt.Errorf("%w: %s tensor of %d elements has %d bytes", ErrMalformedFrame, info.Dtype, count, len(data))
	}

	out := make([]float32, count)
	if elem == 4 {
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	} else {
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:])))
		}
	}
	return out, nil
}

// shapeCount multiplies the dimensions of shape, failing once the product
// exceeds limit.
func shapeCount(shape []int, limit int) (int, error) {
	count := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative tensor dimension", ErrMalformedFrame)
		}
		if d == 0 {
			count = 0
		}
	}
	if count == 0 {
		return 0, nil
	}
	for _, d := range shape {
		if count > limit/d {
			return 0, fmt.Errorf("%w: tensor shape %v exceeds %d available elements", ErrMalformedFrame, shape, limit)
		}
		count *= d
	}
	return count, nil
}
