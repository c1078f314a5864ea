package bridge

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/stagehand/pkg/api"
)

func sampleAudio() []float32 {
	return []float32{
		0, 1, -1, 0.5, -0.25,
		float32(math.Copysign(0, -1)),
		math.MaxFloat32,
		math.SmallestNonzeroFloat32,
		float32(math.Inf(1)),
		float32(math.NaN()),
		0.123456789,
	}
}

func requireSameBits(t *testing.T, want, got []float32) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.Float32bits(want[i]) != math.Float32bits(got[i]) {
			t.Fatalf("sample %d differs: want %08x, got %08x", i, math.Float32bits(want[i]), math.Float32bits(got[i]))
		}
	}
}

func TestTensor_RoundTripIsBitIdentical(t *testing.T) {
	in := sampleAudio()

	buf, err := EncodeTensor("audio", in)
	require.NoError(t, err)

	out, err := DecodeTensor("audio", buf)
	require.NoError(t, err)
	requireSameBits(t, in, out)
}

func TestTensor_Layout(t *testing.T) {
	buf, err := EncodeTensor("audio", []float32{1, 2})
	require.NoError(t, err)

	hlen := binary.LittleEndian.Uint64(buf)
	assert.Zero(t, hlen%8, "header must be padded to 8 bytes")
	assert.Equal(t, 8+int(hlen)+8, len(buf))

	var header map[string]tensorInfo
	require.NoError(t, json.Unmarshal(buf[8:8+hlen], &header))
	assert.Equal(t, tensorInfo{Dtype: "F32", Shape: []int{2}, DataOffsets: [2]int64{0, 8}}, header["audio"])
	assert.Equal(t, math.Float32bits(1), binary.LittleEndian.Uint32(buf[8+hlen:]))
}

func TestTensor_EmptyBuffer(t *testing.T) {
	buf, err := EncodeTensor("audio", nil)
	require.NoError(t, err)

	out, err := DecodeTensor("audio", buf)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func encodeF64(t *testing.T, name string, values []float64) []byte {
	t.Helper()
	header, err := json.Marshal(map[string]any{
		"__metadata__": map[string]string{"format": "np"},
		name: tensorInfo{Dtype: "F64", Shape: []int{1, len(values)}, DataOffsets: [2]int64{0, int64(len(values) * 8)}},
	})
	require.NoError(t, err)
	for len(header)%8 != 0 {
		header = append(header, ' ')
	}
	buf := make([]byte, 8+len(header)+len(values)*8)
	binary.LittleEndian.PutUint64(buf, uint64(len(header)))
	copy(buf[8:], header)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8+len(header)+i*8:], math.Float64bits(v))
	}
	return buf
}

func TestTensor_DecodesF64AndOtherNames(t *testing.T) {
	buf := encodeF64(t, "samples", []float64{0.5, -2})

	out, err := DecodeTensor("audio", buf)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -2}, out)
}

func TestTensor_RejectsMalformed(t *testing.T) {
	good, err := EncodeTensor("audio", []float32{1, 2, 3})
	require.NoError(t, err)

	hugeHeader := make([]byte, 16)
	binary.LittleEndian.PutUint64(hugeHeader, 1<<40)

	truncated := append([]byte(nil), good[:len(good)-2]...)

	// 2^62 * 2 wraps to zero elements when multiplied unchecked.
	overflow := rawTensor(`{"audio":{"dtype":"F32","shape":[4611686018427387904,2],"data_offsets":[0,0]}}`, nil)
	tooBig := rawTensor(`{"audio":{"dtype":"F32","shape":[3,3],"data_offsets":[0,12]}}`, make([]byte, 12))
	badDtype := rawTensor(`{"audio":{"dtype":"I8","shape":[4],"data_offsets":[0,4]}}`, make([]byte, 4))

	cases := map[string][]byte{
		"too short":      {1, 2, 3},
		"huge header":    hugeHeader,
		"truncated":      truncated,
		"not json":       append([]byte{4, 0, 0, 0, 0, 0, 0, 0}, []byte("nope")...),
		"missing value":  encodeF64(t, "a", nil)[:8],
		"shape overflow": overflow,
		"shape too big":  tooBig,
		"unknown dtype":  badDtype,
	}
	for name, buf := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTensor("audio", buf)
			require.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

// rawTensor frames a hand-written header and data as a tensor buffer.
func rawTensor(header string, data []byte) []byte {
	buf := make([]byte, 8, 8+len(header)+len(data))
	binary.LittleEndian.PutUint64(buf, uint64(len(header)))
	buf = append(buf, header...)
	return append(buf, data...)
}

func TestTensor_ZeroSizedShapes(t *testing.T) {
	out, err := DecodeTensor("audio", rawTensor(
		`{"audio":{"dtype":"F32","shape":[0,4611686018427387904],"data_offsets":[0,0]}}`, nil))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = DecodeTensor("audio", rawTensor(
		`{"audio":{"dtype":"F32","shape":[],"data_offsets":[0,4]}}`, []byte{0, 0, 0x80, 0x3f}))
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, out)
}

func mustKey(t *testing.T) string {
	t.Helper()
	k, err := GenerateKey()
	require.NoError(t, err)
	return k
}

func mustCodec(t *testing.T, key string) Codec {
	t.Helper()
	c, err := newCodec(key)
	require.NoError(t, err)
	return c
}

func TestCodec_RoundTripWithAudio(t *testing.T) {
	for name, key := range map[string]string{"plain": "", "encrypted": mustKey(t)} {
		t.Run(name, func(t *testing.T) {
			codec := mustCodec(t, key)
			audio := sampleAudio()
			msg := api.Envelope{
				api.KeyCommand:   api.CommandTranscribe,
				api.KeyTimestamp: "2024-05-01T10:00:00.123456",
				api.KeyAudio:     audio,
				"file":           "a.wav",
			}

			frame, err := codec.Encode(msg)
			require.NoError(t, err)
			assert.IsType(t, []float32{}, msg[api.KeyAudio], "Encode must not modify its input")

			got, err := codec.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, api.CommandTranscribe, got.Command())
			assert.Equal(t, "a.wav", got.String("file"))
			assert.Equal(t, "2024-05-01T10:00:00.123456", got.String(api.KeyTimestamp))

			samples, ok := got[api.KeyAudio].([]float32)
			require.True(t, ok, "audio must come back as []float32, got %T", got[api.KeyAudio])
			requireSameBits(t, audio, samples)
		})
	}
}

func TestCodec_PlainFrameIsJSONWithBase64Tensor(t *testing.T) {
	frame, err := Codec{}.Encode(api.Envelope{api.KeyCommand: "conv", api.KeyAudio: []float32{1}})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(frame, &raw))
	encoded, ok := raw[api.KeyAudio].(string)
	require.True(t, ok)

	tensor, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	samples, err := DecodeTensor("audio", tensor)
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, samples)
}

func TestCodec_Float64AudioIsSentAsF32(t *testing.T) {
	codec := Codec{}
	frame, err := codec.Encode(api.Envelope{api.KeyCommand: "transcribe", api.KeyAudio: []float64{0.25, -1}})
	require.NoError(t, err)

	got, err := codec.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -1}, got[api.KeyAudio])
}

func TestCodec_WrongKeyIsRejected(t *testing.T) {
	sender := mustCodec(t, mustKey(t))
	receiver := mustCodec(t, mustKey(t))

	frame, err := sender.Encode(api.Envelope{api.KeyCommand: "conv", api.KeyText: "secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(frame), "secret")

	_, err = receiver.Decode(frame)
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = receiver.Decode([]byte(`{"command":"conv"}`))
	require.ErrorIs(t, err, ErrDecrypt, "plaintext must not pass an encrypted receiver")
}

func TestCodec_RejectsMalformedFrames(t *testing.T) {
	codec := Codec{}
	cases := map[string]string{
		"not json":        "hello",
		"missing command": `{"text":"hi"}`,
		"bad base64":      `{"command":"conv","audio":"***"}`,
		"bad tensor":      `{"command":"conv","audio":"AAAA"}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode([]byte(frame))
			require.True(t, errors.Is(err, ErrMalformedFrame), "got %v", err)
		})
	}
}

func TestNewCodec_InvalidKey(t *testing.T) {
	_, err := newCodec("not-a-key")
	require.ErrorIs(t, err, api.ErrInvalidConfig)
}
