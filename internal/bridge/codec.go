package bridge

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petrijr/stagehand/pkg/api"
)

var (
	// ErrDecrypt is returned when a frame does not verify under the
	// configured key.
	ErrDecrypt = errors.New("frame failed to decrypt")

	// ErrMalformedFrame is returned for frames that are not a valid
	// envelope.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Codec converts envelopes to wire frames and back.
//
// A frame is the JSON encoding of the envelope. A sample buffer in the
// "audio" field travels as a base64 string holding a safetensors buffer
// with one tensor named "audio". With a Cipher, the JSON bytes are
// encrypted as a whole.
type Codec struct {
	Cipher Cipher
}

// Encode serializes msg. msg itself is not modified.
func (c Codec) Encode(msg api.Envelope) ([]byte, error) {
	out := msg.Clone()

	var samples []float32
	switch a := out[api.KeyAudio].(type) {
	case []float32:
		samples = a
	case []float64:
		samples = make([]float32, len(a))
		for i, v := range a {
			samples[i] = float32(v)
		}
	}
	if samples != nil {
		tensor, err := EncodeTensor(api.KeyAudio, samples)
		if err != nil {
			return nil, fmt.Errorf("encode audio: %w", err)
		}
		out[api.KeyAudio] = base64.StdEncoding.EncodeToString(tensor)
	}

	frame, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if c.Cipher != nil {
		return c.Cipher.Encrypt(frame)
	}
	return frame, nil
}

// Decode parses a frame. Frames that fail to decrypt return ErrDecrypt;
// anything else that is not an envelope with a command returns
// ErrMalformedFrame.
func (c Codec) Decode(frame []byte) (api.Envelope, error) {
	if c.Cipher != nil {
		plain, err := c.Cipher.Decrypt(frame)
		if err != nil {
			return nil, ErrDecrypt
		}
		frame = plain
	}

	var msg api.Envelope
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if msg.Command() == "" {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedFrame, api.KeyCommand)
	}

	if encoded, ok := msg[api.KeyAudio].(string); ok {
		tensor, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: audio is not base64: %v", ErrMalformedFrame, err)
		}
		samples, err := DecodeTensor(api.KeyAudio, tensor)
		if err != nil {
			return nil, err
		}
		msg[api.KeyAudio] = samples
	}
	return msg, nil
}
