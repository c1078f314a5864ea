package persistence

import (
	"fmt"

	"github.com/petrijr/stagehand/internal/bridge"
	"github.com/petrijr/stagehand/pkg/api"
)

// payloadCodec never encrypts; stores hold plain frames.
var payloadCodec bridge.Codec

// EncodeEnvelope serializes msg as a bridge frame.
func EncodeEnvelope(msg api.Envelope) ([]byte, error) {
	data, err := payloadCodec.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(data []byte) (api.Envelope, error) {
	msg, err := payloadCodec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return msg, nil
}
