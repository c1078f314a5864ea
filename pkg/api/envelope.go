package api

import (
	"maps"
	"time"
)

// Well-known envelope keys. The core only ever inspects KeyCommand and
// KeyTimestamp; every other field belongs to the stages.
const (
	KeyCommand   = "command"
	KeyTimestamp = "timestamp"
	KeyAudio     = "audio"
	KeyText      = "text"
)

// Common command tags exchanged between stages.
const (
	CommandTranscribe  = "transcribe"
	CommandConv        = "conv"
	CommandConvReset   = "conv-reset"
	CommandConvSilence = "conv-silence"
	CommandFAQ         = "faq"
)

const (
	timestampLayoutNano  = time.RFC3339Nano
	// ISO-8601 without a zone, as written by peers using local wall-clock time.
	naiveTimestampLayout = "2006-01-02T15:04:05.999999999"
)

// Envelope is the schema-light message exchanged on edges.
type Envelope map[string]any

// NewEnvelope returns an envelope carrying command and the current time.
func NewEnvelope(command string) Envelope {
	return Envelope{
		KeyCommand:   command,
		KeyTimestamp: FormatTimestamp(time.Now()),
	}
}

// Command returns the command tag, or "" when it is absent or not a string.
func (e Envelope) Command() string {
	s, _ := e[KeyCommand].(string)
	return s
}

// Timestamp parses the timestamp field.
func (e Envelope) Timestamp() (time.Time, bool) {
	s, ok := e[KeyTimestamp].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// String returns the string field key, or "" if missing.
func (e Envelope) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// Clone returns a shallow copy. Payload values such as sample buffers are
// shared; stages must treat received payloads as read-only.
func (e Envelope) Clone() Envelope {
	if e == nil {
		return nil
	}
	return maps.Clone(e)
}

// FormatTimestamp renders t the way envelopes carry it.
func FormatTimestamp(t time.Time) string {
	return t.Format(timestampLayoutNano)
}

// ParseTimestamp accepts RFC 3339 timestamps and zone-less ISO-8601
// timestamps, the latter interpreted in local time.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayoutNano, s)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation(naiveTimestampLayout, s, time.Local)
}
