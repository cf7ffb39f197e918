package record

import (
	json "github.com/goccy/go-json"
)

// ParseLine decodes one intake line into a Raw payload. A JSON syntax
// error is the caller's cue to record a SkipParseError; ParseLine itself
// only decodes.
func ParseLine(line []byte) (Raw, error) {
	var raw Raw
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// MarshalLine encodes a raw payload back to one JSON line, used by
// append_to_partition-style one-shot producers in tests and by the
// Error Handler when it needs to echo the offending payload.
func MarshalLine(raw Raw) ([]byte, error) {
	return json.Marshal(raw)
}
