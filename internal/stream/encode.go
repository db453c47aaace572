package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode renders one frame in wire format. Multi-line JSON is split across
// data lines so Parser reassembles it byte for byte.
func Encode(kind Kind, payload any) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	var b bytes.Buffer
	b.WriteString("event: ")
	b.WriteString(string(kind))
	b.WriteByte('\n')
	for _, line := range bytes.Split(data, lf) {
		b.WriteString("data: ")
		b.Write(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// KeepAlive is a comment frame that parsers ignore.
func KeepAlive() []byte {
	return []byte(": keep-alive\n\n")
}
