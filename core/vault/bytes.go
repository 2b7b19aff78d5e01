package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Bytes is a byte slice in the vault API's wire form: a JSON object keyed by the
// decimal index of each byte, {"0":12,"1":250,...}. Decoding also accepts a plain
// JSON array of byte values.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strconv.Itoa(i))
		buf.WriteString(`":`)
		buf.WriteString(strconv.Itoa(int(v)))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*b = nil
		return nil
	}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var values []int
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return fmt.Errorf("failed to decode byte array: %w", err)
		}
		out := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return fmt.Errorf("byte %d out of range: %d", i, v)
			}
			out[i] = byte(v)
		}
		*b = out
		return nil
	}

	var indexed map[string]int
	if err := json.Unmarshal(trimmed, &indexed); err != nil {
		return fmt.Errorf("failed to decode byte object: %w", err)
	}
	out := make([]byte, len(indexed))
	for key, v := range indexed {
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(indexed) || strconv.Itoa(i) != key {
			return fmt.Errorf("invalid byte index %q", key)
		}
		if v < 0 || v > 255 {
			return fmt.Errorf("byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
