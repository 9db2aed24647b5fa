package term

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes t as msgpack.
func Marshal(t Term) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(&t); err != nil {
		return nil, fmt.Errorf("term: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a term written by Marshal.
func Unmarshal(data []byte) (Term, error) {
	var t Term
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&t); err != nil {
		return Term{}, fmt.Errorf("term: decode: %w", err)
	}
	return t, nil
}
