// Package codec maps the envelope's serialization byte to a serializer.
// JSON is the only serialization this protocol defines; the registry exists
// so an unsupported byte is rejected in one place.
package codec

import "fmt"

// Codec serializes envelope payloads.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() byte
}

const (
	// TypeJSON is the serialization id carried in the envelope.
	TypeJSON byte = 1
)

var codecs = map[byte]Codec{
	TypeJSON: &JSONCodec{},
}

// Get returns the codec registered for the serialization byte.
func Get(serialization byte) (Codec, error) {
	c, ok := codecs[serialization]
	if !ok {
		return nil, fmt.Errorf("codec: unsupported serialization type: %d", serialization)
	}
	return c, nil
}
