// Package protocol implements the length-prefixed frame format used on every
// TCP connection.
//
// It solves TCP's sticky packet problem with a 4-byte big-endian length
// prefix followed by exactly that many payload bytes. The payload is the
// UTF-8 JSON serialization of a message.Message envelope.
//
// Frame format:
//
//	0         4
//	┌─────────┬────────────────┐
//	│ length  │  payload ...   │
//	│ uint32  │  length bytes  │
//	└─────────┴────────────────┘
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"lite-rpc/codec"
	"lite-rpc/message"
)

// HeaderSize is the size of the length prefix.
const HeaderSize = 4

// MaxFrameSize bounds a single payload. A header claiming more than this
// fails the connection with a decode error.
const MaxFrameSize = 16 << 20 // 16 MiB

// ErrFrameTooLarge is returned when a frame header exceeds MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("protocol: frame exceeds %d bytes", MaxFrameSize)

// Encode writes one frame to w. Length prefix and payload are written with a
// single Write call so concurrent writers holding a lock per call can never
// interleave partial frames.
func Encode(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}

// Decode reads one complete frame from r. io.ReadFull guarantees exactly N
// bytes per read, so a header claiming more bytes than currently buffered
// simply blocks until the rest of the payload arrives.
func Decode(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteMessage serializes the envelope with its declared serializer and
// frames it onto w. A zero serialization byte defaults to JSON.
func WriteMessage(w io.Writer, msg *message.Message) error {
	st := msg.Serialization
	if st == 0 {
		st = message.SerializationJSON
		msg.Serialization = st
	}
	c, err := codec.Get(st)
	if err != nil {
		return err
	}
	payload, err := c.Encode(msg)
	if err != nil {
		return err
	}
	return Encode(w, payload)
}

// ReadMessage reads one frame from r and decodes the envelope. The payload
// bytes themselves are JSON; the envelope's serialization byte is validated
// against the codec registry afterwards so that an unsupported value is
// surfaced as a decode error rather than silently accepted.
func ReadMessage(r io.Reader) (*message.Message, error) {
	payload, err := Decode(r)
	if err != nil {
		return nil, err
	}
	var msg message.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if msg.Serialization != 0 {
		if _, err := codec.Get(msg.Serialization); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}
