package codec

import (
	"testing"
)

func TestGetJSON(t *testing.T) {
	c, err := Get(TypeJSON)
	if err != nil {
		t.Fatalf("Get(TypeJSON) failed: %v", err)
	}
	if c.Type() != TypeJSON {
		t.Fatalf("wrong codec type: %d", c.Type())
	}

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	original := payload{Name: "echo", Count: 3}
	data, err := c.Encode(&original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var decoded payload
	if err := c.Decode(data, &decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded != original {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestGetUnknownSerialization(t *testing.T) {
	if _, err := Get(0); err == nil {
		t.Fatal("expected error for serialization type 0")
	}
	if _, err := Get(42); err == nil {
		t.Fatal("expected error for serialization type 42")
	}
}
