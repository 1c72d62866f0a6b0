package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// The client link speaks JSON; the container link speaks CBOR with Core
// Deterministic Encoding (RFC 8949 §4.2) so the same logical frame always
// produces identical bytes.

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeJSON serializes a frame for the client link.
func EncodeJSON(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding %s frame: %w", f.Kind, err)
	}
	return data, nil
}

// DecodeJSON parses a client-link frame.
func DecodeJSON(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("protocol: decoding frame: %w", err)
	}
	return f, nil
}

// EncodeBinary serializes a frame for the container link.
func EncodeBinary(f Frame) ([]byte, error) {
	data, err := encMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding %s frame: %w", f.Kind, err)
	}
	return data, nil
}

// DecodeBinary parses a container-link frame.
func DecodeBinary(data []byte) (Frame, error) {
	var f Frame
	if err := decMode.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("protocol: decoding frame: %w", err)
	}
	return f, nil
}
