package replica

import (
	"bytes"
	"encoding/gob"
)

// gobEncode serializes v for transport as an opaque Reliable Broadcast
// payload (wire.RBInit.Payload is []byte precisely so RB stays agnostic to
// what it is carrying — Report, PC_Set, Reset_ViewChange, or Reset_NewView).
func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, dst any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(dst)
}
