package wire

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
)

// nativeLittleEndian is the endianness Encode declares in every header's
// flag and writes the header in. Decode does not consult it: it reads each
// header in whatever order that header's own flag declares.
// nativeLittleEndian is true on every platform this engine ships to today
// (amd64, arm64). It is a variable, not a constant, so a future build
// targeting a big-endian platform can override it at init time without
// touching Encode/Decode.
var nativeLittleEndian = true

// headerWire is the fixed-width encoding of Header, in the declared
// endianness. Payload bytes follow and are endian-neutral (they are
// encoded with encoding/gob, a self-describing format, so only the header's
// raw integers need the explicit endian flip).
type headerWire struct {
	SiteID             uint32
	MachineID          uint32
	Len                uint32
	Type               uint32
	Incarnation        uint32
	MonotonicCounter   uint32
	GlobalConfigNumber uint64
	MerkleTreeNum      uint16
	MerkleIndex        uint16
	EndianFlag         uint8 // 1 = little-endian, 0 = big-endian
}

const headerWireSize = 4*6 + 8 + 2*2 + 1

// byteOrder returns the codec matching h's declared endianness.
func (h Header) byteOrder() binary.ByteOrder {
	if h.LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Encode serializes a Message into the framed wire format: a fixed-width
// header (in the host's native endianness, flagged so a foreign-endian
// receiver knows to flip) followed by a gob-encoded payload. Returns an
// error if the result would exceed maxPacketSize.
func Encode(msg Message, maxPacketSize int) ([]byte, error) {
	var payloadBuf bytes.Buffer
	if err := gob.NewEncoder(&payloadBuf).Encode(msg.Payload); err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}

	h := msg.Header
	h.LittleEndian = nativeLittleEndian
	h.Len = uint32(payloadBuf.Len())

	hw := headerWire{
		SiteID:             h.SiteID,
		MachineID:          h.MachineID,
		Len:                h.Len,
		Type:               uint32(h.Type),
		Incarnation:        h.Incarnation,
		MonotonicCounter:   h.MonotonicCounter,
		GlobalConfigNumber: uint64(h.GlobalConfigNumber),
		MerkleTreeNum:      h.MerkleTreeNum,
		MerkleIndex:        h.MerkleIndex,
	}
	if h.LittleEndian {
		hw.EndianFlag = 1
	}

	order := h.byteOrder()
	headerBuf := make([]byte, headerWireSize)
	off := 0
	putU32 := func(v uint32) { order.PutUint32(headerBuf[off:], v); off += 4 }
	putU32(hw.SiteID)
	putU32(hw.MachineID)
	putU32(hw.Len)
	putU32(hw.Type)
	putU32(hw.Incarnation)
	putU32(hw.MonotonicCounter)
	order.PutUint64(headerBuf[off:], hw.GlobalConfigNumber)
	off += 8
	order.PutUint16(headerBuf[off:], hw.MerkleTreeNum)
	off += 2
	order.PutUint16(headerBuf[off:], hw.MerkleIndex)
	off += 2
	headerBuf[off] = hw.EndianFlag

	out := make([]byte, 0, len(headerBuf)+payloadBuf.Len())
	out = append(out, headerBuf...)
	out = append(out, payloadBuf.Bytes()...)

	if len(out) > maxPacketSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds maximum packet size %d", len(out), maxPacketSize)
	}
	return out, nil
}

// Decode parses a framed buffer back into header fields and the raw
// payload bytes. It does NOT decode the payload into a typed Go value or
// verify any signature — that is internal/validate's job, which decides,
// per Kind, which concrete payload struct to gob-decode into and what
// signature scheme to check. Decode only un-frames and corrects
// endianness.
func Decode(buf []byte, maxPacketSize int) (Header, []byte, error) {
	if len(buf) > maxPacketSize {
		return Header{}, nil, fmt.Errorf("wire: buffer of %d bytes exceeds maximum packet size %d", len(buf), maxPacketSize)
	}
	if len(buf) < headerWireSize {
		return Header{}, nil, fmt.Errorf("wire: buffer too short for header (%d bytes)", len(buf))
	}

	endianFlag := buf[headerWireSize-1]
	littleEndian := endianFlag == 1
	order := binary.ByteOrder(binary.BigEndian)
	if littleEndian {
		order = binary.LittleEndian
	}

	off := 0
	getU32 := func() uint32 { v := order.Uint32(buf[off:]); off += 4; return v }
	h := Header{}
	h.SiteID = getU32()
	h.MachineID = getU32()
	h.Len = getU32()
	h.Type = Kind(getU32())
	h.Incarnation = getU32()
	h.MonotonicCounter = getU32()
	h.GlobalConfigNumber = membership.GlobalConfigNumber(order.Uint64(buf[off:]))
	off += 8
	h.MerkleTreeNum = order.Uint16(buf[off:])
	off += 2
	h.MerkleIndex = order.Uint16(buf[off:])
	off += 2
	h.LittleEndian = littleEndian

	payload := buf[headerWireSize:]
	if uint32(len(payload)) != h.Len {
		return Header{}, nil, fmt.Errorf("wire: header len %d does not match actual payload length %d", h.Len, len(payload))
	}
	return h, payload, nil
}

// DecodePayload gob-decodes raw payload bytes into dst, a pointer to the
// concrete payload type the caller selected for h.Type.
func DecodePayload(raw []byte, dst any) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(dst)
}

// Digest returns the SHA-1 digest of the gob-encoded payload, matching
// spec §3's "RSA on a SHA-1 digest." SHA-1 is a fixed input per spec §1
// (cryptographic protocol design is out of scope); it is not this
// repository's place to substitute a different hash.
func Digest(payload any) ([20]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return [20]byte{}, err
	}
	return sha1Sum(buf.Bytes()), nil
}

// Sha256Of is a convenience used by callers that want a [32]byte digest
// (PO_Request/Pre_Prepare digests throughout internal/po, internal/ord)
// rather than the wire-level SHA-1 signing digest.
func Sha256Of(payload any) ([32]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(buf.Bytes()), nil
}

func sha1Sum(b []byte) [20]byte {
	return sha1.Sum(b)
}
