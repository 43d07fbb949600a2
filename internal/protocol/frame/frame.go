// Package frame owns the hub wire frame: fixed little-endian header, payload,
// and trailing CRC-32.
//
//	| off | size | field                                   |
//	|-----|------|-----------------------------------------|
//	| 0   | 4    | total frame length, including this field |
//	| 4   | 4    | source node id                          |
//	| 8   | 4    | destination node id (0 = hub)           |
//	| 12  | n    | payload                                 |
//	| 12+n| 4    | CRC-32 over bytes [0, 12+n)             |
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderLen     = 12
	ChecksumLen   = 4
	Overhead      = HeaderLen + ChecksumLen
	MaxPayloadLen = 32 * 1024
	MinFrameLen   = Overhead
	MaxFrameLen   = MaxPayloadLen + Overhead

	// HubID is the destination id of the hub itself.
	HubID uint32 = 0
)

const (
	offLength      = 0
	offSource      = 4
	offDestination = 8
)

var (
	ErrFrameTooShort    = errors.New("frame: too short")
	ErrFrameTooLong     = errors.New("frame: too long")
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")
	ErrLengthMismatch   = errors.New("frame: declared length mismatch")
	ErrPayloadTooLarge  = errors.New("frame: payload too large")
)

// Frame is one valid wire message. It is immutable: Payload aliases the encoded
// bytes and must not be modified by callers.
type Frame struct {
	SourceID      uint32
	DestinationID uint32
	Payload       []byte

	raw []byte
}

// New encodes a frame and returns it in decoded form.
func New(sourceID, destinationID uint32, payload []byte) (Frame, error) {
	raw, err := Encode(sourceID, destinationID, payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		SourceID:      sourceID,
		DestinationID: destinationID,
		Payload:       raw[HeaderLen : len(raw)-ChecksumLen],
		raw:           raw,
	}, nil
}

// Encode builds the wire bytes for one frame.
func Encode(sourceID, destinationID uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: payload_len=%d max=%d", ErrPayloadTooLarge, len(payload), MaxPayloadLen)
	}
	total := len(payload) + Overhead
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[offLength:], uint32(total))
	binary.LittleEndian.PutUint32(buf[offSource:], sourceID)
	binary.LittleEndian.PutUint32(buf[offDestination:], destinationID)
	copy(buf[HeaderLen:], payload)
	binary.LittleEndian.PutUint32(buf[total-ChecksumLen:], Checksum(buf[:total-ChecksumLen]))
	return buf, nil
}

// Decode validates b and returns the frame it holds. b is copied.
func Decode(b []byte) (Frame, error) {
	if len(b) < MinFrameLen {
		return Frame{}, fmt.Errorf("%w: len=%d min=%d", ErrFrameTooShort, len(b), MinFrameLen)
	}
	if len(b) > MaxFrameLen {
		return Frame{}, fmt.Errorf("%w: len=%d max=%d", ErrFrameTooLong, len(b), MaxFrameLen)
	}
	end := len(b) - ChecksumLen
	received := binary.LittleEndian.Uint32(b[end:])
	calculated := Checksum(b[:end])
	if received != calculated {
		return Frame{}, fmt.Errorf("%w: received=%#08x calculated=%#08x", ErrChecksumMismatch, received, calculated)
	}
	if declared := binary.LittleEndian.Uint32(b[offLength:]); declared != uint32(len(b)) {
		return Frame{}, fmt.Errorf("%w: declared=%d actual=%d", ErrLengthMismatch, declared, len(b))
	}

	raw := make([]byte, len(b))
	copy(raw, b)
	return Frame{
		SourceID:      binary.LittleEndian.Uint32(raw[offSource:]),
		DestinationID: binary.LittleEndian.Uint32(raw[offDestination:]),
		Payload:       raw[HeaderLen:end],
		raw:           raw,
	}, nil
}

// Bytes returns the encoded frame. The slice must not be modified.
func (f Frame) Bytes() []byte {
	return f.raw
}

// Len is the total encoded length.
func (f Frame) Len() int {
	return len(f.raw)
}

func (f Frame) Checksum() uint32 {
	if len(f.raw) < MinFrameLen {
		return 0
	}
	return binary.LittleEndian.Uint32(f.raw[len(f.raw)-ChecksumLen:])
}

// Valid reports whether f came from New or Decode.
func (f Frame) Valid() bool {
	return len(f.raw) >= MinFrameLen
}

func (f Frame) String() string {
	return fmt.Sprintf("frame(src=%d dst=%d payload_len=%d)", f.SourceID, f.DestinationID, len(f.Payload))
}
