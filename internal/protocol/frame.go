package protocol

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the frame header: 4-byte length plus
	// 4-byte checksum.
	HeaderSize = 8

	// ChecksumSize is the number of MD5 digest bytes carried per frame.
	ChecksumSize = 4

	// MaxPayloadSize bounds the memory one frame may claim. A declared
	// length above this is treated as a framing fault that poisons the
	// whole stream, since resynchronization past it is not possible.
	MaxPayloadSize = 8 * 1024 * 1024
)

var (
	// ErrChecksumMismatch is returned when a frame's payload does not
	// match its declared checksum. The frame's bytes have been consumed;
	// parsing may resume at the reported offset.
	ErrChecksumMismatch = errors.New("protocol: frame checksum mismatch")

	// ErrFrameTooLarge is returned when a frame declares a payload larger
	// than MaxPayloadSize. Callers should treat the stream as unusable.
	ErrFrameTooLarge = errors.New("protocol: frame payload too large")
)

// Frame is one length-prefixed, checksummed unit of bytes on the wire.
// Frames are immutable once constructed.
type Frame struct {
	Length   uint32
	Checksum [ChecksumSize]byte
	Payload  []byte
}

// Checksum computes the wire checksum for a payload: the first 4 bytes of
// its MD5 digest. MD5 is fine here, the checksum detects corruption and
// carries no security meaning.
func Checksum(payload []byte) [ChecksumSize]byte {
	var cs [ChecksumSize]byte
	sum := md5.Sum(payload)
	copy(cs[:], sum[:ChecksumSize])
	return cs
}

// NewFrame builds a frame for the given payload, computing its checksum.
func NewFrame(payload []byte) Frame {
	return Frame{
		Length:   uint32(len(payload)),
		Checksum: Checksum(payload),
		Payload:  payload,
	}
}

// Valid reports whether the frame's checksum matches its payload.
func (f Frame) Valid() bool {
	cs := Checksum(f.Payload)
	return bytes.Equal(cs[:], f.Checksum[:])
}

// Encode serializes a payload into its on-wire frame bytes.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	cs := Checksum(payload)
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:8], cs[:])
	copy(buf[8:], payload)
	return buf, nil
}

// Decode attempts to parse one frame from the front of buf and reports how
// many bytes it consumed. Three outcomes are possible:
//
//   - (nil, 0, nil): buf does not yet hold a complete frame. The caller
//     must wait for more bytes; this is not an error.
//   - (frame, n, nil): one validated frame was parsed from buf[:n].
//   - (nil, n, ErrChecksumMismatch): the frame at the front of buf is
//     corrupt. Its declared extent buf[:n] has been consumed so the caller
//     can resynchronize at buf[n:].
//
// A declared payload length above MaxPayloadSize yields ErrFrameTooLarge
// with zero bytes consumed; the stream cannot be trusted past that point.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, nil
	}

	length := binary.BigEndian.Uint32(buf[0:4])
	if length > MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, length)
	}

	total := HeaderSize + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}

	var declared [ChecksumSize]byte
	copy(declared[:], buf[4:8])

	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:total])

	if cs := Checksum(payload); !bytes.Equal(cs[:], declared[:]) {
		// Consume the full declared frame so parsing resumes at the
		// next header.
		return nil, total, ErrChecksumMismatch
	}

	return &Frame{Length: length, Checksum: declared, Payload: payload}, total, nil
}

// String returns a debug representation of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{Length=%d, Checksum=%x}", f.Length, f.Checksum)
}
