// Package protocol implements the gRPC-Web length-prefixed frame used by glweb.
//
// Every message on the wire, request or response, is carried in one frame: a
// 1-byte flag followed by a 4-byte big-endian payload length and exactly that
// many payload bytes. The receiver reads the 5-byte prefix first to learn how
// much payload follows.
//
// Frame format:
//
//	0    1              5
//	┌────┬──────────────┬──────────────────┐
//	│flag│    length    │   payload ...    │
//	│ 00 │    uint32    │  length bytes    │
//	└────┴──────────────┴──────────────────┘
//
// The flag is always 0 on frames we produce. Flags on received frames are kept
// as-is and not interpreted, with one exception: the gRPC-Web trailer bit
// (0x80) marks the end of a server stream.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderSize int = 5 // 1 (flag) + 4 (length)

	// FlagData is the flag written on every outgoing frame.
	FlagData byte = 0x00
	// FlagTrailer marks a gRPC-Web trailer frame.
	FlagTrailer byte = 0x80

	// MaxPayloadSize bounds the allocation made for a single declared length.
	MaxPayloadSize = 16 << 20
)

var (
	// ErrIncompleteFrame means the buffer does not hold a whole frame yet.
	// Streamed readers treat it as "read more and retry", not as a failure.
	ErrIncompleteFrame = errors.New("protocol: incomplete frame")

	// ErrPayloadTooLarge is returned when a declared length exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds maximum size")
)

// FrameError reports malformed or truncated framing on a body that was
// supposed to carry a complete frame.
type FrameError struct {
	Op       string // "unary", "stream", "decode"
	Declared uint32 // declared payload length, if the prefix was readable
	Have     int    // payload bytes actually available
	Err      error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s frame: %v (declared %d, have %d)", e.Op, e.Err, e.Declared, e.Have)
	}
	return fmt.Sprintf("protocol: %s frame truncated (declared %d, have %d)", e.Op, e.Declared, e.Have)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Frame is one decoded length-delimited unit.
type Frame struct {
	Flag    byte
	Payload []byte
}

// IsTrailer reports whether the frame carries gRPC-Web trailers rather than a message.
func (f Frame) IsTrailer() bool {
	return f.Flag&FlagTrailer != 0
}

// Marshal prepends the flag (0) and the big-endian length to payload.
func Marshal(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = FlagData
	binary.BigEndian.PutUint32(buf[1:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Unmarshal reads one frame starting at offset and returns it together with the
// number of bytes it occupies. When buf ends before the frame does it returns
// ErrIncompleteFrame and consumes nothing.
func Unmarshal(buf []byte, offset int) (Frame, int, error) {
	if offset < 0 || offset > len(buf) {
		return Frame{}, 0, fmt.Errorf("protocol: offset %d out of range [0,%d]", offset, len(buf))
	}
	rest := buf[offset:]
	if len(rest) < HeaderSize {
		return Frame{}, 0, ErrIncompleteFrame
	}

	flag := rest[0]
	length := binary.BigEndian.Uint32(rest[1:HeaderSize])
	if length > MaxPayloadSize {
		return Frame{}, 0, ErrPayloadTooLarge
	}
	if uint64(len(rest)-HeaderSize) < uint64(length) {
		return Frame{}, 0, ErrIncompleteFrame
	}

	end := HeaderSize + int(length)
	payload := make([]byte, length)
	copy(payload, rest[HeaderSize:end])
	return Frame{Flag: flag, Payload: payload}, end, nil
}

// UnaryPayload returns the message bytes of a unary response body.
//
// A unary body holds a single frame, so the 5-byte prefix is skipped and the
// declared length is checked against what arrived. Anything after the first
// frame (a trailer frame, typically) is ignored. A short body is a protocol
// violation here, never a buffering state.
func UnaryPayload(body []byte) ([]byte, error) {
	frame, _, err := Unmarshal(body, 0)
	if err == nil {
		return frame.Payload, nil
	}
	fe := &FrameError{Op: "unary", Err: err}
	if len(body) >= HeaderSize {
		fe.Declared = binary.BigEndian.Uint32(body[1:HeaderSize])
		fe.Have = len(body) - HeaderSize
	}
	if errors.Is(err, ErrIncompleteFrame) {
		fe.Err = nil
	}
	return nil, fe
}

// Encode writes a complete frame (prefix + payload) to w.
// The caller must serialize concurrent writers on the same w.
func Encode(w io.Writer, flag byte, payload []byte) error {
	var hdr [HeaderSize]byte
	hdr[0] = flag
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads exactly one frame from r.
//
// It returns io.EOF only when r ends cleanly on a frame boundary. A stream that
// ends inside a prefix or inside a payload yields a *FrameError.
func Decode(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return Frame{}, &FrameError{Op: "stream", Have: n, Err: io.ErrUnexpectedEOF}
		}
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(hdr[1:])
	if length > MaxPayloadSize {
		return Frame{}, &FrameError{Op: "stream", Declared: length, Err: ErrPayloadTooLarge}
	}

	payload := make([]byte, length)
	if n, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Frame{}, &FrameError{Op: "stream", Declared: length, Have: n, Err: io.ErrUnexpectedEOF}
		}
		return Frame{}, err
	}
	return Frame{Flag: hdr[0], Payload: payload}, nil
}
