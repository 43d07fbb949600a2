package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFramingLost reports a length prefix outside the valid frame range.
var ErrFramingLost = errors.New("frame: framing lost")

// DecodeError carries the raw bytes that failed to decode.
type DecodeError struct {
	Err error
	Raw []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v (bytes=%d)", e.Err, len(e.Raw))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Hex renders the raw bytes as space separated upper-case hex.
func (e *DecodeError) Hex() string {
	return fmt.Sprintf("% X", e.Raw)
}

// NewReader sizes the buffer to hold one maximum frame.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, MaxFrameLen)
}

// PeekLength blocks until the next length prefix is buffered and returns it
// without consuming any bytes.
func PeekLength(r *bufio.Reader) (uint32, error) {
	b, err := r.Peek(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadFrame reads exactly one length-prefixed frame from r. A malformed frame
// is returned as *DecodeError after r has been advanced to the next offset that
// starts a verifiable frame, so frames queued behind the bad bytes survive.
// I/O errors are returned unwrapped.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	n, err := PeekLength(r)
	if err != nil {
		return Frame{}, err
	}
	var cause error
	if n >= MinFrameLen && n <= MaxFrameLen {
		raw, err := r.Peek(int(n))
		switch {
		case err == nil:
			f, derr := Decode(raw)
			if derr == nil {
				_, _ = r.Discard(int(n))
				return f, nil
			}
			cause = derr
		case errors.Is(err, bufio.ErrBufferFull):
			cause = fmt.Errorf("%w: declared_len=%d buffer=%d", ErrFramingLost, n, r.Size())
		default:
			return Frame{}, err
		}
	} else {
		cause = fmt.Errorf("%w: declared_len=%d", ErrFramingLost, n)
	}

	skipped, err := resync(r)
	if err != nil {
		return Frame{}, err
	}
	return Frame{}, &DecodeError{Err: cause, Raw: skipped}
}

// resync drops the byte at the head of r, then keeps dropping until the head
// starts a frame whose checksum verifies. An in-range prefix that is not yet
// fully buffered is held while more bytes arrive, since it may be a real
// frame. The returned bytes are capped at MaxFrameLen.
func resync(r *bufio.Reader) ([]byte, error) {
	var skipped []byte
	drop := func(n int) {
		if n <= 0 {
			return
		}
		b, _ := r.Peek(n)
		if room := MaxFrameLen - len(skipped); room > 0 {
			skipped = append(skipped, b[:min(len(b), room)]...)
		}
		_, _ = r.Discard(n)
	}

	drop(1)
	for {
		buf, _ := r.Peek(r.Buffered())
		verified, pending := scanFrames(buf)
		if verified >= 0 {
			drop(verified)
			return skipped, nil
		}
		switch {
		case pending >= 0:
			drop(pending)
		case len(buf) > 3:
			// The last three bytes may begin a prefix.
			drop(len(buf) - 3)
		}
		if _, err := r.Peek(r.Buffered() + 1); err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				drop(1)
				continue
			}
			return skipped, err
		}
	}
}

// scanFrames returns the first offset in buf holding a complete frame that
// verifies, and the first offset whose in-range prefix runs past buf. Either is
// -1 when absent.
func scanFrames(buf []byte) (verified, pending int) {
	pending = -1
	for off := 0; off+4 <= len(buf); off++ {
		n := binary.LittleEndian.Uint32(buf[off:])
		if n < MinFrameLen || n > MaxFrameLen {
			continue
		}
		if uint64(off)+uint64(n) > uint64(len(buf)) {
			if pending < 0 {
				pending = off
			}
			continue
		}
		if verifies(buf[off : off+int(n)]) {
			return off, pending
		}
	}
	return -1, pending
}

func verifies(b []byte) bool {
	end := len(b) - ChecksumLen
	return binary.LittleEndian.Uint32(b[end:]) == Checksum(b[:end])
}

// WriteFrame writes the encoded frame in a single call.
func WriteFrame(w io.Writer, f Frame) error {
	if !f.Valid() {
		return fmt.Errorf("frame: write of zero frame")
	}
	n, err := w.Write(f.raw)
	if err != nil {
		return err
	}
	if n != len(f.raw) {
		return io.ErrShortWrite
	}
	return nil
}
