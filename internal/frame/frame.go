// Package frame implements the length-prefixed framing used on the video stream. A frame is a
// little-endian uint32 payload length followed by exactly that many bytes of encoded image.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
)

const (
	headerSize = 4

	// DefaultMaxSize is the largest payload a peer may announce.
	DefaultMaxSize = 5_000_000
)

// WriteFrame writes header and payload with a single Write so concurrent writers guarded by one
// mutex never interleave partial frames.
func WriteFrame(w io.Writer, payload []byte, maxSize int) error {
	if len(payload) == 0 || len(payload) > maxSize {
		return fmt.Errorf("%w: %d bytes", apperror.ErrInvalidFrameLength, len(payload))
	}

	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf[:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// ReadFrame blocks until a whole frame has arrived. A peer that closes between frames yields
// io.EOF; one that closes mid-frame yields an error wrapping io.ErrUnexpectedEOF. A length of
// zero or above maxSize yields apperror.ErrInvalidFrameLength and the stream cannot be resynced.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	length := binary.LittleEndian.Uint32(hdr[:])
	if length == 0 || uint64(length) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes", apperror.ErrInvalidFrameLength, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}

	return payload, nil
}

// IsClosed reports whether err means the peer went away rather than sent garbage.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
