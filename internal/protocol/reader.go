package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
)

const (
	// MaxLineSize bounds a line sent by a participant, terminator included.
	MaxLineSize = 64 * 1024
	// MaxRelayLineSize bounds a line sent by the coordinator. A chat relay carries a participant's
	// text and name, each up to MaxLineSize, plus the id prefix and timestamp.
	MaxRelayLineSize = 2*MaxLineSize + 64
)

// LineReader reads newline-terminated lines. A line over the limit is skipped to its end and
// reported as apperror.ErrLineTooLong; the reader stays usable.
type LineReader struct {
	reader *bufio.Reader
}

func NewLineReader(r io.Reader, maxSize int) *LineReader {
	return &LineReader{reader: bufio.NewReaderSize(r, maxSize)}
}

// ReadLine returns the next line without its terminator. A final line without a terminator is
// returned before io.EOF.
func (that *LineReader) ReadLine() (string, error) {
	line, err := that.reader.ReadSlice('\n')

	if errors.Is(err, bufio.ErrBufferFull) {
		skipped := len(line)
		for errors.Is(err, bufio.ErrBufferFull) {
			line, err = that.reader.ReadSlice('\n')
			skipped += len(line)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return "", fmt.Errorf("%w: %d bytes", apperror.ErrLineTooLong, skipped)
	}

	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return trimLine(line), nil
		}
		return "", err
	}

	return trimLine(line), nil
}

func trimLine(line []byte) string {
	return strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
}
