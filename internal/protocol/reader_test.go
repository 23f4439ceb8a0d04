package protocol

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineReader(t *testing.T) {
	t.Run("Reads lines and strips terminators", func(t *testing.T) {
		reader := NewLineReader(iotest.OneByteReader(strings.NewReader("START\r\nTURN:X\nDRAW")), 64)

		for _, want := range []string{"START", "TURN:X", "DRAW"} {
			line, err := reader.ReadLine()
			require.NoError(t, err)
			assert.Equal(t, want, line)
		}

		_, err := reader.ReadLine()
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("Oversized line is skipped and reading goes on", func(t *testing.T) {
		// Given: a line four times the limit between two valid lines
		input := "MOVE:1\nCHAT:1:" + strings.Repeat("a", 256) + "\nMOVE:4\n"
		reader := NewLineReader(strings.NewReader(input), 64)

		// When: reading three times
		first, err := reader.ReadLine()
		require.NoError(t, err)
		_, tooLong := reader.ReadLine()
		next, err := reader.ReadLine()

		// Then: only the oversized line is lost
		assert.Equal(t, "MOVE:1", first)
		require.ErrorIs(t, tooLong, apperror.ErrLineTooLong)
		require.NoError(t, err)
		assert.Equal(t, "MOVE:4", next)
	})

	t.Run("Oversized line at end of input", func(t *testing.T) {
		reader := NewLineReader(strings.NewReader(strings.Repeat("a", 200)), 64)

		_, err := reader.ReadLine()
		require.ErrorIs(t, err, apperror.ErrLineTooLong)

		_, err = reader.ReadLine()
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("Relay limit fits a relayed chat of maximal size", func(t *testing.T) {
		text := strings.Repeat("t", MaxLineSize-len("CHAT:id:")-1)
		name := strings.Repeat("n", MaxLineSize-len("NAME:")-1)
		relay := Encode(ChatRelay("id", name, text, time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local))) + "\n"

		assert.LessOrEqual(t, len(relay), MaxRelayLineSize)
	})
}
