package call

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/event"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/frame"
)

// Session carries frames in both directions over one connection.
type Session struct {
	conn         net.Conn
	logger       *slog.Logger
	events       *event.Stream
	maxFrameSize int
	writeTimeout time.Duration

	writeMu   sync.Mutex
	streaming atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
}

func NewSession(conn net.Conn, opts Options, events *event.Stream, logger *slog.Logger) *Session {
	session := &Session{
		conn:         conn,
		logger:       logger.With("remote", conn.RemoteAddr().String()),
		events:       events,
		maxFrameSize: opts.MaxFrameSize,
		writeTimeout: opts.WriteTimeout,
	}
	session.streaming.Store(true)

	return session
}

func (that *Session) IsStreaming() bool {
	return that.streaming.Load()
}

// Send writes one frame. A failed write ends streaming and closes the connection; the receive loop
// then reports StreamingStopped.
func (that *Session) Send(payload []byte) error {
	if !that.streaming.Load() {
		return net.ErrClosed
	}

	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	if that.writeTimeout > 0 {
		_ = that.conn.SetWriteDeadline(time.Now().Add(that.writeTimeout))
	}

	if err := frame.WriteFrame(that.conn, payload, that.maxFrameSize); err != nil {
		that.logger.Debug("frame write failed", "method", "Send", "error", err)
		that.Close()
		return err
	}

	return nil
}

// Run delivers received payloads to onFrame until the peer closes, a frame is invalid or ctx is
// done. StreamingStopped is emitted exactly once, with a nil Err for an orderly end.
func (that *Session) Run(ctx context.Context, onFrame func(payload []byte)) {
	stop := context.AfterFunc(ctx, that.Close)
	defer stop()

	var err error
	for {
		var payload []byte
		payload, err = frame.ReadFrame(that.conn, that.maxFrameSize)
		if err != nil {
			break
		}
		onFrame(payload)
	}

	if frame.IsClosed(err) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil || !that.streaming.Load() {
		err = nil
	}

	if err != nil {
		that.logger.Warn("stream terminated", "method", "Run", "error", err)
	}

	that.Close()
	that.stop(err)
}

// Close shuts both directions. It is safe to call more than once.
func (that *Session) Close() {
	that.closeOnce.Do(func() {
		that.streaming.Store(false)
		_ = that.conn.Close()
	})
}

func (that *Session) stop(err error) {
	that.stopOnce.Do(func() {
		that.events.Emit(event.StreamingStopped{Err: err})
	})
}
