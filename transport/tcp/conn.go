package tcp

import (
	"bufio"
	"log/slog"
	"net"
	"sync"
	"time"
)

// conn is one participant connection. Lines are queued on a bounded outbox and written by a
// dedicated goroutine so the coordinator never blocks on the network.
type conn struct {
	id      string
	host    string
	netConn net.Conn
	logger  *slog.Logger

	outbox chan string
	done   chan struct{}
	once   sync.Once
}

func newConn(id string, netConn net.Conn, outboxSize int, logger *slog.Logger) *conn {
	host, _, err := net.SplitHostPort(netConn.RemoteAddr().String())
	if err != nil {
		host = netConn.RemoteAddr().String()
	}

	return &conn{
		id:      id,
		host:    host,
		netConn: netConn,
		logger:  logger.With("conn", id),

		outbox: make(chan string, outboxSize),
		done:   make(chan struct{}),
	}
}

func (that *conn) ID() string {
	return that.id
}

func (that *conn) RemoteHost() string {
	return that.host
}

func (that *conn) Send(line string) bool {
	select {
	case <-that.done:
		return false
	default:
	}

	select {
	case that.outbox <- line:
		return true
	default:
		return false
	}
}

// Close is safe to call more than once and from any goroutine.
func (that *conn) Close() {
	that.once.Do(func() {
		close(that.done)
		_ = that.netConn.Close()
	})
}

// writeLoop drains the outbox until the connection is closed. Writes are flushed whenever the
// outbox runs empty.
func (that *conn) writeLoop(writeTimeout time.Duration) {
	writer := bufio.NewWriter(that.netConn)

	for {
		select {
		case <-that.done:
			return
		case line := <-that.outbox:
			if err := that.write(writer, line, writeTimeout); err != nil {
				that.logger.Debug("write failed", "method", "writeLoop", "error", err)
				that.Close()
				return
			}
		}
	}
}

func (that *conn) write(writer *bufio.Writer, line string, writeTimeout time.Duration) error {
	if writeTimeout > 0 {
		_ = that.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}

	if _, err := writer.WriteString(line + "\n"); err != nil {
		return err
	}

	if len(that.outbox) > 0 {
		return nil
	}

	return writer.Flush()
}
