package call

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
)

// Listener is the accepting side of a call. It hands out exactly one connection.
type Listener struct {
	ln   net.Listener
	once sync.Once
}

// Listen binds addr, normally ":0" for an ephemeral port on all interfaces.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.ErrStreamListen, err)
	}

	return &Listener{ln: ln}, nil
}

func (that *Listener) Port() int {
	if addr, ok := that.ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Accept waits for the peer until ctx is done and releases the port either way.
func (that *Listener) Accept(ctx context.Context) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = that.Close() })
	defer stop()
	defer that.Close()

	conn, err := that.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", apperror.ErrStreamConnect, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", apperror.ErrStreamConnect, err)
	}

	return conn, nil
}

func (that *Listener) Close() error {
	var err error
	that.once.Do(func() { err = that.ln.Close() })
	return err
}

type DialOptions struct {
	Attempts       int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
}

// Dial connects to the accepting peer, retrying with a constant delay. A failed attempt leaves no
// socket behind.
func Dial(ctx context.Context, host string, port int, opts DialOptions) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: opts.ConnectTimeout}

	attempts := max(opts.Attempts, 1)
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.RetryDelay), uint64(attempts-1)),
		ctx,
	)

	var conn net.Conn
	err := backoff.Retry(func() error {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", apperror.ErrStreamConnect, addr, attempts, err)
	}

	return conn, nil
}
