// Package tcp serves the line-oriented control channel participants connect to.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/protocol"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/usecase"
)

const (
	writeTimeout = 5 * time.Second
	reasonFull   = "Game is full"
)

type coordinator interface {
	Join(ctx context.Context, session usecase.Session) (string, error)
	Leave(ctx context.Context, session usecase.Session)

	MakeMove(ctx context.Context, session usecase.Session, cell int)
	Restart(ctx context.Context, session usecase.Session)
	SetName(ctx context.Context, session usecase.Session, name string)
	Chat(ctx context.Context, session usecase.Session, id, text string)
	RelayCall(ctx context.Context, session usecase.Session, msg protocol.Message)
}

type Server struct {
	logger      *slog.Logger
	coordinator coordinator
	outboxSize  int

	handlers map[string]func(ctx context.Context, conn *conn, msg protocol.Message)

	mu    sync.Mutex
	conns map[string]*conn
	wg    sync.WaitGroup
}

func New(logger *slog.Logger, coordinator coordinator, outboxSize int) *Server {
	server := &Server{
		logger:      logger.With("component", "tcp"),
		coordinator: coordinator,
		outboxSize:  outboxSize,

		handlers: make(map[string]func(context.Context, *conn, protocol.Message)),
		conns:    make(map[string]*conn),
	}

	server.handlers[protocol.ActionMove] = server.handleMove
	server.handlers[protocol.ActionRestart] = server.handleRestart
	server.handlers[protocol.ActionName] = server.handleName
	server.handlers[protocol.ActionChat] = server.handleChat
	server.handlers[protocol.ActionCallRequest] = server.handleCall
	server.handlers[protocol.ActionCallAccept] = server.handleCall
	server.handlers[protocol.ActionCallReject] = server.handleCall
	server.handlers[protocol.ActionCallEnd] = server.handleCall
	server.handlers[protocol.ActionCallInfo] = server.handleCall

	return server
}

// Start - listens on addr and serves until ctx is done.
func (that *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return that.Serve(ctx, listener)
}

// Serve accepts connections until ctx is done, then closes every participant connection and waits
// for their handlers to finish.
func (that *Server) Serve(ctx context.Context, listener net.Listener) error {
	log := that.logger.With("method", "Serve")
	log.Info("control channel listening", "addr", listener.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
		that.closeAll()
	})
	defer stop()

	defer that.wg.Wait()

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("control channel stopped")
				return nil
			}
			that.closeAll()
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		that.wg.Add(1)
		go func() {
			defer that.wg.Done()
			that.handleConnection(ctx, netConn)
		}()
	}
}

func (that *Server) handleConnection(ctx context.Context, netConn net.Conn) {
	c := newConn(uuid.NewString(), netConn, that.outboxSize, that.logger)
	log := that.logger.With("method", "handleConnection", "conn", c.id, "remote", netConn.RemoteAddr().String())

	if !that.track(c) {
		c.Close()
		return
	}
	defer that.untrack(c)
	defer c.Close()

	go c.writeLoop(writeTimeout)

	mark, err := that.coordinator.Join(ctx, c)
	if err != nil {
		if errors.Is(err, apperror.ErrMatchFull) {
			that.refuse(c)
		}
		log.Warn("join refused", "error", err)
		return
	}

	log.Info("participant connected", "mark", mark)
	defer that.coordinator.Leave(context.WithoutCancel(ctx), c)

	reader := protocol.NewLineReader(netConn, protocol.MaxLineSize)

	for {
		line, err := reader.ReadLine()
		if errors.Is(err, apperror.ErrLineTooLong) {
			log.Debug("dropping oversized line", "error", err)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Info("participant connection failed", "mark", mark, "error", err)
				return
			}
			break
		}

		msg, err := protocol.Decode(line, protocol.FromParticipant)
		if err != nil {
			log.Debug("dropping line", "error", err)
			continue
		}

		handler, ok := that.handlers[msg.Action]
		if !ok {
			log.Debug("no handler for action", "action", msg.Action)
			continue
		}

		handler(ctx, c, msg)
	}

	log.Info("participant disconnected", "mark", mark)
}

// refuse writes the reason straight to the socket, bypassing the outbox, before the caller closes it.
func (that *Server) refuse(c *conn) {
	_ = c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, _ = c.netConn.Write([]byte(protocol.Encode(protocol.Error(reasonFull)) + "\n"))
}

func (that *Server) handleMove(ctx context.Context, c *conn, msg protocol.Message) {
	that.coordinator.MakeMove(ctx, c, msg.Cell)
}

func (that *Server) handleRestart(ctx context.Context, c *conn, _ protocol.Message) {
	that.coordinator.Restart(ctx, c)
}

func (that *Server) handleName(ctx context.Context, c *conn, msg protocol.Message) {
	that.coordinator.SetName(ctx, c, msg.Text)
}

func (that *Server) handleChat(ctx context.Context, c *conn, msg protocol.Message) {
	that.coordinator.Chat(ctx, c, msg.ChatID, msg.Text)
}

func (that *Server) handleCall(ctx context.Context, c *conn, msg protocol.Message) {
	that.coordinator.RelayCall(ctx, c, msg)
}

// track returns false once shutdown has started.
func (that *Server) track(c *conn) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.conns == nil {
		return false
	}
	that.conns[c.id] = c

	return true
}

func (that *Server) untrack(c *conn) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.conns, c.id)
}

func (that *Server) closeAll() {
	that.mu.Lock()
	conns := that.conns
	that.conns = nil
	that.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
