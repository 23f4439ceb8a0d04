// Package call runs the peer-to-peer video call: signaling state, the stream listener or dialer,
// and the frame pumps in both directions.
package call

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/capture"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/config"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/event"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/frame"
)

type Options struct {
	ListenAddr   string
	Dial         DialOptions
	MaxFrameSize int
	WriteTimeout time.Duration
}

func OptionsFromConfig(conf config.Call) Options {
	return Options{
		ListenAddr: ":0",
		Dial: DialOptions{
			Attempts:       conf.ConnectAttempts,
			RetryDelay:     conf.RetryDelay,
			ConnectTimeout: conf.ConnectTimeout,
		},
		MaxFrameSize: conf.MaxFrameSize,
		WriteTimeout: conf.WriteTimeout,
	}
}

func DefaultOptions() Options {
	return Options{
		ListenAddr: ":0",
		Dial: DialOptions{
			Attempts:       3,
			RetryDelay:     500 * time.Millisecond,
			ConnectTimeout: 5 * time.Second,
		},
		MaxFrameSize: frame.DefaultMaxSize,
		WriteTimeout: 2 * time.Second,
	}
}

// acceptWindow is how long the acceptor waits for the initiator to connect.
func (that Options) acceptWindow() time.Duration {
	attempts := time.Duration(max(that.Dial.Attempts, 1))
	return attempts*(that.Dial.ConnectTimeout+that.Dial.RetryDelay) + time.Second
}

type signaler interface {
	RequestCall() error
	AcceptCall() error
	RejectCall() error
	EndCall() error
	SendCallInfo(port int) error
}

type Phase int

const (
	PhaseIdle Phase = iota
	// PhaseRequesting: CALL_REQUEST sent, waiting for the peer to answer.
	PhaseRequesting
	// PhaseRinging: a CALL_REQUEST arrived and the user has not answered.
	PhaseRinging
	// PhaseAwaitingEndpoint: the peer accepted, its CALL_INFO has not arrived yet.
	PhaseAwaitingEndpoint
	// PhaseConnecting: listening or dialing for the stream.
	PhaseConnecting
	PhaseStreaming
)

func (that Phase) String() string {
	switch that {
	case PhaseIdle:
		return "idle"
	case PhaseRequesting:
		return "requesting"
	case PhaseRinging:
		return "ringing"
	case PhaseAwaitingEndpoint:
		return "awaiting endpoint"
	case PhaseConnecting:
		return "connecting"
	case PhaseStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// activeCall holds what must be released when a call ends.
type activeCall struct {
	ctx      context.Context
	cancel   context.CancelFunc
	listener *Listener
	session  *Session
	capture  bool
}

// Manager drives one call at a time. Ending a call is idempotent and releases the listener, the
// stream connection and the capture source.
type Manager struct {
	logger   *slog.Logger
	signaler signaler
	codec    Codec
	source   capture.Source
	events   *event.Stream
	opts     Options

	mu      sync.Mutex
	phase   Phase
	caller  string
	current *activeCall
	wg      sync.WaitGroup
}

func NewManager(logger *slog.Logger, signaler signaler, codec Codec, source capture.Source, events *event.Stream, opts Options) *Manager {
	return &Manager{
		logger:   logger.With("component", "call"),
		signaler: signaler,
		codec:    codec,
		source:   source,
		events:   events,
		opts:     opts,
	}
}

func (that *Manager) Phase() Phase {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.phase
}

// RequestCall asks the opponent for a call.
func (that *Manager) RequestCall() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase != PhaseIdle {
		return apperror.ErrCallInProgress
	}

	if err := that.signaler.RequestCall(); err != nil {
		return fmt.Errorf("failed to request call: %w", err)
	}

	that.phase = PhaseRequesting

	return nil
}

// HandleIncoming records a CALL_REQUEST. A request while busy is rejected on the spot and false is
// returned so the user is not prompted.
func (that *Manager) HandleIncoming(caller string) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase != PhaseIdle {
		that.logger.Info("rejecting call while busy", "method", "HandleIncoming", "caller", caller)
		_ = that.signaler.RejectCall()
		return false
	}

	that.phase = PhaseRinging
	that.caller = caller

	return true
}

// Accept answers a ringing call. The stream port is bound before CALL_ACCEPT goes out, then
// advertised with CALL_INFO.
func (that *Manager) Accept(ctx context.Context) error {
	log := that.logger.With("method", "Accept")

	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase != PhaseRinging {
		return apperror.ErrNoIncomingCall
	}

	listener, err := Listen(that.opts.ListenAddr)
	if err != nil {
		that.phase = PhaseIdle
		_ = that.signaler.RejectCall()
		return err
	}

	if err = that.signaler.AcceptCall(); err != nil {
		_ = listener.Close()
		that.phase = PhaseIdle
		return fmt.Errorf("failed to accept call: %w", err)
	}

	if err = that.signaler.SendCallInfo(listener.Port()); err != nil {
		_ = listener.Close()
		that.phase = PhaseIdle
		return fmt.Errorf("failed to send call info: %w", err)
	}

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	current := &activeCall{ctx: callCtx, cancel: cancel, listener: listener}
	that.current = current
	that.phase = PhaseConnecting

	log.Info("waiting for stream", "port", listener.Port(), "caller", that.caller)

	that.wg.Add(1)
	go func() {
		defer that.wg.Done()

		acceptCtx, acceptCancel := context.WithTimeout(callCtx, that.opts.acceptWindow())
		defer acceptCancel()

		conn, err := listener.Accept(acceptCtx)
		that.connected(current, conn, err)
	}()

	return nil
}

func (that *Manager) Reject() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase != PhaseRinging {
		return apperror.ErrNoIncomingCall
	}

	that.phase = PhaseIdle
	that.caller = ""

	if err := that.signaler.RejectCall(); err != nil {
		return fmt.Errorf("failed to reject call: %w", err)
	}

	return nil
}

// HandleAccepted records the opponent's CALL_ACCEPT.
func (that *Manager) HandleAccepted() {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase == PhaseRequesting {
		that.phase = PhaseAwaitingEndpoint
	}
}

func (that *Manager) HandleRejected() {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase == PhaseRequesting || that.phase == PhaseAwaitingEndpoint {
		that.phase = PhaseIdle
	}
}

// HandleEndpoint dials the acceptor's stream endpoint from CALL_INFO.
func (that *Manager) HandleEndpoint(ctx context.Context, host string, port int) {
	log := that.logger.With("method", "HandleEndpoint")

	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase != PhaseRequesting && that.phase != PhaseAwaitingEndpoint {
		log.Warn("unexpected call endpoint", "host", host, "port", port)
		return
	}

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	current := &activeCall{ctx: callCtx, cancel: cancel}
	that.current = current
	that.phase = PhaseConnecting

	log.Info("connecting to stream", "host", host, "port", port)

	that.wg.Add(1)
	go func() {
		defer that.wg.Done()

		conn, err := Dial(callCtx, host, port, that.opts.Dial)
		that.connected(current, conn, err)
	}()
}

// End hangs up from this side. It is a no-op without a call.
func (that *Manager) End() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase == PhaseIdle {
		return nil
	}

	that.teardownLocked()

	if err := that.signaler.EndCall(); err != nil && !errors.Is(err, apperror.ErrNotConnected) {
		return fmt.Errorf("failed to end call: %w", err)
	}

	return nil
}

// HandlePeerEnd tears the call down after the opponent's CALL_END.
func (that *Manager) HandlePeerEnd() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.teardownLocked()
}

// Close ends any call without signaling and waits for the call goroutines.
func (that *Manager) Close() {
	that.mu.Lock()
	that.teardownLocked()
	that.mu.Unlock()

	that.wg.Wait()
}

// connected runs once the stream connection is up or has failed.
func (that *Manager) connected(current *activeCall, conn net.Conn, err error) {
	for _, ev := range that.attach(current, conn, err) {
		that.events.Emit(ev)
	}
}

// attach starts the frame pumps for a new stream connection and returns the events to report.
func (that *Manager) attach(current *activeCall, conn net.Conn, err error) []event.Event {
	log := that.logger.With("method", "attach")

	that.mu.Lock()
	defer that.mu.Unlock()

	if that.current != current {
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}

	if err != nil {
		log.Error("stream connection failed", "error", err)
		that.teardownLocked()
		_ = that.signaler.EndCall()
		return []event.Event{event.ErrorOccurred{Err: err}}
	}

	session := NewSession(conn, that.opts, that.events, that.logger)
	current.session = session
	current.listener = nil
	that.phase = PhaseStreaming

	// StreamingStarted precedes anything the read loop emits.
	that.wg.Add(1)
	go func() {
		defer that.wg.Done()

		that.events.Emit(event.StreamingStarted{})
		session.Run(current.ctx, that.receive)
		that.streamEnded(current)
	}()

	frames, err := that.source.Start()
	if err != nil {
		log.Warn("capture unavailable, receiving only", "error", err)
		return []event.Event{event.ErrorOccurred{Err: fmt.Errorf("failed to start capture: %w", err)}}
	}
	current.capture = true

	that.wg.Add(1)
	go func() {
		defer that.wg.Done()

		that.pump(current.ctx, session, frames)
	}()

	return nil
}

func (that *Manager) receive(payload []byte) {
	img, err := that.codec.Decode(payload)
	if err != nil {
		that.logger.Debug("dropping undecodable frame", "method", "receive", "error", err)
		return
	}

	that.events.Offer(event.RemoteFrame{Image: img})
}

// pump sends captured images until the call ends. Frames are dropped, not queued, when the
// presentation layer is slow.
func (that *Manager) pump(ctx context.Context, session *Session, frames <-chan image.Image) {
	log := that.logger.With("method", "pump")

	for {
		select {
		case <-ctx.Done():
			return
		case img, ok := <-frames:
			if !ok {
				return
			}

			payload, err := that.codec.Encode(img)
			if err != nil {
				log.Debug("dropping unencodable frame", "error", err)
				continue
			}

			that.events.Offer(event.LocalFrame{Image: img})

			if err = session.Send(payload); err != nil {
				return
			}
		}
	}
}

// streamEnded releases the rest of the call after the stream stops on its own.
func (that *Manager) streamEnded(current *activeCall) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.current != current {
		return
	}

	that.teardownLocked()
	_ = that.signaler.EndCall()
}

func (that *Manager) teardownLocked() {
	that.phase = PhaseIdle
	that.caller = ""

	current := that.current
	if current == nil {
		return
	}
	that.current = nil

	current.cancel()

	if current.listener != nil {
		_ = current.listener.Close()
	}

	if current.session != nil {
		current.session.Close()
	}

	if current.capture {
		that.source.Stop()
	}
}
