// Package participant joins the control client and the call manager into the single object a
// presentation layer talks to.
package participant

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/call"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/capture"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/control"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/event"
)

const (
	controlBuffer = 64
	uiBuffer      = 256
)

// Participant reports everything on Events. Call signaling from the coordinator is handled here
// before it is passed on.
type Participant struct {
	logger  *slog.Logger
	client  *control.Client
	calls   *call.Manager
	control *event.Stream
	events  *event.Stream

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(logger *slog.Logger, source capture.Source, opts call.Options) *Participant {
	ctx, cancel := context.WithCancel(context.Background())

	that := &Participant{
		logger:  logger.With("component", "participant"),
		control: event.NewStream(controlBuffer),
		events:  event.NewStream(uiBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	that.client = control.NewClient(logger, that.control)
	that.calls = call.NewManager(logger, that.client, call.NewJPEGCodec(), source, that.events, opts)

	that.wg.Add(1)
	go func() {
		defer that.wg.Done()

		that.dispatch()
	}()

	return that
}

func (that *Participant) Events() *event.Stream {
	return that.events
}

func (that *Participant) State() control.State {
	return that.client.State()
}

func (that *Participant) CallPhase() call.Phase {
	return that.calls.Phase()
}

func (that *Participant) Connect(ctx context.Context, addr string) error {
	return that.client.Connect(ctx, addr)
}

func (that *Participant) SendMove(cell int) error {
	return that.client.SendMove(cell)
}

func (that *Participant) SendName(name string) error {
	return that.client.SendName(name)
}

func (that *Participant) SendChat(text string) (entity.ChatMessage, error) {
	return that.client.SendChat(text)
}

func (that *Participant) SendRestart() error {
	return that.client.SendRestart()
}

func (that *Participant) RequestCall() error {
	return that.calls.RequestCall()
}

// AcceptCall binds the stream port and answers the ringing call.
func (that *Participant) AcceptCall() error {
	return that.calls.Accept(that.ctx)
}

func (that *Participant) RejectCall() error {
	return that.calls.Reject()
}

func (that *Participant) EndCall() error {
	return that.calls.End()
}

// Close ends any call, disconnects and stops the event stream. It is safe to call more than once.
func (that *Participant) Close() error {
	var err error

	that.closeOnce.Do(func() {
		that.cancel()
		err = that.client.Close()

		that.control.Close()
		that.events.Close()
		that.wg.Wait()

		that.calls.Close()
	})

	return err
}

func (that *Participant) dispatch() {
	for {
		select {
		case <-that.control.Done():
			return
		case ev := <-that.control.C():
			if forward := that.handle(ev); forward {
				that.events.Emit(ev)
			}
		}
	}
}

// handle feeds call signaling into the call manager and reports whether ev goes to the UI.
func (that *Participant) handle(ev event.Event) bool {
	log := that.logger.With("method", "handle")

	switch ev := ev.(type) {
	case event.IncomingCall:
		return that.calls.HandleIncoming(ev.Caller)

	case event.CallAccepted:
		that.calls.HandleAccepted()

	case event.CallRejected:
		that.calls.HandleRejected()

	case event.CallEnded:
		that.calls.HandlePeerEnd()

	case event.CallEndpoint:
		that.calls.HandleEndpoint(that.ctx, ev.Host, ev.Port)
		return false

	case event.ConnectionLost:
		log.Warn("control channel lost", "error", ev.Err, "call", that.calls.Phase())
	}

	return true
}
