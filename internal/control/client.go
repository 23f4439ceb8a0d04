// Package control is the participant side of the control channel.
package control

import (
	"bufio"
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
	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/event"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/protocol"
)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
)

// Client keeps one connection to the coordinator, mirrors the match in State and reports every
// decoded message on the event stream.
type Client struct {
	logger *slog.Logger
	events *event.Stream
	now    func() time.Time

	writeMu sync.Mutex
	conn    net.Conn
	writer  *bufio.Writer

	mu    sync.Mutex
	state State
}

func NewClient(logger *slog.Logger, events *event.Stream) *Client {
	return &Client{
		logger: logger.With("component", "control"),
		events: events,
		now:    time.Now,
	}
}

// Connect dials the coordinator and starts reading. The read loop ends with event.ConnectionLost
// unless Close was called first.
func (that *Client) Connect(ctx context.Context, addr string) error {
	conn, err := that.dial(ctx, addr)
	if err != nil {
		return err
	}

	that.logger.Info("connected to coordinator", "method", "Connect", "addr", addr)
	that.events.Emit(event.Connected{Server: addr})

	go that.readLoop(conn)

	return nil
}

func (that *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	if that.conn != nil {
		return nil, apperror.ErrAlreadyConnected
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	that.conn = conn
	that.writer = bufio.NewWriter(conn)

	that.mu.Lock()
	that.state = State{Connected: true, MyName: that.state.MyName, StatusMessage: "Connected, waiting for opponent"}
	that.mu.Unlock()

	return conn, nil
}

func (that *Client) State() State {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.state.clone()
}

func (that *Client) SendMove(cell int) error {
	return that.send(protocol.Move(cell))
}

func (that *Client) SendName(name string) error {
	if err := that.send(protocol.Name(name)); err != nil {
		return err
	}

	that.mu.Lock()
	that.state.MyName = name
	that.mu.Unlock()

	return nil
}

// SendChat sends text under a fresh id and records it in the local chat log.
func (that *Client) SendChat(text string) (entity.ChatMessage, error) {
	id := uuid.NewString()

	if err := that.send(protocol.Chat(id, text)); err != nil {
		return entity.ChatMessage{}, err
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	msg := entity.ChatMessage{
		ID:        id,
		Sender:    that.state.Identity(),
		Text:      text,
		Timestamp: that.now(),
		IsMine:    true,
	}
	that.state.Chat = append(that.state.Chat, msg)

	return msg, nil
}

func (that *Client) SendRestart() error {
	return that.send(protocol.Restart())
}

func (that *Client) RequestCall() error {
	return that.send(protocol.CallRequest(""))
}

func (that *Client) AcceptCall() error {
	return that.send(protocol.CallAccept())
}

func (that *Client) RejectCall() error {
	return that.send(protocol.CallReject())
}

func (that *Client) EndCall() error {
	return that.send(protocol.CallEnd())
}

// SendCallInfo advertises the local stream port; the coordinator adds our address.
func (that *Client) SendCallInfo(port int) error {
	return that.send(protocol.CallInfo("", port))
}

// Close disconnects without reporting ConnectionLost. It is safe to call more than once.
func (that *Client) Close() error {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	if that.conn == nil {
		return nil
	}

	err := that.conn.Close()
	that.conn = nil
	that.writer = nil

	that.mu.Lock()
	that.state.Connected = false
	that.state.IsGameActive = false
	that.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	return nil
}

func (that *Client) send(msg protocol.Message) error {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	if that.conn == nil {
		return apperror.ErrNotConnected
	}

	_ = that.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	if _, err := that.writer.WriteString(protocol.Encode(msg) + "\n"); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Action, err)
	}

	if err := that.writer.Flush(); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Action, err)
	}

	return nil
}

func (that *Client) readLoop(conn net.Conn) {
	log := that.logger.With("method", "readLoop")

	reader := protocol.NewLineReader(conn, protocol.MaxRelayLineSize)

	var err error
	for {
		var line string
		line, err = reader.ReadLine()
		if errors.Is(err, apperror.ErrLineTooLong) {
			log.Debug("dropping oversized line", "error", err)
			continue
		}
		if err != nil {
			break
		}

		msg, decodeErr := protocol.Decode(line, protocol.FromCoordinator)
		if decodeErr != nil {
			log.Debug("dropping line", "error", decodeErr)
			continue
		}

		for _, ev := range that.apply(msg) {
			that.events.Emit(ev)
		}
	}

	if errors.Is(err, io.EOF) {
		err = nil
	}

	// Close clears conn first, so a conn still in place means the coordinator went away.
	that.writeMu.Lock()
	lost := that.conn == conn
	if lost {
		_ = conn.Close()
		that.conn = nil
		that.writer = nil

		that.mu.Lock()
		that.state.Connected = false
		that.state.IsGameActive = false
		that.mu.Unlock()
	}
	that.writeMu.Unlock()

	if !lost {
		return
	}

	log.Warn("connection to coordinator lost", "error", err)
	that.events.Emit(event.ConnectionLost{Err: err})
}

// apply folds msg into the state mirror and returns the events to report.
func (that *Client) apply(msg protocol.Message) []event.Event {
	that.mu.Lock()
	defer that.mu.Unlock()

	state := &that.state

	switch msg.Action {
	case protocol.ActionPlayer:
		state.MySymbol = msg.Mark
		state.StatusMessage = "You are " + state.Identity()
		return []event.Event{event.MarkAssigned{Mark: msg.Mark}}

	case protocol.ActionStart:
		state.IsGameActive = true
		state.StatusMessage = "Game started! You are " + state.Identity()
		return []event.Event{event.GameStarted{}}

	case protocol.ActionRestart:
		state.Board = [9]string{}
		state.IsGameActive = true
		state.StatusMessage = "New game started! You are " + state.Identity()
		state.TurnMessage = ""
		return []event.Event{event.GameStarted{Restarted: true}}

	case protocol.ActionBoard:
		state.Board = msg.Board
		return []event.Event{event.BoardChanged{Board: msg.Board}}

	case protocol.ActionTurn:
		state.CurrentTurn = msg.Mark
		state.TurnMessage = "Opponent's turn"
		if state.IsMyTurn() {
			state.TurnMessage = "Your turn!"
		}
		return []event.Event{event.TurnChanged{Mark: msg.Mark, MyTurn: state.IsMyTurn()}}

	case protocol.ActionWin:
		iWon := msg.Mark == state.MySymbol
		state.IsGameActive = false
		state.StatusMessage = "Player " + msg.Mark + " wins!"
		if iWon {
			state.StatusMessage = "You WIN!"
		}
		state.TurnMessage = "Game Over"
		return []event.Event{event.GameOver{Winner: msg.Mark, IWon: iWon}}

	case protocol.ActionDraw:
		state.IsGameActive = false
		state.StatusMessage = "Game ended in a DRAW!"
		state.TurnMessage = "Game Over"
		return []event.Event{event.GameOver{Winner: entity.PlayerTie}}

	case protocol.ActionError:
		state.StatusMessage = "Error: " + msg.Text
		if msg.Text == "Player disconnected" {
			state.IsGameActive = false
			state.TurnMessage = "Game Over"
		}
		return []event.Event{event.ServerError{Reason: msg.Text}}

	case protocol.ActionOpponentName:
		state.OpponentName = msg.Text
		state.StatusMessage = "Playing against " + msg.Text
		return []event.Event{event.OpponentNamed{Name: msg.Text}}

	case protocol.ActionChat:
		chat := entity.ChatMessage{ID: msg.ChatID, Sender: msg.Sender, Text: msg.Text, Timestamp: msg.Timestamp}
		state.Chat = append(state.Chat, chat)
		return []event.Event{event.ChatReceived{Message: chat}}

	case protocol.ActionCallRequest:
		return []event.Event{event.IncomingCall{Caller: msg.Text}}

	case protocol.ActionCallAccept:
		return []event.Event{event.CallAccepted{}}

	case protocol.ActionCallReject:
		return []event.Event{event.CallRejected{}}

	case protocol.ActionCallEnd:
		return []event.Event{event.CallEnded{ByPeer: true}}

	case protocol.ActionCallInfo:
		return []event.Event{event.CallEndpoint{Host: msg.Host, Port: msg.Port}}

	default:
		return nil
	}
}
