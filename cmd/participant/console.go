package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/control"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/event"
)

const helpText = `commands:
  move N      play cell N (0-8, row by row)
  name NAME   announce your name
  chat TEXT   send a chat message
  restart     start a new game
  call        ask the opponent for a video call
  accept      accept an incoming call
  reject      reject an incoming call
  hangup      end the call
  board       show the board and whose turn it is
  quit        leave`

var errUnknownCommand = errors.New("unknown command")

type actions interface {
	SendMove(cell int) error
	SendName(name string) error
	SendChat(text string) (entity.ChatMessage, error)
	SendRestart() error
	RequestCall() error
	AcceptCall() error
	RejectCall() error
	EndCall() error
	State() control.State
}

// console turns stdin lines into participant actions and prints events. Video frames are only
// counted.
type console struct {
	actions actions
	out     io.Writer

	localFrames  int
	remoteFrames int
}

func newConsole(actions actions, out io.Writer) *console {
	return &console{actions: actions, out: out}
}

// Run returns on quit, end of input, ctx done or a closed event stream.
func (that *console) Run(ctx context.Context, in io.Reader, events *event.Stream) error {
	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(that.out, `type "help" for commands`)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-events.Done():
			return nil
		case ev := <-events.C():
			that.render(ev)
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			quit, err := that.execute(line)
			if err != nil {
				fmt.Fprintln(that.out, "Error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (that *console) execute(line string) (bool, error) {
	command, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(command) {
	case "":
		return false, nil
	case "help":
		fmt.Fprintln(that.out, helpText)
	case "move":
		cell, err := strconv.Atoi(arg)
		if err != nil || cell < 0 || cell >= entity.BoardSize {
			return false, fmt.Errorf("move needs a cell between 0 and %d", entity.BoardSize-1)
		}
		return false, that.actions.SendMove(cell)
	case "name":
		if arg == "" {
			return false, errors.New("name needs a value")
		}
		return false, that.actions.SendName(arg)
	case "chat":
		if arg == "" {
			return false, errors.New("chat needs a message")
		}
		msg, err := that.actions.SendChat(arg)
		if err != nil {
			return false, err
		}
		that.printChat(msg)
	case "restart":
		return false, that.actions.SendRestart()
	case "call":
		return false, that.actions.RequestCall()
	case "accept":
		return false, that.actions.AcceptCall()
	case "reject":
		return false, that.actions.RejectCall()
	case "hangup":
		return false, that.actions.EndCall()
	case "board":
		state := that.actions.State()
		that.printBoard(state.Board)
		fmt.Fprintln(that.out, state.StatusMessage)
		if state.TurnMessage != "" {
			fmt.Fprintln(that.out, state.TurnMessage)
		}
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("%w %q", errUnknownCommand, command)
	}

	return false, nil
}

func (that *console) render(ev event.Event) {
	switch ev := ev.(type) {
	case event.Connected:
		fmt.Fprintf(that.out, "Connected to %s, waiting for opponent\n", ev.Server)
	case event.ConnectionLost:
		fmt.Fprintln(that.out, "Connection to server lost")
	case event.MarkAssigned:
		fmt.Fprintf(that.out, "You are Player %s\n", ev.Mark)
	case event.GameStarted:
		if ev.Restarted {
			fmt.Fprintln(that.out, "New game started!")
		} else {
			fmt.Fprintln(that.out, "Game started!")
		}
	case event.BoardChanged:
		that.printBoard(ev.Board)
	case event.TurnChanged:
		if ev.MyTurn {
			fmt.Fprintln(that.out, "Your turn!")
		} else {
			fmt.Fprintf(that.out, "Player %s's turn\n", ev.Mark)
		}
	case event.GameOver:
		switch {
		case ev.Winner == entity.PlayerTie:
			fmt.Fprintln(that.out, "Game ended in a DRAW!")
		case ev.IWon:
			fmt.Fprintln(that.out, "You WIN!")
		default:
			fmt.Fprintf(that.out, "Player %s wins!\n", ev.Winner)
		}
	case event.ServerError:
		fmt.Fprintln(that.out, "Error:", ev.Reason)
	case event.OpponentNamed:
		fmt.Fprintln(that.out, "Playing against", ev.Name)
	case event.ChatReceived:
		that.printChat(ev.Message)
	case event.IncomingCall:
		fmt.Fprintf(that.out, "%s is calling. Type accept or reject.\n", ev.Caller)
	case event.CallAccepted:
		fmt.Fprintln(that.out, "Call accepted, connecting video")
	case event.CallRejected:
		fmt.Fprintln(that.out, "Call rejected")
	case event.CallEnded:
		fmt.Fprintln(that.out, "Call ended by opponent")
	case event.StreamingStarted:
		that.localFrames, that.remoteFrames = 0, 0
		fmt.Fprintln(that.out, "Video streaming started")
	case event.StreamingStopped:
		fmt.Fprintf(that.out, "Video streaming stopped (sent %d frames, received %d)\n", that.localFrames, that.remoteFrames)
		if ev.Err != nil {
			fmt.Fprintln(that.out, "Error:", ev.Err)
		}
	case event.LocalFrame:
		that.localFrames++
	case event.RemoteFrame:
		that.remoteFrames++
	case event.ErrorOccurred:
		fmt.Fprintln(that.out, "Error:", ev.Err)
	}
}

func (that *console) printChat(msg entity.ChatMessage) {
	sender := msg.Sender
	if msg.IsMine {
		sender = "You"
	}

	fmt.Fprintf(that.out, "[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), sender, msg.Text)
}

// printBoard shows empty cells by their index so they can be typed after "move".
func (that *console) printBoard(board [entity.BoardSize]string) {
	for row := range 3 {
		cells := make([]string, 3)
		for col := range 3 {
			i := row*3 + col
			cells[col] = board[i]
			if cells[col] == "" {
				cells[col] = strconv.Itoa(i)
			}
		}

		fmt.Fprintf(that.out, " %s \n", strings.Join(cells, " | "))
		if row < 2 {
			fmt.Fprintln(that.out, "---+---+---")
		}
	}
}
