// Package event defines what a participant reports to its presentation layer. The set of events
// is closed; consumers switch on the concrete type.
package event

import (
	"image"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
)

type Event interface{ isEvent() }

// Control channel.

type Connected struct{ Server string }

// ConnectionLost means the control channel is gone. A running call is not affected.
type ConnectionLost struct{ Err error }

type MarkAssigned struct{ Mark string }

// GameStarted is also reported after a restart.
type GameStarted struct{ Restarted bool }

type BoardChanged struct{ Board [9]string }

type TurnChanged struct {
	Mark   string
	MyTurn bool
}

// GameOver carries the winning mark, or entity.PlayerTie for a draw.
type GameOver struct {
	Winner string
	IWon   bool
}

// ServerError is an ERROR line; Reason is shown to the user verbatim.
type ServerError struct{ Reason string }

type OpponentNamed struct{ Name string }

type ChatReceived struct{ Message entity.ChatMessage }

// Call lifecycle.

type IncomingCall struct{ Caller string }

type CallAccepted struct{}

type CallRejected struct{}

type CallEnded struct{ ByPeer bool }

// CallEndpoint is where the accepting peer listens for the video stream.
type CallEndpoint struct {
	Host string
	Port int
}

// Video stream.

type StreamingStarted struct{}

// StreamingStopped is reported once per stream session.
type StreamingStopped struct{ Err error }

type LocalFrame struct{ Image image.Image }

type RemoteFrame struct{ Image image.Image }

type ErrorOccurred struct{ Err error }

func (Connected) isEvent()        {}
func (ConnectionLost) isEvent()   {}
func (MarkAssigned) isEvent()     {}
func (GameStarted) isEvent()      {}
func (BoardChanged) isEvent()     {}
func (TurnChanged) isEvent()      {}
func (GameOver) isEvent()         {}
func (ServerError) isEvent()      {}
func (OpponentNamed) isEvent()    {}
func (ChatReceived) isEvent()     {}
func (IncomingCall) isEvent()     {}
func (CallAccepted) isEvent()     {}
func (CallRejected) isEvent()     {}
func (CallEnded) isEvent()        {}
func (CallEndpoint) isEvent()     {}
func (StreamingStarted) isEvent() {}
func (StreamingStopped) isEvent() {}
func (LocalFrame) isEvent()       {}
func (RemoteFrame) isEvent()      {}
func (ErrorOccurred) isEvent()    {}
