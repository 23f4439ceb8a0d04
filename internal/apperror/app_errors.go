package apperror

import "errors"

var (
	ErrGameIsNotActive    = errors.New("game is not active")
	ErrNotYourTurn        = errors.New("it's not your turn")
	ErrInvalidMove        = errors.New("invalid move")
	ErrCellOccupied       = errors.New("cell is already occupied")
	ErrInvalidCell        = errors.New("invalid cell index")
	ErrMatchFull          = errors.New("match already has two players")
	ErrWaitingForOpponent = errors.New("waiting for opponent")

	ErrMalformedMessage = errors.New("malformed message")
	ErrLineTooLong      = errors.New("line too long")
	ErrNotConnected     = errors.New("not connected to server")
	ErrAlreadyConnected = errors.New("already connected to server")

	ErrInvalidFrameLength = errors.New("invalid frame length")
	ErrCallInProgress     = errors.New("call already in progress")
	ErrNoIncomingCall     = errors.New("no incoming call")
	ErrStreamListen       = errors.New("failed to listen for video stream")
	ErrStreamConnect      = errors.New("failed to connect to video stream")
)
