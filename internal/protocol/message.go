// Package protocol implements the line-oriented control vocabulary spoken between participants
// and the coordinator. Every message is one line of UTF-8 text of the form ACTION[:payload].
package protocol

import "time"

const (
	ActionPlayer       = "PLAYER"
	ActionStart        = "START"
	ActionRestart      = "RESTART"
	ActionBoard        = "BOARD"
	ActionTurn         = "TURN"
	ActionWin          = "WIN"
	ActionDraw         = "DRAW"
	ActionError        = "ERROR"
	ActionName         = "NAME"
	ActionOpponentName = "OPPONENT_NAME"
	ActionChat         = "CHAT"
	ActionMove         = "MOVE"
	ActionCallRequest  = "CALL_REQUEST"
	ActionCallAccept   = "CALL_ACCEPT"
	ActionCallReject   = "CALL_REJECT"
	ActionCallEnd      = "CALL_END"
	ActionCallInfo     = "CALL_INFO"
)

// TimestampLayout is the fixed-width layout of the chat relay timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Origin tells the decoder which side wrote the line. CHAT, CALL_REQUEST and CALL_INFO carry
// different payloads in each direction.
type Origin int

const (
	FromParticipant Origin = iota
	FromCoordinator
)

// Message is the decoded form of a control line. Only the fields used by Action are set.
type Message struct {
	Action string

	Mark  string
	Cell  int
	Board [9]string

	// Text carries ERROR reasons, names, chat text and the caller name of CALL_REQUEST.
	Text string

	ChatID    string
	Sender    string
	Timestamp time.Time

	// Host is empty when a participant advertises only its port.
	Host string
	Port int
}

func Player(mark string) Message { return Message{Action: ActionPlayer, Mark: mark} }

func Start() Message { return Message{Action: ActionStart} }

func Restart() Message { return Message{Action: ActionRestart} }

func Board(board [9]string) Message { return Message{Action: ActionBoard, Board: board} }

func Turn(mark string) Message { return Message{Action: ActionTurn, Mark: mark} }

func Win(mark string) Message { return Message{Action: ActionWin, Mark: mark} }

func Draw() Message { return Message{Action: ActionDraw} }

func Error(reason string) Message { return Message{Action: ActionError, Text: reason} }

func Name(name string) Message { return Message{Action: ActionName, Text: name} }

func OpponentName(name string) Message { return Message{Action: ActionOpponentName, Text: name} }

func Move(cell int) Message { return Message{Action: ActionMove, Cell: cell} }

func Chat(id, text string) Message { return Message{Action: ActionChat, ChatID: id, Text: text} }

func ChatRelay(id, sender, text string, at time.Time) Message {
	return Message{Action: ActionChat, ChatID: id, Sender: sender, Text: text, Timestamp: at}
}

// CallRequest without a caller name is the participant form; the coordinator fills the name in.
func CallRequest(caller string) Message { return Message{Action: ActionCallRequest, Text: caller} }

func CallAccept() Message { return Message{Action: ActionCallAccept} }

func CallReject() Message { return Message{Action: ActionCallReject} }

func CallEnd() Message { return Message{Action: ActionCallEnd} }

func CallInfo(host string, port int) Message {
	return Message{Action: ActionCallInfo, Host: host, Port: port}
}
