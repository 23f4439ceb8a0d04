package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
)

const (
	separator  = ":"
	emptySlot  = ' '
	boardSlots = 9
	maxPort    = 65535
)

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Encode renders msg as a single line without the trailing newline.
func Encode(msg Message) string {
	switch msg.Action {
	case ActionPlayer, ActionTurn, ActionWin:
		return msg.Action + separator + msg.Mark
	case ActionBoard:
		return msg.Action + separator + encodeBoard(msg.Board)
	case ActionMove:
		return msg.Action + separator + strconv.Itoa(msg.Cell)
	case ActionError, ActionName, ActionOpponentName:
		return msg.Action + separator + clean(msg.Text)
	case ActionChat:
		return encodeChat(msg)
	case ActionCallRequest:
		if msg.Text == "" {
			return msg.Action
		}
		return msg.Action + separator + clean(msg.Text)
	case ActionCallInfo:
		if msg.Host == "" {
			return msg.Action + separator + strconv.Itoa(msg.Port)
		}
		return msg.Action + separator + msg.Host + separator + strconv.Itoa(msg.Port)
	default:
		return msg.Action
	}
}

// Decode parses one line written by origin. Unknown or malformed lines yield
// apperror.ErrMalformedMessage; callers drop them and keep the connection.
func Decode(line string, origin Origin) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	action, payload, hasPayload := strings.Cut(line, separator)

	switch action {
	case ActionStart, ActionRestart, ActionDraw, ActionCallAccept, ActionCallReject, ActionCallEnd:
		return Message{Action: action}, nil

	case ActionPlayer, ActionTurn, ActionWin:
		if !isMark(payload) {
			return Message{}, malformed(line, "unknown mark")
		}
		return Message{Action: action, Mark: payload}, nil

	case ActionBoard:
		board, err := decodeBoard(payload)
		if err != nil {
			return Message{}, malformed(line, err.Error())
		}
		return Board(board), nil

	case ActionMove:
		cell, err := strconv.Atoi(payload)
		if err != nil {
			return Message{}, malformed(line, "cell is not a number")
		}
		return Move(cell), nil

	case ActionError, ActionName, ActionOpponentName:
		if !hasPayload {
			return Message{}, malformed(line, "missing text")
		}
		return Message{Action: action, Text: payload}, nil

	case ActionChat:
		if origin == FromCoordinator {
			return decodeChatRelay(line, payload)
		}
		id, text, ok := strings.Cut(payload, separator)
		if !ok || id == "" {
			return Message{}, malformed(line, "missing chat id")
		}
		return Chat(id, text), nil

	case ActionCallRequest:
		if origin == FromParticipant {
			return CallRequest(""), nil
		}
		return CallRequest(payload), nil

	case ActionCallInfo:
		return decodeCallInfo(line, payload, origin)

	default:
		return Message{}, malformed(line, "unknown action")
	}
}

func encodeBoard(board [9]string) string {
	var sb strings.Builder
	sb.Grow(boardSlots)

	for _, cell := range board {
		if cell == entity.EmptyCell {
			sb.WriteByte(emptySlot)
			continue
		}
		sb.WriteString(cell)
	}

	return sb.String()
}

func decodeBoard(payload string) ([9]string, error) {
	var board [9]string

	if len(payload) != boardSlots {
		return board, fmt.Errorf("board has %d slots", len(payload))
	}

	for i := range boardSlots {
		switch slot := payload[i : i+1]; {
		case slot[0] == emptySlot:
			board[i] = entity.EmptyCell
		case isMark(slot):
			board[i] = slot
		default:
			return board, fmt.Errorf("unknown slot %q", slot)
		}
	}

	return board, nil
}

func encodeChat(msg Message) string {
	id := strings.ReplaceAll(clean(msg.ChatID), separator, "-")

	if msg.Sender == "" && msg.Timestamp.IsZero() {
		return ActionChat + separator + id + separator + clean(msg.Text)
	}

	sender := strings.ReplaceAll(clean(msg.Sender), separator, "-")

	return strings.Join([]string{
		ActionChat, id, sender, clean(msg.Text), msg.Timestamp.Format(TimestampLayout),
	}, separator)
}

// decodeChatRelay reads id and sender from the left and the fixed-width timestamp from the right,
// so the chat text itself may contain separators.
func decodeChatRelay(line, payload string) (Message, error) {
	id, rest, ok := strings.Cut(payload, separator)
	if !ok || id == "" {
		return Message{}, malformed(line, "missing chat id")
	}

	sender, rest, ok := strings.Cut(rest, separator)
	if !ok {
		return Message{}, malformed(line, "missing chat sender")
	}

	stampAt := len(rest) - len(TimestampLayout)
	if stampAt < 1 || rest[stampAt-1:stampAt] != separator {
		return Message{}, malformed(line, "missing chat timestamp")
	}

	at, err := time.ParseInLocation(TimestampLayout, rest[stampAt:], time.Local)
	if err != nil {
		return Message{}, malformed(line, "bad chat timestamp")
	}

	return ChatRelay(id, sender, rest[:stampAt-1], at), nil
}

// decodeCallInfo accepts "<port>" from participants and "<host>:<port>" from either side. The
// port is split at the last separator so IPv6 hosts survive.
func decodeCallInfo(line, payload string, origin Origin) (Message, error) {
	host, portText := "", payload
	if i := strings.LastIndex(payload, separator); i >= 0 {
		host, portText = payload[:i], payload[i+1:]
		if host == "" {
			return Message{}, malformed(line, "empty host")
		}
	}

	if host == "" && origin == FromCoordinator {
		return Message{}, malformed(line, "missing host")
	}

	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > maxPort {
		return Message{}, malformed(line, "bad port")
	}

	return CallInfo(host, port), nil
}

func isMark(s string) bool {
	return s == entity.PlayerX || s == entity.PlayerY
}

func clean(s string) string {
	return lineBreaks.Replace(s)
}

func malformed(line, reason string) error {
	return fmt.Errorf("%w: %s: %q", apperror.ErrMalformedMessage, reason, line)
}
