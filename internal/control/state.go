package control

import (
	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
)

// State mirrors what the coordinator has told this participant.
type State struct {
	Connected     bool
	MySymbol      string
	CurrentTurn   string
	Board         [9]string
	IsGameActive  bool
	StatusMessage string
	TurnMessage   string
	MyName        string
	OpponentName  string
	Chat          []entity.ChatMessage
}

func (that State) IsMyTurn() bool {
	return that.IsGameActive && that.MySymbol != "" && that.CurrentTurn == that.MySymbol
}

// Identity is how the UI refers to this participant.
func (that State) Identity() string {
	player := entity.Player{Mark: that.MySymbol, Name: that.MyName}
	return player.DisplayName()
}

func (that State) clone() State {
	that.Chat = append([]entity.ChatMessage(nil), that.Chat...)
	return that
}
