package entity

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
)

const (
	StatusWaiting  = "waiting"
	StatusActive   = "active"
	StatusFinished = "finished"

	PlayerX   = "X"
	PlayerY   = "Y"
	PlayerTie = "-"

	EmptyCell = ""
	BoardSize = 9

	maxPlayers = 2
)

// WinCombos is scanned in order: rows, columns, then the two diagonals.
var WinCombos = [][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Game is the single match owned by the coordinator. It is not safe for concurrent use.
type Game struct {
	Board   [9]string          `json:"board"`
	Turn    string             `json:"turn"`
	Winner  string             `json:"winner"`
	Status  string             `json:"status"`
	Players map[string]*Player `json:"players"`
}

func NewGame() *Game {
	return &Game{
		Status:  StatusWaiting,
		Players: make(map[string]*Player, maxPlayers),
	}
}

// Join registers a player under the first free mark. started reports whether the join made the
// game active; a game left finished by a disconnect starts over with the new opponent.
func (that *Game) Join(player *Player) (mark string, started bool, err error) {
	if len(that.Players) >= maxPlayers {
		return "", false, fmt.Errorf("%w: %d players", apperror.ErrMatchFull, len(that.Players))
	}

	mark = PlayerX
	if _, taken := that.Players[PlayerX]; taken {
		mark = PlayerY
	}

	player.Mark = mark
	that.Players[mark] = player

	if len(that.Players) == maxPlayers && !that.IsActive() {
		that.Start()
		return mark, true, nil
	}

	return mark, false, nil
}

// Leave removes the player. aborted is true when the game was active and is now finished.
func (that *Game) Leave(mark string) (aborted bool) {
	if _, ok := that.Players[mark]; !ok {
		return false
	}

	delete(that.Players, mark)

	if that.IsActive() {
		that.Status = StatusFinished
		that.Turn = EmptyCell
		return true
	}

	return false
}

// Start clears the board and hands the first turn to X.
func (that *Game) Start() {
	that.Board = [9]string{}
	that.Turn = PlayerX
	that.Winner = EmptyCell
	that.Status = StatusActive
}

// Restart is accepted in the active and finished states and aborts any game in progress.
func (that *Game) Restart() error {
	if len(that.Players) < maxPlayers {
		return apperror.ErrWaitingForOpponent
	}

	that.Start()

	return nil
}

func (that *Game) MakeTurn(playerMark string, cell int) error {
	if !that.IsActive() {
		return apperror.ErrGameIsNotActive
	}

	if that.Turn != playerMark {
		return apperror.ErrNotYourTurn
	}

	if cell < 0 || cell >= len(that.Board) {
		return fmt.Errorf("%w: %w: cell %d", apperror.ErrInvalidMove, apperror.ErrInvalidCell, cell)
	}

	if that.Board[cell] != EmptyCell {
		return fmt.Errorf("%w: %w: cell %d", apperror.ErrInvalidMove, apperror.ErrCellOccupied, cell)
	}

	that.Board[cell] = playerMark

	that.UpdateGameState()

	return nil
}

// UpdateGameState evaluates the board after a move and either finishes the game or passes the turn.
func (that *Game) UpdateGameState() {
	switch winner := that.DetermineGameResult(); winner {
	case PlayerX, PlayerY:
		that.Winner = winner
		that.Status = StatusFinished
		that.Turn = EmptyCell
	case PlayerTie:
		that.Winner = PlayerTie
		that.Status = StatusFinished
		that.Turn = EmptyCell
	default:
		that.Turn = Opponent(that.Turn)
	}
}

// DetermineGameResult returns the winning mark, PlayerTie for a full board, or EmptyCell.
func (that *Game) DetermineGameResult() string {
	for _, combo := range WinCombos {
		a, b, c := that.Board[combo[0]], that.Board[combo[1]], that.Board[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return a
		}
	}

	// the game will continue until all the squares are full
	for _, cell := range that.Board {
		if cell == EmptyCell {
			return EmptyCell
		}
	}

	return PlayerTie
}

func (that *Game) Player(mark string) (*Player, bool) {
	player, ok := that.Players[mark]
	return player, ok
}

func (that *Game) PlayerCount() int {
	return len(that.Players)
}

func (that *Game) IsWaiting() bool {
	return that.Status == StatusWaiting
}

func (that *Game) IsActive() bool {
	return that.Status == StatusActive
}

func (that *Game) IsFinished() bool {
	return that.Status == StatusFinished
}

// Snapshot returns a deep copy that can be read without holding the owner's lock.
func (that *Game) Snapshot() Game {
	players := make(map[string]*Player, len(that.Players))
	for mark, player := range that.Players {
		p := *player
		players[mark] = &p
	}

	return Game{
		Board:   that.Board,
		Turn:    that.Turn,
		Winner:  that.Winner,
		Status:  that.Status,
		Players: players,
	}
}

func Opponent(mark string) string {
	if mark == PlayerX {
		return PlayerY
	}
	return PlayerX
}
