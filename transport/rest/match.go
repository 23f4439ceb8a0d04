package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/repository"
)

type matchRepo interface {
	GetSnapshot(ctx context.Context) (*entity.Game, error)
	ListChat(ctx context.Context) ([]entity.ChatMessage, error)
}

type MatchHandler interface {
	GetMatch(w http.ResponseWriter, r *http.Request)
	GetChat(w http.ResponseWriter, r *http.Request)
}

type matchHandler struct {
	logger *slog.Logger
	repo   matchRepo
}

func NewMatchHandler(logger *slog.Logger, repo matchRepo) MatchHandler {
	return &matchHandler{
		logger: logger,
		repo:   repo,
	}
}

type playerView struct {
	Mark string `json:"mark"`
	Name string `json:"name"`
}

type matchView struct {
	Status  string       `json:"status"`
	Turn    string       `json:"turn,omitempty"`
	Winner  string       `json:"winner,omitempty"`
	Board   [9]string    `json:"board"`
	Players []playerView `json:"players"`
}

func (that *matchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "GetMatch")

	game, err := that.repo.GetSnapshot(r.Context())
	if errors.Is(err, repository.ErrMatchNotFound) {
		game = entity.NewGame()
		err = nil
	}

	if err != nil {
		log.Error("failed to get match snapshot", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	view := matchView{
		Status:  game.Status,
		Turn:    game.Turn,
		Winner:  game.Winner,
		Board:   game.Board,
		Players: make([]playerView, 0, len(game.Players)),
	}

	for mark, player := range game.Players {
		view.Players = append(view.Players, playerView{Mark: mark, Name: player.DisplayName()})
	}
	sort.Slice(view.Players, func(i, j int) bool { return view.Players[i].Mark < view.Players[j].Mark })

	that.writeJSON(w, view)
}

func (that *matchHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	messages, err := that.repo.ListChat(r.Context())
	if err != nil {
		that.logger.Error("failed to list chat", "method", "GetChat", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	that.writeJSON(w, messages)
}

func (that *matchHandler) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		that.logger.Error("failed to write response", "method", "writeJSON", "error", err)
	}
}
