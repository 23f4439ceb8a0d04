package repository

import (
	"context"
	"sync"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
)

type memoryMatch struct {
	mu          sync.RWMutex
	game        *entity.Game
	chat        []entity.ChatMessage
	chatHistory int
}

// NewMemoryMatchRepository is used when Redis is disabled.
func NewMemoryMatchRepository(chatHistory int) MatchRepository {
	return &memoryMatch{chatHistory: chatHistory}
}

func (that *memoryMatch) SaveSnapshot(_ context.Context, game *entity.Game) error {
	snapshot := game.Snapshot()

	that.mu.Lock()
	that.game = &snapshot
	that.mu.Unlock()

	return nil
}

func (that *memoryMatch) GetSnapshot(_ context.Context) (*entity.Game, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	if that.game == nil {
		return nil, ErrMatchNotFound
	}

	snapshot := that.game.Snapshot()

	return &snapshot, nil
}

func (that *memoryMatch) AppendChat(_ context.Context, msg *entity.ChatMessage) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.chat = append(that.chat, *msg)
	if extra := len(that.chat) - that.chatHistory; that.chatHistory > 0 && extra > 0 {
		that.chat = append([]entity.ChatMessage(nil), that.chat[extra:]...)
	}

	return nil
}

func (that *memoryMatch) ListChat(_ context.Context) ([]entity.ChatMessage, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return append([]entity.ChatMessage{}, that.chat...), nil
}

func (that *memoryMatch) Reset(_ context.Context) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.game = nil
	that.chat = nil

	return nil
}
