package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
)

const (
	snapshotKey = "match:snapshot"
	chatKey     = "match:chat"
)

var ErrMatchNotFound = errors.New("match not found")

// MatchRepository mirrors the live match for the status API. It is never read back into the
// coordinator.
type MatchRepository interface {
	SaveSnapshot(ctx context.Context, game *entity.Game) error
	GetSnapshot(ctx context.Context) (*entity.Game, error)
	AppendChat(ctx context.Context, msg *entity.ChatMessage) error
	ListChat(ctx context.Context) ([]entity.ChatMessage, error)
	Reset(ctx context.Context) error
}

type dbMatch struct {
	client      *redis.Client
	chatHistory int64
}

// NewMatchRepository keeps at most chatHistory chat messages.
func NewMatchRepository(client *redis.Client, chatHistory int64) MatchRepository {
	return &dbMatch{
		client:      client,
		chatHistory: chatHistory,
	}
}

func (that *dbMatch) SaveSnapshot(ctx context.Context, game *entity.Game) error {
	gameJSON, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("could not marshal game: %w", err)
	}

	if err = that.client.Set(ctx, snapshotKey, gameJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to set game snapshot: %w", err)
	}

	return nil
}

func (that *dbMatch) GetSnapshot(ctx context.Context) (*entity.Game, error) {
	response, err := that.client.Get(ctx, snapshotKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMatchNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get game snapshot: %w", err)
	}

	var game entity.Game
	if err = json.Unmarshal([]byte(response), &game); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game: %w", err)
	}

	return &game, nil
}

func (that *dbMatch) AppendChat(ctx context.Context, msg *entity.ChatMessage) error {
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not marshal chat message: %w", err)
	}

	_, err = that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, chatKey, msgJSON)
		pipe.LTrim(ctx, chatKey, -that.chatHistory, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}

	return nil
}

func (that *dbMatch) ListChat(ctx context.Context) ([]entity.ChatMessage, error) {
	items, err := that.client.LRange(ctx, chatKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}

	messages := make([]entity.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg entity.ChatMessage
		if err = json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Reset drops whatever a previous coordinator run left behind.
func (that *dbMatch) Reset(ctx context.Context) error {
	if err := that.client.Del(ctx, snapshotKey, chatKey).Err(); err != nil {
		return fmt.Errorf("failed to reset match: %w", err)
	}

	return nil
}
