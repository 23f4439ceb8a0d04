package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/protocol"
)

const reasonPlayerDisconnected = "Player disconnected"

// Session is one participant connection as seen by the coordinator.
type Session interface {
	ID() string
	// RemoteHost is the peer address without the port.
	RemoteHost() string
	// Send queues a line without blocking. It reports false when the line could not be queued.
	Send(line string) bool
	Close()
}

type matchRepo interface {
	SaveSnapshot(ctx context.Context, game *entity.Game) error
	AppendChat(ctx context.Context, msg *entity.ChatMessage) error
}

// Coordinator owns the single match. Every state change and the sends it triggers happen under one
// lock, so both participants observe broadcasts in the same order.
type Coordinator struct {
	logger *slog.Logger
	repo   matchRepo
	now    func() time.Time

	mu       sync.Mutex
	game     *entity.Game
	sessions map[string]Session
	version  uint64
	// stale holds sessions dropped by send, closed once mu is released.
	stale []Session

	persistMu sync.Mutex
	persisted uint64
}

func NewCoordinator(logger *slog.Logger, repo matchRepo) *Coordinator {
	return &Coordinator{
		logger: logger.With("component", "coordinator"),
		repo:   repo,
		now:    time.Now,

		game:     entity.NewGame(),
		sessions: make(map[string]Session, 2),
	}
}

// Join registers the session under the next free mark. apperror.ErrMatchFull means the caller must
// close the connection.
func (that *Coordinator) Join(ctx context.Context, session Session) (string, error) {
	log := that.logger.With("method", "Join", "session", session.ID())

	that.mu.Lock()

	mark, started, err := that.game.Join(&entity.Player{ID: session.ID()})
	if err != nil {
		that.unlock()
		return "", fmt.Errorf("failed to join match: %w", err)
	}

	that.sessions[mark] = session
	that.send(mark, protocol.Player(mark))

	if started {
		that.broadcast(protocol.Start(), protocol.Board(that.game.Board), protocol.Turn(that.game.Turn))

		if opponent, ok := that.game.Player(entity.Opponent(mark)); ok && opponent.Name != "" {
			that.send(mark, protocol.OpponentName(opponent.Name))
		}
	}

	version, snapshot := that.commit()
	that.unlock()

	log.Info("participant joined", "mark", mark, "started", started)
	that.persist(ctx, version, snapshot)

	return mark, nil
}

// Leave unregisters the session. The survivor of an active game is told exactly once.
func (that *Coordinator) Leave(ctx context.Context, session Session) {
	log := that.logger.With("method", "Leave", "session", session.ID())

	that.mu.Lock()

	mark, ok := that.markOf(session)
	if !ok {
		that.unlock()
		return
	}

	delete(that.sessions, mark)

	aborted := that.game.Leave(mark)
	if aborted {
		that.send(entity.Opponent(mark), protocol.Error(reasonPlayerDisconnected))
	}

	version, snapshot := that.commit()
	that.unlock()

	log.Info("participant left", "mark", mark, "aborted", aborted)
	that.persist(ctx, version, snapshot)
}

func (that *Coordinator) MakeMove(ctx context.Context, session Session, cell int) {
	log := that.logger.With("method", "MakeMove", "session", session.ID())

	that.mu.Lock()

	mark, ok := that.markOf(session)
	if !ok {
		that.unlock()
		return
	}

	if err := that.game.MakeTurn(mark, cell); err != nil {
		that.send(mark, protocol.Error(reasonFor(err)))
		that.unlock()

		log.Debug("move rejected", "mark", mark, "cell", cell, "error", err)
		return
	}

	that.broadcast(protocol.Board(that.game.Board))

	switch {
	case that.game.IsActive():
		that.broadcast(protocol.Turn(that.game.Turn))
	case that.game.Winner == entity.PlayerTie:
		that.broadcast(protocol.Draw())
	default:
		that.broadcast(protocol.Win(that.game.Winner))
	}

	version, snapshot := that.commit()
	that.unlock()

	log.Debug("move applied", "mark", mark, "cell", cell, "status", snapshot.Status)
	that.persist(ctx, version, snapshot)
}

// Restart clears the board from any state with two players present, including mid-game.
func (that *Coordinator) Restart(ctx context.Context, session Session) {
	log := that.logger.With("method", "Restart", "session", session.ID())

	that.mu.Lock()

	mark, ok := that.markOf(session)
	if !ok {
		that.unlock()
		return
	}

	if err := that.game.Restart(); err != nil {
		that.send(mark, protocol.Error(reasonFor(err)))
		that.unlock()
		return
	}

	that.broadcast(protocol.Restart(), protocol.Board(that.game.Board), protocol.Turn(that.game.Turn))

	version, snapshot := that.commit()
	that.unlock()

	log.Info("game restarted", "by", mark)
	that.persist(ctx, version, snapshot)
}

// SetName stores the display name and tells the opponent, if one is connected.
func (that *Coordinator) SetName(ctx context.Context, session Session, name string) {
	that.mu.Lock()

	mark, ok := that.markOf(session)
	if !ok {
		that.unlock()
		return
	}

	player, _ := that.game.Player(mark)
	player.Name = name

	that.send(entity.Opponent(mark), protocol.OpponentName(name))

	version, snapshot := that.commit()
	that.unlock()

	that.persist(ctx, version, snapshot)
}

// Chat stamps the sender name and local time and relays the message to the opponent.
func (that *Coordinator) Chat(ctx context.Context, session Session, id, text string) {
	log := that.logger.With("method", "Chat", "session", session.ID())

	that.mu.Lock()

	mark, ok := that.markOf(session)
	if !ok {
		that.unlock()
		return
	}

	player, _ := that.game.Player(mark)
	msg := &entity.ChatMessage{
		ID:        id,
		Sender:    player.DisplayName(),
		Text:      text,
		Timestamp: that.now().Truncate(time.Second),
	}

	that.send(entity.Opponent(mark), protocol.ChatRelay(msg.ID, msg.Sender, msg.Text, msg.Timestamp))
	that.unlock()

	if that.repo == nil {
		return
	}

	if err := that.repo.AppendChat(ctx, msg); err != nil {
		log.Error("failed to store chat message", "error", err)
	}
}

// RelayCall forwards a call signal to the opponent. CALL_REQUEST gains the caller's name and a
// port-only CALL_INFO gains the sender's address.
func (that *Coordinator) RelayCall(_ context.Context, session Session, msg protocol.Message) {
	log := that.logger.With("method", "RelayCall", "session", session.ID())

	that.mu.Lock()
	defer that.unlock()

	mark, ok := that.markOf(session)
	if !ok {
		return
	}

	switch msg.Action {
	case protocol.ActionCallRequest:
		player, _ := that.game.Player(mark)
		msg = protocol.CallRequest(player.DisplayName())
	case protocol.ActionCallInfo:
		if msg.Host == "" {
			msg = protocol.CallInfo(session.RemoteHost(), msg.Port)
		}
	case protocol.ActionCallAccept, protocol.ActionCallReject, protocol.ActionCallEnd:
	default:
		log.Warn("not a call signal", "action", msg.Action)
		return
	}

	if !that.send(entity.Opponent(mark), msg) {
		log.Debug("call signal dropped, no opponent", "action", msg.Action)
	}
}

// Snapshot returns a copy of the live match.
func (that *Coordinator) Snapshot() entity.Game {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.game.Snapshot()
}

// send must be called with mu held. A participant whose outbox is full is disconnected by unlock;
// its read loop then calls Leave.
func (that *Coordinator) send(mark string, msg protocol.Message) bool {
	session, ok := that.sessions[mark]
	if !ok || slices.Contains(that.stale, session) {
		return false
	}

	if !session.Send(protocol.Encode(msg)) {
		that.logger.Warn("outbox full, dropping participant", "mark", mark, "session", session.ID())
		that.stale = append(that.stale, session)
		return false
	}

	return true
}

// unlock releases mu, then closes the sessions send dropped meanwhile.
func (that *Coordinator) unlock() {
	stale := that.stale
	that.stale = nil
	that.mu.Unlock()

	for _, session := range stale {
		session.Close()
	}
}

func (that *Coordinator) broadcast(msgs ...protocol.Message) {
	for _, msg := range msgs {
		that.send(entity.PlayerX, msg)
		that.send(entity.PlayerY, msg)
	}
}

func (that *Coordinator) markOf(session Session) (string, bool) {
	for mark, registered := range that.sessions {
		if registered.ID() == session.ID() {
			return mark, true
		}
	}
	return "", false
}

// commit must be called with mu held.
func (that *Coordinator) commit() (uint64, *entity.Game) {
	that.version++
	snapshot := that.game.Snapshot()
	return that.version, &snapshot
}

// persist mirrors committed state, skipping snapshots older than one already written.
func (that *Coordinator) persist(ctx context.Context, version uint64, snapshot *entity.Game) {
	if that.repo == nil {
		return
	}

	that.persistMu.Lock()
	defer that.persistMu.Unlock()

	if version <= that.persisted {
		return
	}

	if err := that.repo.SaveSnapshot(ctx, snapshot); err != nil {
		that.logger.Error("failed to save match snapshot", "method", "persist", "error", err)
		return
	}

	that.persisted = version
}

// reasonFor maps rule violations to the ERROR text participants display.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, apperror.ErrNotYourTurn):
		return "Not your turn"
	case errors.Is(err, apperror.ErrInvalidMove):
		return "Invalid move"
	case errors.Is(err, apperror.ErrGameIsNotActive):
		return "Game is not active"
	case errors.Is(err, apperror.ErrWaitingForOpponent):
		return "Waiting for opponent"
	default:
		return "Internal error"
	}
}
