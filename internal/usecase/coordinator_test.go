package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id   string
	host string

	mu     sync.Mutex
	lines  []string
	full   bool
	closed int
	// onClose runs after Close, like a read loop reacting to its connection going away.
	onClose func()
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, host: "10.0.0." + id}
}

func (that *fakeSession) ID() string         { return that.id }
func (that *fakeSession) RemoteHost() string { return that.host }

func (that *fakeSession) Send(line string) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.full {
		return false
	}
	that.lines = append(that.lines, line)
	return true
}

func (that *fakeSession) Close() {
	that.mu.Lock()
	that.closed++
	onClose := that.onClose
	that.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (that *fakeSession) closes() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.closed
}

// take returns and forgets everything sent so far.
func (that *fakeSession) take() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	lines := that.lines
	that.lines = nil
	return lines
}

type mockMatchRepo struct {
	mock.Mock
}

func (that *mockMatchRepo) SaveSnapshot(ctx context.Context, game *entity.Game) error {
	args := that.Called(ctx, game)
	return args.Error(0)
}

func (that *mockMatchRepo) AppendChat(ctx context.Context, msg *entity.ChatMessage) error {
	args := that.Called(ctx, msg)
	return args.Error(0)
}

func newTestCoordinator() *Coordinator {
	return NewCoordinator(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

// startMatch joins two sessions and forgets the join traffic.
func startMatch(t *testing.T, coordinator *Coordinator) (*fakeSession, *fakeSession) {
	t.Helper()

	ctx := context.Background()
	x, y := newFakeSession("1"), newFakeSession("2")

	_, err := coordinator.Join(ctx, x)
	require.NoError(t, err)
	_, err = coordinator.Join(ctx, y)
	require.NoError(t, err)

	x.take()
	y.take()

	return x, y
}

func TestCoordinator_Join(t *testing.T) {
	t.Run("Second join starts the match for both", func(t *testing.T) {
		// Given: a fresh coordinator
		coordinator := newTestCoordinator()
		ctx := context.Background()
		x, y := newFakeSession("1"), newFakeSession("2")

		// When: two participants join
		markX, err := coordinator.Join(ctx, x)
		require.NoError(t, err)
		markY, err := coordinator.Join(ctx, y)
		require.NoError(t, err)

		// Then: marks follow join order and both see the start sequence
		assert.Equal(t, entity.PlayerX, markX)
		assert.Equal(t, entity.PlayerY, markY)
		assert.Equal(t, []string{"PLAYER:X", "START", "BOARD:         ", "TURN:X"}, x.take())
		assert.Equal(t, []string{"PLAYER:Y", "START", "BOARD:         ", "TURN:X"}, y.take())
	})

	t.Run("Third join is refused", func(t *testing.T) {
		// Given: a running match
		coordinator := newTestCoordinator()
		x, y := startMatch(t, coordinator)

		// When: a third participant joins
		_, err := coordinator.Join(context.Background(), newFakeSession("3"))

		// Then: ErrMatchFull and nobody is told anything
		require.ErrorIs(t, err, apperror.ErrMatchFull)
		assert.Empty(t, x.take())
		assert.Empty(t, y.take())
	})

	t.Run("Joiner learns an already announced name", func(t *testing.T) {
		// Given: X announced a name before Y arrived
		coordinator := newTestCoordinator()
		ctx := context.Background()
		x, y := newFakeSession("1"), newFakeSession("2")
		_, err := coordinator.Join(ctx, x)
		require.NoError(t, err)
		coordinator.SetName(ctx, x, "Alice")

		// When: Y joins
		_, err = coordinator.Join(ctx, y)
		require.NoError(t, err)

		// Then: Y receives the opponent name after the start sequence
		assert.Equal(t, []string{"PLAYER:Y", "START", "BOARD:         ", "TURN:X", "OPPONENT_NAME:Alice"}, y.take())
	})
}

func TestCoordinator_MakeMove(t *testing.T) {
	t.Run("Top row win is broadcast and ends the game", func(t *testing.T) {
		// Given: a running match
		coordinator := newTestCoordinator()
		ctx := context.Background()
		x, y := startMatch(t, coordinator)

		// When: X 0, Y 4, X 1, Y 5, X 2
		coordinator.MakeMove(ctx, x, 0)
		coordinator.MakeMove(ctx, y, 4)
		coordinator.MakeMove(ctx, x, 1)
		coordinator.MakeMove(ctx, y, 5)
		coordinator.MakeMove(ctx, x, 2)

		// Then: both see the same board updates ending with WIN:X
		want := []string{
			"BOARD:X        ", "TURN:Y",
			"BOARD:X   Y    ", "TURN:X",
			"BOARD:XX  Y    ", "TURN:Y",
			"BOARD:XX  YY   ", "TURN:X",
			"BOARD:XXX YY   ", "WIN:X",
		}
		assert.Equal(t, want, x.take())
		assert.Equal(t, want, y.take())

		// And: no further moves are accepted
		coordinator.MakeMove(ctx, y, 8)
		assert.Equal(t, []string{"ERROR:Game is not active"}, y.take())
		assert.Empty(t, x.take())
	})

	t.Run("Draw is broadcast", func(t *testing.T) {
		// Given: a running match
		coordinator := newTestCoordinator()
		ctx := context.Background()
		x, y := startMatch(t, coordinator)

		// When: the board fills without a line
		for i, cell := range []int{0, 1, 2, 4, 3, 5, 7, 6, 8} {
			session := x
			if i%2 == 1 {
				session = y
			}
			coordinator.MakeMove(ctx, session, cell)
		}

		// Then: the last lines are the full board and DRAW
		lines := x.take()
		assert.Equal(t, []string{"BOARD:XYXXYYYXX", "DRAW"}, lines[len(lines)-2:])
	})

	t.Run("Out of turn move is rejected to the sender only", func(t *testing.T) {
		// Given: a running match with X to move
		coordinator := newTestCoordinator()
		x, y := startMatch(t, coordinator)

		// When: Y moves
		coordinator.MakeMove(context.Background(), y, 4)

		// Then: only Y hears about it and the board is unchanged
		assert.Equal(t, []string{"ERROR:Not your turn"}, y.take())
		assert.Empty(t, x.take())
		assert.Equal(t, [9]string{}, coordinator.Snapshot().Board)
	})

	t.Run("Occupied and out of range cells are invalid", func(t *testing.T) {
		// Given: X took cell 4
		coordinator := newTestCoordinator()
		ctx := context.Background()
		x, y := startMatch(t, coordinator)
		coordinator.MakeMove(ctx, x, 4)
		x.take()
		y.take()

		// When: Y plays 4, then 9
		coordinator.MakeMove(ctx, y, 4)
		coordinator.MakeMove(ctx, y, 9)

		// Then: both are invalid and it is still Y's turn
		assert.Equal(t, []string{"ERROR:Invalid move", "ERROR:Invalid move"}, y.take())
		assert.Equal(t, entity.PlayerY, coordinator.Snapshot().Turn)
	})

	t.Run("Moves from an unregistered session are ignored", func(t *testing.T) {
		coordinator := newTestCoordinator()
		x, _ := startMatch(t, coordinator)
		stranger := newFakeSession("9")

		coordinator.MakeMove(context.Background(), stranger, 0)

		assert.Empty(t, stranger.take())
		assert.Empty(t, x.take())
	})
}

func TestCoordinator_Leave(t *testing.T) {
	t.Run("Survivor of an active game is told exactly once", func(t *testing.T) {
		// Given: a running match
		coordinator := newTestCoordinator()
		ctx := context.Background()
		x, y := startMatch(t, coordinator)

		// When: Y leaves twice
		coordinator.Leave(ctx, y)
		coordinator.Leave(ctx, y)

		// Then: X gets a single disconnect notice and the game is finished
		assert.Equal(t, []string{"ERROR:Player disconnected"}, x.take())
		assert.Equal(t, entity.StatusFinished, coordinator.Snapshot().Status)
	})

	t.Run("Leaving a waiting match is silent", func(t *testing.T) {
		coordinator := newTestCoordinator()
		x := newFakeSession("1")
		_, err := coordinator.Join(context.Background(), x)
		require.NoError(t, err)
		x.take()

		coordinator.Leave(context.Background(), x)

		assert.Empty(t, x.take())
		assert.Equal(t, entity.StatusWaiting, coordinator.Snapshot().Status)
	})

	t.Run("A new opponent restarts an aborted match", func(t *testing.T) {
		// Given: Y left mid-game
		coordinator := newTestCoordinator()
		ctx := context.Background()
		x, y := startMatch(t, coordinator)
		coordinator.MakeMove(ctx, x, 0)
		coordinator.Leave(ctx, y)
		x.take()

		// When: someone else joins
		z := newFakeSession("3")
		mark, err := coordinator.Join(ctx, z)

		// Then: they take Y and a clean game starts
		require.NoError(t, err)
		assert.Equal(t, entity.PlayerY, mark)
		assert.Equal(t, []string{"START", "BOARD:         ", "TURN:X"}, x.take())
	})
}

func TestCoordinator_Restart(t *testing.T) {
	t.Run("Restart mid-game clears the board for both", func(t *testing.T) {
		// Given: a match with a move made
		coordinator := newTestCoordinator()
		ctx := context.Background()
		x, y := startMatch(t, coordinator)
		coordinator.MakeMove(ctx, x, 4)
		x.take()
		y.take()

		// When: Y restarts
		coordinator.Restart(ctx, y)

		// Then: both get the restart sequence
		want := []string{"RESTART", "BOARD:         ", "TURN:X"}
		assert.Equal(t, want, x.take())
		assert.Equal(t, want, y.take())
	})

	t.Run("Restart without an opponent is refused", func(t *testing.T) {
		coordinator := newTestCoordinator()
		x := newFakeSession("1")
		_, err := coordinator.Join(context.Background(), x)
		require.NoError(t, err)
		x.take()

		coordinator.Restart(context.Background(), x)

		assert.Equal(t, []string{"ERROR:Waiting for opponent"}, x.take())
	})
}

func TestCoordinator_Relay(t *testing.T) {
	t.Run("Name is relayed to the opponent", func(t *testing.T) {
		coordinator := newTestCoordinator()
		x, y := startMatch(t, coordinator)

		coordinator.SetName(context.Background(), y, "Bob")

		assert.Equal(t, []string{"OPPONENT_NAME:Bob"}, x.take())
		assert.Empty(t, y.take())
	})

	t.Run("Chat is stamped and relayed to the opponent", func(t *testing.T) {
		// Given: a running match with a fixed clock
		coordinator := newTestCoordinator()
		coordinator.now = func() time.Time { return time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local) }
		x, y := startMatch(t, coordinator)

		// When: X chats without having set a name
		coordinator.Chat(context.Background(), x, "m1", "good luck: have fun")

		// Then: Y receives the relay with the fallback sender name
		assert.Equal(t, []string{"CHAT:m1:Player X:good luck: have fun:2024-05-01 13:04:05"}, y.take())
		assert.Empty(t, x.take())
	})

	t.Run("Call signals go to the non-sender", func(t *testing.T) {
		// Given: a running match where Y is named
		coordinator := newTestCoordinator()
		ctx := context.Background()
		x, y := startMatch(t, coordinator)
		coordinator.SetName(ctx, y, "Bob")
		x.take()

		// When: Y calls, X accepts and advertises its port
		coordinator.RelayCall(ctx, y, protocol.CallRequest(""))
		coordinator.RelayCall(ctx, x, protocol.CallAccept())
		coordinator.RelayCall(ctx, x, protocol.CallInfo("", 40000))
		coordinator.RelayCall(ctx, y, protocol.CallEnd())

		// Then: each signal reached the other side, CALL_INFO with X's address
		assert.Equal(t, []string{"CALL_REQUEST:Bob", "CALL_END"}, x.take())
		assert.Equal(t, []string{"CALL_ACCEPT", "CALL_INFO:" + x.host + ":40000"}, y.take())
	})

	t.Run("Signals without an opponent are dropped", func(t *testing.T) {
		coordinator := newTestCoordinator()
		x := newFakeSession("1")
		_, err := coordinator.Join(context.Background(), x)
		require.NoError(t, err)
		x.take()

		coordinator.RelayCall(context.Background(), x, protocol.CallRequest(""))
		coordinator.SetName(context.Background(), x, "Alice")

		assert.Empty(t, x.take())
	})
}

func TestCoordinator_SlowParticipant(t *testing.T) {
	// Given: a running match where Y's outbox is full
	coordinator := newTestCoordinator()
	x, y := startMatch(t, coordinator)
	y.full = true

	// When: X moves
	coordinator.MakeMove(context.Background(), x, 0)

	// Then: X still gets the update and Y is disconnected
	assert.Equal(t, []string{"BOARD:X        ", "TURN:Y"}, x.take())
	assert.Positive(t, y.closes())
}

func TestCoordinator_DropOutsideLock(t *testing.T) {
	// Given: a running match where Y's outbox is full and closing Y leaves the match at once
	coordinator := newTestCoordinator()
	ctx := context.Background()
	x, y := startMatch(t, coordinator)
	y.full = true
	y.onClose = func() { coordinator.Leave(ctx, y) }

	// When: X moves
	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinator.MakeMove(ctx, x, 0)
	}()

	// Then: the move completes, Y is closed once and X learns Y is gone
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("MakeMove did not return")
	}
	assert.Equal(t, 1, y.closes())
	assert.Equal(t, []string{"BOARD:X        ", "TURN:Y", "ERROR:Player disconnected"}, x.take())
	assert.Equal(t, entity.StatusFinished, coordinator.Snapshot().Status)
}

func TestCoordinator_Persistence(t *testing.T) {
	t.Run("Committed state and chat are mirrored", func(t *testing.T) {
		// Given: a coordinator with a repository
		repo := &mockMatchRepo{}
		repo.On("SaveSnapshot", mock.Anything, mock.AnythingOfType("*entity.Game")).Return(nil)
		repo.On("AppendChat", mock.Anything, mock.MatchedBy(func(msg *entity.ChatMessage) bool {
			return msg.ID == "m1" && msg.Sender == "Player Y" && msg.Text == "hi"
		})).Return(nil).Once()

		coordinator := NewCoordinator(slog.New(slog.NewTextHandler(io.Discard, nil)), repo)
		_, y := startMatch(t, coordinator)

		// When: Y chats
		coordinator.Chat(context.Background(), y, "m1", "hi")

		// Then: the last snapshot is the active match and the chat was stored
		repo.AssertExpectations(t)
		calls := repo.Calls
		var last *entity.Game
		for _, call := range calls {
			if call.Method == "SaveSnapshot" {
				last = call.Arguments.Get(1).(*entity.Game)
			}
		}
		require.NotNil(t, last)
		assert.Equal(t, entity.StatusActive, last.Status)
		assert.Len(t, last.Players, 2)
	})
}
