package control

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/entity"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/event"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// fakeCoordinator accepts a single connection.
type fakeCoordinator struct {
	t        *testing.T
	listener net.Listener
	conn     net.Conn
	reader   *bufio.Reader
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	return &fakeCoordinator{t: t, listener: listener}
}

func (that *fakeCoordinator) accept() {
	that.t.Helper()

	conn, err := that.listener.Accept()
	require.NoError(that.t, err)
	that.t.Cleanup(func() { _ = conn.Close() })

	that.conn = conn
	that.reader = bufio.NewReader(conn)
}

func (that *fakeCoordinator) send(lines ...string) {
	that.t.Helper()

	_, err := that.conn.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(that.t, err)
}

func (that *fakeCoordinator) recv() string {
	that.t.Helper()

	_ = that.conn.SetReadDeadline(time.Now().Add(waitTimeout))
	line, err := that.reader.ReadString('\n')
	require.NoError(that.t, err)

	return strings.TrimSuffix(line, "\n")
}

func recvEvent(t *testing.T, stream *event.Stream) event.Event {
	t.Helper()

	select {
	case ev := <-stream.C():
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func connect(t *testing.T) (*Client, *event.Stream, *fakeCoordinator) {
	t.Helper()

	coordinator := newFakeCoordinator(t)
	stream := event.NewStream(32)
	client := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), stream)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Connect(context.Background(), coordinator.listener.Addr().String()))
	coordinator.accept()
	require.IsType(t, event.Connected{}, recvEvent(t, stream))

	return client, stream, coordinator
}

func TestClient_NotConnected(t *testing.T) {
	client := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), event.NewStream(1))

	require.ErrorIs(t, client.SendMove(1), apperror.ErrNotConnected)
	require.ErrorIs(t, client.SendRestart(), apperror.ErrNotConnected)
	require.ErrorIs(t, client.RequestCall(), apperror.ErrNotConnected)
	_, err := client.SendChat("hi")
	require.ErrorIs(t, err, apperror.ErrNotConnected)
	assert.Empty(t, client.State().Chat)
}

func TestClient_GameFlow(t *testing.T) {
	t.Run("Start sequence updates the mirror", func(t *testing.T) {
		// Given: a connected client
		client, stream, coordinator := connect(t)

		// When: the coordinator starts the match with X to move
		coordinator.send("PLAYER:X", "START", "BOARD:         ", "TURN:X")

		// Then: events arrive in order and it is our turn
		assert.Equal(t, event.MarkAssigned{Mark: entity.PlayerX}, recvEvent(t, stream))
		assert.Equal(t, event.GameStarted{}, recvEvent(t, stream))
		assert.Equal(t, event.BoardChanged{}, recvEvent(t, stream))
		assert.Equal(t, event.TurnChanged{Mark: entity.PlayerX, MyTurn: true}, recvEvent(t, stream))

		state := client.State()
		assert.True(t, state.Connected)
		assert.True(t, state.IsGameActive)
		assert.True(t, state.IsMyTurn())
		assert.Equal(t, "Your turn!", state.TurnMessage)
	})

	t.Run("Outgoing commands are encoded", func(t *testing.T) {
		client, _, coordinator := connect(t)

		require.NoError(t, client.SendMove(4))
		require.NoError(t, client.SendName("Alice"))
		require.NoError(t, client.SendRestart())
		require.NoError(t, client.RequestCall())
		require.NoError(t, client.AcceptCall())
		require.NoError(t, client.SendCallInfo(40000))
		require.NoError(t, client.RejectCall())
		require.NoError(t, client.EndCall())

		for _, want := range []string{
			"MOVE:4", "NAME:Alice", "RESTART", "CALL_REQUEST", "CALL_ACCEPT", "CALL_INFO:40000", "CALL_REJECT", "CALL_END",
		} {
			assert.Equal(t, want, coordinator.recv())
		}
		assert.Equal(t, "Alice", client.State().MyName)
	})

	t.Run("Own chat is sent with an id and kept locally", func(t *testing.T) {
		// Given: a connected, named client
		client, _, coordinator := connect(t)
		require.NoError(t, client.SendName("Alice"))
		coordinator.recv()

		// When: sending a chat message
		msg, err := client.SendChat("hello: there")

		// Then: the line carries the id and the log marks it as ours
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "CHAT:"+msg.ID+":hello: there", coordinator.recv())
		chat := client.State().Chat
		require.Len(t, chat, 1)
		assert.True(t, chat[0].IsMine)
		assert.Equal(t, "Alice", chat[0].Sender)
	})

	t.Run("Win and disconnect end the game", func(t *testing.T) {
		client, stream, coordinator := connect(t)
		coordinator.send("PLAYER:Y", "START", "WIN:Y")
		recvEvent(t, stream)
		recvEvent(t, stream)

		assert.Equal(t, event.GameOver{Winner: entity.PlayerY, IWon: true}, recvEvent(t, stream))
		assert.Equal(t, "You WIN!", client.State().StatusMessage)
		assert.False(t, client.State().IsGameActive)

		coordinator.send("RESTART", "ERROR:Player disconnected")
		assert.Equal(t, event.GameStarted{Restarted: true}, recvEvent(t, stream))
		assert.Equal(t, event.ServerError{Reason: "Player disconnected"}, recvEvent(t, stream))
		assert.False(t, client.State().IsGameActive)
	})

	t.Run("Draw and malformed lines", func(t *testing.T) {
		_, stream, coordinator := connect(t)

		coordinator.send("BOARD:short", "NONSENSE", "DRAW")

		assert.Equal(t, event.GameOver{Winner: entity.PlayerTie}, recvEvent(t, stream))
	})

	t.Run("Relayed chat, names and call signals", func(t *testing.T) {
		client, stream, coordinator := connect(t)

		coordinator.send(
			"OPPONENT_NAME:Bob",
			"CHAT:m1:Bob:see you at 10:30:2024-05-01 13:04:05",
			"CALL_REQUEST:Bob",
			"CALL_ACCEPT",
			"CALL_INFO:192.168.1.20:40000",
			"CALL_REJECT",
			"CALL_END",
		)

		assert.Equal(t, event.OpponentNamed{Name: "Bob"}, recvEvent(t, stream))
		chat, ok := recvEvent(t, stream).(event.ChatReceived)
		require.True(t, ok)
		assert.Equal(t, "see you at 10:30", chat.Message.Text)
		assert.False(t, chat.Message.IsMine)
		assert.Equal(t, event.IncomingCall{Caller: "Bob"}, recvEvent(t, stream))
		assert.Equal(t, event.CallAccepted{}, recvEvent(t, stream))
		assert.Equal(t, event.CallEndpoint{Host: "192.168.1.20", Port: 40000}, recvEvent(t, stream))
		assert.Equal(t, event.CallRejected{}, recvEvent(t, stream))
		assert.Equal(t, event.CallEnded{ByPeer: true}, recvEvent(t, stream))
		assert.Equal(t, "Bob", client.State().OpponentName)
	})
}

func TestClient_LongLines(t *testing.T) {
	// Given: a connected client
	client, stream, coordinator := connect(t)
	text := strings.Repeat("a", 100*1024)

	// When: the coordinator relays a chat longer than a participant line, then garbage over the
	// relay limit, then a draw
	coordinator.send(
		"CHAT:m1:Bob:"+text+":2024-05-01 13:04:05",
		strings.Repeat("b", protocol.MaxRelayLineSize+1),
		"DRAW",
	)

	// Then: the chat arrives whole, the garbage is dropped and the connection stays
	chat, ok := recvEvent(t, stream).(event.ChatReceived)
	require.True(t, ok)
	assert.Equal(t, text, chat.Message.Text)
	assert.Equal(t, event.GameOver{Winner: entity.PlayerTie}, recvEvent(t, stream))
	assert.True(t, client.State().Connected)
	require.NoError(t, client.SendMove(0))
	assert.Equal(t, "MOVE:0", coordinator.recv())
}

func TestClient_Disconnect(t *testing.T) {
	t.Run("Lost coordinator is reported", func(t *testing.T) {
		// Given: a connected client
		client, stream, coordinator := connect(t)

		// When: the coordinator hangs up
		require.NoError(t, coordinator.conn.Close())

		// Then: ConnectionLost is reported and sends fail
		require.IsType(t, event.ConnectionLost{}, recvEvent(t, stream))
		assert.False(t, client.State().Connected)
		require.ErrorIs(t, client.SendMove(0), apperror.ErrNotConnected)
	})

	t.Run("Local close is silent", func(t *testing.T) {
		// Given: a connected client
		client, stream, _ := connect(t)

		// When: closing it twice
		require.NoError(t, client.Close())
		require.NoError(t, client.Close())

		// Then: no ConnectionLost follows
		select {
		case ev := <-stream.C():
			t.Fatalf("unexpected event %#v", ev)
		case <-time.After(100 * time.Millisecond):
		}
		assert.False(t, client.State().Connected)
	})

	t.Run("Connect twice is refused", func(t *testing.T) {
		client, _, coordinator := connect(t)

		err := client.Connect(context.Background(), coordinator.listener.Addr().String())

		require.ErrorIs(t, err, apperror.ErrAlreadyConnected)
	})
}
