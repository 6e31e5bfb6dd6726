package hub

import (
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientWriter_DeliversFramesInOrder(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)
	cw := newClientWriter(serverConn, clockwork.NewRealClock(), 8, time.Second)
	defer cw.stop()

	require.True(t, cw.enqueue([]byte(`{"n":1}`)))
	require.True(t, cw.enqueue([]byte(`{"n":2}`)))

	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := clientConn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(raw))
	}
}

func TestClientWriter_EnqueueFailsWhenBufferFull(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)
	cw := newClientWriter(serverConn, clockwork.NewRealClock(), 1, time.Second)
	defer cw.stop()

	// The client never reads, so once the writer goroutine is blocked on
	// the kernel buffer filling up, the single-slot channel overflows.
	overflowed := false
	for i := 0; i < 10000; i++ {
		if !cw.enqueue(make([]byte, 4096)) {
			overflowed = true
			break
		}
	}
	assert.True(t, overflowed, "a non-reading client must eventually overflow the buffer")
	_ = clientConn
}

func TestClientWriter_DeadAfterWriteFailure(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)
	cw := newClientWriter(serverConn, clockwork.NewRealClock(), 8, 50*time.Millisecond)
	defer cw.stop()

	require.NoError(t, clientConn.Close())
	require.NoError(t, serverConn.Close())

	// Writes on the closed transport fail; the writer marks itself dead
	// and refuses further frames.
	waitFor(t, "writer marked dead", func() bool {
		cw.enqueue([]byte(`{}`))
		return cw.dead()
	})
	assert.False(t, cw.enqueue([]byte(`{}`)))
	assert.False(t, cw.ping())
}

func TestClientWriter_StopReturnsPromptlyWhenWriteIsBlocked(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)
	cw := newClientWriter(serverConn, clockwork.NewRealClock(), 1, 3*time.Second)
	_ = clientConn

	// The client never reads: fill the kernel buffers until the writer
	// goroutine is stuck inside a write and the channel has backed up.
	frame := make([]byte, 64*1024)
	blocked := false
	for i := 0; i < 10000; i++ {
		if !cw.enqueue(frame) {
			blocked = true
			break
		}
	}
	require.True(t, blocked)
	time.Sleep(100 * time.Millisecond)

	// Closing the transport fails the blocked write immediately; stop must
	// not sit out the full write deadline.
	start := time.Now()
	cw.stop()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClientWriter_StopGracefulBoundedWhenWriteIsBlocked(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)
	cw := newClientWriter(serverConn, clockwork.NewRealClock(), 1, 3*time.Second)
	_ = clientConn

	frame := make([]byte, 64*1024)
	blocked := false
	for i := 0; i < 10000; i++ {
		if !cw.enqueue(frame) {
			blocked = true
			break
		}
	}
	require.True(t, blocked)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	cw.stopGraceful([]byte(`{"type":"server_shutdown"}`), "shutting down")
	assert.Less(t, time.Since(start), time.Second, "a wedged writer forfeits the final frame instead of waiting out the deadline")
}

func TestClientWriter_StopGracefulSendsFinalFrame(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)
	cw := newClientWriter(serverConn, clockwork.NewRealClock(), 8, time.Second)

	cw.stopGraceful([]byte(`{"type":"server_shutdown"}`), "shutting down")

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"server_shutdown"}`, string(raw))

	// Next read surfaces the close frame.
	_, _, err = clientConn.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseNormalClosure, closeErr.Code)
}

func TestClientWriter_StopIsIdempotent(t *testing.T) {
	serverConn, _ := newTestConnPair(t)
	cw := newClientWriter(serverConn, clockwork.NewRealClock(), 8, time.Second)

	cw.stop()
	cw.stop()
	cw.stopGraceful([]byte(`{}`), "ignored")
}
