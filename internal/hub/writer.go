package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/matchpulse/matchpulse/internal/metrics"
)

// gracefulStopWait bounds how long a graceful shutdown waits for a blocked
// write to finish before giving up on the final frame.
const gracefulStopWait = 250 * time.Millisecond

// clientWriter owns all writes to one WebSocket connection. Frames are
// enqueued on a bounded channel and written by a single goroutine, which
// gives per-connection FIFO delivery and keeps a slow client from ever
// blocking the hub: when the buffer is full the enqueue fails and the hub
// disconnects the client.
type clientWriter struct {
	conn         *websocket.Conn
	clock        clockwork.Clock
	writeTimeout time.Duration
	sendCh       chan []byte
	pingCh       chan struct{}
	doneCh       chan struct{}
	deadCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func newClientWriter(conn *websocket.Conn, clock clockwork.Clock, bufferSize int, writeTimeout time.Duration) *clientWriter {
	cw := &clientWriter{
		conn:         conn,
		clock:        clock,
		writeTimeout: writeTimeout,
		sendCh:       make(chan []byte, bufferSize),
		pingCh:       make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
		deadCh:       make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				metrics.HubSendFailures.Inc()
				close(cw.deadCh)
				return
			}
			metrics.HubMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-cw.pingCh:
			cw.updateWriteDeadline()
			if err := cw.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.HubPingFailures.Inc()
				close(cw.deadCh)
				return
			}
		case <-cw.doneCh:
			return
		}
	}
}

// enqueue queues a frame for delivery. It never blocks; false means the
// writer is dead or the client is too slow to keep up.
func (cw *clientWriter) enqueue(msg []byte) bool {
	select {
	case <-cw.deadCh:
		return false
	default:
	}

	select {
	case cw.sendCh <- msg:
		return true
	default:
		return false
	}
}

// ping requests a heartbeat probe. Coalesces if one is already pending.
func (cw *clientWriter) ping() bool {
	select {
	case <-cw.deadCh:
		return false
	default:
	}

	select {
	case cw.pingCh <- struct{}{}:
	default:
	}
	return true
}

// dead reports whether the writer goroutine gave up on the transport.
func (cw *clientWriter) dead() bool {
	select {
	case <-cw.deadCh:
		return true
	default:
		return false
	}
}

// stop terminates the writer goroutine and closes the transport. The close
// comes first: it makes a write blocked on a saturated socket fail right away
// instead of running out its deadline, so stop returns promptly even for the
// slowest client. Concurrent Close during WriteMessage is safe per gorilla.
func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneCh)
		_ = cw.conn.Close()
		cw.wg.Wait()
	})
}

// stopGraceful delivers one final frame and a close frame before closing.
// The writer goroutine must exit first so the writes cannot race with it,
// but the wait is bounded: a writer wedged on a saturated socket forfeits
// the final frame and gets unblocked by the close instead.
func (cw *clientWriter) stopGraceful(finalFrame []byte, reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneCh)

		exited := make(chan struct{})
		go func() {
			cw.wg.Wait()
			close(exited)
		}()

		select {
		case <-exited:
			if finalFrame != nil && !cw.dead() {
				cw.updateWriteDeadline()
				_ = cw.conn.WriteMessage(websocket.TextMessage, finalFrame)
			}
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
			cw.updateWriteDeadline()
			_ = cw.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		case <-cw.clock.After(gracefulStopWait):
		}

		_ = cw.conn.Close()
		<-exited
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(cw.writeTimeout))
}
