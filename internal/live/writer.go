package live

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongWait          = 60 * time.Second
	messageBufferSize = 16
)

// clientWriter is the only goroutine writing to its connection.
type clientWriter struct {
	conn     *websocket.Conn
	clock    clockwork.Clock
	sendCh   chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newClientWriter(conn *websocket.Conn, clock clockwork.Clock) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		clock:  clock,
		sendCh: make(chan []byte, messageBufferSize),
		done:   make(chan struct{}),
	}
	_ = conn.SetReadDeadline(clock.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(cw.clock.Now().Add(pongWait))
	})

	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-cw.sendCh:
			_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// The reader sees the closed socket and unregisters.
				_ = cw.conn.Close()
				return
			}
		case <-ticker.Chan():
			_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
			if err := cw.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = cw.conn.Close()
				return
			}
		case <-cw.done:
			return
		}
	}
}

// stop closes the socket first, which fails any write in flight, then
// waits for the writer to exit. It never blocks on the peer.
func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.done)
		_ = cw.conn.Close()
		cw.wg.Wait()
	})
}

// stopGraceful ends the writer, then sends a close frame with reason before
// closing. It can block for up to writeDeadline on a peer that is not
// reading, so only hub shutdown uses it.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.done)
		cw.wg.Wait()

		_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
		_ = cw.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		_ = cw.conn.Close()
	})
}
