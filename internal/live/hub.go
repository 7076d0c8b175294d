// Package live streams resonance updates to websocket subscribers.
//
// HUB MODEL:
// One goroutine (Hub.run) owns the client set; Register, Unregister and
// Broadcast are commands sent to it over a channel, so no lock guards the
// map. Each connection gets a clientWriter goroutine that is the only writer
// on that socket (gorilla/websocket allows one concurrent writer). A client
// whose send buffer is full when a broadcast arrives is disconnected rather
// than allowed to stall everyone else.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/sakif/vibehub/internal/events"
	"github.com/sakif/vibehub/internal/metrics"
	"github.com/sakif/vibehub/internal/model"
)

// MaxClients caps concurrent subscribers.
const MaxClients = 1000

// Message kinds sent to clients.
const (
	KindResonance   = "resonance"
	KindVibeCreated = "vibe.created"
)

var (
	ErrHubFull    = errors.New("live: too many subscribers")
	ErrHubStopped = errors.New("live: hub stopped")
)

// Message is the envelope of every frame sent to clients.
type Message struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	conn    *websocket.Conn
	initial []byte
	errCh   chan error
}

type cmdUnregister struct{ conn *websocket.Conn }

// cmdBroadcast carries an encoded frame. A non-zero resonanceSeq marks a
// resonance frame, which is sent only if it is newer than the last one.
type cmdBroadcast struct {
	data         []byte
	resonanceSeq uint64
}

type cmdCount struct{ replyCh chan int }

func (cmdRegister) hubCmd()   {}
func (cmdUnregister) hubCmd() {}
func (cmdBroadcast) hubCmd()  {}
func (cmdCount) hubCmd()      {}

var _ events.Publisher = (*Hub)(nil)

// Hub fans broadcast messages out to every registered connection.
type Hub struct {
	cmdCh   chan hubCmd
	done    chan struct{}
	stopped chan struct{}
	clients map[*websocket.Conn]*clientWriter

	// resonanceSeq is the seq of the last resonance frame sent.
	resonanceSeq uint64

	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.LiveMetrics
}

// NewHub starts the hub goroutine. m may be nil.
func NewHub(clock clockwork.Clock, logger *slog.Logger, m *metrics.LiveMetrics) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h := &Hub{
		cmdCh:   make(chan hubCmd, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		clients: make(map[*websocket.Conn]*clientWriter),
		clock:   clock,
		logger:  logger,
		metrics: m,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case cmdRegister:
				h.handleRegister(c)
			case cmdUnregister:
				h.remove(c.conn)
			case cmdBroadcast:
				h.handleBroadcast(c)
			case cmdCount:
				c.replyCh <- len(h.clients)
			}
		case <-h.done:
			h.shutdown()
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	if len(h.clients) >= MaxClients {
		c.errCh <- ErrHubFull
		return
	}
	cw := newClientWriter(c.conn, h.clock)
	if c.initial != nil {
		cw.sendCh <- c.initial
	}
	h.clients[c.conn] = cw
	if h.metrics != nil {
		h.metrics.Connections.Inc()
	}
	h.logger.Debug("live client registered", slog.Int("clients", len(h.clients)))
	c.errCh <- nil
}

func (h *Hub) handleBroadcast(c cmdBroadcast) {
	if c.resonanceSeq != 0 {
		if c.resonanceSeq <= h.resonanceSeq {
			h.logger.Debug("skipping stale resonance", slog.Uint64("seq", c.resonanceSeq))
			return
		}
		h.resonanceSeq = c.resonanceSeq
	}
	if h.metrics != nil {
		h.metrics.Broadcasts.Inc()
	}
	for conn, cw := range h.clients {
		select {
		case cw.sendCh <- c.data:
		default:
			h.logger.Warn("dropping slow live client", slog.String("remote", conn.RemoteAddr().String()))
			if h.metrics != nil {
				h.metrics.Dropped.Inc()
			}
			h.remove(conn)
		}
	}
}

// remove drops conn without a close handshake. It runs on the hub
// goroutine, so it must not wait on the peer.
func (h *Hub) remove(conn *websocket.Conn) {
	cw, ok := h.clients[conn]
	if !ok {
		return
	}
	delete(h.clients, conn)
	cw.stop()
	if h.metrics != nil {
		h.metrics.Connections.Dec()
	}
}

// shutdown says goodbye to every client in parallel, so one stuck peer
// costs at most one writeDeadline in total.
func (h *Hub) shutdown() {
	var wg sync.WaitGroup
	for conn, cw := range h.clients {
		delete(h.clients, conn)
		if h.metrics != nil {
			h.metrics.Connections.Dec()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.stopGraceful("server shutting down")
		}()
	}
	wg.Wait()
}

func (h *Hub) send(cmd hubCmd) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.cmdCh <- cmd:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Register adds conn and queues initial (may be nil) as its first frame.
// On error the caller still owns conn and must close it.
func (h *Hub) Register(conn *websocket.Conn, initial []byte) error {
	errCh := make(chan error, 1)
	if err := h.send(cmdRegister{conn: conn, initial: initial, errCh: errCh}); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-h.stopped:
		return ErrHubStopped
	}
}

// Unregister removes conn and closes it. Unknown connections are ignored.
// The reader calls it once the socket has failed, so no close frame is sent.
func (h *Hub) Unregister(conn *websocket.Conn) {
	_ = h.send(cmdUnregister{conn: conn})
}

// Broadcast sends msg to every client.
func (h *Hub) Broadcast(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return h.send(cmdBroadcast{data: data})
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	if err := h.send(cmdCount{replyCh: replyCh}); err != nil {
		return 0
	}
	select {
	case n := <-replyCh:
		return n
	case <-h.stopped:
		return 0
	}
}

// Stop disconnects every client and ends the hub goroutine.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	<-h.stopped
}

// Encode marshals a message envelope.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("live: encoding %s message: %w", msg.Kind, err)
	}
	return data, nil
}

func (h *Hub) PublishVibeCreated(_ context.Context, e events.VibeCreated) error {
	if e.Visibility != model.VisibilityPublic {
		return nil
	}
	return h.Broadcast(Message{Kind: KindVibeCreated, Data: e})
}

func (h *Hub) PublishVibeDeleted(_ context.Context, e events.VibeDeleted) error {
	return h.broadcastResonance(e.Resonance, e.Seq)
}

func (h *Hub) PublishVoteCast(_ context.Context, e events.VoteCast) error {
	return h.broadcastResonance(e.Resonance, e.Seq)
}

// broadcastResonance sends r unless a resonance with a higher seq has
// already gone out. Seq 0 is always sent.
func (h *Hub) broadcastResonance(r model.Resonance, seq uint64) error {
	data, err := Encode(Message{Kind: KindResonance, Data: r})
	if err != nil {
		return err
	}
	return h.send(cmdBroadcast{data: data, resonanceSeq: seq})
}
