// Package monitor fans live stream records out to websocket clients.
//
// A Hub tracks connected clients and gives each one a write pump so a
// slow consumer never blocks the rest; clients that cannot keep up are
// disconnected. The broadcaster converts decoded link records to JSON
// envelopes of the form {type, ts, data} and coalesces position bursts,
// which arrive at interrupt rate, down to a UI-friendly cadence.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rotomod/host/link"
	"rotomod/protocol"
)

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// positionData is the JSON `data` payload for "position" messages.
type positionData struct {
	Position int16   `json:"position"`
	Degrees  float64 `json:"degrees"`
	Time     uint32  `json:"time_us"`
}

// eventData is the JSON `data` payload for "event" messages.
type eventData struct {
	Source string `json:"source"`
	Code   byte   `json:"code"`
	Time   uint32 `json:"time_us"`
}

// helloData is the JSON `data` payload for the "hello" message a client
// receives on connect: the module setup plus the last seen position.
type helloData struct {
	WrapPoint int16         `json:"wrap_point"`
	Unipolar  bool          `json:"unipolar"`
	Last      *positionData `json:"last,omitempty"`
}

// Hub tracks connected websocket clients.
type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients while locked, remove them after.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// Client is one websocket consumer with its own outbound queue.
type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait = 5 * time.Second

	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// positionCoalesceWindow bounds the websocket position rate: a burst of
// samples collapses to the latest one per window.
const positionCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Info("ws writePump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
					} else {
						c.logger.Info("ws writePump exiting (write error)", "remote_addr", c.remoteAddr, "error", err)
					}
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Info("ws writePump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
					} else {
						c.logger.Info("ws writePump exiting (ping error)", "remote_addr", c.remoteAddr, "error", err)
					}
				}
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects
// and service control frames. It exits on read error, then unregisters.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Continue to read.
		}

		_, _, err := c.conn.ReadMessage()
		if err != nil {
			// Normal close is expected on client disconnect.
			if !errors.Is(err, websocket.ErrCloseSent) {
				if code, text, ok := closeStatus(err); ok {
					c.logger.Info("ws readPump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
				} else {
					c.logger.Info("ws readPump exiting (read error)", "remote_addr", c.remoteAddr, "error", err)
				}
			}

			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// Server owns the hub and the HTTP upgrade handler.
type Server struct {
	logger *slog.Logger

	hub *Hub

	wrapPoint int16
	unipolar  bool

	mu   sync.Mutex
	last *positionData
}

type ServerConfig struct {
	Hub HubConfig

	// Module setup, echoed to clients so a UI can scale its dial.
	WrapPoint int16
	Unipolar  bool
}

// NewServer constructs the monitor server components. Call Register on
// a mux, start Hub().Run(ctx) and RunBroadcaster(ctx, src).
func NewServer(logger *slog.Logger, cfg ServerConfig) *Server {
	return &Server{
		logger:    logger,
		hub:       NewHub(logger, cfg.Hub),
		wrapPoint: cfg.WrapPoint,
		unipolar:  cfg.Unipolar,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleWS)
}

var upgrader = websocket.Upgrader{
	// NOTE: If you need stricter origin checks, implement them at integration time.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades and registers a client, then sends the hello message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so broadcasts can reach the client.
	s.hub.register <- client

	// Do not tie the pumps to the HTTP request context: net/http cancels
	// it when the handler returns, which would kill the connection. The
	// hub and the websocket errors manage the connection lifetime.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	hello, err := s.helloEnvelope()
	if err != nil {
		s.logger.Warn("ws hello marshal failed", "error", err)
		return
	}
	select {
	case client.send <- hello:
	default:
		s.hub.unregister <- client
	}
}

// helloEnvelope builds the per-connect hello message.
func (s *Server) helloEnvelope() ([]byte, error) {
	s.mu.Lock()
	var last *positionData
	if s.last != nil {
		cp := *s.last
		last = &cp
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	return json.Marshal(envelope{
		Type: "hello",
		Ts:   &now,
		Data: helloData{WrapPoint: s.wrapPoint, Unipolar: s.unipolar, Last: last},
	})
}

func (s *Server) setLast(d positionData) {
	s.mu.Lock()
	cp := d
	s.last = &cp
	s.mu.Unlock()
}

func (s *Server) emit(typ string, data interface{}) {
	now := time.Now().UTC()
	msg, err := json.Marshal(envelope{Type: typ, Ts: &now, Data: data})
	if err != nil {
		s.logger.Warn("ws broadcast marshal failed", "error", err, "type", typ)
		return
	}
	s.hub.BroadcastBytes(msg)
}

func (s *Server) positionData(rec link.Record) positionData {
	return positionData{
		Position: rec.Pos,
		Degrees:  link.Degrees(rec.Pos, s.wrapPoint),
		Time:     rec.Time,
	}
}

func eventSource(source byte) string {
	if source == protocol.SourceThreshold {
		return "threshold"
	}
	return "external"
}

// RunBroadcaster reads decoded records from src, converts them to JSON
// and broadcasts them to all hub clients. Position bursts are coalesced
// latest-wins per positionCoalesceWindow; events flush any pending
// position first and then go out immediately. Intended to run as a
// single goroutine; it returns when ctx is done or src is closed.
func (s *Server) RunBroadcaster(ctx context.Context, src <-chan link.Record) {
	var pending *positionData
	var timer *time.Timer
	var timerCh <-chan time.Time

	flushPending := func() {
		if pending == nil {
			return
		}
		s.emit("position", *pending)
		pending = nil
	}

	stopTimer := func() {
		if timer == nil {
			timerCh = nil
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timerCh = nil
		timer = nil
	}

	startTimerIfNeeded := func() {
		if timer != nil {
			return
		}
		timer = time.NewTimer(positionCoalesceWindow)
		timerCh = timer.C
	}

	resetTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(positionCoalesceWindow)
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			flushPending()
			if pending == nil {
				stopTimer()
			} else {
				resetTimer()
			}

		case rec, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				s.logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			switch rec.Kind {
			case protocol.TagPosition:
				d := s.positionData(rec)
				s.setLast(d)
				// Latest-wins; the periodic timer does the emitting.
				pending = &d
				startTimerIfNeeded()

			case protocol.TagEvent:
				// Keep ordering: the position seen before the event
				// must not be published after it.
				flushPending()
				stopTimer()
				s.emit("event", eventData{
					Source: eventSource(rec.Source),
					Code:   rec.Code,
					Time:   rec.Time,
				})
			}
		}
	}
}
