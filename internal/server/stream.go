package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-spotify/internal/events"
)

const (
	streamSendBuffer = 64
	streamPingPeriod = 30 * time.Second
	streamPongWait   = 60 * time.Second
	streamWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to loopback by default and carries no credentials.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Stream relays accessory events to WebSocket clients on /api/v1/events.
// It is an events.Publisher so it can sit next to the MQTT and InfluxDB sinks.
type Stream struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn     *websocket.Conn
	send     chan []byte
	deviceID string
}

func NewStream(logger zerolog.Logger) *Stream {
	return &Stream{
		logger:  logger.With().Str("component", "stream").Logger(),
		clients: make(map[*streamClient]struct{}),
	}
}

// Publish never blocks; a client whose buffer is full misses the event.
func (s *Stream) Publish(_ context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if c.deviceID != "" && c.deviceID != event.DeviceID {
			continue
		}
		select {
		case c.send <- data:
		default:
			s.logger.Debug().Str("device_id", event.DeviceID).Msg("stream client behind, event dropped")
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client and refuses new ones.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "event stream closed")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &streamClient{
		conn:     conn,
		send:     make(chan []byte, streamSendBuffer),
		deviceID: r.URL.Query().Get("device_id"),
	}
	if !s.add(c) {
		_ = conn.Close()
		return
	}
	go c.writePump()
	go s.readPump(c)
}

func (s *Stream) add(c *streamClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	s.logger.Debug().Int("clients", len(s.clients)).Msg("stream client connected")
	return true
}

func (s *Stream) remove(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	s.logger.Debug().Int("clients", len(s.clients)).Msg("stream client disconnected")
}

// readPump only watches for pongs and close frames; clients do not send commands.
func (s *Stream) readPump(c *streamClient) {
	defer func() {
		s.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("stream read failed")
			}
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ events.Publisher = (*Stream)(nil)
