package sink

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	clientBuffer = 64
)

// Broadcaster pushes every merged view row to connected websocket viewers.
// Only the group key and the view's visible columns are sent.
type Broadcaster struct {
	columns  []string
	groupBy  string
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*viewer]struct{}
	closed  bool
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// NewBroadcaster builds a hub projecting rows through view.
func NewBroadcaster(view View, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		columns: view.Columns,
		groupBy: view.GroupBy,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "sink_stream").Logger(),
		clients: make(map[*viewer]struct{}),
	}
}

// ServeHTTP upgrades the request and streams rows until the peer leaves.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, clientBuffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.clients[v] = struct{}{}
	b.mu.Unlock()

	b.logger.Info().Str("remote", r.RemoteAddr).Msg("viewer connected")
	go b.writeLoop(v)
	b.readLoop(v)
}

// readLoop only services control frames; viewers never send data.
func (b *Broadcaster) readLoop(v *viewer) {
	defer b.drop(v)

	v.conn.SetReadLimit(512)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writeLoop(v *viewer) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) drop(v *viewer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[v]; ok {
		delete(b.clients, v)
		close(v.send)
	}
}

// Publish implements Listener. Slow viewers lose messages rather than
// blocking the writer.
func (b *Broadcaster) Publish(row ViewRow) {
	payload, err := json.Marshal(b.encode(row))
	if err != nil {
		b.logger.Error().Err(err).Msg("encode view row")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for v := range b.clients {
		select {
		case v.send <- payload:
		default:
			b.logger.Warn().Msg("viewer buffer full; dropping update")
		}
	}
}

// Clients returns the number of connected viewers.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every viewer.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for v := range b.clients {
		delete(b.clients, v)
		close(v.send)
	}
}

func (b *Broadcaster) encode(row ViewRow) map[string]any {
	out := make(map[string]any, len(b.columns)+1)
	out[b.groupBy] = row.Timestamp.UTC().Format(time.RFC3339Nano)
	for _, col := range b.columns {
		out[col] = encodeValue(row.Value(col))
	}
	return out
}

// encodeValue spells non-finite floats as strings; encoding/json rejects them.
func encodeValue(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return f
}

var _ Listener = (*Broadcaster)(nil)
