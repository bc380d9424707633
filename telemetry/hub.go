// Package telemetry streams per-frame events to websocket subscribers so a
// session can be watched live from a browser or script.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/sf2bot/features"
	"github.com/brensch/sf2bot/session"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	clientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Served on loopback for local dashboards.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one JSON message on the feed.
type Event struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id"`
	Frame     int64    `json:"frame"`
	ElapsedMs int64    `json:"elapsed_ms"`
	Source    string   `json:"source,omitempty"`
	Pressed   []string `json:"pressed,omitempty"`
	Timer     int      `json:"timer"`
	P1Health  int      `json:"p1_health"`
	P2Health  int      `json:"p2_health"`
	Reason    string   `json:"reason,omitempty"`

	Features map[string]float64 `json:"features,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to every connected subscriber. A subscriber that
// falls behind loses events rather than slowing the frame loop.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	dropped int64
	closed  bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{log: logger, clients: make(map[*client]struct{})}
}

// Handler returns the HTTP routes: /frames upgrades to the event feed.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/frames", h.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ServeListener serves the feed on ln until ctx is cancelled.
func (h *Hub) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		h.Close()
	})
	defer stop()

	h.log.Info("telemetry listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunAlongside serves the feed on ln for as long as run executes, then
// publishes run's result. A feed failure is logged and returned but never
// cancels run.
func (h *Hub) RunAlongside(ctx context.Context, ln net.Listener, run func(context.Context) session.Result) (session.Result, error) {
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()

	var (
		g   errgroup.Group
		res session.Result
	)
	g.Go(func() error {
		err := h.ServeListener(feedCtx, ln)
		if err != nil {
			h.log.Error("telemetry server failed, session continues", "error", err)
		}
		return err
	})
	g.Go(func() error {
		defer stopFeed()
		res = run(ctx)
		h.Ended(res)
		return nil
	})
	err := g.Wait()
	return res, err
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("telemetry subscriber connected", "remote", r.RemoteAddr, "subscribers", n)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only services control frames; subscribers never send data.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("telemetry read", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Subscribers reports how many feeds are connected.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped counts events discarded because a subscriber's buffer was full.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Publish never blocks.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("telemetry encode", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped++
		}
	}
}

func (h *Hub) ObserveFrame(f session.Frame) {
	ev := Event{
		Type:      "frame",
		SessionID: f.SessionID,
		Frame:     f.Index,
		ElapsedMs: f.Elapsed.Milliseconds(),
		Source:    f.Action.Source,
		Pressed:   f.Action.Buttons.Names(),
	}
	if f.State != nil {
		ev.Timer = f.State.Timer
		ev.P1Health = f.State.Player1.Health
		ev.P2Health = f.State.Player2.Health
		ev.Features = features.Extract(f.State).Map()
	}
	h.Publish(ev)
}

// Ended announces the session's final result.
func (h *Hub) Ended(res session.Result) {
	h.Publish(Event{
		Type:      "end",
		SessionID: res.ID,
		Frame:     res.Frames,
		ElapsedMs: res.Duration().Milliseconds(),
		Reason:    res.Reason.String(),
	})
}

// Close disconnects every subscriber. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
