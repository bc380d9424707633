package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brensch/sf2bot/game"
	"github.com/brensch/sf2bot/session"
)

func quietHub() *Hub { return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil))) }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/frames"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for h.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers=%d want %d", h.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

func TestFrameEventsReachSubscribers(t *testing.T) {
	h := quietHub()
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitSubscribers(t, h, 2)

	var bs game.Buttons
	bs.Set(game.Left, true)
	bs.Set(game.Y, true)
	h.ObserveFrame(session.Frame{
		SessionID: "abc",
		Index:     7,
		Elapsed:   1500 * time.Millisecond,
		State: &game.GameState{
			Timer:   88,
			Player1: game.Player{Health: 100},
			Player2: game.Player{Health: 60},
		},
		Action: session.Action{Buttons: bs, Source: "model"},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		if ev.Type != "frame" || ev.SessionID != "abc" || ev.Frame != 7 || ev.ElapsedMs != 1500 {
			t.Fatalf("event %+v", ev)
		}
		if ev.Source != "model" || ev.Timer != 88 || ev.P1Health != 100 || ev.P2Health != 60 {
			t.Fatalf("event %+v", ev)
		}
		if len(ev.Pressed) != 2 || ev.Pressed[0] != "left" || ev.Pressed[1] != "Y" {
			t.Fatalf("pressed=%v", ev.Pressed)
		}
		if len(ev.Features) != 21 || ev.Features["p1_health_diff"] != 40 || ev.Features["timer"] != 88 {
			t.Fatalf("features=%v", ev.Features)
		}
	}
}

func TestEndedEvent(t *testing.T) {
	h := quietHub()
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	waitSubscribers(t, h, 1)

	start := time.Unix(100, 0)
	h.Ended(session.Result{ID: "s1", Reason: session.TimeLimitReached, Frames: 900, Started: start, Ended: start.Add(15 * time.Second)})

	ev := readEvent(t, conn)
	if ev.Type != "end" || ev.Reason != "time_limit_reached" || ev.Frame != 900 || ev.ElapsedMs != 15000 {
		t.Fatalf("event %+v", ev)
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	h := quietHub()
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()

	// Connected but never reads.
	dial(t, srv)
	waitSubscribers(t, h, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer*50; i++ {
			h.Publish(Event{Type: "frame", Frame: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Publish blocked")
	}
}

func TestSubscriberRemovedOnDisconnect(t *testing.T) {
	h := quietHub()
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	waitSubscribers(t, h, 1)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitSubscribers(t, h, 0)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h := quietHub()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not stop")
	}
}

func TestRunAlongsideFeedFailureLeavesSessionRunning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_ = ln.Close()

	h := quietHub()
	res, err := h.RunAlongside(context.Background(), ln, func(ctx context.Context) session.Result {
		time.Sleep(100 * time.Millisecond)
		if ctx.Err() != nil {
			return session.Result{Reason: session.UserInterrupted}
		}
		return session.Result{Reason: session.TimeLimitReached}
	})
	if err == nil {
		t.Fatalf("expected the feed error to be returned")
	}
	if res.Reason != session.TimeLimitReached {
		t.Fatalf("reason=%s: feed failure leaked into the session", res.Reason)
	}
}

func TestRunAlongsideStopsFeedWhenRunReturns(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h := quietHub()

	done := make(chan struct{})
	var res session.Result
	go func() {
		defer close(done)
		res, err = h.RunAlongside(context.Background(), ln, func(ctx context.Context) session.Result {
			return session.Result{ID: "s1", Reason: session.ConnectionLost}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("RunAlongside did not return after run finished")
	}
	if err != nil {
		t.Fatalf("RunAlongside: %v", err)
	}
	if res.ID != "s1" || res.Reason != session.ConnectionLost {
		t.Fatalf("result %+v", res)
	}
}
