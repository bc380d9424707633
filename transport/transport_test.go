package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/brensch/sf2bot/game"
)

// pair returns an accepted Conn and the emulator side of it.
func pair(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	dialed := make(chan net.Conn, 1)
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Errorf("dial: %v", err)
			dialed <- nil
			return
		}
		dialed <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := ln.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	peer := <-dialed
	if peer == nil {
		t.FailNow()
	}
	t.Cleanup(func() {
		_ = conn.Close()
		_ = peer.Close()
	})
	return conn, peer
}

func TestReceiveDecodesOnePayload(t *testing.T) {
	conn, peer := pair(t)

	want := &game.GameState{
		Timer:   42,
		Player1: game.Player{ID: 1, Health: 80, X: 100},
		Player2: game.Player{ID: 2, Health: 100, X: 30},
	}
	data, err := game.EncodeState(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := peer.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if *got != *want {
		t.Fatalf("state\n got %+v\nwant %+v", got, want)
	}
}

func TestSendWritesCommand(t *testing.T) {
	conn, peer := pair(t)

	var bs game.Buttons
	bs.Set(game.Right, true)
	if err := conn.Send(game.NewCommand(game.Seat1, bs)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, MaxPayload)
	_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := peer.Read(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	var cmd game.Command
	if err := json.Unmarshal(buf[:n], &cmd); err != nil {
		t.Fatalf("peer decode %s: %v", buf[:n], err)
	}
	got, ok := cmd.Buttons()
	if !ok || got != bs || cmd.PlayerButtons == nil {
		t.Fatalf("command=%s", buf[:n])
	}
}

func TestReceivePeerClosed(t *testing.T) {
	conn, peer := pair(t)
	_ = peer.Close()

	if _, err := conn.Receive(); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("err=%v want ErrPeerClosed", err)
	}
}

func TestReceiveMalformed(t *testing.T) {
	conn, peer := pair(t)
	if _, err := peer.Write([]byte(`{"timer": 1, "p1": {`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := conn.Receive()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err=%v want *DecodeError", err)
	}
	if string(de.Payload) != `{"timer": 1, "p1": {` {
		t.Fatalf("payload=%q", de.Payload)
	}
}

func TestReceiveTimeout(t *testing.T) {
	conn, _ := pair(t)
	conn.SetReceiveTimeout(50 * time.Millisecond)

	_, err := conn.Receive()
	if err == nil || !IsTimeout(err) {
		t.Fatalf("err=%v want timeout", err)
	}
}

func TestInterruptUnblocksReceive(t *testing.T) {
	conn, _ := pair(t)
	conn.SetReceiveTimeout(0)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Receive()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	conn.Interrupt()

	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("err=%v want ErrInterrupted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Receive still blocked after Interrupt")
	}
}

func TestInterruptBeforeReceive(t *testing.T) {
	conn, _ := pair(t)
	conn.SetReceiveTimeout(5 * time.Second)
	conn.Interrupt()

	start := time.Now()
	_, err := conn.Receive()
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err=%v want ErrInterrupted", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Fatalf("Receive waited %s after an earlier Interrupt", waited)
	}
}

func TestReceiveRejectsIncompletePlayers(t *testing.T) {
	conn, peer := pair(t)
	if _, err := peer.Write([]byte(`{"timer":1,"p1":{},"p2":{}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := conn.Receive()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err=%v want *DecodeError", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn, _ := pair(t)
	if err := conn.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := conn.Send(game.Command{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close err=%v", err)
	}
	if _, err := conn.Receive(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive after Close err=%v", err)
	}
}

func TestListenBindFailure(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	if _, err := Listen(ln.Addr().String()); err == nil {
		t.Fatalf("expected second bind on %s to fail", ln.Addr())
	}
}

func TestAcceptCancelled(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := ln.Accept(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}
