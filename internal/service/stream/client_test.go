package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"MarketPulse/internal/domain/models"
)

type wsServer struct {
	srv      *httptest.Server
	inbound  chan []byte
	outbound chan []byte
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()

	s := &wsServer{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 16),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for msg := range s.outbound {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.inbound <- b
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func waitTransportEvent(t *testing.T, c *Client, kind models.TransportEventKind) models.TransportEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestConnectSendReceive(t *testing.T) {
	srv := newWSServer(t)
	c := New(Config{URL: srv.url()}, nil)
	t.Cleanup(func() { _ = c.Destroy() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitTransportEvent(t, c, models.TransportOpen)
	if !c.IsConnected() {
		t.Fatalf("expected connected")
	}

	if err := c.Send(context.Background(), models.NewSubscribe([]string{"AAPL"})); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case b := <-srv.inbound:
		if !strings.Contains(string(b), `"subscribe"`) {
			t.Fatalf("unexpected frame %s", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received the frame")
	}

	srv.outbound <- []byte(`{"type":"status","data":{}}`)
	ev := waitTransportEvent(t, c, models.TransportMessage)
	if !strings.Contains(string(ev.Payload), `"status"`) {
		t.Fatalf("unexpected payload %s", ev.Payload)
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	srv := newWSServer(t)
	c := New(Config{URL: srv.url(), ReconnectDelay: 10 * time.Millisecond}, nil)
	t.Cleanup(func() { _ = c.Destroy() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitTransportEvent(t, c, models.TransportOpen)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitTransportEvent(t, c, models.TransportClosed)

	// No reconnect attempt may follow a deliberate disconnect.
	select {
	case ev := <-c.Events():
		if ev.Kind == models.TransportOpen || ev.Kind == models.TransportStatus {
			t.Fatalf("unexpected %s event after disconnect", ev.Kind)
		}
	case <-time.After(100 * time.Millisecond):
	}

	if c.IsConnected() {
		t.Fatalf("expected disconnected")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:0"}, nil)
	t.Cleanup(func() { _ = c.Destroy() })

	if err := c.Send(context.Background(), models.NewPing("x")); err == nil {
		t.Fatalf("expected error when not connected")
	}
}

func TestDestroyIdempotent(t *testing.T) {
	srv := newWSServer(t)
	c := New(Config{URL: srv.url()}, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitTransportEvent(t, c, models.TransportOpen)

	if err := c.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := c.Destroy(); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if c.IsConnected() {
		t.Fatalf("expected destroyed client disconnected")
	}
}
