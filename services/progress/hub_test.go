package progress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	return websocket.DefaultDialer.Dial(u, nil)
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsEvents(t *testing.T) {
	h := NewHub(5, nil)
	defer h.Shutdown()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := dial(t, srv)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitClients(t, h, 1)

	h.Publish(EventBatchFinished, map[string]int{"processed": 3})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != EventBatchFinished || msg.Data["processed"] != 3 {
		t.Fatalf("message = %s", raw)
	}
}

func TestHubRejectsOverCapacity(t *testing.T) {
	h := NewHub(1, nil)
	defer h.Shutdown()
	srv := httptest.NewServer(h)
	defer srv.Close()

	first, _, err := dial(t, srv)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	waitClients(t, h, 1)

	_, resp, err := dial(t, srv)
	if err == nil {
		t.Fatalf("second dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("second dial response = %v", resp)
	}
}

func TestHubAttachRejectsClientThatLostTheRace(t *testing.T) {
	h := NewHub(1, nil)
	defer h.Shutdown()

	// Another client took the last slot between the capacity check and registration
	h.mu.Lock()
	h.clients[&client{send: make(chan []byte, 1)}] = true
	h.mu.Unlock()

	attached := make(chan bool, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		attached <- h.attach(&client{conn: conn, send: make(chan []byte, clientBuffer), accepted: make(chan bool, 1)})
	}))
	defer srv.Close()

	conn, _, err := dial(t, srv)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case ok := <-attached:
		if ok {
			t.Fatalf("attach accepted a client over capacity")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("attach did not return")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("read err = %v, want close 1013", err)
	}
	if n := h.ClientCount(); n != 1 {
		t.Fatalf("client count = %d, want 1", n)
	}
}

func TestHubUnregistersClosedClients(t *testing.T) {
	h := NewHub(5, nil)
	defer h.Shutdown()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := dial(t, srv)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, h, 1)
	_ = conn.Close()
	waitClients(t, h, 0)
}

func TestPublishAfterShutdownDoesNotBlock(t *testing.T) {
	h := NewHub(1, nil)
	h.Shutdown()
	h.Shutdown()

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*2; i++ {
			h.Publish(EventInstrument, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked after shutdown")
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	p.Publish(EventQueueStarted, nil)
}
