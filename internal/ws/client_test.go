package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func TestClientReplaysSubscriptionsAndDelivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	subCh := make(chan map[string]any, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err == nil {
			subCh <- msg
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"e":"trade","p":"65000.10"}`))
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, 0, zap.NewNop())
	if err := client.Subscribe(ctx, map[string]any{"method": "SUBSCRIBE", "params": []string{"btcusdt@trade"}, "id": 1}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	got := make(chan []byte, 1)
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, func(data []byte) {
			select {
			case got <- data:
			default:
			}
		})
	}()

	select {
	case msg := <-subCh:
		if msg["method"] != "SUBSCRIBE" {
			t.Fatalf("expected subscribe replay, got %v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for subscription")
	}
	select {
	case data := <-got:
		if !strings.Contains(string(data), "65000.10") {
			t.Fatalf("unexpected payload %s", data)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
}

func TestClientReconnects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var accepts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if atomic.AddInt32(&accepts, 1) == 1 {
			_ = conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, 0, zap.NewNop())
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, nil)
	}()

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&accepts) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected reconnect, got %d accepts", atomic.LoadInt32(&accepts))
		case <-time.After(5 * time.Millisecond):
		}
	}
}
