package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestDialSendsAuthAndModel(t *testing.T) {
	var gotAuth, gotBeta, gotModel string
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("OpenAI-Beta")
		gotModel = r.URL.Query().Get("model")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	client, err := Dial(context.Background(), Config{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey: "sk-test",
		Model:  "gpt-4o-realtime-preview",
	}, discardLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBeta != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", gotBeta)
	}
	if gotModel != "gpt-4o-realtime-preview" {
		t.Errorf("model = %q", gotModel)
	}
}

func TestEventsStreamAndTerminalError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"type": "session.created"})
		conn.WriteJSON(map[string]any{"type": "response.created", "response_id": "resp_1"})
		conn.Close()
	}))
	defer srv.Close()

	client, err := Dial(context.Background(), Config{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, discardLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	next := func() Result {
		select {
		case res, ok := <-client.Events():
			if !ok {
				t.Fatal("event stream closed early")
			}
			return res
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
			return Result{}
		}
	}

	if res := next(); res.Err != nil || res.Event.Type != EventTypeSessionCreated {
		t.Fatalf("first result = %+v", res)
	}
	if res := next(); res.Err != nil || res.Event.ResponseID != "resp_1" {
		t.Fatalf("second result = %+v", res)
	}

	// The server hangup surfaces as one terminal error, then the channel
	// closes.
	if res := next(); res.Err == nil {
		t.Fatalf("expected terminal error, got %+v", res)
	}
	select {
	case _, ok := <-client.Events():
		if ok {
			t.Fatal("stream yielded a result after the terminal error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed after terminal error")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client, err := Dial(context.Background(), Config{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, discardLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := client.Send(CommitEvent()); err != nil {
		t.Fatalf("Send before close: %v", err)
	}

	client.Close()
	client.Close() // idempotent

	if err := client.Send(CommitEvent()); err == nil {
		t.Fatal("Send after close succeeded")
	}
}
