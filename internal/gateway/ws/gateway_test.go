package ws

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okline/relay/internal/bus"
	logpkg "github.com/okline/relay/pkg/log"
)

func testLogger() logpkg.Logger {
	return logpkg.NewLogger(
		logpkg.WithLevel(logpkg.ErrorLevel),
		logpkg.WithOutput(&logpkg.WriterOutput{W: &bytes.Buffer{}}),
	)
}

func startGateway(t *testing.T, cfg Config) *Gateway {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	g := New(cfg, testLogger())
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	t.Cleanup(func() { _ = g.Stop() })
	return g
}

func dial(t *testing.T, g *Gateway) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+g.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func recvMessage(t *testing.T, g *Gateway) bus.Message {
	t.Helper()
	select {
	case msg, ok := <-g.Messages():
		if !ok {
			t.Fatal("messages channel closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message admitted in time")
	}
	return bus.Message{}
}

func TestFrameBecomesMessage(t *testing.T) {
	g := startGateway(t, Config{})
	conn := dial(t, g)

	err := conn.WriteJSON(frame{
		Type:      frameMessage,
		ChannelID: "general",
		UserID:    "u1",
		Content:   "hello",
		Metadata:  map[string]string{"team": "infra"},
	})
	if err != nil {
		t.Fatalf("write frame: %v", err)
	}

	msg := recvMessage(t, g)
	if msg.Source != SourceName {
		t.Fatalf("source: %q", msg.Source)
	}
	if msg.ChannelID != "general" || msg.UserID != "u1" || msg.Content != "hello" {
		t.Fatalf("message fields: %+v", msg)
	}
	if msg.ID == "" {
		t.Fatal("message should get a generated id")
	}
	if msg.Metadata["team"] != "infra" {
		t.Fatalf("metadata: %v", msg.Metadata)
	}
}

func TestResponseReachesSubscribedConnection(t *testing.T) {
	g := startGateway(t, Config{})
	conn := dial(t, g)

	// Sending on a channel subscribes the connection to it.
	conn.WriteJSON(frame{Type: frameMessage, ChannelID: "general", UserID: "u1", Content: "hi"})
	recvMessage(t, g)

	resp := bus.Response{
		ID:                "r1",
		Source:            SourceName,
		ChannelID:         "general",
		UserID:            "u1",
		Content:           "hello back",
		Timestamp:         time.Now(),
		OriginalMessageID: "m1",
	}
	if err := g.Send(context.Background(), resp); err != nil {
		t.Fatalf("send: %v", err)
	}

	f := readFrame(t, conn)
	if f.Type != frameResponse || f.Content != "hello back" || f.OriginalMessageID != "m1" {
		t.Fatalf("response frame: %+v", f)
	}
}

func TestExplicitSubscribe(t *testing.T) {
	g := startGateway(t, Config{})
	speaker := dial(t, g)
	watcher := dial(t, g)

	watcher.WriteJSON(frame{Type: frameSubscribe, ChannelID: "general"})
	speaker.WriteJSON(frame{Type: frameMessage, ChannelID: "general", UserID: "u1", Content: "hi"})
	recvMessage(t, g)

	// Subscribe is processed on the watcher's read pump; give it a beat.
	waitForSubscribers(t, g, "general", 2)

	g.Send(context.Background(), bus.Response{ID: "r1", Source: SourceName, ChannelID: "general", Content: "fanout"})
	if f := readFrame(t, watcher); f.Content != "fanout" {
		t.Fatalf("watcher frame: %+v", f)
	}
	if f := readFrame(t, speaker); f.Content != "fanout" {
		t.Fatalf("speaker frame: %+v", f)
	}
}

func waitForSubscribers(t *testing.T, g *Gateway, channelID string, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		g.mu.Lock()
		got := len(g.channels[channelID])
		g.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("subscribers on %s: got %d want %d", channelID, got, n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRateLimitedFrameGetsNotice(t *testing.T) {
	g := startGateway(t, Config{RateLimitMax: 1})
	conn := dial(t, g)

	conn.WriteJSON(frame{Type: frameMessage, ChannelID: "general", UserID: "u1", Content: "one"})
	recvMessage(t, g)

	conn.WriteJSON(frame{Type: frameMessage, ChannelID: "general", UserID: "u1", Content: "two"})
	f := readFrame(t, conn)
	if f.Type != frameNotice || f.Notice != noticeRateLimited {
		t.Fatalf("expected rate_limited notice, got %+v", f)
	}
	if f.RetryAfterSeconds <= 0 {
		t.Fatalf("retry after: %d", f.RetryAfterSeconds)
	}

	select {
	case msg := <-g.Messages():
		t.Fatalf("limited frame reached the bus: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMalformedAndUnknownFramesIgnored(t *testing.T) {
	g := startGateway(t, Config{})
	conn := dial(t, g)

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	conn.WriteJSON(frame{Type: "presence", ChannelID: "general"})
	conn.WriteJSON(frame{Type: frameMessage, ChannelID: "general", Content: ""})
	conn.WriteJSON(frame{Type: frameMessage, ChannelID: "general", UserID: "u1", Content: "real"})

	msg := recvMessage(t, g)
	if msg.Content != "real" {
		t.Fatalf("admitted: %+v", msg)
	}
}

func TestStopDuringConnectionChurn(t *testing.T) {
	g := startGateway(t, Config{})
	addr := g.Addr()

	stop := make(chan struct{})
	var churn sync.WaitGroup
	for i := 0; i < 4; i++ {
		churn.Add(1)
		go func() {
			defer churn.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
				if err != nil {
					return
				}
				conn.Close()
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		_ = g.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not finish while connections churned")
	}
	close(stop)
	churn.Wait()
}

func TestStopClosesMessagesChannel(t *testing.T) {
	g := startGateway(t, Config{})
	dial(t, g)

	if err := g.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := g.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	select {
	case _, ok := <-g.Messages():
		if ok {
			t.Fatal("unexpected message after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("messages channel did not close")
	}
}
