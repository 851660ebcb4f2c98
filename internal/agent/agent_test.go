package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okline/relay/internal/bus"
	"github.com/okline/relay/internal/retry"
	"github.com/okline/relay/internal/session"
	logpkg "github.com/okline/relay/pkg/log"
)

func testLogger() logpkg.Logger {
	return logpkg.NewLogger(
		logpkg.WithLevel(logpkg.ErrorLevel),
		logpkg.WithOutput(&logpkg.WriterOutput{W: &bytes.Buffer{}}),
	)
}

// fakeService is an in-memory stand-in for the remote agent API.
type fakeService struct {
	mu       sync.Mutex
	nextID   int
	sessions map[string]bool
	creates  int
	prompts  []string
	deletes  []string
	// failPrompts makes that many prompt calls answer 503 before recovering.
	failPrompts int
	// promptStatus, when set, makes every prompt call answer that code.
	promptStatus int
	promptCalls  int
	wantToken    string
}

func newFakeService() *fakeService {
	return &fakeService{sessions: map[string]bool{}}
}

func (s *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.creates++
		s.nextID++
		id := fmt.Sprintf("sess-%d", s.nextID)
		s.sessions[id] = true
		json.NewEncoder(w).Encode(map[string]string{"session_id": id})
	})
	mux.HandleFunc("/v1/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
		switch {
		case r.Method == http.MethodDelete:
			s.mu.Lock()
			defer s.mu.Unlock()
			s.deletes = append(s.deletes, rest)
			delete(s.sessions, rest)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && strings.HasSuffix(rest, "/prompt"):
			id := strings.TrimSuffix(rest, "/prompt")
			s.mu.Lock()
			defer s.mu.Unlock()
			s.promptCalls++
			if s.promptStatus != 0 {
				http.Error(w, "refused", s.promptStatus)
				return
			}
			if s.failPrompts > 0 {
				s.failPrompts--
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
				return
			}
			if !s.sessions[id] {
				http.Error(w, "unknown session", http.StatusNotFound)
				return
			}
			var req struct {
				Content string `json:"content"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			s.prompts = append(s.prompts, req.Content)
			json.NewEncoder(w).Encode(map[string]string{"reply": "re: " + req.Content})
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func (s *fakeService) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.wantToken == "" {
		return true
	}
	if r.Header.Get("Authorization") != "Bearer "+s.wantToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 2}
}

func openSessions(t *testing.T) *session.Store {
	t.Helper()
	st := session.NewStore(session.Options{Dir: t.TempDir()}, testLogger())
	if err := st.Load(); err != nil {
		t.Fatalf("load sessions: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestAgent(t *testing.T, svc *fakeService, sessions *session.Store) *Agent {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	a, err := New(Config{URL: srv.URL, Token: svc.wantToken, Retry: fastPolicy()}, sessions, testLogger())
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop() })
	return a
}

func chatMessage(channel, content string) bus.Message {
	return bus.Message{ID: "m1", Source: "ws", ChannelID: channel, UserID: "u1", Content: content, Timestamp: time.Now()}
}

func TestSessionCreatedOncePerChannel(t *testing.T) {
	svc := newFakeService()
	sessions := openSessions(t)
	a := newTestAgent(t, svc, sessions)
	ctx := context.Background()

	reply, err := a.Process(ctx, chatMessage("general", "hello"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != "re: hello" {
		t.Fatalf("reply: %q", reply)
	}
	if _, err := a.Process(ctx, chatMessage("general", "again")); err != nil {
		t.Fatalf("process: %v", err)
	}

	if svc.creates != 1 {
		t.Fatalf("session creates: got %d want 1", svc.creates)
	}
	if id, ok := sessions.Get("general"); !ok || id != "sess-1" {
		t.Fatalf("stored session: %q %v", id, ok)
	}
}

func TestChannelsGetSeparateSessions(t *testing.T) {
	svc := newFakeService()
	sessions := openSessions(t)
	a := newTestAgent(t, svc, sessions)
	ctx := context.Background()

	a.Process(ctx, chatMessage("alpha", "hi"))
	a.Process(ctx, chatMessage("beta", "hi"))

	if svc.creates != 2 {
		t.Fatalf("session creates: got %d want 2", svc.creates)
	}
	ida, _ := sessions.Get("alpha")
	idb, _ := sessions.Get("beta")
	if ida == idb {
		t.Fatalf("channels share a session: %q", ida)
	}
}

func TestTransientPromptFailureIsRetried(t *testing.T) {
	svc := newFakeService()
	svc.failPrompts = 2
	sessions := openSessions(t)
	a := newTestAgent(t, svc, sessions)

	reply, err := a.Process(context.Background(), chatMessage("general", "flaky"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != "re: flaky" {
		t.Fatalf("reply: %q", reply)
	}
}

func TestExhaustedPromptYieldsApology(t *testing.T) {
	svc := newFakeService()
	svc.failPrompts = 100
	sessions := openSessions(t)
	a := newTestAgent(t, svc, sessions)

	reply, err := a.Process(context.Background(), chatMessage("general", "doomed"))
	if err != nil {
		t.Fatalf("exhaustion must not surface as an error, got %v", err)
	}
	if reply != apologyReply {
		t.Fatalf("reply: %q", reply)
	}
}

func TestPermanentPromptFailureNotRetried(t *testing.T) {
	svc := newFakeService()
	svc.promptStatus = http.StatusBadRequest
	sessions := openSessions(t)
	a := newTestAgent(t, svc, sessions)

	_, err := a.Process(context.Background(), chatMessage("general", "refused"))
	if err == nil {
		t.Fatal("permanent failure should surface as an error")
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatalf("permanent failure must not be retried to exhaustion: %v", err)
	}
	if svc.promptCalls != 1 {
		t.Fatalf("prompt calls: got %d want 1", svc.promptCalls)
	}
}

func TestResetClearsLocalThenRemote(t *testing.T) {
	svc := newFakeService()
	sessions := openSessions(t)
	a := newTestAgent(t, svc, sessions)
	ctx := context.Background()

	a.Process(ctx, chatMessage("general", "hello"))
	reply, err := a.Process(ctx, chatMessage("general", "  !reset  "))
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reply != resetDoneReply {
		t.Fatalf("reply: %q", reply)
	}
	if _, ok := sessions.Get("general"); ok {
		t.Fatal("local session should be gone")
	}
	if len(svc.deletes) != 1 || svc.deletes[0] != "sess-1" {
		t.Fatalf("remote deletes: %v", svc.deletes)
	}

	// The next message starts over with a fresh remote session.
	a.Process(ctx, chatMessage("general", "fresh start"))
	if svc.creates != 2 {
		t.Fatalf("session creates after reset: got %d want 2", svc.creates)
	}
}

func TestResetWithoutSessionIsNoop(t *testing.T) {
	svc := newFakeService()
	sessions := openSessions(t)
	a := newTestAgent(t, svc, sessions)

	reply, err := a.Process(context.Background(), chatMessage("general", "!reset"))
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reply != resetNoopReply {
		t.Fatalf("reply: %q", reply)
	}
	if len(svc.deletes) != 0 {
		t.Fatalf("no remote delete expected, got %v", svc.deletes)
	}
}

func TestBearerTokenIsSent(t *testing.T) {
	svc := newFakeService()
	svc.wantToken = "secret"
	sessions := openSessions(t)
	a := newTestAgent(t, svc, sessions)

	reply, err := a.Process(context.Background(), chatMessage("general", "hello"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != "re: hello" {
		t.Fatalf("reply: %q", reply)
	}
}
