package play

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/lastlight/internal/domain"
	"github.com/ashureev/lastlight/internal/eventlog"
	"github.com/ashureev/lastlight/internal/game"
	"github.com/ashureev/lastlight/internal/session"
)

// scriptedGenerator returns a fixed output for every call.
type scriptedGenerator struct {
	output string
}

func (g scriptedGenerator) Generate(_ context.Context, _ string, _ []domain.Message, _ string) (string, error) {
	return g.output, nil
}

func newTestServer(t *testing.T, output string) (*httptest.Server, *session.Store) {
	t.Helper()

	store := session.NewStore(100, 10, eventlog.Nop{})
	engine := game.NewEngine(scriptedGenerator{output: output}, store, eventlog.Nop{}, game.Options{
		Limits:         game.Limits{PowerCap: 100, MaxDays: 5, WinHealthThreshold: 50},
		MessagesPerDay: 10,
		RetryBudget:    3,
	})
	handler := NewHandler(engine, store, "", true, 0)

	r := chi.NewRouter()
	r.Get("/ws", handler.ServeHTTP)
	r.Get("/ws/{player}", handler.ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(srv.URL, "http", "ws", 1) + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial %s failed: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, payload string) game.Frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var frame game.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Failed to decode frame %q: %v", data, err)
	}
	return frame
}

func TestHandlerStartSentinel(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, `{"message":"unused"}`)
	conn := dial(t, srv, "/ws")

	frame := exchange(t, conn, `{"message":"start"}`)
	if frame.Health != 100 || frame.Power != 10 || frame.CurrentDay != 1 {
		t.Errorf("Unexpected opening state: %+v", frame)
	}
	if frame.Status != "" {
		t.Errorf("Opening frame must not be terminal, got %q", frame.Status)
	}
	if !strings.Contains(frame.Message, "Survive") {
		t.Errorf("Expected opening narration, got %q", frame.Message)
	}
}

func TestHandlerTurnRoundTrip(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, `{"message":"the gate creaks open","health":88,"power":12}`)
	conn := dial(t, srv, "/ws")

	frame := exchange(t, conn, `{"message":"push the gate"}`)
	if frame.Message != "the gate creaks open" {
		t.Errorf("Unexpected message: %q", frame.Message)
	}
	if frame.Health != 88 || frame.Power != 12 {
		t.Errorf("Unexpected state: health=%d power=%d", frame.Health, frame.Power)
	}
	if frame.MessagesSentToday != 1 {
		t.Errorf("Expected messagesSentToday=1, got %d", frame.MessagesSentToday)
	}
}

func TestHandlerRawTextFallback(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, `{"message":"you shout into the dark"}`)
	conn := dial(t, srv, "/ws")

	// A frame that is not JSON is treated as the player's message verbatim.
	frame := exchange(t, conn, "hello out there")
	if frame.Message != "you shout into the dark" {
		t.Errorf("Unexpected message: %q", frame.Message)
	}
}

func TestHandlerPathNamedPlayer(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, `{"message":"welcome back"}`)
	conn := dial(t, srv, "/ws/hero-1")

	exchange(t, conn, `{"message":"look around"}`)
	if store.Get("hero-1") == nil {
		t.Error("Expected a session named by the path parameter")
	}
}

func TestHandlerRejectsDuplicatePlayer(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, `{"message":"ok"}`)
	first := dial(t, srv, "/ws/hero-1")
	exchange(t, first, `{"message":"hi"}`)

	// The duplicate upgrade succeeds but the server closes it immediately
	// instead of sharing the live session.
	second := dial(t, srv, "/ws/hero-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := second.Read(ctx)
	if err == nil {
		t.Fatal("Expected the duplicate connection to be closed")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Errorf("Expected policy-violation close, got %v (err %v)", status, err)
	}

	// The original session is untouched and still playable.
	if store.Len() != 1 {
		t.Errorf("Expected 1 live session, got %d", store.Len())
	}
	frame := exchange(t, first, `{"message":"still here"}`)
	if frame.MessagesSentToday != 2 {
		t.Errorf("Expected the first connection's turn count to continue, got %d", frame.MessagesSentToday)
	}
}

func TestKeepPinging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{"clean ping keeps going", ctx, nil, true},
		{"timed-out pong retries while connection is live", ctx, context.DeadlineExceeded, true},
		{"connection failure stops", ctx, errors.New("broken pipe"), false},
		{"cancelled connection stops", cancelled, context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keepPinging(tt.ctx, tt.err); got != tt.want {
				t.Errorf("keepPinging(err=%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHandlerDisconnectCleansUp(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, `{"message":"ok"}`)
	conn := dial(t, srv, "/ws")
	exchange(t, conn, `{"message":"hi"}`)

	if store.Len() != 1 {
		t.Fatalf("Expected 1 live session, got %d", store.Len())
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Session not cleaned up after disconnect, %d remain", store.Len())
}
