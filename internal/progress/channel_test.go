package progress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"transcript-client/internal/api"
	"transcript-client/internal/domain"
)

// wsServer is a websocket endpoint whose per-connection behavior is injected.
type wsServer struct {
	srv      *httptest.Server
	mu       sync.Mutex
	connects int
	refusing bool
}

// newWSServer starts a test endpoint; handle receives the 1-based connection
// number and the accepted connection.
func newWSServer(t *testing.T, handle func(n int, conn *websocket.Conn)) *wsServer {
	t.Helper()
	ws := &wsServer{}
	upgrader := websocket.Upgrader{}

	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.mu.Lock()
		refusing := ws.refusing
		ws.mu.Unlock()
		if refusing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.connects++
		n := ws.connects
		ws.mu.Unlock()
		handle(n, conn)
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

// base returns the ws:// base URL for the test endpoint.
func (ws *wsServer) base() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

// refuse makes the endpoint reject subsequent upgrade attempts.
func (ws *wsServer) refuse() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.refusing = true
}

// connections returns how many websocket connections were accepted.
func (ws *wsServer) connections() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.connects
}

// factCollector gathers facts delivered through the callback surface.
type factCollector struct {
	mu    sync.Mutex
	facts []domain.ProgressFact
}

func (c *factCollector) add(fact domain.ProgressFact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facts = append(c.facts, fact)
}

func (c *factCollector) snapshot() []domain.ProgressFact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ProgressFact(nil), c.facts...)
}

// sendFact writes one progress message to the client.
func sendFact(t *testing.T, conn *websocket.Conn, fact domain.ProgressFact) {
	t.Helper()
	if err := conn.WriteJSON(fact); err != nil {
		t.Errorf("write fact: %v", err)
	}
}

// waitClosed fails the test if the channel does not stop in time.
func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not stop in time")
	}
}

// TestChannelDeliversFactsAndSelfCloses checks the progression 10, 55, 100
// with a terminal fact closing the channel without any reconnect.
func TestChannelDeliversFactsAndSelfCloses(t *testing.T) {
	ws := newWSServer(t, func(n int, conn *websocket.Conn) {
		defer conn.Close()
		sendFact(t, conn, domain.ProgressFact{JobID: "job-1", Status: domain.JobStatusProcessing, Progress: 10})
		sendFact(t, conn, domain.ProgressFact{JobID: "job-1", Status: domain.JobStatusProcessing, Progress: 55})
		sendFact(t, conn, domain.ProgressFact{JobID: "job-1", Status: domain.JobStatusCompleted, Progress: 100})
		// Hold the connection; the client side disconnects on its own.
		_, _, _ = conn.ReadMessage()
	})

	var facts factCollector
	ch, err := OpenChannel(context.Background(), ChannelConfig{
		RealtimeBase: ws.base(),
		JobID:        "job-1",
		Credentials:  api.StaticCredential("secret"),
		OnFact:       facts.add,
		OnError:      func(err error) { t.Errorf("unexpected channel error: %v", err) },
		BaseDelay:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("OpenChannel() error = %v", err)
	}
	waitClosed(t, ch.Done())

	got := facts.snapshot()
	if len(got) != 3 {
		t.Fatalf("facts = %d, want 3", len(got))
	}
	if got[2].Status != domain.JobStatusCompleted || got[2].Progress != 100 {
		t.Fatalf("last fact = %+v", got[2])
	}
	if ws.connections() != 1 {
		t.Fatalf("connections = %d, want 1 (no reconnect after terminal)", ws.connections())
	}

	ch.Close() // safe after self-termination
}

// TestChannelReconnectsAfterAbnormalClosure checks a dropped connection is
// re-established and facts keep flowing on the new one.
func TestChannelReconnectsAfterAbnormalClosure(t *testing.T) {
	ws := newWSServer(t, func(n int, conn *websocket.Conn) {
		defer conn.Close()
		switch n {
		case 1:
			sendFact(t, conn, domain.ProgressFact{JobID: "job-1", Status: domain.JobStatusProcessing, Progress: 20})
			// Abnormal closure: drop without a close frame.
		default:
			sendFact(t, conn, domain.ProgressFact{JobID: "job-1", Status: domain.JobStatusCompleted, Progress: 100})
			_, _, _ = conn.ReadMessage()
		}
	})

	var facts factCollector
	ch, err := OpenChannel(context.Background(), ChannelConfig{
		RealtimeBase: ws.base(),
		JobID:        "job-1",
		Credentials:  api.StaticCredential("secret"),
		OnFact:       facts.add,
		OnError:      func(err error) { t.Errorf("unexpected channel error: %v", err) },
		BaseDelay:    time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("OpenChannel() error = %v", err)
	}
	waitClosed(t, ch.Done())

	got := facts.snapshot()
	if len(got) != 2 {
		t.Fatalf("facts = %d, want 2", len(got))
	}
	if got[1].Status != domain.JobStatusCompleted {
		t.Fatalf("last fact = %+v", got[1])
	}
	if ws.connections() != 2 {
		t.Fatalf("connections = %d, want 2", ws.connections())
	}
}

// TestChannelReconnectExhausted checks the attempt budget is respected and
// exhaustion is reported through the error callback.
func TestChannelReconnectExhausted(t *testing.T) {
	var ws *wsServer
	ws = newWSServer(t, func(n int, conn *websocket.Conn) {
		ws.refuse()
		conn.Close()
	})

	errCh := make(chan error, 1)
	ch, err := OpenChannel(context.Background(), ChannelConfig{
		RealtimeBase: ws.base(),
		JobID:        "job-1",
		Credentials:  api.StaticCredential("secret"),
		OnFact:       func(domain.ProgressFact) {},
		OnError:      func(err error) { errCh <- err },
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		MaxAttempts:  3,
	})
	if err != nil {
		t.Fatalf("OpenChannel() error = %v", err)
	}
	waitClosed(t, ch.Done())

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Fatalf("error = %v, want ErrReconnectExhausted", err)
		}
		var connErr *ConnectionError
		if !errors.As(err, &connErr) || connErr.JobID != "job-1" {
			t.Fatalf("error = %v, want *ConnectionError for job-1", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exhaustion was never reported")
	}

	if got := ws.connections(); got != 1 {
		t.Fatalf("connections = %d, want 1 (reconnect dials were refused)", got)
	}
}

// TestOpenChannelNoCredential checks open fails without dialing.
func TestOpenChannelNoCredential(t *testing.T) {
	_, err := OpenChannel(context.Background(), ChannelConfig{
		RealtimeBase: "ws://127.0.0.1:1",
		JobID:        "job-1",
		Credentials:  api.StaticCredential(""),
		OnFact:       func(domain.ProgressFact) {},
	})
	if !errors.Is(err, api.ErrNoCredential) {
		t.Fatalf("error = %v, want ErrNoCredential", err)
	}
}

// TestOpenChannelRejectsBadScheme checks realtime base validation.
func TestOpenChannelRejectsBadScheme(t *testing.T) {
	_, err := OpenChannel(context.Background(), ChannelConfig{
		RealtimeBase: "http://example.com",
		JobID:        "job-1",
		Credentials:  api.StaticCredential("secret"),
		OnFact:       func(domain.ProgressFact) {},
	})
	if err == nil {
		t.Fatal("expected scheme validation error")
	}
}

// TestChannelCloseIdempotent checks repeated Close calls are safe and stop
// any reconnect cycle.
func TestChannelCloseIdempotent(t *testing.T) {
	ws := newWSServer(t, func(n int, conn *websocket.Conn) {
		conn.Close()
	})

	ch, err := OpenChannel(context.Background(), ChannelConfig{
		RealtimeBase: ws.base(),
		JobID:        "job-1",
		Credentials:  api.StaticCredential("secret"),
		OnFact:       func(domain.ProgressFact) {},
		BaseDelay:    time.Hour, // a pending backoff wait Close must cancel
	})
	if err != nil {
		t.Fatalf("OpenChannel() error = %v", err)
	}

	ch.Close()
	ch.Close()
	waitClosed(t, ch.Done())
}

// TestBackoffDelay checks the exponential schedule and its cap.
func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 5, want: 16 * time.Second},
		{attempt: 6, want: 30 * time.Second},
		{attempt: 10, want: 30 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(time.Second, 30*time.Second, tt.attempt); got != tt.want {
			t.Fatalf("backoffDelay(attempt=%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
