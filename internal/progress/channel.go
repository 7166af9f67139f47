// Package progress observes one transcription job to completion: a realtime
// websocket channel with reconnect backoff, a polling fallback with the same
// callback surface, and an observer that keeps exactly one of the two alive
// per job.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"transcript-client/internal/api"
	"transcript-client/internal/domain"
)

const (
	channelOpenTimeout   = 10 * time.Second
	reconnectBaseDelay   = time.Second
	reconnectMaxDelay    = 30 * time.Second
	maxReconnectAttempts = 5
)

// ErrReconnectExhausted is reported through the error callback once the
// reconnect budget for a channel is spent.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ConnectionError wraps a failure to open or keep the realtime channel.
type ConnectionError struct {
	JobID string
	Err   error
}

// Error formats the failure with job context.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("realtime channel for job %s: %v", e.JobID, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FactFunc receives one progress fact from whichever mechanism is active.
type FactFunc func(domain.ProgressFact)

// ErrorFunc receives mechanism-level failures.
type ErrorFunc func(error)

// ChannelConfig carries the dependencies for one realtime subscription.
type ChannelConfig struct {
	// RealtimeBase is the websocket base URL, for example "wss://host/api/v1".
	RealtimeBase string
	JobID        string
	Credentials  api.CredentialSource
	OnFact       FactFunc
	OnError      ErrorFunc
	Logger       *slog.Logger

	// Overridable in tests; zero values use the production constants.
	OpenTimeout time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Channel is a live websocket subscription to one job's progress facts. On
// abnormal closure it reconnects with capped exponential backoff; a terminal
// fact or Close stops it for good.
type Channel struct {
	cfg    ChannelConfig
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// OpenChannel establishes the subscription or fails within the open timeout.
// It fails immediately when no credential is available.
func OpenChannel(ctx context.Context, cfg ChannelConfig) (*Channel, error) {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = channelOpenTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = reconnectBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = reconnectMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = maxReconnectAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	endpoint, err := channelURL(cfg.RealtimeBase, cfg.JobID)
	if err != nil {
		return nil, &ConnectionError{JobID: cfg.JobID, Err: err}
	}

	token, err := cfg.Credentials.Credential(ctx)
	if err != nil {
		return nil, &ConnectionError{JobID: cfg.JobID, Err: err}
	}

	c := &Channel{
		cfg:    cfg,
		url:    endpoint + "?token=" + url.QueryEscape(token),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.OpenTimeout},
		logger: logger.With("job_id", cfg.JobID),
		done:   make(chan struct{}),
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.OpenTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return nil, &ConnectionError{JobID: cfg.JobID, Err: err}
	}
	c.conn = conn

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.cancel = loopCancel
	go c.run(loopCtx, conn)

	return c, nil
}

// Close tears down the subscription and cancels any pending reconnect wait.
// It is idempotent and safe after the channel already self-terminated.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}

// Done is closed once the channel has stopped delivering facts for good.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// run reads facts until terminal status, intentional close, or reconnect
// exhaustion. Each successful reconnect starts a fresh attempt budget.
func (c *Channel) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)

	for {
		err := c.readLoop(conn)
		if err == nil {
			// Terminal fact observed; disconnect on purpose.
			c.shutdown()
			return
		}
		if c.isClosed() {
			return
		}

		c.logger.Debug("realtime channel lost", "error", err)

		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

// readLoop decodes inbound facts until the connection drops. A nil return
// means a terminal fact arrived and no further facts are possible.
func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var fact domain.ProgressFact
		if err := json.Unmarshal(data, &fact); err != nil {
			c.logger.Debug("discarding malformed progress message", "error", err)
			continue
		}

		if c.isClosed() {
			return nil
		}
		c.cfg.OnFact(fact)

		if fact.Status.Terminal() {
			return nil
		}
	}
}

// reconnect dials again with capped exponential backoff. It returns the new
// connection, or nil once the budget is exhausted or the channel closed; on
// exhaustion the error callback is invoked with ErrReconnectExhausted.
func (c *Channel) reconnect(ctx context.Context) *websocket.Conn {
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		delay := backoffDelay(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		if c.isClosed() {
			return nil
		}

		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.OpenTimeout)
		conn, _, err := c.dialer.DialContext(dialCtx, c.url, nil)
		cancel()
		if err != nil {
			c.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Debug("realtime channel reconnected", "attempt", attempt)
		return conn
	}

	if !c.isClosed() && c.cfg.OnError != nil {
		c.cfg.OnError(&ConnectionError{JobID: c.cfg.JobID, Err: ErrReconnectExhausted})
	}
	c.shutdown()
	return nil
}

// shutdown releases the connection after a terminal fact or exhaustion.
func (c *Channel) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}

// isClosed reports whether Close or a terminal disconnect happened.
func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// backoffDelay computes min(base * 2^(attempt-1), max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// channelURL joins the realtime base with the per-job subscription path.
func channelURL(base, jobID string) (string, error) {
	trimmed := strings.TrimRight(base, "/")
	if trimmed == "" {
		return "", errors.New("realtime base URL is empty")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse realtime base: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("realtime base must use ws or wss scheme, got %q", u.Scheme)
	}

	return trimmed + "/transcription/" + jobID, nil
}
