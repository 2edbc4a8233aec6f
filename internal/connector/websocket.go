package connector

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/observability"
)

// DecodeFunc normalizes one raw websocket message. Returning a nil envelope
// with a nil error means the message is valid but carries nothing to emit
// (heartbeats, unknown-but-harmless codes).
type DecodeFunc func(data []byte) (*domain.Envelope, error)

// WSConnector maintains one persistent websocket feed. On construction it
// attempts to connect immediately; on any transport error or close it
// reconnects per its retry policy. A Gate, when set, suppresses connection
// attempts entirely (used for leader/visibility gating on regional feeds).
type WSConnector struct {
	source  domain.SourceID
	url     string
	decode  DecodeFunc
	policy  retryPolicy
	emit    Emitter
	gate    Gate
	dialer  *websocket.Dialer
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	st      *connState
}

// NewWSConnector creates a websocket connector. gate may be nil.
func NewWSConnector(
	source domain.SourceID,
	url string,
	decode DecodeFunc,
	policy retryPolicy,
	emit Emitter,
	gate Gate,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *WSConnector {
	return &WSConnector{
		source:  source,
		url:     url,
		decode:  decode,
		policy:  policy,
		emit:    emit,
		gate:    gate,
		dialer:  websocket.DefaultDialer,
		clock:   clock,
		logger:  logger.With("source", source),
		metrics: metrics,
		st:      newConnState(clock),
	}
}

func (c *WSConnector) Source() domain.SourceID       { return c.source }
func (c *WSConnector) State() domain.ConnectionState { return c.st.get() }

// Run dials, reads, and reconnects until ctx is cancelled.
func (c *WSConnector) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if c.gate != nil && !c.gate() {
			if !sleepCtx(ctx, c.clock, gatePollInterval) {
				return
			}
			continue
		}

		c.st.connecting()
		conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := c.policy.next()
			c.st.disconnected(delay)
			c.metrics.Reconnects.WithLabelValues(string(c.source)).Inc()
			c.logger.Warn("dial failed", "error", err, "retry_in", delay)
			if !sleepCtx(ctx, c.clock, delay) {
				return
			}
			continue
		}

		c.st.connected()
		c.logger.Info("connected")
		c.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		delay := c.policy.next()
		c.st.disconnected(delay)
		c.metrics.Reconnects.WithLabelValues(string(c.source)).Inc()
		c.logger.Warn("disconnected", "retry_in", delay)
		if !sleepCtx(ctx, c.clock, delay) {
			return
		}
	}
}

// readLoop consumes messages until the connection drops, the gate closes, or
// ctx is cancelled. The watcher goroutine closes the connection to unblock
// the blocking read.
func (c *WSConnector) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if c.gate != nil && !c.gate() {
			c.logger.Info("gate closed, releasing connection")
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := c.decode(data)
		if err != nil {
			// One malformed record never takes the connection down.
			c.metrics.ProtocolErrors.WithLabelValues(string(c.source)).Inc()
			c.logger.Warn("dropping malformed message", "error", err)
			continue
		}

		// Any successfully decoded message counts as feed health and resets
		// the backoff to its floor.
		c.policy.reset()
		c.st.success()

		if env == nil {
			continue
		}
		c.metrics.EventsIngested.WithLabelValues(string(c.source), string(env.Kind)).Inc()
		c.emit(*env)
	}
}
