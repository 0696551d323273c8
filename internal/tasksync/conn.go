package tasksync

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/taskmirror/internal/taskmirror"
)

type ConnOptions struct {
	// URL is the push channel endpoint, e.g. ws://127.0.0.1:8420/ws.
	URL    string
	Tokens TokenSource
	Store  *taskmirror.Store
	Router *taskmirror.Router
	// OnConnect runs after every successful (re)connect, before the read
	// loop. The engine uses it to resync state missed while disconnected.
	OnConnect func(ctx context.Context)
	Logger    *zap.Logger

	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PingInterval time.Duration
}

// Conn maintains the push channel: dial, read envelopes into the router,
// reconnect with capped exponential backoff. Connection state is mirrored
// into the store so consumers can render a staleness indicator.
type Conn struct {
	url          string
	tokens       TokenSource
	store        *taskmirror.Store
	router       *taskmirror.Router
	onConnect    func(ctx context.Context)
	logger       *zap.Logger
	baseDelay    time.Duration
	maxDelay     time.Duration
	pingInterval time.Duration
}

func NewConn(opts ConnOptions) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Conn{
		url:          strings.TrimSpace(opts.URL),
		tokens:       opts.Tokens,
		store:        opts.Store,
		router:       opts.Router,
		onConnect:    opts.OnConnect,
		logger:       logger,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		pingInterval: pingInterval,
	}
}

// Run dials and reads until ctx is canceled. Every failure path marks the
// store disconnected, waits out the backoff and dials again; the attempt
// counter resets after each successful session.
func (c *Conn) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.runOnce(ctx)
		c.store.Apply(taskmirror.SourcePush, taskmirror.SetConnected{Connected: false})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Server closed the session cleanly; reconnect from scratch.
			attempt = 0
		} else {
			attempt++
			c.logger.Warn("push channel lost",
				zap.String("url", c.url),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		if waitErr := waitWithContext(ctx, retryDelay(c.baseDelay, c.maxDelay, attempt)); waitErr != nil {
			return waitErr
		}
	}
}

func (c *Conn) runOnce(ctx context.Context) error {
	header := http.Header{}
	if c.tokens != nil {
		if token := strings.TrimSpace(c.tokens.Token()); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	ws, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return err
	}
	defer ws.Close(websocket.StatusNormalClosure, "shutting down")
	ws.SetReadLimit(1 << 22)

	c.logger.Info("push channel connected", zap.String("url", c.url))
	c.store.Apply(taskmirror.SourcePush, taskmirror.SetConnected{Connected: true})
	if c.onConnect != nil {
		c.onConnect(ctx)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.keepalive(sessionCtx, ws)

	for {
		var env taskmirror.Envelope
		if err := wsjson.Read(sessionCtx, ws, &env); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		c.router.Dispatch(env)
	}
}

func (c *Conn) keepalive(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The authority matches the raw frame against the literal "ping"
			// and answers with a pong envelope.
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := ws.Write(pingCtx, websocket.MessageText, []byte("ping"))
			cancel()
			if err != nil {
				c.logger.Debug("keepalive write failed", zap.Error(err))
				return
			}
		}
	}
}

func retryDelay(baseDelay, maxDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
