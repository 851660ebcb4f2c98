package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okline/relay/internal/bus"
	"github.com/okline/relay/internal/ratelimit"
	"github.com/okline/relay/pkg/id"
	logpkg "github.com/okline/relay/pkg/log"
)

// SourceName tags every message admitted through this gateway and selects
// it as the output for matching responses.
const SourceName = "ws"

const messageBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway fronts trusted chat clients, not browsers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config carries the gateway's settings.
type Config struct {
	// Addr is the listen address, e.g. ":8091".
	Addr string
	// RateLimitMax is the per-channel admission budget per window. <=0
	// disables limiting.
	RateLimitMax int
	// RateLimitWindow defaults to the limiter's window when zero.
	RateLimitWindow time.Duration
}

// Gateway is both the Input and the "ws" Output. The kernel may Start and
// Stop it once per role; both are idempotent.
type Gateway struct {
	cfg     Config
	logger  logpkg.Logger
	limiter *ratelimit.Limiter
	gen     *id.Generator

	messages chan bus.Message
	stop     chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	server   *http.Server
	listener net.Listener
	clients  map[*client]struct{}
	channels map[string]map[*client]struct{}

	pumps sync.WaitGroup
}

// New creates a gateway. Call Start to begin listening.
func New(cfg Config, logger logpkg.Logger) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		logger:   logger.WithComponent("gateway.ws"),
		gen:      id.NewGenerator(),
		messages: make(chan bus.Message, messageBuffer),
		stop:     make(chan struct{}),
		clients:  make(map[*client]struct{}),
		channels: make(map[string]map[*client]struct{}),
	}
	if cfg.RateLimitMax > 0 {
		g.limiter = ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow)
	}
	return g
}

// Start binds the listener and begins accepting connections.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleUpgrade)
	g.listener = ln
	g.server = &http.Server{Handler: mux}
	g.started = true

	if g.limiter != nil {
		g.limiter.StartSweeper(0)
	}
	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve failed", logpkg.Err(err))
		}
	}()
	g.logger.Info("gateway listening", logpkg.Str("addr", ln.Addr().String()))
	return nil
}

// Addr reports the bound listen address, useful when Addr was ":0".
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Messages is the Input hand-off channel. It closes after Stop, once every
// connection pump has wound down.
func (g *Gateway) Messages() <-chan bus.Message { return g.messages }

// Stop closes the listener and every connection, then closes the message
// channel. Safe to call more than once.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if !g.started || g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	close(g.stop)
	server := g.server
	clients := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	if g.limiter != nil {
		g.limiter.StopSweeper()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Close()
	}
	for _, c := range clients {
		c.conn.Close()
	}
	g.pumps.Wait()
	close(g.messages)
	g.logger.Info("gateway stopped")
	return nil
}

// Send routes a response to every connection subscribed to its channel.
// A channel with no subscribers is not an error; the user has simply gone.
func (g *Gateway) Send(_ context.Context, resp bus.Response) error {
	g.mu.Lock()
	subs := make([]*client, 0, len(g.channels[resp.ChannelID]))
	for c := range g.channels[resp.ChannelID] {
		subs = append(subs, c)
	}
	g.mu.Unlock()

	if len(subs) == 0 {
		g.logger.Debug("response for channel with no subscribers",
			logpkg.Str("channel", resp.ChannelID))
		return nil
	}
	f := responseFrame(resp)
	for _, c := range subs {
		c.sendJSON(f)
	}
	return nil
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", logpkg.Err(err))
		return
	}
	c := newClient(g, conn)

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		conn.Close()
		return
	}
	g.clients[c] = struct{}{}
	// Add under the same lock that Stop takes before waiting, so the wait
	// can never race a positive Add for a just-registered connection.
	g.pumps.Add(2)
	g.mu.Unlock()

	go func() { defer g.pumps.Done(); c.writePump() }()
	go func() { defer g.pumps.Done(); c.readPump() }()
}

// handleFrame dispatches one inbound frame from a connection.
func (g *Gateway) handleFrame(c *client, f frame) {
	switch f.Type {
	case frameSubscribe:
		if f.ChannelID != "" {
			g.subscribe(c, f.ChannelID)
		}
	case frameMessage:
		g.admitMessage(c, f)
	default:
		g.logger.Warn("unknown frame type", logpkg.Str("type", f.Type))
	}
}

// admitMessage applies the per-channel rate limit and hands the frame to the
// kernel as a bus message. Sending on a channel implies subscribing to it.
func (g *Gateway) admitMessage(c *client, f frame) {
	if f.ChannelID == "" || f.Content == "" {
		return
	}
	g.subscribe(c, f.ChannelID)

	if g.limiter != nil {
		if d := g.limiter.Check(f.ChannelID); !d.Allowed {
			c.sendJSON(rateLimitedFrame(f.ChannelID, d.RetryAfterSeconds))
			return
		}
	}
	msg := bus.Message{
		ID:        g.gen.Next().String(),
		Source:    SourceName,
		ChannelID: f.ChannelID,
		UserID:    f.UserID,
		Content:   f.Content,
		Timestamp: time.Now(),
		Metadata:  f.Metadata,
	}
	select {
	case g.messages <- msg:
	case <-g.stop:
	}
}

func (g *Gateway) subscribe(c *client, channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	set, ok := g.channels[channelID]
	if !ok {
		set = make(map[*client]struct{})
		g.channels[channelID] = set
	}
	set[c] = struct{}{}
}

// unregister removes a departed connection from the hub.
func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[c]; !ok {
		return
	}
	delete(g.clients, c)
	for channelID, set := range g.channels {
		delete(set, c)
		if len(set) == 0 {
			delete(g.channels, channelID)
		}
	}
	close(c.done)
}
