package zinc

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Channel Configuration
// ============================================================================

// ChannelConfig configures the event channel.
type ChannelConfig struct {
	// MaxReconnectAttempts bounds automatic reconnection after a transient
	// drop. The ceiling is fixed; the channel never retries forever.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	DialTimeout          time.Duration
}

func (c *ChannelConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// ChannelState represents the channel connection state.
type ChannelState string

const (
	ChannelClosed       ChannelState = "closed"
	ChannelConnecting   ChannelState = "connecting"
	ChannelOpen         ChannelState = "open"
	ChannelReconnecting ChannelState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *ChannelConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// ChannelManager
// ============================================================================

// ChannelManager owns the single server-pushed event channel. At most one
// channel is open per manager at any time: Connect tears down the previous
// channel before dialing, and Disconnect invalidates it so a stale connection
// can never deliver events after logout.
//
// Each event kind has exactly one handler slot; installing a handler replaces
// the previous one, so an event is never delivered twice to two listeners.
type ChannelManager struct {
	client *Client
	config *ChannelConfig
	log    *slog.Logger

	mu       sync.Mutex
	state    ChannelState
	conn     *websocket.Conn
	identity string
	gen      int
	cancelFn context.CancelFunc
	recon    *reconnector

	handlerMu  sync.Mutex
	onPresence func(ids []string)
	onMessage  func(msg Message)
	onState    func(state ChannelState)
}

// NewChannelManager creates a manager in the Closed state. config may be nil
// for defaults.
func NewChannelManager(client *Client, config *ChannelConfig) *ChannelManager {
	cfg := ChannelConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &ChannelManager{
		client: client,
		config: &cfg,
		log:    client.log,
		state:  ChannelClosed,
		recon:  newReconnector(&cfg),
	}
}

// SetPresenceHandler installs the presence-snapshot listener, replacing any
// previous one.
func (cm *ChannelManager) SetPresenceHandler(h func(ids []string)) {
	cm.handlerMu.Lock()
	cm.onPresence = h
	cm.handlerMu.Unlock()
}

// SetMessageHandler installs the message-delivery listener, replacing any
// previous one. Pass nil to deregister.
func (cm *ChannelManager) SetMessageHandler(h func(msg Message)) {
	cm.handlerMu.Lock()
	cm.onMessage = h
	cm.handlerMu.Unlock()
}

// SetStateHandler installs a listener for state transitions, replacing any
// previous one.
func (cm *ChannelManager) SetStateHandler(h func(state ChannelState)) {
	cm.handlerMu.Lock()
	cm.onState = h
	cm.handlerMu.Unlock()
}

// State returns the current channel state.
func (cm *ChannelManager) State() ChannelState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// Identity returns the user id the channel is bound to, or "".
func (cm *ChannelManager) Identity() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.identity
}

// Connect opens the channel bound to the given identity. A nil identity is a
// silent no-op. An already-open channel is closed first, so two channels are
// never open at once.
func (cm *ChannelManager) Connect(ctx context.Context, identity *User) error {
	if identity == nil {
		return nil
	}

	cm.Disconnect()

	cm.mu.Lock()
	cm.identity = identity.ID
	cm.gen++
	gen := cm.gen
	cm.recon.reset()
	cm.state = ChannelConnecting
	cm.mu.Unlock()
	cm.notifyState(ChannelConnecting)

	return cm.dial(ctx, gen, false)
}

// Disconnect closes the channel and releases it. Valid from every state and
// always terminates in Closed; events from the old connection are no longer
// deliverable once it returns.
func (cm *ChannelManager) Disconnect() {
	cm.mu.Lock()
	cm.gen++
	if cm.cancelFn != nil {
		cm.cancelFn()
		cm.cancelFn = nil
	}
	conn := cm.conn
	cm.conn = nil
	cm.identity = ""
	changed := cm.state != ChannelClosed
	cm.state = ChannelClosed
	cm.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if changed {
		cm.notifyState(ChannelClosed)
	}
}

// dial performs one connection attempt for the given generation. transient
// suppresses the Closed transition on failure so the reconnect loop can keep
// the Reconnecting state between attempts.
func (cm *ChannelManager) dial(ctx context.Context, gen int, transient bool) error {
	cm.mu.Lock()
	if cm.gen != gen {
		cm.mu.Unlock()
		return nil
	}
	url := cm.client.WSURL(cm.identity)
	cm.mu.Unlock()

	dialCtx, cancelDial := context.WithTimeout(ctx, cm.config.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	cancelDial()
	if err != nil {
		cm.mu.Lock()
		failed := cm.gen == gen
		if failed && !transient {
			cm.state = ChannelClosed
		}
		cm.mu.Unlock()
		if failed && !transient {
			cm.notifyState(ChannelClosed)
		}
		return &NetworkError{Op: "channel dial", Err: err}
	}

	connCtx, cancel := context.WithCancel(context.Background())
	cm.mu.Lock()
	if cm.gen != gen {
		cm.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	cm.conn = conn
	cm.cancelFn = cancel
	cm.recon.markConnected()
	cm.state = ChannelOpen
	identity := cm.identity
	cm.mu.Unlock()

	cm.log.Debug("channel open", "userId", identity)
	cm.notifyState(ChannelOpen)

	go cm.readLoop(connCtx, conn, gen)
	return nil
}

func (cm *ChannelManager) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			cm.mu.Lock()
			if cm.gen != gen {
				// Deliberate close or a newer channel took over.
				cm.mu.Unlock()
				return
			}
			cm.conn = nil
			cm.mu.Unlock()

			cm.log.Debug("channel dropped", "err", err)
			go cm.reconnectLoop(gen)
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		cm.dispatch(env, gen)
	}
}

func (cm *ChannelManager) reconnectLoop(gen int) {
	for {
		cm.mu.Lock()
		if cm.gen != gen {
			cm.mu.Unlock()
			return
		}
		if !cm.recon.shouldReconnect() {
			cm.state = ChannelClosed
			cm.mu.Unlock()
			cm.log.Debug("channel reconnect ceiling reached")
			cm.notifyState(ChannelClosed)
			return
		}
		delay := cm.recon.nextDelay()
		changed := cm.state != ChannelReconnecting
		cm.state = ChannelReconnecting
		cm.mu.Unlock()
		if changed {
			cm.notifyState(ChannelReconnecting)
		}

		time.Sleep(delay)

		if err := cm.dial(context.Background(), gen, true); err == nil {
			return
		}
	}
}

// dispatch decodes one envelope and runs the matching handler to completion.
// Events are delivered synchronously in arrival order; the gen check drops
// anything read from a connection that has since been superseded.
func (cm *ChannelManager) dispatch(env Envelope, gen int) {
	cm.mu.Lock()
	current := cm.gen == gen
	cm.mu.Unlock()
	if !current {
		return
	}

	switch env.Type {
	case EventOnlineUsers:
		var ids []string
		if json.Unmarshal(env.Payload, &ids) != nil {
			return
		}
		cm.handlerMu.Lock()
		h := cm.onPresence
		cm.handlerMu.Unlock()
		if h != nil {
			h(ids)
		}
	case EventNewMessage:
		var msg Message
		if json.Unmarshal(env.Payload, &msg) != nil {
			return
		}
		cm.handlerMu.Lock()
		h := cm.onMessage
		cm.handlerMu.Unlock()
		if h != nil {
			h(msg)
		}
	}
}

func (cm *ChannelManager) notifyState(state ChannelState) {
	cm.handlerMu.Lock()
	h := cm.onState
	cm.handlerMu.Unlock()
	if h != nil {
		h(state)
	}
}
