package zinc

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// markSeenTimeout bounds the fire-and-forget mark-as-read call.
const markSeenTimeout = 10 * time.Second

// SyncEngine maintains the per-conversation message sequences, the per-peer
// unseen counters, and the selected conversation, reconciling API fetches
// with live channel delivery.
//
// Two rules carry the whole design:
//
//  1. A sent message is appended only by its channel echo, never by
//     SendMessage itself, and insertion is idempotent by server-assigned id.
//     Both sender and receiver therefore see exactly one copy, ordered by
//     server time, even if the echo is delivered twice.
//
//  2. The delivery decision (append to the open conversation vs. bump an
//     unseen counter) reads the selection and identity at the moment the
//     event arrives, never values captured when a listener was installed.
type SyncEngine struct {
	client *Client
	log    *slog.Logger

	mu       sync.Mutex
	self     *User
	channel  *ChannelManager
	users    []User
	unseen   map[string]int
	selected string
	messages map[string][]Message
	observer func(msg Message)
}

func NewSyncEngine(client *Client) *SyncEngine {
	return &SyncEngine{
		client:   client,
		log:      client.log,
		unseen:   make(map[string]int),
		messages: make(map[string][]Message),
	}
}

// ============================================================================
// Subscription
// ============================================================================

// Rebind points the engine at the current (channel, selection, identity)
// triple. The previously installed listener is replaced before the new one
// takes effect, so one event can never reach two listeners. Call it whenever
// any element of the triple changes.
func (e *SyncEngine) Rebind(channel *ChannelManager, selected string, self *User) {
	e.mu.Lock()
	old := e.channel
	e.channel = channel
	e.selected = selected
	e.self = self
	e.mu.Unlock()

	if old != nil && old != channel {
		old.SetMessageHandler(nil)
	}
	if channel != nil {
		channel.SetMessageHandler(e.HandleDelivery)
	}
}

// SelectConversation updates the selected conversation ("" deselects) and
// rebinds the listener. It does not touch the peer's unseen counter: that
// clears only through mark-as-read on actual delivery.
func (e *SyncEngine) SelectConversation(peerID string) {
	e.mu.Lock()
	channel := e.channel
	self := e.self
	e.mu.Unlock()
	e.Rebind(channel, peerID, self)
}

// Selected returns the selected peer id, or "".
func (e *SyncEngine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// OnMessage registers an observer invoked after each channel delivery has
// been routed (one slot, nil deregisters). Unlike the channel's message
// handler, the observer is not consumed by Rebind, so callers can watch
// deliveries without competing with the engine for the handler slot.
// Duplicate echoes are not re-notified.
func (e *SyncEngine) OnMessage(fn func(msg Message)) {
	e.mu.Lock()
	e.observer = fn
	e.mu.Unlock()
}

// ============================================================================
// API-backed loads
// ============================================================================

// LoadConversationList fetches the peer list and unseen counts, replacing
// both wholesale. The server's counts are authoritative: any counts
// accumulated locally since the previous refresh are discarded. On failure
// the prior state is left untouched.
func (e *SyncEngine) LoadConversationList(ctx context.Context) error {
	result, err := e.client.ListUsers(ctx)
	if err != nil {
		return err
	}

	unseen := make(map[string]int, len(result.UnseenMessages))
	for id, n := range result.UnseenMessages {
		unseen[id] = n
	}

	e.mu.Lock()
	e.users = result.Users
	e.unseen = unseen
	e.mu.Unlock()
	return nil
}

// LoadHistory fetches the message history with a peer and replaces that
// conversation's sequence wholesale, sorted by server timestamp to heal any
// interleaving with live delivery. If the selection moved away while the
// call was in flight, the result is discarded.
func (e *SyncEngine) LoadHistory(ctx context.Context, peerID string) error {
	history, err := e.client.History(ctx, peerID)
	if err != nil {
		return err
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt < history[j].CreatedAt
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected != peerID {
		// Stale result: the user switched conversations mid-flight.
		e.log.Debug("discarding stale history", "peerId", peerID, "selected", e.selected)
		return nil
	}
	e.messages[peerID] = history
	return nil
}

// ============================================================================
// Sending
// ============================================================================

// SendMessage submits content to the selected peer. It never appends the
// message locally: the channel echo is the only append path, which is what
// keeps sender and receiver ordering identical and rules out the
// double-append duplicate. The stored message is returned for callers that
// want the server-assigned id.
func (e *SyncEngine) SendMessage(ctx context.Context, out Outgoing) (*Message, error) {
	e.mu.Lock()
	peerID := e.selected
	e.mu.Unlock()
	if peerID == "" {
		return nil, ErrNoActiveConversation
	}
	return e.client.Send(ctx, peerID, out)
}

// ============================================================================
// Channel delivery
// ============================================================================

// HandleDelivery routes one channel-delivered message. If it belongs to the
// conversation currently selected (selected peer and local identity as the
// sender/receiver pair, in either direction) it is appended — idempotently by
// id — and a best-effort mark-as-read is issued. Otherwise the sender's
// unseen counter is incremented and no sequence changes.
func (e *SyncEngine) HandleDelivery(msg Message) {
	e.mu.Lock()
	selected := e.selected
	self := e.self
	observer := e.observer

	forCurrent := selected != "" && self != nil &&
		((msg.SenderID == selected && msg.ReceiverID == self.ID) ||
			(msg.ReceiverID == selected && msg.SenderID == self.ID))

	if !forCurrent {
		// An own echo landing outside the selection (the user switched away
		// before it arrived) must not count as unseen from oneself.
		if self == nil || msg.SenderID != self.ID {
			e.unseen[msg.SenderID]++
		}
		e.mu.Unlock()
		if observer != nil {
			observer(msg)
		}
		return
	}

	if e.containsLocked(selected, msg.ID) {
		// Duplicate echo (reconnect race); already applied.
		e.mu.Unlock()
		return
	}
	msg.Seen = true
	e.messages[selected] = append(e.messages[selected], msg)
	e.mu.Unlock()

	if observer != nil {
		observer(msg)
	}
	go e.markSeen(msg.ID)
}

func (e *SyncEngine) containsLocked(peerID, messageID string) bool {
	for _, m := range e.messages[peerID] {
		if m.ID == messageID {
			return true
		}
	}
	return false
}

// markSeen is fire-and-forget: failures are swallowed, never surfaced, never
// retried.
func (e *SyncEngine) markSeen(messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), markSeenTimeout)
	defer cancel()
	if err := e.client.MarkSeen(ctx, messageID); err != nil {
		e.log.Debug("mark-seen failed", "messageId", messageID, "err", err)
	}
}

// ============================================================================
// Reads
// ============================================================================

// Users returns a copy of the last-loaded peer list.
func (e *SyncEngine) Users() []User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]User{}, e.users...)
}

// Messages returns a copy of a conversation's message sequence.
func (e *SyncEngine) Messages(peerID string) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Message{}, e.messages[peerID]...)
}

// Unseen returns the unseen count for a peer.
func (e *SyncEngine) Unseen(peerID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unseen[peerID]
}

// UnseenCounts returns a copy of the whole unseen map.
func (e *SyncEngine) UnseenCounts() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := make(map[string]int, len(e.unseen))
	for id, n := range e.unseen {
		counts[id] = n
	}
	return counts
}

// Reset drops all local state and detaches from the channel, as on logout.
func (e *SyncEngine) Reset() {
	e.mu.Lock()
	channel := e.channel
	e.channel = nil
	e.self = nil
	e.selected = ""
	e.users = nil
	e.unseen = make(map[string]int)
	e.messages = make(map[string][]Message)
	e.mu.Unlock()

	if channel != nil {
		channel.SetMessageHandler(nil)
	}
}
