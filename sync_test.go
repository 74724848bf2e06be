package zinc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake messaging API
// ============================================================================

// fakeAPI serves the messaging endpoints the sync engine talks to. Send
// assigns server ids; mark-as-read calls are recorded on a channel so tests
// can wait for the fire-and-forget goroutine.
type fakeAPI struct {
	srv *httptest.Server

	mu      sync.Mutex
	users   []User
	unseen  map[string]int
	history map[string][]Message

	marked chan string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	a := &fakeAPI{
		unseen:  make(map[string]int),
		history: make(map[string][]Message),
		marked:  make(chan string, 8),
	}
	a.srv = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/messages/users":
		a.mu.Lock()
		resp := UsersResult{Success: true, Users: a.users, UnseenMessages: a.unseen}
		a.mu.Unlock()
		json.NewEncoder(w).Encode(resp)

	case strings.HasPrefix(path, "/api/messages/send/"):
		var out Outgoing
		json.NewDecoder(r.Body).Decode(&out)
		msg := Message{
			ID:         uuid.NewString(),
			SenderID:   "u-self",
			ReceiverID: strings.TrimPrefix(path, "/api/messages/send/"),
			Text:       out.Text,
			Image:      out.Image,
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		}
		raw, _ := json.Marshal(msg)
		json.NewEncoder(w).Encode(SendResult{Success: true, Raw: raw})

	case strings.HasPrefix(path, "/api/messages/mark/"):
		a.marked <- strings.TrimPrefix(path, "/api/messages/mark/")
		w.Write([]byte(`{"success":true}`))

	case strings.HasPrefix(path, "/api/messages/"):
		peer := strings.TrimPrefix(path, "/api/messages/")
		a.mu.Lock()
		resp := HistoryResult{Success: true, Messages: a.history[peer]}
		a.mu.Unlock()
		json.NewEncoder(w).Encode(resp)

	default:
		http.NotFound(w, r)
	}
}

func (a *fakeAPI) setUsers(users []User, unseen map[string]int) {
	a.mu.Lock()
	a.users = users
	a.unseen = unseen
	a.mu.Unlock()
}

func (a *fakeAPI) setHistory(peer string, msgs []Message) {
	a.mu.Lock()
	a.history[peer] = msgs
	a.mu.Unlock()
}

func (a *fakeAPI) waitMarked(t *testing.T) string {
	t.Helper()
	select {
	case id := <-a.marked:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for mark-as-read")
		return ""
	}
}

func newTestEngine(t *testing.T, a *fakeAPI) *SyncEngine {
	t.Helper()
	return NewSyncEngine(NewClient(WithBaseURL(a.srv.URL)))
}

var self = &User{ID: "u-self", FullName: "Self"}

// ============================================================================
// Conversation list
// ============================================================================

func TestLoadConversationList(t *testing.T) {
	t.Run("replaces peers and counts wholesale", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)

		api.setUsers([]User{{ID: "u-b"}, {ID: "u-c"}}, map[string]int{"u-b": 2})
		require.NoError(t, e.LoadConversationList(context.Background()))
		assert.Len(t, e.Users(), 2)
		assert.Equal(t, 2, e.Unseen("u-b"))

		// Local counter accumulated between refreshes.
		e.Rebind(nil, "", self)
		e.HandleDelivery(Message{ID: "m1", SenderID: "u-c", ReceiverID: "u-self"})
		assert.Equal(t, 1, e.Unseen("u-c"))

		// The next server refresh is authoritative and discards it.
		api.setUsers([]User{{ID: "u-b"}}, map[string]int{"u-b": 5})
		require.NoError(t, e.LoadConversationList(context.Background()))
		assert.Equal(t, 5, e.Unseen("u-b"))
		assert.Zero(t, e.Unseen("u-c"))
		assert.Len(t, e.Users(), 1)
	})

	t.Run("failure leaves prior state untouched", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)

		api.setUsers([]User{{ID: "u-b"}}, map[string]int{"u-b": 1})
		require.NoError(t, e.LoadConversationList(context.Background()))

		api.srv.Close()
		assert.Error(t, e.LoadConversationList(context.Background()))
		assert.Len(t, e.Users(), 1)
		assert.Equal(t, 1, e.Unseen("u-b"))
	})
}

// ============================================================================
// History
// ============================================================================

func TestLoadHistory(t *testing.T) {
	t.Run("sorts by server timestamp", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		api.setHistory("u-b", []Message{
			{ID: "m2", CreatedAt: "2026-09-01T10:01:00Z"},
			{ID: "m1", CreatedAt: "2026-09-01T10:00:00Z"},
			{ID: "m3", CreatedAt: "2026-09-01T10:02:00Z"},
		})

		e.Rebind(nil, "u-b", self)
		require.NoError(t, e.LoadHistory(context.Background(), "u-b"))

		msgs := e.Messages("u-b")
		require.Len(t, msgs, 3)
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, "m2", msgs[1].ID)
		assert.Equal(t, "m3", msgs[2].ID)
	})

	t.Run("stale result is discarded after switching away", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		api.setHistory("u-b", []Message{{ID: "m1", CreatedAt: "2026-09-01T10:00:00Z"}})

		// Selection moved to u-c before the u-b fetch lands.
		e.Rebind(nil, "u-c", self)
		require.NoError(t, e.LoadHistory(context.Background(), "u-b"))
		assert.Empty(t, e.Messages("u-b"))
	})
}

// ============================================================================
// Sending
// ============================================================================

func TestSendMessage(t *testing.T) {
	t.Run("requires a selected conversation", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)

		_, err := e.SendMessage(context.Background(), Outgoing{Text: "hi"})
		assert.ErrorIs(t, err, ErrNoActiveConversation)
	})

	t.Run("never appends locally", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		e.Rebind(nil, "u-b", self)

		sent, err := e.SendMessage(context.Background(), Outgoing{Text: "hi"})
		require.NoError(t, err)
		require.NotNil(t, sent)
		assert.NotEmpty(t, sent.ID)

		// The sequence stays empty until the channel echoes the message back.
		assert.Empty(t, e.Messages("u-b"))

		e.HandleDelivery(*sent)
		msgs := e.Messages("u-b")
		require.Len(t, msgs, 1)
		assert.Equal(t, sent.ID, msgs[0].ID)
		api.waitMarked(t)
	})
}

// ============================================================================
// Delivery routing
// ============================================================================

func TestHandleDelivery(t *testing.T) {
	incoming := func(id string) Message {
		return Message{ID: id, SenderID: "u-b", ReceiverID: "u-self", Text: id, CreatedAt: "2026-09-01T10:00:00Z"}
	}

	t.Run("selected conversation appends and marks seen", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		e.Rebind(nil, "u-b", self)

		e.HandleDelivery(incoming("m1"))
		msgs := e.Messages("u-b")
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].Seen)
		assert.Zero(t, e.Unseen("u-b"))
		assert.Equal(t, "m1", api.waitMarked(t))
	})

	t.Run("own echo appends to the selected conversation", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		e.Rebind(nil, "u-b", self)

		e.HandleDelivery(Message{ID: "m1", SenderID: "u-self", ReceiverID: "u-b", Text: "hi"})
		require.Len(t, e.Messages("u-b"), 1)
		api.waitMarked(t)
	})

	t.Run("duplicate echo is applied once", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		e.Rebind(nil, "u-b", self)

		e.HandleDelivery(incoming("m1"))
		api.waitMarked(t)
		e.HandleDelivery(incoming("m1"))
		assert.Len(t, e.Messages("u-b"), 1)
	})

	t.Run("unselected sender bumps the counter", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		e.Rebind(nil, "u-b", self)

		e.HandleDelivery(Message{ID: "m1", SenderID: "u-c", ReceiverID: "u-self", Text: "psst"})
		e.HandleDelivery(Message{ID: "m2", SenderID: "u-c", ReceiverID: "u-self", Text: "hey"})
		assert.Equal(t, 2, e.Unseen("u-c"))
		assert.Empty(t, e.Messages("u-c"))
		assert.Empty(t, e.Messages("u-b"))
	})

	t.Run("no selection bumps the counter", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		e.Rebind(nil, "", self)

		e.HandleDelivery(incoming("m1"))
		assert.Equal(t, 1, e.Unseen("u-b"))
		assert.Empty(t, e.Messages("u-b"))
	})

	t.Run("own echo after switching away is not counted unseen", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)

		// Sent to u-b, but the user moved to u-c before the echo landed.
		e.Rebind(nil, "u-c", self)
		e.HandleDelivery(Message{ID: "m1", SenderID: "u-self", ReceiverID: "u-b", Text: "hi"})

		assert.Empty(t, e.UnseenCounts(), "an own echo must never produce an unseen entry")
		assert.Empty(t, e.Messages("u-b"))
		assert.Empty(t, e.Messages("u-c"))
	})

	t.Run("delivery reads the selection at arrival time", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)

		// Listener installed while u-b was selected; selection then moves.
		e.Rebind(nil, "u-b", self)
		e.SelectConversation("u-c")

		e.HandleDelivery(incoming("m1"))
		assert.Equal(t, 1, e.Unseen("u-b"), "message for the old selection must count as unseen")
		assert.Empty(t, e.Messages("u-b"))
	})
}

// ============================================================================
// Delivery observer
// ============================================================================

func TestOnMessage(t *testing.T) {
	t.Run("notified on both routing branches", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		e.Rebind(nil, "u-b", self)

		var seen []string
		e.OnMessage(func(msg Message) { seen = append(seen, msg.ID) })

		// One for the open conversation, one bumping a counter.
		e.HandleDelivery(Message{ID: "m1", SenderID: "u-b", ReceiverID: "u-self"})
		api.waitMarked(t)
		e.HandleDelivery(Message{ID: "m2", SenderID: "u-c", ReceiverID: "u-self"})

		assert.Equal(t, []string{"m1", "m2"}, seen)
	})

	t.Run("survives rebinding", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		client := NewClient(WithBaseURL(api.srv.URL))
		ch := NewChannelManager(client, nil)

		notified := 0
		e.OnMessage(func(Message) { notified++ })

		// Rebind claims the channel's handler slot; the observer stays.
		e.Rebind(ch, "u-b", self)
		e.HandleDelivery(Message{ID: "m1", SenderID: "u-b", ReceiverID: "u-self"})
		api.waitMarked(t)
		assert.Equal(t, 1, notified)
	})

	t.Run("duplicate echo is not re-notified", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		e.Rebind(nil, "u-b", self)

		notified := 0
		e.OnMessage(func(Message) { notified++ })

		e.HandleDelivery(Message{ID: "m1", SenderID: "u-b", ReceiverID: "u-self"})
		api.waitMarked(t)
		e.HandleDelivery(Message{ID: "m1", SenderID: "u-b", ReceiverID: "u-self"})
		assert.Equal(t, 1, notified)
	})

	t.Run("nil deregisters", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		e.Rebind(nil, "", self)

		notified := 0
		e.OnMessage(func(Message) { notified++ })
		e.OnMessage(nil)

		e.HandleDelivery(Message{ID: "m1", SenderID: "u-b", ReceiverID: "u-self"})
		assert.Zero(t, notified)
	})
}

// ============================================================================
// Channel rebinding
// ============================================================================

func TestRebind(t *testing.T) {
	t.Run("old channel listener is detached", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		client := NewClient(WithBaseURL(api.srv.URL))

		oldCh := NewChannelManager(client, nil)
		newCh := NewChannelManager(client, nil)

		e.Rebind(oldCh, "u-b", self)
		e.Rebind(newCh, "u-b", self)

		oldCh.handlerMu.Lock()
		oldHandler := oldCh.onMessage
		oldCh.handlerMu.Unlock()
		assert.Nil(t, oldHandler, "superseded channel must lose its listener")

		newCh.handlerMu.Lock()
		newHandler := newCh.onMessage
		newCh.handlerMu.Unlock()
		assert.NotNil(t, newHandler)
	})

	t.Run("selection change keeps the channel binding", func(t *testing.T) {
		api := newFakeAPI(t)
		e := newTestEngine(t, api)
		client := NewClient(WithBaseURL(api.srv.URL))
		ch := NewChannelManager(client, nil)

		e.Rebind(ch, "u-b", self)
		e.SelectConversation("u-c")
		assert.Equal(t, "u-c", e.Selected())

		ch.handlerMu.Lock()
		handler := ch.onMessage
		ch.handlerMu.Unlock()
		assert.NotNil(t, handler)
	})
}

// ============================================================================
// Reset
// ============================================================================

func TestSyncReset(t *testing.T) {
	api := newFakeAPI(t)
	e := newTestEngine(t, api)
	client := NewClient(WithBaseURL(api.srv.URL))
	ch := NewChannelManager(client, nil)

	api.setUsers([]User{{ID: "u-b"}}, map[string]int{"u-b": 1})
	require.NoError(t, e.LoadConversationList(context.Background()))
	e.Rebind(ch, "u-b", self)
	e.HandleDelivery(Message{ID: "m1", SenderID: "u-b", ReceiverID: "u-self"})
	api.waitMarked(t)

	e.Reset()
	assert.Empty(t, e.Users())
	assert.Empty(t, e.Messages("u-b"))
	assert.Empty(t, e.UnseenCounts())
	assert.Empty(t, e.Selected())

	ch.handlerMu.Lock()
	handler := ch.onMessage
	ch.handlerMu.Unlock()
	assert.Nil(t, handler, "reset must detach from the channel")
}
