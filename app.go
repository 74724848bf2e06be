package zinc

import (
	"context"
	"log/slog"
)

// App wires the four components together: session changes drive the API
// client's auth header and the channel lifecycle, and channel events feed the
// presence tracker and the sync engine. It is the reference integration; the
// individual components remain usable on their own.
type App struct {
	Client   *Client
	Session  *Session
	Channel  *ChannelManager
	Presence *PresenceTracker
	Sync     *SyncEngine

	log *slog.Logger
}

// NewApp builds the component graph on top of a client and a token store.
// channelConfig may be nil for defaults.
func NewApp(client *Client, store TokenStore, channelConfig *ChannelConfig) (*App, error) {
	session, err := NewSession(store)
	if err != nil {
		return nil, err
	}

	app := &App{
		Client:   client,
		Session:  session,
		Channel:  NewChannelManager(client, channelConfig),
		Presence: NewPresenceTracker(),
		Sync:     NewSyncEngine(client),
		log:      client.log,
	}

	// The API layer follows every token mutation: header set on login,
	// removed (not blanked) on logout.
	session.OnTokenChange(func(token string) {
		client.SetToken(token)
	})
	if token, ok := session.Token(); ok {
		client.SetToken(token)
	}

	app.Channel.SetPresenceHandler(app.Presence.Replace)

	return app, nil
}

// OnMessage registers an observer for every channel-delivered message,
// invoked after the sync engine has routed it. Connect and Rebind leave it
// in place, so it is safe to install before Startup.
func (a *App) OnMessage(fn func(msg Message)) {
	a.Sync.OnMessage(fn)
}

// Startup resolves a restored token into an identity and connects the
// channel. A failed identity check is the expected path for an anonymous
// visitor: it is logged, never surfaced, and leaves the session as it was.
func (a *App) Startup(ctx context.Context) error {
	if _, ok := a.Session.Token(); !ok {
		return nil
	}

	user, err := a.Client.CheckAuth(ctx)
	if err != nil {
		a.log.Debug("auth check failed", "err", err)
		return nil
	}

	a.Session.SetIdentity(user)
	return a.connect(ctx)
}

// Login authenticates, persists the token, resolves the identity, and
// connects the channel.
func (a *App) Login(ctx context.Context, creds Credentials) error {
	return a.authenticate(ctx, creds, a.Client.Login)
}

// Signup registers a new account and brings it online like Login.
func (a *App) Signup(ctx context.Context, creds Credentials) error {
	return a.authenticate(ctx, creds, a.Client.Signup)
}

func (a *App) authenticate(ctx context.Context, creds Credentials, call func(context.Context, Credentials) (*AuthResult, error)) error {
	result, err := call(ctx, creds)
	if err != nil {
		return err
	}
	if err := a.Session.SetToken(result.Token); err != nil {
		return err
	}
	a.Session.SetIdentity(result.UserData)
	return a.connect(ctx)
}

// Logout tears everything down synchronously: token cleared, channel closed
// before returning so no event can arrive attributed to the cleared identity,
// presence emptied, sync state dropped.
func (a *App) Logout() error {
	err := a.Session.ClearToken()
	a.Channel.Disconnect()
	a.Presence.Reset()
	a.Sync.Reset()
	return err
}

// UpdateProfile submits changed fields and merges the server's response into
// the held identity. On failure the identity is untouched.
func (a *App) UpdateProfile(ctx context.Context, update ProfileUpdate) error {
	user, err := a.Client.UpdateProfile(ctx, update)
	if err != nil {
		return err
	}
	a.Session.MergeIdentity(user)
	a.Sync.Rebind(a.Channel, a.Sync.Selected(), a.Session.Identity())
	return nil
}

// connect (re)establishes the channel for the session's identity and rebinds
// the sync engine to the fresh triple.
func (a *App) connect(ctx context.Context) error {
	identity := a.Session.Identity()
	if err := a.Channel.Connect(ctx, identity); err != nil {
		return err
	}
	a.Sync.Rebind(a.Channel, a.Sync.Selected(), identity)
	return nil
}
