package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-friendchat/internal/auth"
	"go-friendchat/internal/presence"
	"go-friendchat/internal/relay"
)

const (
	waitFor = 2 * time.Second
	quiet   = 200 * time.Millisecond
)

// Tokens look like "tok-<userID>". "boom" makes the verifier fail.
type tokenVerifier struct{}

func (tokenVerifier) Verify(ctx context.Context, token string) (auth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return auth.Identity{}, err
	}
	if token == "boom" {
		return auth.Identity{}, errors.New("verifier unavailable")
	}
	userID, ok := strings.CutPrefix(token, "tok-")
	if !ok || userID == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{UserID: userID, Username: "name-" + userID}, nil
}

type dirWrite struct {
	UserID string
	Online bool
}

type recordingDirectory struct {
	mu     sync.Mutex
	writes []dirWrite
}

func (d *recordingDirectory) SetOnline(_ context.Context, userID string, online bool, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, dirWrite{UserID: userID, Online: online})
	return nil
}

func (d *recordingDirectory) Writes() []dirWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dirWrite(nil), d.writes...)
}

type friendGraph map[string][]string

func (g friendGraph) FriendIDs(_ context.Context, userID string) ([]string, error) {
	return g[userID], nil
}

type testEnv struct {
	hub *Hub
	srv *httptest.Server
	dir *recordingDirectory
}

func newTestEnv(t *testing.T, hubOpts Options, handlerOpts HandlerOptions) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	dir := &recordingDirectory{}
	mirror := presence.NewMirror(dir, zerolog.Nop(), time.Second)
	go mirror.Run(mirrorCtx)

	hubOpts.Logger = zerolog.Nop()
	hubOpts.Mirror = mirror
	hub := NewHub(hubOpts)
	go hub.Run(ctx)

	handlerOpts.Logger = zerolog.Nop()
	handler := NewHandler(hub, nil, NewAuthenticator(tokenVerifier{}, time.Second), handlerOpts)
	srv := httptest.NewServer(http.HandlerFunc(handler.ServeWs))

	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		stopMirror()
		<-mirror.Done()
		srv.Close()
	})
	return &testEnv{hub: hub, srv: srv, dir: dir}
}

func (e *testEnv) url(token string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/?auth.token=" + token
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
	in   chan Envelope
}

// connect dials as userID and waits until the hub has registered the
// connection.
func (e *testEnv) connect(t *testing.T, userID string) *peer {
	t.Helper()
	before := e.hub.Connections(userID)

	conn, _, err := websocket.DefaultDialer.Dial(e.url("tok-"+userID), nil)
	require.NoError(t, err)

	p := &peer{t: t, conn: conn, in: make(chan Envelope, 64)}
	go p.pump()
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return e.hub.Connections(userID) == before+1 }, waitFor, 5*time.Millisecond)
	return p
}

func (p *peer) pump() {
	defer close(p.in)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if json.Unmarshal(data, &env) == nil {
			p.in <- env
		}
	}
}

func (p *peer) send(name EventName, data interface{}) {
	p.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteJSON(Envelope{Event: name, Data: raw}))
}

func (p *peer) expect(name EventName) Envelope {
	p.t.Helper()
	select {
	case env, ok := <-p.in:
		require.True(p.t, ok, "connection closed while waiting for %s", name)
		require.Equal(p.t, name, env.Event, "data: %s", env.Data)
		return env
	case <-time.After(waitFor):
		p.t.Fatalf("timed out waiting for %s", name)
		return Envelope{}
	}
}

func (p *peer) expectNone() {
	p.t.Helper()
	select {
	case env, ok := <-p.in:
		if ok {
			p.t.Fatalf("unexpected %s: %s", env.Event, env.Data)
		}
	case <-time.After(quiet):
	}
}

func (p *peer) expectClosed() {
	p.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case _, ok := <-p.in:
			if !ok {
				return
			}
		case <-deadline:
			p.t.Fatal("connection was not closed")
		}
	}
}

func (e *testEnv) waitMembers(t *testing.T, g presence.Group, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(e.hub.MembersOf(g)) == n }, waitFor, 5*time.Millisecond)
}

func TestHandshakeRejectionsMutateNothing(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})

	cases := []struct {
		name   string
		url    string
		reason string
	}{
		{name: "missing", url: "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/", reason: ReasonNoToken},
		{name: "invalid", url: env.url("garbage"), reason: ReasonInvalidToken},
		{name: "verifier error", url: env.url("boom"), reason: ReasonAuthError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(tc.url, nil)
			if conn != nil {
				conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.JSONEq(t, `{"error":"`+tc.reason+`"}`, string(body))
		})
	}

	time.Sleep(quiet)
	assert.Empty(t, env.dir.Writes())
	assert.Empty(t, env.hub.registry.Groups(presence.KindUser))
}

func TestAuthenticatedConnectionJoinsOnlyItsPersonalGroup(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})

	env.connect(t, "u1")

	members := env.hub.MembersOf(presence.UserGroup("u1"))
	require.Len(t, members, 1)
	assert.Equal(t, []presence.Group{presence.UserGroup("u1")}, env.hub.GroupsOf(members[0]))
	assert.True(t, env.hub.IsOnline("u1"))

	require.Eventually(t, func() bool { return len(env.dir.Writes()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, dirWrite{UserID: "u1", Online: true}, env.dir.Writes()[0])
}

func TestSendMessageFanOut(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})
	conv := ConversationID("u1", "u2")

	u1 := env.connect(t, "u1")
	u2a := env.connect(t, "u2")
	u2b := env.connect(t, "u2")
	u3 := env.connect(t, "u3")

	u1.send(EventJoinConversation, conv)
	u2a.send(EventJoinConversation, conv)
	env.waitMembers(t, presence.ConversationGroup(conv), 2)

	message := map[string]string{"id": "m1", "content": "hello"}
	u1.send(EventSendMessage, map[string]interface{}{
		"conversationId": conv,
		"recipientId":    "u2",
		"message":        message,
	})

	got := u2a.expect(EventNewMessage)
	assert.JSONEq(t, `{"id":"m1","content":"hello"}`, string(got.Data))

	note := u2a.expect(EventMessageNotification)
	var n MessageNotification
	require.NoError(t, json.Unmarshal(note.Data, &n))
	assert.Equal(t, "u1", n.SenderID)
	assert.Equal(t, "name-u1", n.SenderUsername)
	assert.Equal(t, conv, n.ConversationID)

	u2b.expect(EventMessageNotification)

	u1.expectNone()
	u2a.expectNone()
	u2b.expectNone()
	u3.expectNone()
}

func TestJoinTwiceDeliversOnce(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})
	conv := ConversationID("u1", "u2")

	u1 := env.connect(t, "u1")
	u2 := env.connect(t, "u2")

	u1.send(EventJoinConversation, conv)
	u2.send(EventJoinConversation, conv)
	u2.send(EventJoinConversation, conv)
	env.waitMembers(t, presence.ConversationGroup(conv), 2)

	u1.send(EventTyping, map[string]string{"conversationId": conv})
	u2.expect(EventUserTyping)
	u2.expectNone()
}

func TestJoinRejectsForeignConversation(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})

	u1 := env.connect(t, "u1")
	u1.send(EventJoinConversation, ConversationID("u2", "u3"))

	got := u1.expect(EventError)
	var failure EventFailure
	require.NoError(t, json.Unmarshal(got.Data, &failure))
	assert.Equal(t, EventJoinConversation, failure.Event)
	assert.Contains(t, failure.Error, ErrAuthorization.Error())
	assert.Empty(t, env.hub.MembersOf(presence.ConversationGroup(ConversationID("u2", "u3"))))
}

func TestMalformedEventIsReportedAndConnectionSurvives(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})
	conv := ConversationID("u1", "u2")

	u1 := env.connect(t, "u1")
	u1.send("bogus", map[string]string{})

	got := u1.expect(EventError)
	var failure EventFailure
	require.NoError(t, json.Unmarshal(got.Data, &failure))
	assert.Equal(t, EventName("bogus"), failure.Event)
	assert.Contains(t, failure.Error, ErrMalformedEvent.Error())

	u1.send(EventJoinConversation, conv)
	env.waitMembers(t, presence.ConversationGroup(conv), 1)
}

func TestTypingExpiresWithoutStop(t *testing.T) {
	env := newTestEnv(t, Options{TypingTimeout: 100 * time.Millisecond}, HandlerOptions{})
	conv := ConversationID("u1", "u2")

	u1 := env.connect(t, "u1")
	u2 := env.connect(t, "u2")
	u1.send(EventJoinConversation, conv)
	u2.send(EventJoinConversation, conv)
	env.waitMembers(t, presence.ConversationGroup(conv), 2)

	u1.send(EventTyping, map[string]string{"conversationId": conv})
	typing := u2.expect(EventUserTyping)
	assert.JSONEq(t, `{"userId":"u1","username":"name-u1"}`, string(typing.Data))

	stop := u2.expect(EventUserStopTyping)
	assert.JSONEq(t, `{"userId":"u1"}`, string(stop.Data))
	u1.expectNone()
}

func TestStopTypingCancelsExpiry(t *testing.T) {
	env := newTestEnv(t, Options{TypingTimeout: 100 * time.Millisecond}, HandlerOptions{})
	conv := ConversationID("u1", "u2")

	u1 := env.connect(t, "u1")
	u2 := env.connect(t, "u2")
	u1.send(EventJoinConversation, conv)
	u2.send(EventJoinConversation, conv)
	env.waitMembers(t, presence.ConversationGroup(conv), 2)

	u1.send(EventTyping, map[string]string{"conversationId": conv})
	u1.send(EventStopTyping, map[string]string{"conversationId": conv})
	u2.expect(EventUserTyping)
	u2.expect(EventUserStopTyping)

	time.Sleep(150 * time.Millisecond)
	u2.expectNone()
}

func TestTypingIndicatorPersistsWithoutTimeout(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})
	conv := ConversationID("u1", "u2")

	u1 := env.connect(t, "u1")
	u2 := env.connect(t, "u2")
	u1.send(EventJoinConversation, conv)
	u2.send(EventJoinConversation, conv)
	env.waitMembers(t, presence.ConversationGroup(conv), 2)

	u1.send(EventTyping, map[string]string{"conversationId": conv})
	u2.expect(EventUserTyping)
	u2.expectNone()

	// Leaving while typing clears the indicator for everyone else.
	u1.send(EventLeaveConversation, conv)
	u2.expect(EventUserStopTyping)
	env.waitMembers(t, presence.ConversationGroup(conv), 1)
}

func TestDisconnectWhileTypingStopsIndicator(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})
	conv := ConversationID("u1", "u2")

	u1 := env.connect(t, "u1")
	u2 := env.connect(t, "u2")
	u1.send(EventJoinConversation, conv)
	u2.send(EventJoinConversation, conv)
	env.waitMembers(t, presence.ConversationGroup(conv), 2)

	u1.send(EventTyping, map[string]string{"conversationId": conv})
	u2.expect(EventUserTyping)

	u1.conn.Close()
	u2.expect(EventUserStopTyping)
}

func TestTypingRequiresParticipation(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})

	u1 := env.connect(t, "u1")
	u1.send(EventTyping, map[string]string{"conversationId": ConversationID("u2", "u3")})

	got := u1.expect(EventError)
	assert.Contains(t, string(got.Data), `"event":"typing"`)
}

func TestParticipantTypesWithoutJoining(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})
	conv := ConversationID("u1", "u2")

	u1 := env.connect(t, "u1")
	u2 := env.connect(t, "u2")
	u2.send(EventJoinConversation, conv)
	env.waitMembers(t, presence.ConversationGroup(conv), 1)

	u1.send(EventTyping, map[string]string{"conversationId": conv})
	u2.expect(EventUserTyping)
	u1.send(EventStopTyping, map[string]string{"conversationId": conv})
	u2.expect(EventUserStopTyping)
	u1.expectNone()
}

type stalledFriends struct {
	gaveUp chan error
}

func (s stalledFriends) FriendIDs(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	s.gaveUp <- ctx.Err()
	return nil, ctx.Err()
}

func TestStalledFriendStoreDoesNotHoldHandshake(t *testing.T) {
	friends := stalledFriends{gaveUp: make(chan error, 1)}
	env := newTestEnv(t, Options{}, HandlerOptions{Friends: friends})

	env.connect(t, "u1")

	assert.ErrorIs(t, <-friends.gaveUp, context.DeadlineExceeded)
	assert.True(t, env.hub.IsOnline("u1"))
}

func TestTeardownOnLastConnectionOnly(t *testing.T) {
	friends := friendGraph{"u1": {"u2"}, "u2": {"u1"}}
	env := newTestEnv(t, Options{}, HandlerOptions{Friends: friends})
	conv := ConversationID("u1", "u2")

	first := env.connect(t, "u1")
	second := env.connect(t, "u1")
	u2 := env.connect(t, "u2")

	first.send(EventJoinConversation, conv)
	env.waitMembers(t, presence.ConversationGroup(conv), 1)

	first.conn.Close()
	require.Eventually(t, func() bool { return env.hub.Connections("u1") == 1 }, waitFor, 5*time.Millisecond)
	assert.Empty(t, env.hub.MembersOf(presence.ConversationGroup(conv)))
	assert.True(t, env.hub.IsOnline("u1"))
	u2.expectNone()

	second.conn.Close()
	got := u2.expect(EventFriendStatusChange)
	assert.JSONEq(t, `{"userId":"u1","username":"name-u1","isOnline":false}`, string(got.Data))
	u2.expectNone()

	assert.False(t, env.hub.IsOnline("u1"))
	assert.Empty(t, env.hub.MembersOf(presence.UserGroup("u1")))
	require.Eventually(t, func() bool {
		writes := env.dir.Writes()
		return len(writes) > 0 && writes[len(writes)-1] == dirWrite{UserID: "u1", Online: false}
	}, waitFor, 5*time.Millisecond)
}

func TestLegacyPresenceFlipsOnEveryDisconnect(t *testing.T) {
	friends := friendGraph{"u1": {"u2"}, "u2": {"u1"}}
	env := newTestEnv(t, Options{LegacyPresence: true}, HandlerOptions{Friends: friends})

	first := env.connect(t, "u1")
	env.connect(t, "u1")
	u2 := env.connect(t, "u2")

	first.conn.Close()
	got := u2.expect(EventFriendStatusChange)
	assert.Contains(t, string(got.Data), `"isOnline":false`)
}

func TestFriendRequestToOfflineUserIsDropped(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})

	u1 := env.connect(t, "u1")
	u1.send(EventFriendRequestSent, map[string]interface{}{
		"recipientId": "u2",
		"requestId":   "r1",
		"requester":   map[string]string{"id": "u1"},
	})
	u1.expectNone()

	u2 := env.connect(t, "u2")
	u2.expectNone()
}

func TestFriendRequestLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{Friends: friendGraph{}})

	u1 := env.connect(t, "u1")
	u2 := env.connect(t, "u2")

	u1.send(EventFriendRequestSent, map[string]interface{}{
		"recipientId": "u2",
		"requestId":   "r1",
		"requester":   map[string]string{"id": "u1", "username": "name-u1"},
	})
	got := u2.expect(EventFriendRequestReceived)
	assert.JSONEq(t, `{"requestId":"r1","requester":{"id":"u1","username":"name-u1"}}`, string(got.Data))

	u2.send(EventFriendRequestAccepted, map[string]interface{}{
		"requesterId": "u1",
		"friend":      map[string]string{"id": "u2"},
	})
	got = u1.expect(EventFriendRequestResponse)
	assert.JSONEq(t, `{"type":"accepted","friend":{"id":"u2"}}`, string(got.Data))

	// Both sides now know each other, so the offline broadcast reaches u1.
	u2.conn.Close()
	got = u1.expect(EventFriendStatusChange)
	assert.Contains(t, string(got.Data), `"userId":"u2"`)
}

func TestFriendRequestRejectedAndStatusUpdate(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{})

	u1 := env.connect(t, "u1")
	u2 := env.connect(t, "u2")
	u3 := env.connect(t, "u3")

	u2.send(EventFriendRequestRejected, map[string]string{"requesterId": "u1", "requestId": "r9"})
	got := u1.expect(EventFriendRequestResponse)
	assert.JSONEq(t, `{"type":"rejected","requestId":"r9"}`, string(got.Data))

	u1.send(EventUpdateFriendStatus, []string{"u2", "u3"})
	for _, p := range []*peer{u2, u3} {
		got := p.expect(EventFriendStatusChange)
		assert.JSONEq(t, `{"userId":"u1","username":"name-u1","isOnline":true}`, string(got.Data))
	}
	u1.expectNone()
}

func TestRateLimitDropsExcessEvents(t *testing.T) {
	env := newTestEnv(t, Options{}, HandlerOptions{RateBurst: 2, RateInterval: time.Hour})
	conv := ConversationID("u1", "u2")

	u1 := env.connect(t, "u1")
	u1.send(EventJoinConversation, conv)
	u1.send(EventLeaveConversation, conv)
	u1.send(EventJoinConversation, conv)

	got := u1.expect(EventError)
	assert.Contains(t, string(got.Data), ErrRateLimited.Error())
	assert.Empty(t, env.hub.MembersOf(presence.ConversationGroup(conv)))
}

func TestRelayCarriesDeliveriesBetweenHubs(t *testing.T) {
	bus := relay.NewBus()
	a := newTestEnv(t, Options{Relay: bus.Subscribe()}, HandlerOptions{})
	b := newTestEnv(t, Options{Relay: bus.Subscribe()}, HandlerOptions{})
	conv := ConversationID("u1", "u2")

	u1 := a.connect(t, "u1")
	u2 := b.connect(t, "u2")
	u1.send(EventJoinConversation, conv)
	u2.send(EventJoinConversation, conv)
	a.waitMembers(t, presence.ConversationGroup(conv), 1)
	b.waitMembers(t, presence.ConversationGroup(conv), 1)

	u1.send(EventSendMessage, map[string]interface{}{
		"conversationId": conv,
		"recipientId":    "u2",
		"message":        map[string]string{"id": "m1"},
	})
	u2.expect(EventNewMessage)
	u2.expect(EventMessageNotification)
	u1.expectNone()
}

func TestShutdownClosesConnectionsAndMirrorsOffline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	dir := &recordingDirectory{}
	mirror := presence.NewMirror(dir, zerolog.Nop(), time.Second)
	go mirror.Run(mirrorCtx)
	hub := NewHub(Options{Logger: zerolog.Nop(), Mirror: mirror})
	go hub.Run(ctx)

	handler := NewHandler(hub, nil, NewAuthenticator(tokenVerifier{}, time.Second), HandlerOptions{Logger: zerolog.Nop()})
	srv := httptest.NewServer(http.HandlerFunc(handler.ServeWs))
	defer srv.Close()

	env := &testEnv{hub: hub, srv: srv, dir: dir}
	u1 := env.connect(t, "u1")
	require.Eventually(t, func() bool { return len(dir.Writes()) == 1 }, waitFor, 5*time.Millisecond)

	cancel()
	<-hub.Done()
	stopMirror()
	<-mirror.Done()
	u1.expectClosed()

	assert.Equal(t, []dirWrite{{UserID: "u1", Online: true}, {UserID: "u1", Online: false}}, dir.Writes())
	assert.False(t, hub.Register(&Client{ID: "late"}))
}
