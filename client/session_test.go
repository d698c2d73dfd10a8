package client

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/crossbario/crossbar/auth"
	"github.com/crossbario/crossbar/stdlog"
	"github.com/crossbario/crossbar/transport"
	"github.com/crossbario/crossbar/wamp"
	"github.com/crossbario/crossbar/wamp/crsign"
)

const (
	testRealm = "com.example.realm"
	rfcSeed   = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
	rfcPubkey = "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"
)

func testConfig() Config {
	return Config{
		Realm:  testRealm,
		Logger: stdlog.Discard(),
	}
}

// recv reads the next message the session sent to the router.
func recv[T wamp.Message](t *testing.T, p wamp.Peer) T {
	t.Helper()
	msg, err := wamp.RecvTimeout(p, time.Second)
	require.NoError(t, err)
	m, ok := msg.(T)
	require.Truef(t, ok, "unexpected %v message", msg.MessageType())
	return m
}

func requireSilent(t *testing.T, p wamp.Peer) {
	t.Helper()
	msg, err := wamp.RecvTimeout(p, 50*time.Millisecond)
	require.Error(t, err, "unexpected message %v", msg)
}

func await[T any](t *testing.T, f *Future[T]) (T, error) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		require.FailNow(t, "future did not settle")
	}
	return f.Result()
}

func openAsync(s *Session, p wamp.Peer) <-chan error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.Open(context.Background(), p)
	}()
	return errc
}

func awaitOpen(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(time.Second):
		require.FailNow(t, "Open did not return")
	}
	return nil
}

// joined opens an anonymous session and returns it with the router's end of
// the connection.
func joined(t *testing.T, cfg Config) (*Session, wamp.Peer) {
	t.Helper()
	s, err := NewSession(cfg)
	require.NoError(t, err)
	cp, rp := transport.LinkedPeers()
	errc := openAsync(s, cp)
	recv[*wamp.Hello](t, rp)
	require.NoError(t, rp.Send(&wamp.Welcome{
		ID:      42,
		Details: wamp.Dict{"authrole": "anonymous"},
	}))
	require.NoError(t, awaitOpen(t, errc))
	return s, rp
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		require.FailNow(t, "session did not finish")
	}
}

func closeSession(t *testing.T, s *Session) {
	t.Helper()
	s.Close()
	waitDone(t, s)
}

func register(t *testing.T, s *Session, rp wamp.Peer, procedure string, fn InvocationHandler) *Registration {
	t.Helper()
	f := s.RegisterAsync(procedure, fn, nil)
	msg := recv[*wamp.Register](t, rp)
	require.Equal(t, wamp.URI(procedure), msg.Procedure)
	require.NoError(t, rp.Send(&wamp.Registered{
		Request:      msg.Request,
		Registration: wamp.ID(1000 + msg.Request),
	}))
	reg, err := await(t, f)
	require.NoError(t, err)
	return reg
}

func subscribe(t *testing.T, s *Session, rp wamp.Peer, topic string, subID wamp.ID, fn EventHandler) *Subscription {
	t.Helper()
	f := s.SubscribeAsync(topic, fn, nil)
	msg := recv[*wamp.Subscribe](t, rp)
	require.Equal(t, wamp.URI(topic), msg.Topic)
	require.NoError(t, rp.Send(&wamp.Subscribed{
		Request:      msg.Request,
		Subscription: subID,
	}))
	sub, err := await(t, f)
	require.NoError(t, err)
	return sub
}

func pendingCount(s *Session) int {
	var n int
	c := s.current()
	c.do(func() { n = len(c.pending) })
	return n
}

func add2(ctx context.Context, h Handle, inv *wamp.Invocation) (*InvokeResult, error) {
	if len(inv.Arguments) != 2 {
		return nil, &InvokeError{URI: wamp.ErrInvalidArgument}
	}
	a, _ := wamp.AsInt64(inv.Arguments[0])
	b, _ := wamp.AsInt64(inv.Arguments[1])
	return &InvokeResult{Args: wamp.List{a + b}}, nil
}

func TestWAMPCRAEndToEnd(t *testing.T) {
	defer leaktest.Check(t)()
	cfg := testConfig()
	cfg.AuthID = "joe"
	cfg.Credentials = []auth.Credential{auth.SharedSecret{Secret: "secret2"}}
	s, err := NewSession(cfg)
	require.NoError(t, err)
	require.Equal(t, Idle, s.State())

	cp, rp := transport.LinkedPeers()
	errc := openAsync(s, cp)

	hello := recv[*wamp.Hello](t, rp)
	require.Equal(t, wamp.URI(testRealm), hello.Realm)
	require.Equal(t, wamp.List{"wampcra"}, hello.Details["authmethods"])
	require.Equal(t, "joe", hello.Details["authid"])
	require.Contains(t, hello.Details, "roles")
	require.Equal(t, Authenticating, s.State())

	require.NoError(t, rp.Send(&wamp.Challenge{
		AuthMethod: "wampcra",
		Extra:      wamp.Dict{"challenge": "X"},
	}))
	authMsg := recv[*wamp.Authenticate](t, rp)
	require.True(t, crsign.VerifySignature(authMsg.Signature, "X", []byte("secret2")))

	require.NoError(t, rp.Send(&wamp.Welcome{ID: 1234, Details: wamp.Dict{
		"authid":       "joe",
		"authrole":     "user",
		"authmethod":   "wampcra",
		"authprovider": "static",
	}}))
	require.NoError(t, awaitOpen(t, errc))
	require.Equal(t, Established, s.State())
	require.Equal(t, wamp.ID(1234), s.ID())
	require.Equal(t, testRealm, s.Realm())
	require.Equal(t, auth.Identity{
		AuthID:       "joe",
		AuthRole:     "user",
		AuthMethod:   "wampcra",
		AuthProvider: "static",
	}, s.Identity())
	require.Equal(t, "user", s.Details()["authrole"])

	// add2 is answered by the router.
	f := s.CallAsync("com.example.add2", wamp.List{2, 3}, nil, nil)
	call := recv[*wamp.Call](t, rp)
	require.Equal(t, wamp.URI("com.example.add2"), call.Procedure)
	a, _ := wamp.AsInt64(call.Arguments[0])
	b, _ := wamp.AsInt64(call.Arguments[1])
	require.NoError(t, rp.Send(&wamp.Result{
		Request:   call.Request,
		Details:   wamp.Dict{},
		Arguments: wamp.List{a + b},
	}))
	res, err := await(t, f)
	require.NoError(t, err)
	require.Equal(t, wamp.List{int64(5)}, res.Arguments)

	// joe may not provide mul2.
	rf := s.RegisterAsync("com.example.mul2", add2, nil)
	reg := recv[*wamp.Register](t, rp)
	require.NoError(t, rp.Send(&wamp.Error{
		Type:    wamp.REGISTER,
		Request: reg.Request,
		Details: wamp.Dict{},
		Error:   wamp.ErrNotAuthorized,
	}))
	_, err = await(t, rf)
	require.ErrorIs(t, err, ErrPermissionDenied)
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, wamp.REGISTER, opErr.Request)
	require.Equal(t, wamp.URI("com.example.mul2"), opErr.URI)
	require.Equal(t, Established, s.State())

	// The session is still usable.
	f = s.CallAsync("com.example.add2", wamp.List{1, 1}, nil, nil)
	call = recv[*wamp.Call](t, rp)
	require.NoError(t, rp.Send(&wamp.Result{Request: call.Request, Details: wamp.Dict{}}))
	_, err = await(t, f)
	require.NoError(t, err)

	closeSession(t, s)
	require.Equal(t, Closed, s.State())
}

func TestCryptosignHandshake(t *testing.T) {
	defer leaktest.Check(t)()
	kp, err := auth.NewSigningKeypair(rfcSeed)
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Credentials = []auth.Credential{kp}
	s, err := NewSession(cfg)
	require.NoError(t, err)

	cp, rp := transport.LinkedPeers()
	errc := openAsync(s, cp)

	hello := recv[*wamp.Hello](t, rp)
	require.Equal(t, wamp.List{"cryptosign"}, hello.Details["authmethods"])
	require.Equal(t, rfcPubkey, wamp.DictChild(hello.Details, "authextra")["pubkey"])

	nonce := strings.Repeat("ab", crsign.ChallengeSize)
	require.NoError(t, rp.Send(&wamp.Challenge{
		AuthMethod: "cryptosign",
		Extra:      wamp.Dict{"challenge": nonce},
	}))
	authMsg := recv[*wamp.Authenticate](t, rp)
	signed, ok := crsign.VerifyCryptosign(authMsg.Signature, kp.Key.PublicKey())
	require.True(t, ok)
	require.Equal(t, nonce, hex.EncodeToString(signed))

	require.NoError(t, rp.Send(&wamp.Welcome{ID: 7, Details: wamp.Dict{
		"authmethod": "cryptosign",
		"authextra":  wamp.Dict{"pubkey": rfcPubkey},
	}}))
	require.NoError(t, awaitOpen(t, errc))
	require.Equal(t, "cryptosign", s.Identity().AuthMethod)
	closeSession(t, s)
}

func TestWelcomeWithForeignPubkey(t *testing.T) {
	defer leaktest.Check(t)()
	kp, err := auth.NewSigningKeypair(rfcSeed)
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Credentials = []auth.Credential{kp}
	s, err := NewSession(cfg)
	require.NoError(t, err)

	cp, rp := transport.LinkedPeers()
	errc := openAsync(s, cp)
	recv[*wamp.Hello](t, rp)
	require.NoError(t, rp.Send(&wamp.Challenge{
		AuthMethod: "cryptosign",
		Extra:      wamp.Dict{"challenge": strings.Repeat("01", 32)},
	}))
	recv[*wamp.Authenticate](t, rp)
	require.NoError(t, rp.Send(&wamp.Welcome{ID: 7, Details: wamp.Dict{
		"authmethod": "cryptosign",
		"authextra":  wamp.Dict{"pubkey": strings.Repeat("00", 32)},
	}}))
	require.ErrorIs(t, awaitOpen(t, errc), ErrProtocolViolation)
	abort := recv[*wamp.Abort](t, rp)
	require.Equal(t, wamp.ErrProtocolViolation, abort.Reason)
	waitDone(t, s)
}

func TestAbortWhileAuthenticating(t *testing.T) {
	defer leaktest.Check(t)()
	cfg := testConfig()
	cfg.Credentials = []auth.Credential{auth.SharedSecret{Secret: "wrong"}}
	s, err := NewSession(cfg)
	require.NoError(t, err)

	cp, rp := transport.LinkedPeers()
	errc := openAsync(s, cp)
	recv[*wamp.Hello](t, rp)
	require.Equal(t, Authenticating, s.State())

	// Issued during the handshake, so held until WELCOME.
	f := s.CallAsync("com.example.add2", wamp.List{2, 3}, nil, nil)

	require.NoError(t, rp.Send(&wamp.Abort{
		Details: wamp.Dict{"message": "bad secret"},
		Reason:  wamp.ErrAuthenticationFailed,
	}))

	err = awaitOpen(t, errc)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, wamp.ErrAuthenticationFailed, abortErr.Reason)
	require.Contains(t, abortErr.Error(), "bad secret")

	_, err = await(t, f)
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorAs(t, err, &abortErr)

	waitDone(t, s)
	require.Equal(t, Closed, s.State())
	require.Equal(t, wamp.ErrAuthenticationFailed, s.Goodbye())

	_, err = await(t, s.CallAsync("com.example.add2", nil, nil, nil))
	require.ErrorIs(t, err, ErrConnectionLost)
}

func TestMissingAuthHandler(t *testing.T) {
	defer leaktest.Check(t)()
	cfg := testConfig()
	cfg.AuthMethods = []string{"wampcra"}
	s, err := NewSession(cfg)
	require.NoError(t, err)

	cp, rp := transport.LinkedPeers()
	errc := openAsync(s, cp)
	recv[*wamp.Hello](t, rp)
	require.NoError(t, rp.Send(&wamp.Challenge{
		AuthMethod: "wampcra",
		Extra:      wamp.Dict{"challenge": "X"},
	}))
	require.ErrorIs(t, awaitOpen(t, errc), ErrMissingAuthHandler)
	abort := recv[*wamp.Abort](t, rp)
	require.Equal(t, wamp.ErrCannotAuthenticate, abort.Reason)
	waitDone(t, s)
}

func TestChallengeForMethodNotOffered(t *testing.T) {
	defer leaktest.Check(t)()
	cfg := testConfig()
	cfg.Credentials = []auth.Credential{auth.SharedSecret{Secret: "secret2"}}
	s, err := NewSession(cfg)
	require.NoError(t, err)

	cp, rp := transport.LinkedPeers()
	errc := openAsync(s, cp)
	recv[*wamp.Hello](t, rp)
	require.NoError(t, rp.Send(&wamp.Challenge{
		AuthMethod: "cryptosign",
		Extra:      wamp.Dict{"challenge": strings.Repeat("00", 32)},
	}))
	require.ErrorIs(t, awaitOpen(t, errc), ErrProtocolViolation)
	abort := recv[*wamp.Abort](t, rp)
	require.Equal(t, wamp.ErrProtocolViolation, abort.Reason)
	waitDone(t, s)
}

func TestChallengeHandlerError(t *testing.T) {
	defer leaktest.Check(t)()
	errNoKey := errors.New("key store locked")
	cfg := testConfig()
	cfg.AuthMethods = []string{"wampcra"}
	cfg.OnChallenge = func(ctx context.Context, method string, extra wamp.Dict) (string, error) {
		return "", errNoKey
	}
	s, err := NewSession(cfg)
	require.NoError(t, err)

	cp, rp := transport.LinkedPeers()
	errc := openAsync(s, cp)
	recv[*wamp.Hello](t, rp)
	require.NoError(t, rp.Send(&wamp.Challenge{
		AuthMethod: "wampcra",
		Extra:      wamp.Dict{"challenge": "X"},
	}))
	require.ErrorIs(t, awaitOpen(t, errc), errNoKey)
	abort := recv[*wamp.Abort](t, rp)
	require.Equal(t, wamp.ErrCannotAuthenticate, abort.Reason)
	require.Equal(t, errNoKey.Error(), abort.Details["message"])
	waitDone(t, s)
}

func TestUnexpectedMessageDuringHandshake(t *testing.T) {
	defer leaktest.Check(t)()
	s, err := NewSession(testConfig())
	require.NoError(t, err)
	cp, rp := transport.LinkedPeers()
	errc := openAsync(s, cp)
	recv[*wamp.Hello](t, rp)
	require.NoError(t, rp.Send(&wamp.Result{Request: 1, Details: wamp.Dict{}}))
	require.ErrorIs(t, awaitOpen(t, errc), ErrProtocolViolation)
	recv[*wamp.Abort](t, rp)
	waitDone(t, s)
}

func TestOpenTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	cfg := testConfig()
	cfg.ResponseTimeout = 50 * time.Millisecond
	s, err := NewSession(cfg)
	require.NoError(t, err)

	cp, rp := transport.LinkedPeers()
	err = s.Open(context.Background(), cp)
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	waitDone(t, s)
	require.Equal(t, Closed, s.State())
	rp.Close()
}

func TestOpenTimeoutStopsChallengeHandler(t *testing.T) {
	defer leaktest.Check(t)()
	cfg := testConfig()
	cfg.AuthMethods = []string{"wampcra"}
	cfg.OnChallenge = func(ctx context.Context, method string, extra wamp.Dict) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s, err := NewSession(cfg)
	require.NoError(t, err)

	cp, rp := transport.LinkedPeers()
	go func() {
		wamp.RecvTimeout(rp, time.Second)
		rp.Send(&wamp.Challenge{
			AuthMethod: "wampcra",
			Extra:      wamp.Dict{"challenge": "X"},
		})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = s.Open(ctx, cp)
	require.Error(t, err)
	waitDone(t, s)
	require.Equal(t, Closed, s.State())
}

func TestOpenTwice(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())

	cp2, rp2 := transport.LinkedPeers()
	require.ErrorIs(t, s.Open(context.Background(), cp2), ErrAlreadyOpen)
	require.Equal(t, Established, s.State())
	closeSession(t, s)
	rp.Close()

	// A closed session can be opened again.
	errc := openAsync(s, cp2)
	recv[*wamp.Hello](t, rp2)
	require.NoError(t, rp2.Send(&wamp.Welcome{ID: 43, Details: wamp.Dict{}}))
	require.NoError(t, awaitOpen(t, errc))
	require.Equal(t, wamp.ID(43), s.ID())
	closeSession(t, s)
}

func TestRequestsHeldUntilWelcome(t *testing.T) {
	defer leaktest.Check(t)()
	s, err := NewSession(testConfig())
	require.NoError(t, err)
	require.Equal(t, Idle, s.State())

	cp, rp := transport.LinkedPeers()
	errc := openAsync(s, cp)
	recv[*wamp.Hello](t, rp)
	require.Equal(t, Connecting, s.State())

	f := s.CallAsync("com.example.add2", wamp.List{1, 2}, nil, nil)
	canceled := s.CallAsync("com.example.add2", wamp.List{3, 4}, nil, nil)
	canceled.Cancel()
	requireSilent(t, rp)

	require.NoError(t, rp.Send(&wamp.Welcome{ID: 5, Details: wamp.Dict{}}))
	require.NoError(t, awaitOpen(t, errc))

	call := recv[*wamp.Call](t, rp)
	require.Equal(t, wamp.List{1, 2}, call.Arguments)
	requireSilent(t, rp)

	require.NoError(t, rp.Send(&wamp.Result{
		Request:   call.Request,
		Details:   wamp.Dict{},
		Arguments: wamp.List{3},
	}))
	res, err := await(t, f)
	require.NoError(t, err)
	require.Equal(t, wamp.List{3}, res.Arguments)
	closeSession(t, s)
}

func TestRegisterThenClose(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	reg := register(t, s, rp, "com.example.add2", add2)
	subscribe(t, s, rp, "com.example.hello", 9, func(Handle, *wamp.Event) {})

	f := s.CallAsync("com.example.slow", nil, nil, nil)
	recv[*wamp.Call](t, rp)

	c := s.current()
	require.NoError(t, s.Close())
	require.Equal(t, Closed, s.State())
	require.Empty(t, c.registrations)
	require.Empty(t, c.subscriptions)
	require.Empty(t, c.pending)

	_, err := await(t, f)
	require.ErrorIs(t, err, ErrConnectionLost)
	_, err = await(t, s.UnregisterAsync(reg))
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, s.Close(), ErrAlreadyClosed)
	waitDone(t, s)
}

func TestPublish(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())

	f := s.PublishAsync("com.example.hello", wamp.List{"hi"}, nil, nil)
	select {
	case <-f.Done():
	default:
		require.FailNow(t, "publish without acknowledge must not wait")
	}
	pub := recv[*wamp.Publish](t, rp)
	require.Equal(t, wamp.URI("com.example.hello"), pub.Topic)
	require.Equal(t, wamp.List{"hi"}, pub.Arguments)
	require.Zero(t, pendingCount(s))

	f = s.PublishAsync("com.example.hello", nil, nil,
		wamp.Dict{wamp.OptAcknowledge: true})
	pub = recv[*wamp.Publish](t, rp)
	require.Equal(t, 1, pendingCount(s))
	select {
	case <-f.Done():
		require.FailNow(t, "resolved before PUBLISHED")
	default:
	}
	require.NoError(t, rp.Send(&wamp.Published{Request: pub.Request, Publication: 777}))
	pubID, err := await(t, f)
	require.NoError(t, err)
	require.Equal(t, wamp.ID(777), pubID)
	require.Zero(t, pendingCount(s))

	f = s.PublishAsync("com.example.secret", nil, nil,
		wamp.Dict{wamp.OptAcknowledge: true})
	pub = recv[*wamp.Publish](t, rp)
	require.NoError(t, rp.Send(&wamp.Error{
		Type:    wamp.PUBLISH,
		Request: pub.Request,
		Details: wamp.Dict{},
		Error:   wamp.ErrAuthorizationFailed,
	}))
	_, err = await(t, f)
	require.ErrorIs(t, err, ErrPermissionDenied)
	closeSession(t, s)
}

func TestUnregisterTwice(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	reg := register(t, s, rp, "com.example.add2", add2)

	f := s.UnregisterAsync(reg)
	msg := recv[*wamp.Unregister](t, rp)
	require.Equal(t, reg.ID, msg.Registration)

	// The router still delivers an invocation sent before it processed
	// UNREGISTER.
	require.NoError(t, rp.Send(&wamp.Invocation{
		Request:      77,
		Registration: reg.ID,
		Details:      wamp.Dict{},
	}))
	rsp := recv[*wamp.Error](t, rp)
	require.Equal(t, wamp.ErrNoSuchRegistration, rsp.Error)

	require.NoError(t, rp.Send(&wamp.Unregistered{Request: msg.Request}))
	_, err := await(t, f)
	require.NoError(t, err)

	err = s.Unregister(context.Background(), reg)
	require.ErrorIs(t, err, ErrNotRegistered)
	requireSilent(t, rp)
	require.Equal(t, Established, s.State())
	closeSession(t, s)
}

func TestUnsubscribeTwice(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	noop := func(Handle, *wamp.Event) {}
	sub1 := subscribe(t, s, rp, "com.example.hello", 9, noop)
	sub2 := subscribe(t, s, rp, "com.example.hello", 9, noop)

	// Another local subscription shares the ID, so the router is not told.
	require.NoError(t, s.Unsubscribe(context.Background(), sub1))
	requireSilent(t, rp)

	f := s.UnsubscribeAsync(sub2)
	msg := recv[*wamp.Unsubscribe](t, rp)
	require.Equal(t, wamp.ID(9), msg.Subscription)
	require.NoError(t, rp.Send(&wamp.Unsubscribed{Request: msg.Request}))
	_, err := await(t, f)
	require.NoError(t, err)

	err = s.Unsubscribe(context.Background(), sub2)
	require.ErrorIs(t, err, ErrNotSubscribed)
	require.Equal(t, Established, s.State())
	closeSession(t, s)
}

func TestLateResultAfterCancel(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())

	f := s.CallAsync("com.example.slow", nil, nil, nil)
	call := recv[*wamp.Call](t, rp)
	f.Cancel()
	_, err := f.Result()
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, err, context.Canceled)

	cancel := recv[*wamp.Cancel](t, rp)
	require.Equal(t, call.Request, cancel.Request)
	require.Equal(t, wamp.CancelModeKillNoWait, cancel.Options[wamp.OptMode])

	// The result crossed the CANCEL and is discarded.
	require.NoError(t, rp.Send(&wamp.Result{Request: call.Request, Details: wamp.Dict{}}))

	f = s.CallAsync("com.example.add2", wamp.List{2, 3}, nil, nil)
	call2 := recv[*wamp.Call](t, rp)
	require.NotEqual(t, call.Request, call2.Request)
	require.NoError(t, rp.Send(&wamp.Result{
		Request:   call2.Request,
		Details:   wamp.Dict{},
		Arguments: wamp.List{5},
	}))
	res, err := await(t, f)
	require.NoError(t, err)
	require.Equal(t, wamp.List{5}, res.Arguments)
	require.Equal(t, Established, s.State())
	closeSession(t, s)
}

func TestCallContextTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	cfg := testConfig()
	cfg.CancelMode = wamp.CancelModeKill
	s, rp := joined(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Call(ctx, "com.example.slow", nil, nil, nil)
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	call := recv[*wamp.Call](t, rp)
	msg := recv[*wamp.Cancel](t, rp)
	require.Equal(t, call.Request, msg.Request)
	require.Equal(t, wamp.CancelModeKill, msg.Options[wamp.OptMode])

	require.NoError(t, rp.Send(&wamp.Error{
		Type:    wamp.CALL,
		Request: call.Request,
		Details: wamp.Dict{},
		Error:   wamp.ErrCanceled,
	}))
	require.Zero(t, pendingCount(s))
	require.Equal(t, Established, s.State())
	closeSession(t, s)
}

func TestResponseForUnknownRequest(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	require.NoError(t, rp.Send(&wamp.Result{Request: 999, Details: wamp.Dict{}}))
	abort := recv[*wamp.Abort](t, rp)
	require.Equal(t, wamp.ErrProtocolViolation, abort.Reason)
	waitDone(t, s)
	require.Equal(t, Closed, s.State())
}

func TestResponseTypeMismatch(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	f := s.CallAsync("com.example.add2", nil, nil, nil)
	call := recv[*wamp.Call](t, rp)
	require.NoError(t, rp.Send(&wamp.Registered{Request: call.Request, Registration: 1}))
	recv[*wamp.Abort](t, rp)
	_, err := await(t, f)
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, err, ErrProtocolViolation)
	waitDone(t, s)
}

func TestDuplicateRegistrationID(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	reg := register(t, s, rp, "com.example.a", add2)

	f := s.RegisterAsync("com.example.b", add2, nil)
	msg := recv[*wamp.Register](t, rp)
	require.NoError(t, rp.Send(&wamp.Registered{
		Request:      msg.Request,
		Registration: reg.ID,
	}))
	abort := recv[*wamp.Abort](t, rp)
	require.Equal(t, wamp.ErrProtocolViolation, abort.Reason)
	_, err := await(t, f)
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, err, ErrProtocolViolation)
	waitDone(t, s)
	require.Equal(t, Closed, s.State())
}

func TestInvocation(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	reg := register(t, s, rp, "com.example.add2", add2)

	require.NoError(t, rp.Send(&wamp.Invocation{
		Request:      100,
		Registration: reg.ID,
		Details:      wamp.Dict{},
		Arguments:    wamp.List{2, 3},
	}))
	yield := recv[*wamp.Yield](t, rp)
	require.Equal(t, wamp.ID(100), yield.Request)
	require.Equal(t, wamp.List{int64(5)}, yield.Arguments)
	closeSession(t, s)
}

func TestInvocationErrors(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	reg := register(t, s, rp, "com.example.fail",
		func(ctx context.Context, h Handle, inv *wamp.Invocation) (*InvokeResult, error) {
			switch inv.Arguments[0] {
			case "invoke":
				return nil, &InvokeError{
					URI:  "com.example.error.bad",
					Args: wamp.List{"bad input"},
				}
			case "plain":
				return nil, errors.New("boom")
			}
			panic("kaboom")
		})

	cases := []struct {
		arg  string
		uri  wamp.URI
		args wamp.List
	}{
		{"invoke", "com.example.error.bad", wamp.List{"bad input"}},
		{"plain", wamp.ErrRuntimeError, wamp.List{"boom"}},
		{"panic", wamp.ErrRuntimeError, wamp.List{"kaboom"}},
	}
	for i, tc := range cases {
		reqID := wamp.ID(200 + i)
		require.NoError(t, rp.Send(&wamp.Invocation{
			Request:      reqID,
			Registration: reg.ID,
			Details:      wamp.Dict{},
			Arguments:    wamp.List{tc.arg},
		}))
		rsp := recv[*wamp.Error](t, rp)
		require.Equal(t, wamp.INVOCATION, rsp.Type)
		require.Equal(t, reqID, rsp.Request)
		require.Equal(t, tc.uri, rsp.Error, tc.arg)
		require.Equal(t, tc.args, rsp.Arguments, tc.arg)
	}
	require.Equal(t, Established, s.State())
	closeSession(t, s)
}

func TestInterrupt(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	started := make(chan struct{}, 1)
	reg := register(t, s, rp, "com.example.sleep",
		func(ctx context.Context, h Handle, inv *wamp.Invocation) (*InvokeResult, error) {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		})

	require.NoError(t, rp.Send(&wamp.Invocation{
		Request:      300,
		Registration: reg.ID,
		Details:      wamp.Dict{},
	}))
	<-started
	require.NoError(t, rp.Send(&wamp.Interrupt{
		Request: 300,
		Options: wamp.Dict{wamp.OptMode: wamp.CancelModeKill},
	}))
	rsp := recv[*wamp.Error](t, rp)
	require.Equal(t, wamp.ID(300), rsp.Request)
	require.Equal(t, wamp.ErrCanceled, rsp.Error)

	// With killnowait the router expects no answer.
	require.NoError(t, rp.Send(&wamp.Invocation{
		Request:      301,
		Registration: reg.ID,
		Details:      wamp.Dict{},
	}))
	<-started
	require.NoError(t, rp.Send(&wamp.Interrupt{
		Request: 301,
		Options: wamp.Dict{wamp.OptMode: wamp.CancelModeKillNoWait},
	}))
	requireSilent(t, rp)

	// The caller's timeout bounds the invocation.
	require.NoError(t, rp.Send(&wamp.Invocation{
		Request:      302,
		Registration: reg.ID,
		Details:      wamp.Dict{wamp.OptTimeout: 20},
	}))
	rsp = recv[*wamp.Error](t, rp)
	require.Equal(t, wamp.ID(302), rsp.Request)
	require.Equal(t, wamp.ErrCanceled, rsp.Error)
	closeSession(t, s)
}

func TestInvocationForUnknownRegistration(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	require.NoError(t, rp.Send(&wamp.Invocation{
		Request:      1,
		Registration: 12345,
		Details:      wamp.Dict{},
	}))
	abort := recv[*wamp.Abort](t, rp)
	require.Equal(t, wamp.ErrProtocolViolation, abort.Reason)
	waitDone(t, s)
}

func TestNestedCallFromHandler(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	reg := register(t, s, rp, "com.example.nested",
		func(ctx context.Context, h Handle, inv *wamp.Invocation) (*InvokeResult, error) {
			res, err := h.Call(ctx, "com.example.add2", wamp.List{1, 2}, nil, nil)
			if err != nil {
				return nil, err
			}
			return &InvokeResult{Args: res.Arguments}, nil
		})

	require.NoError(t, rp.Send(&wamp.Invocation{
		Request:      400,
		Registration: reg.ID,
		Details:      wamp.Dict{},
	}))
	call := recv[*wamp.Call](t, rp)
	require.NoError(t, rp.Send(&wamp.Result{
		Request:   call.Request,
		Details:   wamp.Dict{},
		Arguments: wamp.List{3},
	}))
	yield := recv[*wamp.Yield](t, rp)
	require.Equal(t, wamp.ID(400), yield.Request)
	require.Equal(t, wamp.List{3}, yield.Arguments)
	closeSession(t, s)
}

func TestEventOrder(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	const count = 100
	got := make(chan int64, count)
	sub := subscribe(t, s, rp, "com.example.hello", 9, func(h Handle, ev *wamp.Event) {
		n, _ := wamp.AsInt64(ev.Arguments[0])
		got <- n
	})

	// Unknown subscriptions are ignored.
	require.NoError(t, rp.Send(&wamp.Event{Subscription: 10, Publication: 1, Details: wamp.Dict{}}))

	for i := 0; i < count; i++ {
		require.NoError(t, rp.Send(&wamp.Event{
			Subscription: sub.ID,
			Publication:  wamp.ID(i + 2),
			Details:      wamp.Dict{},
			Arguments:    wamp.List{i},
		}))
	}
	for i := 0; i < count; i++ {
		select {
		case n := <-got:
			require.Equal(t, int64(i), n)
		case <-time.After(time.Second):
			require.FailNow(t, "missing event")
		}
	}
	require.Equal(t, Established, s.State())
	closeSession(t, s)
}

func TestLeave(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())

	errc := make(chan error, 1)
	go func() {
		errc <- s.Leave(context.Background(), "")
	}()
	bye := recv[*wamp.Goodbye](t, rp)
	require.Equal(t, wamp.CloseRealm, bye.Reason)
	require.Equal(t, Closing, s.State())

	_, err := await(t, s.CallAsync("com.example.add2", nil, nil, nil))
	require.ErrorIs(t, err, ErrConnectionLost)

	require.NoError(t, rp.Send(&wamp.Goodbye{
		Details: wamp.Dict{},
		Reason:  wamp.CloseGoodbyeAndOut,
	}))
	require.NoError(t, <-errc)
	waitDone(t, s)
	require.Equal(t, Closed, s.State())
	require.Equal(t, wamp.CloseRealm, s.Goodbye())
	require.ErrorIs(t, s.Close(), ErrAlreadyClosed)
	require.ErrorIs(t, s.Leave(context.Background(), ""), ErrAlreadyClosed)
}

func TestLeaveTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	cfg := testConfig()
	cfg.GoodbyeTimeout = 20 * time.Millisecond
	s, rp := joined(t, cfg)

	require.NoError(t, s.Leave(context.Background(), wamp.CloseNormal))
	recv[*wamp.Goodbye](t, rp)
	waitDone(t, s)
	require.Equal(t, Closed, s.State())
}

func TestRouterGoodbye(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	f := s.CallAsync("com.example.slow", nil, nil, nil)
	recv[*wamp.Call](t, rp)

	require.NoError(t, rp.Send(&wamp.Goodbye{
		Details: wamp.Dict{},
		Reason:  wamp.CloseSystemShutdown,
	}))
	bye := recv[*wamp.Goodbye](t, rp)
	require.Equal(t, wamp.CloseGoodbyeAndOut, bye.Reason)

	_, err := await(t, f)
	require.ErrorIs(t, err, ErrConnectionLost)
	waitDone(t, s)
	require.Equal(t, Closed, s.State())
	require.Equal(t, wamp.CloseSystemShutdown, s.Goodbye())
}

func TestTransportLost(t *testing.T) {
	defer leaktest.Check(t)()
	s, rp := joined(t, testConfig())
	f := s.CallAsync("com.example.slow", nil, nil, nil)
	recv[*wamp.Call](t, rp)

	rp.Close()
	_, err := await(t, f)
	require.ErrorIs(t, err, ErrConnectionLost)
	waitDone(t, s)
	require.Equal(t, Closed, s.State())

	_, err = await(t, s.PublishAsync("com.example.hello", nil, nil, nil))
	require.ErrorIs(t, err, ErrConnectionLost)
}

func TestInvalidParameters(t *testing.T) {
	_, err := NewSession(Config{})
	require.ErrorIs(t, err, ErrInvalidParameters)
	_, err = NewSession(Config{Realm: "bad realm"})
	require.ErrorIs(t, err, ErrInvalidParameters)
	_, err = NewSession(Config{Realm: testRealm, CancelMode: "never"})
	require.ErrorIs(t, err, ErrInvalidParameters)
	_, err = NewSession(Config{
		Realm:       testRealm,
		Credentials: []auth.Credential{auth.SigningKeypair{}},
	})
	require.ErrorIs(t, err, ErrInvalidParameters)

	s, err := NewSession(testConfig())
	require.NoError(t, err)
	require.ErrorIs(t, s.Open(context.Background(), nil), ErrInvalidParameters)

	_, err = await(t, s.CallAsync("not a uri", nil, nil, nil))
	require.ErrorIs(t, err, ErrInvalidParameters)
	_, err = await(t, s.RegisterAsync("com.example.add2", nil, nil))
	require.ErrorIs(t, err, ErrInvalidParameters)
	_, err = await(t, s.SubscribeAsync("com..hello", func(Handle, *wamp.Event) {},
		wamp.Dict{wamp.OptMatch: wamp.MatchWildcard}))
	require.ErrorIs(t, err, ErrConnectionLost, "wildcard pattern is valid")
	_, err = await(t, s.SubscribeAsync("com..hello", func(Handle, *wamp.Event) {}, nil))
	require.ErrorIs(t, err, ErrInvalidParameters)
	_, err = await(t, s.UnsubscribeAsync(nil))
	require.ErrorIs(t, err, ErrInvalidParameters)

	// Not opened.
	_, err = await(t, s.CallAsync("com.example.add2", nil, nil, nil))
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, s.Close(), ErrAlreadyClosed)
	require.ErrorIs(t, s.Leave(context.Background(), ""), ErrNotEstablished)
	<-s.Done()
}

// stalledPeer fails every send once stalled, as a websocket peer does when
// its outbound queue stays full.
type stalledPeer struct {
	wamp.Peer
	stalled atomic.Bool
}

func (p *stalledPeer) Send(msg wamp.Message) error {
	if p.stalled.Load() {
		return transport.ErrSendTimeout
	}
	return p.Peer.Send(msg)
}

func TestSendFailureClosesSession(t *testing.T) {
	defer leaktest.Check(t)()
	s, err := NewSession(testConfig())
	require.NoError(t, err)
	cp, rp := transport.LinkedPeers()
	sp := &stalledPeer{Peer: cp}
	errc := openAsync(s, sp)
	recv[*wamp.Hello](t, rp)
	require.NoError(t, rp.Send(&wamp.Welcome{ID: 42, Details: wamp.Dict{}}))
	require.NoError(t, awaitOpen(t, errc))

	slow := s.CallAsync("com.example.slow", nil, nil, nil)
	recv[*wamp.Call](t, rp)

	sp.stalled.Store(true)
	_, err = await(t, s.CallAsync("com.example.add2", wamp.List{1, 2}, nil, nil))
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, err, transport.ErrSendTimeout)

	// The connection is closed, not just the one request.
	_, err = await(t, slow)
	require.ErrorIs(t, err, ErrConnectionLost)
	waitDone(t, s)
	require.Equal(t, Closed, s.State())

	_, err = await(t, s.PublishAsync("com.example.hello", nil, nil, nil))
	require.ErrorIs(t, err, ErrConnectionLost)
}
