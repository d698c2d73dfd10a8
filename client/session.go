/*
Package client provides a WAMP client session.

A Session joins a realm on a router over any wamp.Peer, authenticating with
WAMP-CRA or WAMP-cryptosign when the router asks for it.  Once established,
the session calls and registers procedures, and publishes and subscribes to
topics.

Every request returns a Future that settles exactly once.  The blocking
variants (Call, Register, ...) await the future and cancel it when their
context is done.

Each session runs one goroutine that owns all of its request and handler
tables.  Invocation handlers run on a bounded worker pool, and event
handlers run one at a time in the order the events arrived, so handlers may
freely make further requests on the session.
*/
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crossbario/crossbar/auth"
	"github.com/crossbario/crossbar/stdlog"
	"github.com/crossbario/crossbar/wamp"
)

// State is the lifecycle state of a session.
type State int32

const (
	// Idle is the state of a session that was never opened.
	Idle State = iota
	// Connecting means HELLO was sent and no CHALLENGE was seen yet.
	Connecting
	// Authenticating means the client offered authentication methods and is
	// waiting for the handshake to complete.
	Authenticating
	// Established means the router welcomed the session.
	Established
	// Closing means GOODBYE was sent or received.
	Closing
	// Closed is final for a connection.  The session may be opened again on
	// a new peer.
	Closed
)

var stateNames = [...]string{"idle", "connecting", "authenticating",
	"established", "closing", "closed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

// Session is a WAMP client session.  All methods are safe for concurrent
// use.
type Session struct {
	cfg   Config
	log   stdlog.StdLog
	debug bool

	state atomic.Int32

	mu       sync.Mutex
	conn     *conn
	id       wamp.ID
	identity auth.Identity
	details  wamp.Dict
	goodbye  wamp.URI
}

// conn is the session's state for one peer.  Everything not documented
// otherwise is owned by the run goroutine.
type conn struct {
	s    *Session
	peer wamp.Peer

	// Requests from other goroutines run on the run goroutine.
	actionChan chan func()
	// Closed by teardown.  Safe to wait on from any goroutine.
	closing chan struct{}
	// Closed when the run goroutine exits.
	done chan struct{}
	// Receives the outcome of the opening handshake, exactly once.
	joined chan error

	// Parent of every invocation context.  Canceled by teardown.
	ctx    context.Context
	cancel context.CancelFunc
	// Bounds the challenge handler.  Safe to cancel from any goroutine.
	hsCtx    context.Context
	hsCancel context.CancelFunc

	authn       *auth.Authenticator
	established bool
	closed      bool
	queued      []wamp.Message

	goodbyeTimer *time.Timer
	goodbyeC     <-chan time.Time

	dispatcher
}

// NewSession validates cfg and returns an idle session.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:   cfg,
		log:   cfg.Logger,
		debug: cfg.Debug,
	}, nil
}

// Open joins the configured realm over peer and blocks until the session is
// established or the handshake fails.
//
// Unless Open fails with ErrAlreadyOpen or ErrInvalidParameters, the session
// takes ownership of peer and closes it when the session closes, including
// when the handshake fails.  If the router aborts the handshake, the
// returned error is an *AbortError.  If ctx has no deadline, the handshake is
// bounded by Config.ResponseTimeout.
func (s *Session) Open(ctx context.Context, peer wamp.Peer) error {
	if peer == nil {
		return fmt.Errorf("%w: nil peer", ErrInvalidParameters)
	}

	s.mu.Lock()
	switch s.State() {
	case Idle, Closed:
	default:
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	ac := s.cfg.authConfig()
	authn := auth.NewAuthenticator(ac)
	c := newConn(s, peer, authn)
	s.conn = c
	s.id = 0
	s.identity = auth.Identity{}
	s.details = nil
	s.goodbye = ""
	s.setState(Connecting)
	s.mu.Unlock()

	hello := &wamp.Hello{
		Realm:   wamp.URI(s.cfg.Realm),
		Details: s.cfg.helloDetails(authn),
	}
	go c.run(hello, len(ac.Methods) != 0)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ResponseTimeout)
		defer cancel()
	}

	select {
	case err := <-c.joined:
		return err
	case <-ctx.Done():
	}

	// Stop a challenge handler that may be blocking the run goroutine.
	c.hsCancel()
	err := fmt.Errorf("%w: opening session: %w", ErrConnectionLost, ctx.Err())
	c.do(func() {
		if !c.established {
			c.teardown(err)
		}
	})
	return <-c.joined
}

func newConn(s *Session, peer wamp.Peer, authn *auth.Authenticator) *conn {
	c := &conn{
		s:          s,
		peer:       peer,
		actionChan: make(chan func()),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		joined:     make(chan error, 1),
		authn:      authn,
		dispatcher: newDispatcher(s.cfg.MaxInvocations),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.hsCtx, c.hsCancel = context.WithCancel(context.Background())
	return c
}

// Leave sends GOODBYE with reason and waits for the router's reply, for
// Config.GoodbyeTimeout, or for ctx to be done, whichever comes first.  The
// session is closed when Leave returns.  An empty reason sends
// wamp.close.close_realm.
func (s *Session) Leave(ctx context.Context, reason wamp.URI) error {
	if reason == "" {
		reason = wamp.CloseRealm
	}
	c := s.current()
	if c == nil {
		return ErrNotEstablished
	}
	var err error
	if !c.do(func() {
		if c.closed {
			err = ErrAlreadyClosed
			return
		}
		if !c.established {
			err = ErrNotEstablished
			return
		}
		if c.s.State() == Closing {
			return
		}
		c.s.setState(Closing)
		c.s.setGoodbye(reason)
		if sendErr := c.send(&wamp.Goodbye{
			Details: wamp.Dict{},
			Reason:  reason,
		}); sendErr != nil {
			c.teardown(fmt.Errorf("%w: %w", ErrConnectionLost, sendErr))
			return
		}
		c.goodbyeTimer = time.NewTimer(c.s.cfg.GoodbyeTimeout)
		c.goodbyeC = c.goodbyeTimer.C
	}) {
		return ErrAlreadyClosed
	}
	if err != nil {
		return err
	}

	select {
	case <-c.closing:
		return nil
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// Close closes the session without waiting for the router.  Every pending
// request is rejected with ErrConnectionLost and all registrations and
// subscriptions are dropped before Close returns.
func (s *Session) Close() error {
	c := s.current()
	if c == nil {
		return ErrAlreadyClosed
	}
	var closed bool
	if !c.do(func() {
		if c.closed {
			closed = true
			return
		}
		c.teardown(fmt.Errorf("%w: session closed", ErrConnectionLost))
	}) || closed {
		return ErrAlreadyClosed
	}
	return nil
}

// ID returns the session ID assigned by the router, or 0 if the session is
// not established.
func (s *Session) ID() wamp.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Realm returns the configured realm.
func (s *Session) Realm() string { return s.cfg.Realm }

// Identity returns the identity granted by the router in WELCOME.
func (s *Session) Identity() auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Details returns the WELCOME details.
func (s *Session) Details() wamp.Dict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.details
}

// Goodbye returns the reason the session was left with, or the ABORT or
// GOODBYE reason sent by the router.  Empty while the session is open.
func (s *Session) Goodbye() wamp.URI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goodbye
}

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done returns a channel that is closed when the current connection has
// closed and every handler it started has returned.
func (s *Session) Done() <-chan struct{} {
	if c := s.current(); c != nil {
		return c.done
	}
	done := make(chan struct{})
	close(done)
	return done
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) setGoodbye(reason wamp.URI) {
	s.mu.Lock()
	s.goodbye = reason
	s.mu.Unlock()
}

func (s *Session) current() *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// do runs fn on the run goroutine and waits for it to finish.  It returns
// false, without running fn, if the connection is closed.
func (c *conn) do(fn func()) bool {
	ran := make(chan struct{})
	select {
	case c.actionChan <- func() { fn(); close(ran) }:
	case <-c.closing:
		return false
	}
	<-ran
	return true
}

// isClosing reports whether teardown has run.  Safe from any goroutine.
func (c *conn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *conn) send(msg wamp.Message) error {
	if c.s.debug {
		c.s.log.Println("Session", c.s.ID(), "sending", msg.MessageType())
	}
	return c.peer.Send(msg)
}

// run handles messages from the router and actions from other goroutines
// until the connection closes.
func (c *conn) run(hello *wamp.Hello, authenticate bool) {
	defer close(c.done)
	defer c.stopPools()

	if authenticate {
		c.s.setState(Authenticating)
	}
	if err := c.send(hello); err != nil {
		c.teardown(fmt.Errorf("%w: sending HELLO: %w", ErrConnectionLost, err))
		return
	}

	recv := c.peer.Recv()
	for !c.closed {
		select {
		case msg, open := <-recv:
			if !open {
				c.s.log.Print("Peer closed connection")
				c.teardown(fmt.Errorf("%w: transport closed", ErrConnectionLost))
				break
			}
			if c.s.debug {
				c.s.log.Println("Session", c.s.ID(), "received", msg.MessageType())
			}
			if c.established {
				c.handle(msg)
			} else {
				c.handshake(msg)
			}
		case action := <-c.actionChan:
			action()
		case <-c.goodbyeC:
			c.s.log.Print("Timeout waiting for GOODBYE from router")
			c.teardown(fmt.Errorf("%w: session left", ErrConnectionLost))
		}
	}
	if c.s.debug {
		c.s.log.Println("Session closed:", c.s.Goodbye())
	}
}

// handshake handles a message received before WELCOME.
func (c *conn) handshake(msg wamp.Message) {
	switch msg := msg.(type) {
	case *wamp.Challenge:
		c.s.setState(Authenticating)
		authMsg, err := c.authn.Challenge(c.hsCtx, msg)
		if err != nil {
			reason := wamp.ErrCannotAuthenticate
			if errors.Is(err, ErrProtocolViolation) {
				reason = wamp.ErrProtocolViolation
			}
			c.fail(reason, err)
			return
		}
		if err = c.send(authMsg); err != nil {
			c.teardown(fmt.Errorf("%w: sending AUTHENTICATE: %w",
				ErrConnectionLost, err))
		}

	case *wamp.Welcome:
		if msg.ID == 0 {
			c.fail(wamp.ErrProtocolViolation,
				fmt.Errorf("%w: WELCOME without session ID", ErrProtocolViolation))
			return
		}
		identity, err := c.authn.Welcome(msg)
		if err != nil {
			c.fail(wamp.ErrProtocolViolation, err)
			return
		}
		c.s.mu.Lock()
		c.s.id = msg.ID
		c.s.identity = identity
		c.s.details = msg.Details
		c.s.mu.Unlock()
		c.s.setState(Established)
		c.established = true
		c.hsCancel()
		c.joined <- nil

		queued := c.queued
		c.queued = nil
		for _, m := range queued {
			if err = c.send(m); err != nil {
				c.teardown(fmt.Errorf("%w: %w", ErrConnectionLost, err))
				return
			}
		}

	case *wamp.Abort:
		c.s.setGoodbye(msg.Reason)
		c.teardown(&AbortError{Reason: msg.Reason, Details: msg.Details})

	default:
		c.fail(wamp.ErrProtocolViolation, fmt.Errorf(
			"%w: unexpected %v during handshake", ErrProtocolViolation,
			msg.MessageType()))
	}
}

// fail sends ABORT with reason and closes the connection.
func (c *conn) fail(reason wamp.URI, err error) {
	c.s.log.Println("Aborting session:", err)
	c.s.setGoodbye(reason)
	c.send(&wamp.Abort{
		Details: wamp.Dict{wamp.OptMessage: err.Error()},
		Reason:  reason,
	})
	c.teardown(err)
}

// teardown closes the connection.  Pending requests are rejected with an
// error wrapping cause and ErrConnectionLost.  Open receives cause itself if
// the session was never established.
func (c *conn) teardown(cause error) {
	if c.closed {
		return
	}
	c.closed = true
	if c.goodbyeTimer != nil {
		c.goodbyeTimer.Stop()
		c.goodbyeC = nil
	}
	c.s.setState(Closed)

	lost := cause
	if !errors.Is(cause, ErrConnectionLost) {
		lost = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	}
	c.rejectAll(lost)
	c.queued = nil

	c.hsCancel()
	c.cancel()
	c.peer.Close()
	close(c.closing)
	if !c.established {
		c.joined <- cause
	}
}

// leaveAck answers the router's GOODBYE and closes the connection.
func (c *conn) leaveAck(msg *wamp.Goodbye) {
	if c.s.State() == Closing {
		// Reply to our GOODBYE.
		c.teardown(fmt.Errorf("%w: session left", ErrConnectionLost))
		return
	}
	c.s.setState(Closing)
	c.s.setGoodbye(msg.Reason)
	c.send(&wamp.Goodbye{
		Details: wamp.Dict{},
		Reason:  wamp.CloseGoodbyeAndOut,
	})
	c.teardown(fmt.Errorf("%w: router closed session: %s", ErrConnectionLost,
		msg.Reason))
}
