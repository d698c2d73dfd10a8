package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/crossbario/crossbar/wamp"
)

// Request type answered by each response type.
var requestFor = map[wamp.MessageType]wamp.MessageType{
	wamp.RESULT:       wamp.CALL,
	wamp.REGISTERED:   wamp.REGISTER,
	wamp.UNREGISTERED: wamp.UNREGISTER,
	wamp.SUBSCRIBED:   wamp.SUBSCRIBE,
	wamp.UNSUBSCRIBED: wamp.UNSUBSCRIBE,
	wamp.PUBLISHED:    wamp.PUBLISH,
}

// pending correlates an outstanding request with its future.
type pending struct {
	kind wamp.MessageType
	uri  wamp.URI
	msg  wamp.Message

	settle func(wamp.Message)
	fail   func(error)
	// late handles the response to a request that was canceled.  Optional.
	late func(wamp.Message)
}

// dispatcher holds the request and handler tables of one connection.  It is
// only touched by the connection's run goroutine.
type dispatcher struct {
	idGen   wamp.IDGen
	pending map[wamp.ID]*pending
	// Canceled requests whose response has not arrived yet.
	abandoned map[wamp.ID]*pending

	registrations map[wamp.ID]*Registration
	// Registrations being unregistered.  Invocations for them are refused
	// rather than treated as a protocol violation.
	retiring map[wamp.ID]struct{}
	// The router gives every subscription of a session to the same topic
	// the same ID.
	subscriptions map[wamp.ID][]*Subscription
	// Kill switches of running invocations, by INVOCATION request ID.
	invocations map[wamp.ID]context.CancelFunc

	invocationPool *workerpool.WorkerPool
	// Single worker, so events are handled in the order they arrive.
	eventPool *workerpool.WorkerPool
}

func newDispatcher(maxInvocations int) dispatcher {
	return dispatcher{
		pending:        map[wamp.ID]*pending{},
		abandoned:      map[wamp.ID]*pending{},
		registrations:  map[wamp.ID]*Registration{},
		retiring:       map[wamp.ID]struct{}{},
		subscriptions:  map[wamp.ID][]*Subscription{},
		invocations:    map[wamp.ID]context.CancelFunc{},
		invocationPool: workerpool.New(maxInvocations),
		eventPool:      workerpool.New(1),
	}
}

// nextID returns a request ID that no outstanding request uses.
func (d *dispatcher) nextID() wamp.ID {
	return d.idGen.Next(func(id wamp.ID) bool {
		if _, ok := d.pending[id]; ok {
			return true
		}
		_, ok := d.abandoned[id]
		return ok
	})
}

// rejectAll fails every pending request with err and forgets every
// registration and subscription.
func (d *dispatcher) rejectAll(err error) {
	pend := d.pending
	d.pending = map[wamp.ID]*pending{}
	for _, p := range pend {
		p.fail(err)
	}
	d.abandoned = map[wamp.ID]*pending{}
	d.registrations = map[wamp.ID]*Registration{}
	d.retiring = map[wamp.ID]struct{}{}
	for _, subs := range d.subscriptions {
		for _, sub := range subs {
			sub.active.Store(false)
		}
	}
	d.subscriptions = map[wamp.ID][]*Subscription{}
	for _, cancel := range d.invocations {
		cancel()
	}
	d.invocations = map[wamp.ID]context.CancelFunc{}
}

// stopPools waits for running handlers to return and drops queued ones.
func (d *dispatcher) stopPools() {
	d.invocationPool.Stop()
	d.eventPool.Stop()
}

// request registers p under a new request ID and sends the message built by
// mk, or holds it until WELCOME if the session is still opening.
func (c *conn) request(p *pending, f interface{ setCancel(func()) bool }, mk func(wamp.ID) wamp.Message) {
	id := c.nextID()
	p.msg = mk(id)
	c.pending[id] = p
	if !f.setCancel(func() { c.do(func() { c.abandon(id) }) }) {
		delete(c.pending, id)
		return
	}
	if !c.established {
		c.queued = append(c.queued, p.msg)
		return
	}
	if err := c.send(p.msg); err != nil {
		// The transport cannot carry messages any more.  The request is
		// still pending, so teardown rejects it with the rest.
		c.teardown(fmt.Errorf("%w: sending %v: %w", ErrConnectionLost, p.kind, err))
	}
}

// abandon withdraws a canceled request.  A request that was sent is
// remembered so that its response can be discarded, and a call is canceled
// at the router.
func (c *conn) abandon(id wamp.ID) {
	p, ok := c.pending[id]
	if !ok {
		return
	}
	delete(c.pending, id)
	if !c.established {
		for i := range c.queued {
			if c.queued[i] == p.msg {
				c.queued = append(c.queued[:i], c.queued[i+1:]...)
				break
			}
		}
		return
	}
	c.abandoned[id] = p
	if p.kind == wamp.CALL {
		c.send(&wamp.Cancel{
			Request: id,
			Options: wamp.SetOption(nil, wamp.OptMode, c.s.cfg.CancelMode),
		})
	}
}

// handle dispatches a message received on an established session.
func (c *conn) handle(msg wamp.Message) {
	switch msg := msg.(type) {
	case *wamp.Event:
		c.handleEvent(msg)
	case *wamp.Invocation:
		c.handleInvocation(msg)
	case *wamp.Interrupt:
		c.handleInterrupt(msg)
	case *wamp.Result, *wamp.Registered, *wamp.Unregistered,
		*wamp.Subscribed, *wamp.Unsubscribed, *wamp.Published, *wamp.Error:
		c.handleResponse(msg)
	case *wamp.Goodbye:
		c.leaveAck(msg)
	case *wamp.Abort:
		c.s.log.Println("Session aborted by router:", msg.Reason)
		c.s.setGoodbye(msg.Reason)
		c.teardown(&AbortError{Reason: msg.Reason, Details: msg.Details})
	default:
		c.violation(fmt.Errorf("%w: unexpected %v", ErrProtocolViolation,
			msg.MessageType()))
	}
}

func (c *conn) violation(err error) {
	c.fail(wamp.ErrProtocolViolation, err)
}

func (c *conn) handleResponse(msg wamp.Message) {
	id, _ := wamp.RequestID(msg)
	errMsg, isErr := msg.(*wamp.Error)
	reqType := requestFor[msg.MessageType()]
	if isErr {
		reqType = errMsg.Type
	}

	p, ok := c.pending[id]
	if !ok {
		if p, ok = c.abandoned[id]; ok && p.kind == reqType {
			delete(c.abandoned, id)
			if c.s.debug {
				c.s.log.Println("Discarding", msg.MessageType(),
					"for canceled request", id)
			}
			if p.late != nil {
				p.late(msg)
			}
			return
		}
		c.violation(fmt.Errorf("%w: %v for unknown request %v",
			ErrProtocolViolation, msg.MessageType(), id))
		return
	}
	if p.kind != reqType {
		c.violation(fmt.Errorf("%w: %v answers %v request %v",
			ErrProtocolViolation, msg.MessageType(), p.kind, id))
		return
	}
	delete(c.pending, id)
	if isErr {
		p.fail(&OpError{Request: p.kind, URI: p.uri, Err: errMsg})
		return
	}
	p.settle(msg)
}

func (c *conn) handleInvocation(msg *wamp.Invocation) {
	reg, ok := c.registrations[msg.Registration]
	if !ok {
		if _, ok = c.retiring[msg.Registration]; ok {
			c.send(&wamp.Error{
				Type:    wamp.INVOCATION,
				Request: msg.Request,
				Details: wamp.Dict{},
				Error:   wamp.ErrNoSuchRegistration,
			})
			return
		}
		c.violation(fmt.Errorf("%w: INVOCATION for unknown registration %v",
			ErrProtocolViolation, msg.Registration))
		return
	}

	// Create a kill switch so that the invocation can be canceled.
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout := wamp.OptionInt64(msg.Details, wamp.OptTimeout); timeout > 0 {
		// The caller specified a timeout, in milliseconds.
		ctx, cancel = context.WithTimeout(c.ctx,
			time.Duration(timeout)*time.Millisecond)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	c.invocations[msg.Request] = cancel

	c.invocationPool.Submit(func() {
		defer cancel()
		if c.isClosing() {
			return
		}
		reply := c.invoke(ctx, reg.handler, msg)
		c.do(func() {
			// A missing kill switch means the router interrupted with
			// "killnowait" and does not want a reply.
			if _, ok := c.invocations[msg.Request]; !ok {
				return
			}
			delete(c.invocations, msg.Request)
			c.send(reply)
		})
	})
}

// invoke runs the handler and builds the YIELD or ERROR to send back.
func (c *conn) invoke(ctx context.Context, fn InvocationHandler, msg *wamp.Invocation) (reply wamp.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.s.log.Println("Invocation handler panic:", r)
			reply = &wamp.Error{
				Type:      wamp.INVOCATION,
				Request:   msg.Request,
				Details:   wamp.Dict{},
				Error:     wamp.ErrRuntimeError,
				Arguments: wamp.List{fmt.Sprint(r)},
			}
		}
	}()

	res, err := fn(ctx, c.s, msg)
	if err != nil {
		rsp := &wamp.Error{
			Type:    wamp.INVOCATION,
			Request: msg.Request,
			Details: wamp.Dict{},
		}
		var ie *InvokeError
		switch {
		case errors.As(err, &ie):
			rsp.Error = ie.URI
			rsp.Arguments = ie.Args
			rsp.ArgumentsKw = ie.Kwargs
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			rsp.Error = wamp.ErrCanceled
		default:
			rsp.Error = wamp.ErrRuntimeError
			rsp.Arguments = wamp.List{err.Error()}
		}
		return rsp
	}
	if res == nil {
		res = &InvokeResult{}
	}
	return &wamp.Yield{
		Request:     msg.Request,
		Options:     wamp.Dict{},
		Arguments:   res.Args,
		ArgumentsKw: res.Kwargs,
	}
}

// handleInterrupt processes an INTERRUPT message from the router requesting
// that a running invocation be canceled.
func (c *conn) handleInterrupt(msg *wamp.Interrupt) {
	cancel, ok := c.invocations[msg.Request]
	if !ok {
		c.s.log.Print("Received INTERRUPT for invocation that no longer exists")
		return
	}
	// If the interrupt mode is "killnowait", then the router is not waiting
	// for a response, so do not send one.  This is indicated by deleting the
	// kill switch early.
	if wamp.OptionString(msg.Options, wamp.OptMode) == wamp.CancelModeKillNoWait {
		delete(c.invocations, msg.Request)
	}
	cancel()
}

// handleEvent queues the event for every local subscription it matches.  An
// event for an unknown subscription is one that arrived after unsubscribing,
// and is ignored.
func (c *conn) handleEvent(msg *wamp.Event) {
	subs := c.subscriptions[msg.Subscription]
	if len(subs) == 0 {
		if c.s.debug {
			c.s.log.Println("No handler for subscription", msg.Subscription)
		}
		return
	}
	subs = append([]*Subscription(nil), subs...)
	c.eventPool.Submit(func() {
		for _, sub := range subs {
			if c.isClosing() {
				return
			}
			if sub.active.Load() {
				c.deliver(sub, msg)
			}
		}
	})
}

func (c *conn) deliver(sub *Subscription, msg *wamp.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.s.log.Println("Event handler panic:", sub.Topic, r)
		}
	}()
	sub.handler(c.s, msg)
}
