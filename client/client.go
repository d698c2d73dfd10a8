package client

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/crossbario/crossbar/wamp"
)

// InvokeResult represents the result of invoking a procedure.
type InvokeResult struct {
	Args   wamp.List
	Kwargs wamp.Dict
}

// InvocationHandler handles a call to a procedure the session registered.
//
// The context is canceled when the router interrupts the call, when the
// caller's timeout expires, or when the session closes.  Returning an
// *InvokeError answers the call with that error URI.  Any other error, or a
// panic, answers it with wamp.error.runtime_error.
type InvocationHandler func(ctx context.Context, h Handle, inv *wamp.Invocation) (*InvokeResult, error)

// EventHandler handles an event published to a topic the session subscribed
// to.  Event handlers of a session run one at a time, in the order the
// events arrived.
type EventHandler func(h Handle, ev *wamp.Event)

// Handle is what handlers are given to act on the session that invoked
// them.
type Handle interface {
	ID() wamp.ID
	CallAsync(procedure string, args wamp.List, kwargs wamp.Dict, options wamp.Dict) *Future[*wamp.Result]
	Call(ctx context.Context, procedure string, args wamp.List, kwargs wamp.Dict, options wamp.Dict) (*wamp.Result, error)
	PublishAsync(topic string, args wamp.List, kwargs wamp.Dict, options wamp.Dict) *Future[wamp.ID]
	Publish(ctx context.Context, topic string, args wamp.List, kwargs wamp.Dict, options wamp.Dict) (wamp.ID, error)
}

var _ Handle = (*Session)(nil)

// Registration is a procedure registered by the session.
type Registration struct {
	ID        wamp.ID
	Procedure wamp.URI

	handler InvocationHandler
}

// Subscription is a subscription of the session to a topic.
type Subscription struct {
	ID    wamp.ID
	Topic wamp.URI

	handler EventHandler
	active  atomic.Bool
}

// submit runs fn on the session's run goroutine with a new future.  The
// future is rejected with ErrConnectionLost if the session is not open or is
// closing.
func submit[T any](s *Session, fn func(c *conn, f *Future[T])) *Future[T] {
	c := s.current()
	if c == nil {
		return failedFuture[T](fmt.Errorf("%w: session not open", ErrConnectionLost))
	}
	f := newFuture[T]()
	if !c.do(func() {
		if c.closed || s.State() == Closing {
			f.reject(fmt.Errorf("%w: session closing", ErrConnectionLost))
			return
		}
		fn(c, f)
	}) {
		f.reject(fmt.Errorf("%w: session closed", ErrConnectionLost))
	}
	return f
}

// checkURI fails if uri is not valid for the match policy in options.
func checkURI(uri string, options wamp.Dict) error {
	valid := wamp.URI(uri).ValidURI(false)
	if !valid && wamp.OptionString(options, wamp.OptMatch) == wamp.MatchWildcard {
		// Wildcard patterns use empty components.
		valid = uri != "" && !strings.ContainsAny(uri, " \t\r\n#")
	}
	if !valid {
		return fmt.Errorf("%w: invalid URI %q", ErrInvalidParameters, uri)
	}
	return nil
}

// CallAsync calls the procedure and returns a future for its result.
//
// A call made before the session is established is sent once it is.
// Canceling the future sends CANCEL to the router with Config.CancelMode.
//
// # Options
//
// To have the router cancel the call after a time, in milliseconds:
//
//	options["timeout"] = 3000
func (s *Session) CallAsync(procedure string, args wamp.List, kwargs wamp.Dict, options wamp.Dict) *Future[*wamp.Result] {
	if err := checkURI(procedure, nil); err != nil {
		return failedFuture[*wamp.Result](err)
	}
	options = options.Copy()
	return submit(s, func(c *conn, f *Future[*wamp.Result]) {
		c.request(&pending{
			kind: wamp.CALL,
			uri:  wamp.URI(procedure),
			settle: func(msg wamp.Message) {
				f.resolve(msg.(*wamp.Result))
			},
			fail: func(err error) { f.reject(err) },
		}, f, func(id wamp.ID) wamp.Message {
			return &wamp.Call{
				Request:     id,
				Options:     options,
				Procedure:   wamp.URI(procedure),
				Arguments:   args,
				ArgumentsKw: kwargs,
			}
		})
	})
}

// Call calls the procedure and waits for the result.  If ctx is done first,
// the call is canceled.
//
// An error returned by the callee or the router is an *OpError.
func (s *Session) Call(ctx context.Context, procedure string, args wamp.List, kwargs wamp.Dict, options wamp.Dict) (*wamp.Result, error) {
	return s.CallAsync(procedure, args, kwargs, options).Await(ctx)
}

// RegisterAsync registers fn to handle calls to the procedure.
//
// # Options
//
// To request a pattern-based registration set:
//
//	options["match"] = "prefix" or "wildcard"
//
// To request a shared registration pattern set:
//
//	options["invoke"] = "single", "roundrobin", "random", "first", "last"
func (s *Session) RegisterAsync(procedure string, fn InvocationHandler, options wamp.Dict) *Future[*Registration] {
	if fn == nil {
		return failedFuture[*Registration](fmt.Errorf(
			"%w: nil invocation handler", ErrInvalidParameters))
	}
	if err := checkURI(procedure, options); err != nil {
		return failedFuture[*Registration](err)
	}
	options = options.Copy()
	return submit(s, func(c *conn, f *Future[*Registration]) {
		c.request(&pending{
			kind: wamp.REGISTER,
			uri:  wamp.URI(procedure),
			settle: func(msg wamp.Message) {
				regID := msg.(*wamp.Registered).Registration
				if err := c.checkRegistrationID(regID); err != nil {
					c.violation(err)
					f.reject(fmt.Errorf("%w: %w", ErrConnectionLost, err))
					return
				}
				reg := &Registration{
					ID:        regID,
					Procedure: wamp.URI(procedure),
					handler:   fn,
				}
				c.registrations[reg.ID] = reg
				if !f.resolve(reg) {
					// Canceled after the response arrived.
					c.unregisterLate(reg.ID)
				}
			},
			fail: func(err error) { f.reject(err) },
			late: func(msg wamp.Message) {
				if reg, ok := msg.(*wamp.Registered); ok {
					c.unregisterLate(reg.Registration)
				}
			},
		}, f, func(id wamp.ID) wamp.Message {
			return &wamp.Register{
				Request:   id,
				Options:   options,
				Procedure: wamp.URI(procedure),
			}
		})
	})
}

// Register registers fn to handle calls to the procedure and waits for the
// router to confirm.
func (s *Session) Register(ctx context.Context, procedure string, fn InvocationHandler, options wamp.Dict) (*Registration, error) {
	return s.RegisterAsync(procedure, fn, options).Await(ctx)
}

// checkRegistrationID fails if the router gave out a registration ID that is
// still in use by this session.
func (c *conn) checkRegistrationID(regID wamp.ID) error {
	if _, ok := c.registrations[regID]; ok {
		return fmt.Errorf("%w: registration ID %v already in use",
			ErrProtocolViolation, regID)
	}
	if _, ok := c.retiring[regID]; ok {
		return fmt.Errorf("%w: registration ID %v is being unregistered",
			ErrProtocolViolation, regID)
	}
	return nil
}

// unregisterLate drops a registration nobody is waiting for.
func (c *conn) unregisterLate(regID wamp.ID) {
	delete(c.registrations, regID)
	c.retiring[regID] = struct{}{}
	id := c.nextID()
	p := &pending{
		kind: wamp.UNREGISTER,
		msg:  &wamp.Unregister{Request: id, Registration: regID},
		late: func(wamp.Message) { delete(c.retiring, regID) },
	}
	c.abandoned[id] = p
	c.send(p.msg)
}

// UnregisterAsync removes the registration.  Invocations that arrive after
// UnregisterAsync returns are refused.  Unregistering a registration that is
// not active fails with ErrNotRegistered.
func (s *Session) UnregisterAsync(reg *Registration) *Future[struct{}] {
	if reg == nil {
		return failedFuture[struct{}](fmt.Errorf("%w: nil registration",
			ErrInvalidParameters))
	}
	return submit(s, func(c *conn, f *Future[struct{}]) {
		if c.registrations[reg.ID] != reg {
			f.reject(fmt.Errorf("%w: %s", ErrNotRegistered, reg.Procedure))
			return
		}
		delete(c.registrations, reg.ID)
		c.retiring[reg.ID] = struct{}{}
		retired := func() { delete(c.retiring, reg.ID) }
		c.request(&pending{
			kind: wamp.UNREGISTER,
			uri:  reg.Procedure,
			settle: func(wamp.Message) {
				retired()
				f.resolve(struct{}{})
			},
			fail: func(err error) {
				retired()
				f.reject(err)
			},
			late: func(wamp.Message) { retired() },
		}, f, func(id wamp.ID) wamp.Message {
			return &wamp.Unregister{Request: id, Registration: reg.ID}
		})
	})
}

// Unregister removes the registration and waits for the router to confirm.
func (s *Session) Unregister(ctx context.Context, reg *Registration) error {
	_, err := s.UnregisterAsync(reg).Await(ctx)
	return err
}

// SubscribeAsync subscribes fn to the topic.
//
// # Options
//
// To request a pattern-based subscription set:
//
//	options["match"] = "prefix" or "wildcard"
func (s *Session) SubscribeAsync(topic string, fn EventHandler, options wamp.Dict) *Future[*Subscription] {
	if fn == nil {
		return failedFuture[*Subscription](fmt.Errorf(
			"%w: nil event handler", ErrInvalidParameters))
	}
	if err := checkURI(topic, options); err != nil {
		return failedFuture[*Subscription](err)
	}
	options = options.Copy()
	return submit(s, func(c *conn, f *Future[*Subscription]) {
		c.request(&pending{
			kind: wamp.SUBSCRIBE,
			uri:  wamp.URI(topic),
			settle: func(msg wamp.Message) {
				sub := &Subscription{
					ID:      msg.(*wamp.Subscribed).Subscription,
					Topic:   wamp.URI(topic),
					handler: fn,
				}
				if !f.resolve(sub) {
					c.unsubscribeLate(sub.ID)
					return
				}
				sub.active.Store(true)
				c.subscriptions[sub.ID] = append(c.subscriptions[sub.ID], sub)
			},
			fail: func(err error) { f.reject(err) },
			late: func(msg wamp.Message) {
				if sub, ok := msg.(*wamp.Subscribed); ok {
					c.unsubscribeLate(sub.Subscription)
				}
			},
		}, f, func(id wamp.ID) wamp.Message {
			return &wamp.Subscribe{
				Request: id,
				Options: options,
				Topic:   wamp.URI(topic),
			}
		})
	})
}

// Subscribe subscribes fn to the topic and waits for the router to confirm.
func (s *Session) Subscribe(ctx context.Context, topic string, fn EventHandler, options wamp.Dict) (*Subscription, error) {
	return s.SubscribeAsync(topic, fn, options).Await(ctx)
}

// unsubscribeLate drops a subscription nobody is waiting for, unless another
// local subscription shares its ID.
func (c *conn) unsubscribeLate(subID wamp.ID) {
	if len(c.subscriptions[subID]) != 0 {
		return
	}
	id := c.nextID()
	p := &pending{kind: wamp.UNSUBSCRIBE}
	p.msg = &wamp.Unsubscribe{Request: id, Subscription: subID}
	c.abandoned[id] = p
	c.send(p.msg)
}

// UnsubscribeAsync removes the subscription.  Its handler is not called
// again once UnsubscribeAsync returns.  The router is only told when no other
// subscription of this session shares the subscription ID.  Unsubscribing a
// subscription that is not active fails with ErrNotSubscribed.
func (s *Session) UnsubscribeAsync(sub *Subscription) *Future[struct{}] {
	if sub == nil {
		return failedFuture[struct{}](fmt.Errorf("%w: nil subscription",
			ErrInvalidParameters))
	}
	return submit(s, func(c *conn, f *Future[struct{}]) {
		subs := c.subscriptions[sub.ID]
		i := 0
		for i < len(subs) && subs[i] != sub {
			i++
		}
		if i == len(subs) {
			f.reject(fmt.Errorf("%w: %s", ErrNotSubscribed, sub.Topic))
			return
		}
		sub.active.Store(false)
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) != 0 {
			c.subscriptions[sub.ID] = subs
			f.resolve(struct{}{})
			return
		}
		delete(c.subscriptions, sub.ID)
		c.request(&pending{
			kind:   wamp.UNSUBSCRIBE,
			uri:    sub.Topic,
			settle: func(wamp.Message) { f.resolve(struct{}{}) },
			fail:   func(err error) { f.reject(err) },
		}, f, func(id wamp.ID) wamp.Message {
			return &wamp.Unsubscribe{Request: id, Subscription: sub.ID}
		})
	})
}

// Unsubscribe removes the subscription and waits for the router to confirm.
func (s *Session) Unsubscribe(ctx context.Context, sub *Subscription) error {
	_, err := s.UnsubscribeAsync(sub).Await(ctx)
	return err
}

// PublishAsync publishes an event to the topic.
//
// Unless options["acknowledge"] is true, the returned future is already
// resolved with publication ID 0 and nothing is tracked.  With
// acknowledgement, the future resolves to the publication ID when the router
// confirms.
//
// # Options
//
// To receive the publication ID, or an error if publishing failed:
//
//	options["acknowledge"] = true
//
// To have the publisher receive the event when subscribed to the topic:
//
//	options["exclude_me"] = false
func (s *Session) PublishAsync(topic string, args wamp.List, kwargs wamp.Dict, options wamp.Dict) *Future[wamp.ID] {
	if err := checkURI(topic, nil); err != nil {
		return failedFuture[wamp.ID](err)
	}
	options = options.Copy()
	mk := func(id wamp.ID) wamp.Message {
		return &wamp.Publish{
			Request:     id,
			Options:     options,
			Topic:       wamp.URI(topic),
			Arguments:   args,
			ArgumentsKw: kwargs,
		}
	}

	if !wamp.OptionFlag(options, wamp.OptAcknowledge) {
		return submit(s, func(c *conn, f *Future[wamp.ID]) {
			msg := mk(c.nextID())
			if !c.established {
				c.queued = append(c.queued, msg)
			} else if err := c.send(msg); err != nil {
				err = fmt.Errorf("%w: sending PUBLISH: %w", ErrConnectionLost, err)
				c.teardown(err)
				f.reject(err)
				return
			}
			f.resolve(0)
		})
	}

	return submit(s, func(c *conn, f *Future[wamp.ID]) {
		c.request(&pending{
			kind: wamp.PUBLISH,
			uri:  wamp.URI(topic),
			settle: func(msg wamp.Message) {
				f.resolve(msg.(*wamp.Published).Publication)
			},
			fail: func(err error) { f.reject(err) },
		}, f, mk)
	})
}

// Publish publishes an event to the topic.  With acknowledgement it waits
// for the router to confirm and returns the publication ID.
func (s *Session) Publish(ctx context.Context, topic string, args wamp.List, kwargs wamp.Dict, options wamp.Dict) (wamp.ID, error) {
	return s.PublishAsync(topic, args, kwargs, options).Await(ctx)
}
