/*
Package wamp defines the message envelopes, data types, and reserved URI values
that a client session exchanges with a WAMP router.

Every message is a positional array on the wire, [TYPE, field1, field2, ...].
The structs here list their fields in wire order, so a serializer can convert
between the two shapes without knowing about individual message types.

*/
package wamp

import "strconv"

// MessageType is the integer code in the first position of an envelope.
type MessageType int

// Message is a generic container for a WAMP message.
type Message interface {
	MessageType() MessageType
}

// Dict is a dictionary that maps keys to objects in a WAMP message.
type Dict map[string]interface{}

// List represents a list of items in a WAMP message.
type List []interface{}

// Message codes.  The direction columns are from the point of view of the
// client session.
const (
	//                              // | Sent | Recv |
	HELLO        MessageType = 1  //   | x    |      |
	WELCOME      MessageType = 2  //   |      | x    |
	ABORT        MessageType = 3  //   | x    | x    |
	CHALLENGE    MessageType = 4  //   |      | x    |
	AUTHENTICATE MessageType = 5  //   | x    |      |
	GOODBYE      MessageType = 6  //   | x    | x    |
	ERROR        MessageType = 8  //   | x    | x    |
	PUBLISH      MessageType = 16 //   | x    |      |
	PUBLISHED    MessageType = 17 //   |      | x    |
	SUBSCRIBE    MessageType = 32 //   | x    |      |
	SUBSCRIBED   MessageType = 33 //   |      | x    |
	UNSUBSCRIBE  MessageType = 34 //   | x    |      |
	UNSUBSCRIBED MessageType = 35 //   |      | x    |
	EVENT        MessageType = 36 //   |      | x    |
	CALL         MessageType = 48 //   | x    |      |
	CANCEL       MessageType = 49 //   | x    |      |
	RESULT       MessageType = 50 //   |      | x    |
	REGISTER     MessageType = 64 //   | x    |      |
	REGISTERED   MessageType = 65 //   |      | x    |
	UNREGISTER   MessageType = 66 //   | x    |      |
	UNREGISTERED MessageType = 67 //   |      | x    |
	INVOCATION   MessageType = 68 //   |      | x    |
	INTERRUPT    MessageType = 69 //   |      | x    |
	YIELD        MessageType = 70 //   | x    |      |
)

var mtStrings = map[MessageType]string{
	HELLO:        "HELLO",
	WELCOME:      "WELCOME",
	ABORT:        "ABORT",
	CHALLENGE:    "CHALLENGE",
	AUTHENTICATE: "AUTHENTICATE",
	GOODBYE:      "GOODBYE",
	ERROR:        "ERROR",
	PUBLISH:      "PUBLISH",
	PUBLISHED:    "PUBLISHED",
	SUBSCRIBE:    "SUBSCRIBE",
	SUBSCRIBED:   "SUBSCRIBED",
	UNSUBSCRIBE:  "UNSUBSCRIBE",
	UNSUBSCRIBED: "UNSUBSCRIBED",
	EVENT:        "EVENT",
	CALL:         "CALL",
	CANCEL:       "CANCEL",
	RESULT:       "RESULT",
	REGISTER:     "REGISTER",
	REGISTERED:   "REGISTERED",
	UNREGISTER:   "UNREGISTER",
	UNREGISTERED: "UNREGISTERED",
	INVOCATION:   "INVOCATION",
	INTERRUPT:    "INTERRUPT",
	YIELD:        "YIELD",
}

// String returns the message type name, or the number if the type is not
// one this package knows.
func (mt MessageType) String() string {
	if s, ok := mtStrings[mt]; ok {
		return s
	}
	return "MessageType(" + strconv.Itoa(int(mt)) + ")"
}

// NewMessage returns an empty message of the type specified, or nil if the
// type is not recognized.
func NewMessage(t MessageType) Message {
	switch t {
	case HELLO:
		return &Hello{}
	case WELCOME:
		return &Welcome{}
	case ABORT:
		return &Abort{}
	case CHALLENGE:
		return &Challenge{}
	case AUTHENTICATE:
		return &Authenticate{}
	case GOODBYE:
		return &Goodbye{}
	case ERROR:
		return &Error{}
	case PUBLISH:
		return &Publish{}
	case PUBLISHED:
		return &Published{}
	case SUBSCRIBE:
		return &Subscribe{}
	case SUBSCRIBED:
		return &Subscribed{}
	case UNSUBSCRIBE:
		return &Unsubscribe{}
	case UNSUBSCRIBED:
		return &Unsubscribed{}
	case EVENT:
		return &Event{}
	case CALL:
		return &Call{}
	case CANCEL:
		return &Cancel{}
	case RESULT:
		return &Result{}
	case REGISTER:
		return &Register{}
	case REGISTERED:
		return &Registered{}
	case UNREGISTER:
		return &Unregister{}
	case UNREGISTERED:
		return &Unregistered{}
	case INVOCATION:
		return &Invocation{}
	case INTERRUPT:
		return &Interrupt{}
	case YIELD:
		return &Yield{}
	}
	return nil
}

// RequestID returns the request ID that correlates a response message with
// the request it answers.  The second return is false for messages that do
// not answer a request.
func RequestID(msg Message) (ID, bool) {
	switch m := msg.(type) {
	case *Error:
		return m.Request, true
	case *Published:
		return m.Request, true
	case *Subscribed:
		return m.Request, true
	case *Unsubscribed:
		return m.Request, true
	case *Result:
		return m.Request, true
	case *Registered:
		return m.Request, true
	case *Unregistered:
		return m.Request, true
	}
	return 0, false
}

// ----- Session Lifecycle -----

// Hello is sent by a client to open a session on a realm.
//
// [HELLO, Realm|uri, Details|dict]
type Hello struct {
	Realm   URI
	Details Dict
}

func (msg *Hello) MessageType() MessageType { return HELLO }

// Welcome is sent by the router to accept a client.  The session is open.
//
// [WELCOME, Session|id, Details|dict]
type Welcome struct {
	ID      ID
	Details Dict
}

func (msg *Welcome) MessageType() MessageType { return WELCOME }

// Abort is sent by either side to abandon the opening of a session.
//
// [ABORT, Details|dict, Reason|uri]
type Abort struct {
	Details Dict
	Reason  URI
}

func (msg *Abort) MessageType() MessageType { return ABORT }

// Goodbye closes an open session and must be echoed by the receiver.
//
// [GOODBYE, Details|dict, Reason|uri]
type Goodbye struct {
	Details Dict
	Reason  URI
}

func (msg *Goodbye) MessageType() MessageType { return GOODBYE }

// Error is the failure reply to a request.
//
// [ERROR, REQUEST.Type|int, REQUEST.Request|id, Details|dict, Error|uri]
// [ERROR, REQUEST.Type|int, REQUEST.Request|id, Details|dict, Error|uri,
//     Arguments|list]
// [ERROR, REQUEST.Type|int, REQUEST.Request|id, Details|dict, Error|uri,
//     Arguments|list, ArgumentsKw|dict]
type Error struct {
	Type        MessageType
	Request     ID
	Details     Dict
	Error       URI
	Arguments   List `wamp:"omitempty"`
	ArgumentsKw Dict `wamp:"omitempty"`
}

func (msg *Error) MessageType() MessageType { return ERROR }

// ----- Authentication -----

// Challenge is sent by the router during session establishment when the
// selected authentication method needs a proof from the client.
//
// [CHALLENGE, AuthMethod|string, Extra|dict]
type Challenge struct {
	AuthMethod string
	Extra      Dict
}

func (msg *Challenge) MessageType() MessageType { return CHALLENGE }

// Authenticate carries the client's response to a CHALLENGE.
//
// [AUTHENTICATE, Signature|string, Extra|dict]
type Authenticate struct {
	Signature string
	Extra     Dict
}

func (msg *Authenticate) MessageType() MessageType { return AUTHENTICATE }

// ----- Publish & Subscribe -----

// [PUBLISH, Request|id, Options|dict, Topic|uri]
// [PUBLISH, Request|id, Options|dict, Topic|uri, Arguments|list]
// [PUBLISH, Request|id, Options|dict, Topic|uri, Arguments|list,
//     ArgumentsKw|dict]
type Publish struct {
	Request     ID
	Options     Dict
	Topic       URI
	Arguments   List `wamp:"omitempty"`
	ArgumentsKw Dict `wamp:"omitempty"`
}

func (msg *Publish) MessageType() MessageType { return PUBLISH }

// Published acknowledges a publication that asked for acknowledgement.
//
// [PUBLISHED, PUBLISH.Request|id, Publication|id]
type Published struct {
	Request     ID
	Publication ID
}

func (msg *Published) MessageType() MessageType { return PUBLISHED }

// [SUBSCRIBE, Request|id, Options|dict, Topic|uri]
type Subscribe struct {
	Request ID
	Options Dict
	Topic   URI
}

func (msg *Subscribe) MessageType() MessageType { return SUBSCRIBE }

// [SUBSCRIBED, SUBSCRIBE.Request|id, Subscription|id]
type Subscribed struct {
	Request      ID
	Subscription ID
}

func (msg *Subscribed) MessageType() MessageType { return SUBSCRIBED }

// [UNSUBSCRIBE, Request|id, SUBSCRIBED.Subscription|id]
type Unsubscribe struct {
	Request      ID
	Subscription ID
}

func (msg *Unsubscribe) MessageType() MessageType { return UNSUBSCRIBE }

// [UNSUBSCRIBED, UNSUBSCRIBE.Request|id]
type Unsubscribed struct {
	Request ID
}

func (msg *Unsubscribed) MessageType() MessageType { return UNSUBSCRIBED }

// Event delivers a publication to a subscriber.
//
// [EVENT, SUBSCRIBED.Subscription|id, PUBLISHED.Publication|id, Details|dict]
// [EVENT, SUBSCRIBED.Subscription|id, PUBLISHED.Publication|id, Details|dict,
//     PUBLISH.Arguments|list]
// [EVENT, SUBSCRIBED.Subscription|id, PUBLISHED.Publication|id, Details|dict,
//     PUBLISH.Arguments|list, PUBLISH.ArgumentsKw|dict]
type Event struct {
	Subscription ID
	Publication  ID
	Details      Dict
	Arguments    List `wamp:"omitempty"`
	ArgumentsKw  Dict `wamp:"omitempty"`
}

func (msg *Event) MessageType() MessageType { return EVENT }

// ----- Remote Procedure Calls -----

// [CALL, Request|id, Options|dict, Procedure|uri]
// [CALL, Request|id, Options|dict, Procedure|uri, Arguments|list]
// [CALL, Request|id, Options|dict, Procedure|uri, Arguments|list,
//     ArgumentsKw|dict]
type Call struct {
	Request     ID
	Options     Dict
	Procedure   URI
	Arguments   List `wamp:"omitempty"`
	ArgumentsKw Dict `wamp:"omitempty"`
}

func (msg *Call) MessageType() MessageType { return CALL }

// Cancel asks the router to abandon an outstanding call.
//
// [CANCEL, CALL.Request|id, Options|dict]
type Cancel struct {
	Request ID
	Options Dict
}

func (msg *Cancel) MessageType() MessageType { return CANCEL }

// [RESULT, CALL.Request|id, Details|dict]
// [RESULT, CALL.Request|id, Details|dict, YIELD.Arguments|list]
// [RESULT, CALL.Request|id, Details|dict, YIELD.Arguments|list,
//     YIELD.ArgumentsKw|dict]
type Result struct {
	Request     ID
	Details     Dict
	Arguments   List `wamp:"omitempty"`
	ArgumentsKw Dict `wamp:"omitempty"`
}

func (msg *Result) MessageType() MessageType { return RESULT }

// [REGISTER, Request|id, Options|dict, Procedure|uri]
type Register struct {
	Request   ID
	Options   Dict
	Procedure URI
}

func (msg *Register) MessageType() MessageType { return REGISTER }

// [REGISTERED, REGISTER.Request|id, Registration|id]
type Registered struct {
	Request      ID
	Registration ID
}

func (msg *Registered) MessageType() MessageType { return REGISTERED }

// [UNREGISTER, Request|id, REGISTERED.Registration|id]
type Unregister struct {
	Request      ID
	Registration ID
}

func (msg *Unregister) MessageType() MessageType { return UNREGISTER }

// [UNREGISTERED, UNREGISTER.Request|id]
type Unregistered struct {
	Request ID
}

func (msg *Unregistered) MessageType() MessageType { return UNREGISTERED }

// Invocation delivers a call to the session that registered the procedure.
//
// [INVOCATION, Request|id, REGISTERED.Registration|id, Details|dict]
// [INVOCATION, Request|id, REGISTERED.Registration|id, Details|dict,
//     CALL.Arguments|list]
// [INVOCATION, Request|id, REGISTERED.Registration|id, Details|dict,
//     CALL.Arguments|list, CALL.ArgumentsKw|dict]
type Invocation struct {
	Request      ID
	Registration ID
	Details      Dict
	Arguments    List `wamp:"omitempty"`
	ArgumentsKw  Dict `wamp:"omitempty"`
}

func (msg *Invocation) MessageType() MessageType { return INVOCATION }

// Interrupt asks the callee to stop working on an invocation.
//
// [INTERRUPT, INVOCATION.Request|id, Options|dict]
type Interrupt struct {
	Request ID
	Options Dict
}

func (msg *Interrupt) MessageType() MessageType { return INTERRUPT }

// [YIELD, INVOCATION.Request|id, Options|dict]
// [YIELD, INVOCATION.Request|id, Options|dict, Arguments|list]
// [YIELD, INVOCATION.Request|id, Options|dict, Arguments|list,
//     ArgumentsKw|dict]
type Yield struct {
	Request     ID
	Options     Dict
	Arguments   List `wamp:"omitempty"`
	ArgumentsKw Dict `wamp:"omitempty"`
}

func (msg *Yield) MessageType() MessageType { return YIELD }
