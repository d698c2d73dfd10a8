package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crossbario/crossbar/stdlog"
	"github.com/crossbario/crossbar/transport/serialize"
	"github.com/crossbario/crossbar/wamp"
)

const (
	// WAMP uses the following WebSocket subprotocol identifiers for unbatched
	// modes:
	jsonWebsocketProtocol    = "wamp.2.json"
	msgpackWebsocketProtocol = "wamp.2.msgpack"
	cborWebsocketProtocol    = "wamp.2.cbor"

	defaultOutQueueSize = 160
	defaultSendTimeout  = 10 * time.Second
	ctrlTimeout         = 5 * time.Second
)

// WebsocketConfig is used to configure client websocket settings.
type WebsocketConfig struct {
	// Request per message write compression, if allowed by server.
	EnableCompression bool

	// If provided when configuring websocket client, cookies from server are
	// put in here.  This allows cookies to be stored and then sent back to the
	// server in subsequent websocket connections.
	Jar http.CookieJar

	// ProxyURL is an optional URL of the proxy to use for websocket requests.
	// If not defined, the proxy defined by the environment is used if defined.
	ProxyURL string

	// Header is sent with the opening handshake.
	Header http.Header

	// OutQueueSize is the number of messages that may wait to be written.  A
	// value < 1 uses the default.
	OutQueueSize int

	// SendTimeout is how long Send waits for room in a full outbound queue.
	// A value of 0 uses the default.
	SendTimeout time.Duration
}

// websocketPeer implements the Peer interface, connecting the Send and Recv
// methods to a websocket.
type websocketPeer struct {
	conn        *websocket.Conn
	serializer  serialize.Serializer
	payloadType int
	metrics     *TransportMetrics
	sendTimeout time.Duration

	// Used to signal the websocket is closed.
	closed    chan struct{}
	closeOnce sync.Once

	rd chan wamp.Message
	wr chan wamp.Message

	// Closed by recvHandler when the connection is gone.
	stopSend   chan struct{}
	writerDone chan struct{}

	log stdlog.StdLog
}

func websocketProtocol(s serialize.Serialization) (string, int, error) {
	switch s {
	case serialize.JSON:
		return jsonWebsocketProtocol, websocket.TextMessage, nil
	case serialize.MSGPACK:
		return msgpackWebsocketProtocol, websocket.BinaryMessage, nil
	case serialize.CBOR:
		return cborWebsocketProtocol, websocket.BinaryMessage, nil
	}
	return "", 0, fmt.Errorf("unsupported serialization: %v", s)
}

// ConnectWebsocketPeer creates a new websocket peer with the specified config,
// and connects it to the websocket server at the specified URL.  The context
// bounds the opening handshake only.
func ConnectWebsocketPeer(ctx context.Context, routerURL string, serialization serialize.Serialization, tlsConfig *tls.Config, logger stdlog.StdLog, wsCfg *WebsocketConfig) (wamp.Peer, error) {
	protocol, payloadType, err := websocketProtocol(serialization)
	if err != nil {
		return nil, err
	}
	serializer, err := serialize.New(serialization)
	if err != nil {
		return nil, err
	}
	if wsCfg == nil {
		wsCfg = &WebsocketConfig{}
	}

	dialer := websocket.Dialer{
		Subprotocols:      []string{protocol},
		TLSClientConfig:   tlsConfig,
		Proxy:             http.ProxyFromEnvironment,
		EnableCompression: wsCfg.EnableCompression,
		Jar:               wsCfg.Jar,
		HandshakeTimeout:  45 * time.Second,
	}
	if wsCfg.ProxyURL != "" {
		proxyURL, err := url.Parse(wsCfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, _, err := dialer.DialContext(ctx, routerURL, wsCfg.Header)
	if err != nil {
		return nil, err
	}
	if conn.Subprotocol() != protocol {
		conn.Close()
		return nil, fmt.Errorf("router did not accept subprotocol %s", protocol)
	}
	return newWebsocketPeer(conn, serializer, payloadType, logger,
		wsCfg.OutQueueSize, wsCfg.SendTimeout), nil
}

// NewWebsocketPeer creates a websocket peer from an existing websocket
// connection.
func NewWebsocketPeer(conn *websocket.Conn, serializer serialize.Serializer, payloadType int, logger stdlog.StdLog, outQueueSize int) wamp.Peer {
	return newWebsocketPeer(conn, serializer, payloadType, logger,
		outQueueSize, 0)
}

func newWebsocketPeer(conn *websocket.Conn, serializer serialize.Serializer, payloadType int, logger stdlog.StdLog, outQueueSize int, sendTimeout time.Duration) *websocketPeer {
	if outQueueSize < 1 {
		outQueueSize = defaultOutQueueSize
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	ser := "json"
	switch serializer.(type) {
	case *serialize.MessagePackSerializer:
		ser = "msgpack"
	case *serialize.CBORSerializer:
		ser = "cbor"
	}
	w := &websocketPeer{
		conn:        conn,
		serializer:  serializer,
		payloadType: payloadType,
		metrics:     NewTransportMetrics("websocket", ser),
		sendTimeout: sendTimeout,
		closed:      make(chan struct{}),
		stopSend:    make(chan struct{}),
		writerDone:  make(chan struct{}),

		// The session drains this channel in its own goroutine, so it does
		// not need to be deep.
		rd: make(chan wamp.Message, 1),

		// Sized so that a burst of requests does not block the session
		// while the websocket writes.
		wr: make(chan wamp.Message, outQueueSize),

		log: logger,
	}
	// Sending to and receiving from websocket is handled concurrently.
	go w.recvHandler()
	go w.sendHandler()

	return w
}

func (w *websocketPeer) Recv() <-chan wamp.Message { return w.rd }

// Send queues the message for writing.  When the outbound queue is full it
// waits up to the send timeout for room.  It fails once the connection is
// closed, or with ErrSendTimeout when the queue stays full.
func (w *websocketPeer) Send(msg wamp.Message) error {
	select {
	case <-w.closed:
		return ErrPeerClosed
	case <-w.stopSend:
		return ErrPeerClosed
	default:
	}
	select {
	case w.wr <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(w.sendTimeout)
	defer timer.Stop()
	select {
	case w.wr <- msg:
		return nil
	case <-w.closed:
		return ErrPeerClosed
	case <-w.stopSend:
		return ErrPeerClosed
	case <-timer.C:
		w.metrics.DropOutgoing()
		return fmt.Errorf("%w: outbound queue full, dropped %v",
			ErrSendTimeout, msg.MessageType())
	}
}

// Close sends a close control message and closes the connection.  Messages
// still queued for writing are discarded.
func (w *websocketPeer) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)
		<-w.writerDone

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure,
			"goodbye")
		// The other side may already have closed in response to GOODBYE.
		_ = w.conn.WriteControl(websocket.CloseMessage, closeMsg,
			time.Now().Add(ctrlTimeout))
		w.conn.Close()
	})
}

// sendHandler pulls messages from the write channel, and pushes them to the
// websocket.
func (w *websocketPeer) sendHandler() {
	defer close(w.writerDone)
	for {
		select {
		case msg := <-w.wr:
			b, err := w.serializer.Serialize(msg)
			if err != nil {
				w.metrics.DropOutgoing()
				w.log.Println("cannot serialize", msg.MessageType(), "message:", err)
				continue
			}
			if err = w.conn.WriteMessage(w.payloadType, b); err != nil {
				w.log.Println("error writing to peer:", err)
				continue
			}
			w.metrics.CountOutgoing(len(b))
		case <-w.closed:
			return
		case <-w.stopSend:
			return
		}
	}
}

// recvHandler pulls messages from the websocket and pushes them to the read
// channel.
func (w *websocketPeer) recvHandler() {
	// Closing the read channel tells the session the connection is gone.
	defer close(w.rd)
	defer close(w.stopSend)
	for {
		msgType, b, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.closed:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					w.log.Println("error reading from peer:", err)
				}
				w.conn.Close()
			}
			return
		}
		if msgType == websocket.CloseMessage {
			w.conn.Close()
			return
		}
		w.metrics.CountIncoming(len(b))

		msg, err := w.serializer.Deserialize(b)
		if err != nil {
			w.metrics.DropIncoming()
			w.log.Println("error deserializing peer message:", err)
			continue
		}
		select {
		case w.rd <- msg:
		case <-w.closed:
			return
		}
	}
}
