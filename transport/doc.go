/*
Package transport provides the websocket and local implementations of
wamp.Peer.  The local transport links two peers in-process, which is how tests
connect a session to a scripted router.  The websocket transport carries
JSON, MessagePack or CBOR encoded messages over a gorilla websocket
connection.
*/
package transport

import "errors"

var (
	// ErrPeerClosed is returned by Send after the peer has been closed, by
	// either side.
	ErrPeerClosed = errors.New("peer closed")

	// ErrSendTimeout is returned by Send when the outbound queue stayed full
	// for the send timeout.  The connection is not keeping up.
	ErrSendTimeout = errors.New("send timed out")
)
