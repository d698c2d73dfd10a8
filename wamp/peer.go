package wamp

import (
	"errors"
	"time"
)

// Peer is the transport boundary: an ordered, reliable duplex channel of
// envelopes.  Wire framing and encoding are the implementation's concern.
//
// Closing the channel returned by Recv signals that the transport has closed,
// whether by Close or by a transport error.
type Peer interface {
	// Send queues the message for delivery to the remote side.
	Send(Message) error

	// Recv returns the channel of messages from the remote side.
	Recv() <-chan Message

	// Close closes the connection to the remote side.
	Close()
}

// RecvTimeout receives a message from a peer within the specified time.
func RecvTimeout(p Peer, t time.Duration) (Message, error) {
	timer := time.NewTimer(t)
	defer timer.Stop()
	select {
	case msg, open := <-p.Recv():
		if !open {
			return nil, errors.New("receive channel closed")
		}
		return msg, nil
	case <-timer.C:
		return nil, errors.New("timeout waiting for message")
	}
}
