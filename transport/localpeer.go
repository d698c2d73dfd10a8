package transport

import (
	"sync"

	"github.com/crossbario/crossbar/wamp"
)

const defaultLinkQueueSize = 64

// LinkedPeers creates two connected peers.  Messages sent to one peer appear
// in the Recv of the other.  Closing either peer closes the link: both Recv
// channels are closed once drained, and further sends fail with
// ErrPeerClosed.
func LinkedPeers() (wamp.Peer, wamp.Peer) {
	return LinkedPeersQSize(defaultLinkQueueSize)
}

// LinkedPeersQSize is the same as LinkedPeers with the ability to specify the
// queue size in each direction.  Specifying size 0 uses default size.  A send
// to a full queue blocks until the other side receives or the link closes.
func LinkedPeersQSize(queueSize int) (wamp.Peer, wamp.Peer) {
	if queueSize == 0 {
		queueSize = defaultLinkQueueSize
	}
	l := &link{
		aToB: make(chan wamp.Message, queueSize),
		bToA: make(chan wamp.Message, queueSize),
		done: make(chan struct{}),
	}
	a := &localPeer{link: l, rd: l.bToA, wr: l.aToB}
	b := &localPeer{link: l, rd: l.aToB, wr: l.bToA}
	return a, b
}

// link is the state shared by the two ends of a local connection.
type link struct {
	aToB chan wamp.Message
	bToA chan wamp.Message

	// Senders hold mu for reading while they may write to a channel, so that
	// close does not race with a send.
	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		l.mu.Lock()
		close(l.aToB)
		close(l.bToA)
		l.mu.Unlock()
	})
}

// localPeer implements wamp.Peer
type localPeer struct {
	*link
	rd <-chan wamp.Message
	wr chan<- wamp.Message
}

// Recv returns the channel this peer reads incoming messages from.
func (p *localPeer) Recv() <-chan wamp.Message { return p.rd }

// Send delivers the message to the other side.
func (p *localPeer) Send(msg wamp.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.wr <- msg:
		return nil
	case <-p.done:
		return ErrPeerClosed
	}
}

// Close closes the link, waking any readers waiting on data from either side.
func (p *localPeer) Close() { p.close() }
