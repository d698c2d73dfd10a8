package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/crossbario/crossbar/stdlog"
	"github.com/crossbario/crossbar/transport"
	"github.com/crossbario/crossbar/wamp"
)

// Connect dials a WAMP router over a websocket and opens a session on the
// realm specified in cfg.
//
// The routerURL has the form "ws://host:port/" or "wss://host:port/", for
// websocket or websocket with TLS respectively.  The scheme "http" is
// interchangeable with "ws" and "https" is interchangeable with "wss".
func Connect(ctx context.Context, routerURL string, cfg Config) (*Session, error) {
	s, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(routerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	var p wamp.Peer
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		// The websocket dialer only accepts ws and wss.
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		p, err = transport.ConnectWebsocketPeer(ctx, u.String(),
			s.cfg.Serialization, s.cfg.TlsCfg,
			stdlog.WithPrefix(s.log, "websocket: "), &s.cfg.WsCfg)
	default:
		err = fmt.Errorf("%w: invalid url: %s", ErrInvalidParameters, routerURL)
	}
	if err != nil {
		return nil, err
	}
	if err = s.Open(ctx, p); err != nil {
		return nil, err
	}
	return s, nil
}

// CookieURL takes a websocket URL string and outputs a url.URL that can be
// used to retrieve cookies from a http.CookieJar as may be provided in
// Config.WsCfg.Jar.
func CookieURL(routerURL string) (*url.URL, error) {
	u, err := url.Parse(routerURL)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
		// Ok already; do nothing
	default:
		return nil, fmt.Errorf("scheme not valid for websocket: %s", u.Scheme)
	}

	return u, nil
}
