package client

import "time"

const (
	// Time the opening handshake may take when the context passed to Open has
	// no deadline.
	defaultResponseTimeout = 5 * time.Second

	// Time Leave waits for the router to answer GOODBYE.
	defaultGoodbyeTimeout = 5 * time.Second

	// Invocation handlers allowed to run at the same time.
	defaultMaxInvocations = 16
)
