package wamp

// Predefined URIs used by a client session.
//
// https://wamp-proto.org/wamp_latest_ietf.html#name-predefined-uris
const (
	// -- Interaction --

	// Peer provided an incorrect URI for any URI-based attribute of WAMP
	// message, such as realm, topic or procedure.
	ErrInvalidURI = URI("wamp.error.invalid_uri")

	// A Dealer could not perform a call, since no procedure is currently
	// registered under the given URI.
	ErrNoSuchProcedure = URI("wamp.error.no_such_procedure")

	// A procedure could not be registered, since a procedure with the given
	// URI is already registered.
	ErrProcedureAlreadyExists = URI("wamp.error.procedure_already_exists")

	// A Dealer could not perform an unregister, since the given registration
	// is not active.
	ErrNoSuchRegistration = URI("wamp.error.no_such_registration")

	// A Broker could not perform an unsubscribe, since the given subscription
	// is not active.
	ErrNoSuchSubscription = URI("wamp.error.no_such_subscription")

	// The given argument types or values are not acceptable to the called
	// procedure.
	ErrInvalidArgument = URI("wamp.error.invalid_argument")

	// A callee failed while handling an invocation and did not name a more
	// specific error.
	ErrRuntimeError = URI("wamp.error.runtime_error")

	// -- Session Close --

	CloseNormal = URI("wamp.close.normal")

	// The Peer is shutting down completely - used as a GOODBYE (or ABORT)
	// reason.
	CloseSystemShutdown = URI("wamp.close.system_shutdown")

	// The Peer wants to leave the realm - used as a GOODBYE reason.
	CloseRealm = URI("wamp.close.close_realm")

	// A Peer acknowledges ending of a session - used as a GOODBYE reply
	// reason.
	CloseGoodbyeAndOut = URI("wamp.close.goodbye_and_out")

	// -- Authorization --

	// A join, call, register, publish or subscribe failed, since the Peer is
	// not authorized to perform the operation.
	ErrNotAuthorized = URI("wamp.error.not_authorized")

	// A Dealer or Broker could not determine if the Peer is authorized to
	// perform a join, call, register, publish or subscribe, since the
	// authorization operation itself failed.
	ErrAuthorizationFailed = URI("wamp.error.authorization_failed")

	// Something failed with the authentication itself, that is, authentication
	// could not run to end.
	ErrAuthenticationFailed = URI("wamp.error.authentication_failed")

	// The client could not compute a response to the router's challenge.
	ErrCannotAuthenticate = URI("wamp.error.cannot_authenticate")

	// Peer wanted to join a non-existing realm.
	ErrNoSuchRealm = URI("wamp.error.no_such_realm")

	// No authentication method the peer offered is available or active.
	ErrNoAuthMethod = URI("wamp.error.no_auth_method")

	// ----- Advanced Profile -----

	// A Dealer or Callee canceled a call previously issued.
	ErrCanceled = URI("wamp.error.canceled")

	// A Peer received invalid WAMP protocol message.
	ErrProtocolViolation = URI("wamp.error.protocol_violation")
)
