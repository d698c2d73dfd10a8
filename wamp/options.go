package wamp

// Consts for message options, details and option values.
const (
	OptAcknowledge     = "acknowledge"
	OptDiscloseMe      = "disclose_me"
	OptExcludeMe       = "exclude_me"
	OptInvoke          = "invoke"
	OptMatch           = "match"
	OptMessage         = "message"
	OptError           = "error"
	OptMode            = "mode"
	OptProcedure       = "procedure"
	OptReceiveProgress = "receive_progress"
	OptTimeout         = "timeout"

	// Values for URI matching mode.
	MatchExact    = "exact"
	MatchPrefix   = "prefix"
	MatchWildcard = "wildcard"

	// Values for call cancel mode.
	CancelModeKill       = "kill"
	CancelModeKillNoWait = "killnowait"
	CancelModeSkip       = "skip"
)

// Keys used in HELLO and WELCOME details during authentication.
const (
	DetailRoles        = "roles"
	DetailAuthID       = "authid"
	DetailAuthRole     = "authrole"
	DetailAuthMethod   = "authmethod"
	DetailAuthMethods  = "authmethods"
	DetailAuthProvider = "authprovider"
	DetailAuthExtra    = "authextra"
	DetailRealm        = "realm"
)
