package client

import "github.com/crossbario/crossbar/wamp"

// Features supported by the session, announced in HELLO.
var clientRoles = wamp.Dict{
	"publisher": wamp.Dict{
		"features": wamp.Dict{
			"publisher_exclusion": true,
		},
	},
	"subscriber": wamp.Dict{
		"features": wamp.Dict{
			"pattern_based_subscription": true,
		},
	},
	"callee": wamp.Dict{
		"features": wamp.Dict{
			"pattern_based_registration": true,
			"shared_registration":        true,
			"call_canceling":             true,
			"call_timeout":               true,
		},
	},
	"caller": wamp.Dict{
		"features": wamp.Dict{
			"call_canceling": true,
			"call_timeout":   true,
		},
	},
}
