package hub

const (
	scopeChannel = "channel"
	scopeDm      = "dm"
	scopeServer  = "server"
)

// Scope is the addressable unit of delivery: a channel, a canonical DM pair
// or a whole server (used for channel/member lifecycle events). Scopes are
// comparable and used directly as map keys.
type Scope struct {
	Kind string
	A    int64
	B    int64
}

func Channel(channelID int64) Scope {
	return Scope{Kind: scopeChannel, A: channelID}
}

// DM returns the same scope for both argument orders, the smaller user ID
// always lands in A.
func DM(userA int64, userB int64) Scope {
	if userB < userA {
		userA, userB = userB, userA
	}
	return Scope{Kind: scopeDm, A: userA, B: userB}
}

func Server(serverID int64) Scope {
	return Scope{Kind: scopeServer, A: serverID}
}
