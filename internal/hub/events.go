package hub

const (
	Connected = "connected"

	MessageCreated = "MessageCreated"

	ChannelCreated = "ChannelCreated"

	MemberJoined = "MemberJoined"
)

// Event is the envelope pushed to subscribers. Data must be JSON-marshalable,
// transports serialize it on their own write path.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
