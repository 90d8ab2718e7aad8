package gateway

// Message is one inbound chat event from the gateway stream.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
	Content   string `json:"content"`
	Sender    Sender `json:"sender"`
}

// Sender identifies who wrote a message. Admin reflects the gateway's own
// permission check for moderation commands.
type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Bot   bool   `json:"bot"`
	Admin bool   `json:"admin"`
}

type SocketState int

const (
	StateDisconnected SocketState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s SocketState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type MessageCallback func(*Message)
type StateCallback func(SocketState)

// HeaderProvider injects per-request headers, e.g. auth tokens.
type HeaderProvider func() map[string]string
