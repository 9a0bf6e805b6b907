package domain

// ProxyConfig is an effective outbound proxy resolved for one call. A nil
// *ProxyConfig means direct connection.
type ProxyConfig struct {
	URL string
}

// MessageHandle identifies a delivered transport message so later progress
// updates can edit it in place.
type MessageHandle struct {
	ChatID    string
	MessageID int64
}

// InboundMessage is one user message handed to the dispatcher by the
// transport layer. Command holds the bare command name ("start", "chat")
// when the text began with a slash command, otherwise it is empty.
type InboundMessage struct {
	UserID  string
	Text    string
	Command string
}
