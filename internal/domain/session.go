package domain

import "time"

// SessionMode drives how the next inbound message from a user is interpreted.
type SessionMode string

const (
	SessionIdle        SessionMode = "idle"
	SessionAwaitingURL SessionMode = "awaiting_url"
	SessionChatActive  SessionMode = "chat_active"
)

// ChatRole tags a turn in a chat conversation.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatTurn is one exchange entry kept while a user is in chat mode.
type ChatTurn struct {
	Role ChatRole `json:"role"`
	Text string   `json:"text"`
}

// UserSession is the per-user interaction state. Mode is the single source of
// truth for message interpretation; TargetMode is only meaningful while the
// session is awaiting a URL.
type UserSession struct {
	UserID       string      `json:"user_id"`
	Mode         SessionMode `json:"mode"`
	TargetMode   Mode        `json:"target_mode,omitempty"`
	ChatHistory  []ChatTurn  `json:"chat_history,omitempty"`
	LastActivity time.Time   `json:"last_activity"`
}

// NewUserSession returns a fresh idle session for the user.
func NewUserSession(userID string) *UserSession {
	return &UserSession{UserID: userID, Mode: SessionIdle, LastActivity: time.Now()}
}

// Reset drops any pending mode and chat context and returns the session to
// idle.
func (s *UserSession) Reset() {
	s.Mode = SessionIdle
	s.TargetMode = ""
	s.ChatHistory = nil
}
