package domain

import "time"

// Role identifies the author of a conversation turn.
type Role string

// Turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one persisted message of a session.
// Turns are append-only and ordered by CreatedAt.
type ConversationTurn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`

	// Set on assistant turns only.
	Model     string `json:"model,omitempty"`
	Tokens    int64  `json:"tokens,omitempty"`
	CostCents int64  `json:"costCents,omitempty"`
}

// TitleMaxLen caps the session title derived from the first message.
const TitleMaxLen = 60

// SessionTitle derives a session title from the opening message.
func SessionTitle(message string) string {
	r := []rune(message)
	if len(r) <= TitleMaxLen {
		return message
	}
	return string(r[:TitleMaxLen])
}
