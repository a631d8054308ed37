package models

import "time"

// PresenceState is a user's availability as observed by other users.
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceAway    PresenceState = "away"
	PresenceBusy    PresenceState = "busy"
	PresenceOffline PresenceState = "offline"
)

// ValidPresenceState reports whether s is a state a client may set.
// Offline is excluded: it is derived from key expiry or disconnect,
// never set explicitly.
func ValidPresenceState(s PresenceState) bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceBusy:
		return true
	default:
		return false
	}
}

// PresenceStatus lives in the coordination store under a bounded TTL.
// Absence of the key is equivalent to offline.
type PresenceStatus struct {
	UserID       string        `json:"userId"`
	Status       PresenceState `json:"status"`
	LastActivity time.Time     `json:"lastActivity"`
	Device       string        `json:"device,omitempty"`
}

// TypingIndicator is transient state broadcast while a user edits an
// item. It is never persisted; auto-clear is driven by in-process
// timers keyed by (user, item).
type TypingIndicator struct {
	UserID   string `json:"userId"`
	ItemID   string `json:"itemId"`
	IsTyping bool   `json:"isTyping"`
}
