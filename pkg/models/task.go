package models

import "time"

// Task is the unit of work tracked by the service. Event payloads carry
// the full task rather than a diff so that clients receiving interleaved
// updates from multiple instances always converge on complete state.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	CategoryID  string     `json:"categoryId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Position    int        `json:"position"`
	ReminderAt  *time.Time `json:"reminderAt,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// User is the verified identity attached to a connection at handshake.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Device string `json:"device,omitempty"`
}
