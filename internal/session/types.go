package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has expired
	ErrSessionExpired = errors.New("session expired")
)

// Context is the per-conversation state accumulated across turns.
type Context struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Arbitrary key/value context accumulated across turns.
	Values map[string]interface{} `json:"values"`

	// Recent conversation turns, bounded by the store's history limit.
	History []Turn `json:"history"`

	// Ordered handoff record ids for this session.
	HandoffIDs []string `json:"handoff_ids,omitempty"`
}

// Turn is one exchange in the session history.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent,omitempty"`
}

// IsExpired checks if the session has expired.
func (c *Context) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// GetValue retrieves a value from the accumulated context.
func (c *Context) GetValue(key string) (interface{}, bool) {
	if c.Values == nil {
		return nil, false
	}
	v, ok := c.Values[key]
	return v, ok
}

// SetValue sets a value in the accumulated context.
func (c *Context) SetValue(key string, value interface{}) {
	if c.Values == nil {
		c.Values = make(map[string]interface{})
	}
	c.Values[key] = value
	c.UpdatedAt = time.Now()
}

// RecentHistory returns the most recent turns.
func (c *Context) RecentHistory(count int) []Turn {
	if len(c.History) <= count {
		return c.History
	}
	return c.History[len(c.History)-count:]
}
