package model

// HandlerContext is the read-only snapshot handed to every handler.
// Handlers must not mutate Messages or anything reachable from it.
type HandlerContext struct {
	ProjectID string
	SessionID string
	Messages  []Message
}

// IndexOf returns the list position of id, or -1.
func (c HandlerContext) IndexOf(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// FindMessage returns the message with id.
func (c HandlerContext) FindMessage(id string) (Message, bool) {
	if i := c.IndexOf(id); i >= 0 {
		return c.Messages[i], true
	}
	return Message{}, false
}

// HasMessage reports whether a message with id exists.
func (c HandlerContext) HasMessage(id string) bool {
	_, ok := c.FindMessage(id)
	return ok
}

// FindOptimistic returns the oldest unmatched optimistic user message of sessionID.
func (c HandlerContext) FindOptimistic(sessionID string) (Message, bool) {
	for i := range c.Messages {
		m := c.Messages[i]
		if m.Role == RoleUser && m.IsOptimistic() && (sessionID == "" || m.SessionID == sessionID) {
			return m, true
		}
	}
	return Message{}, false
}
