package model

// ActionKind names an Action for audit logging.
type ActionKind string

const (
	KindAddMessage            ActionKind = "add-message"
	KindUpdateMessage         ActionKind = "update-message"
	KindRemoveMessage         ActionKind = "remove-message"
	KindReplaceOptimisticID   ActionKind = "replace-optimistic-id"
	KindSetRunning            ActionKind = "set-running"
	KindSetSessionStatus      ActionKind = "set-session-status"
	KindSetError              ActionKind = "set-error"
	KindAddPermission         ActionKind = "add-permission"
	KindRemovePermission      ActionKind = "remove-permission"
	KindNotifySessionCreated  ActionKind = "notify-session-created"
	KindNotifySessionUpdated  ActionKind = "notify-session-updated"
	KindUpdateSessionActivity ActionKind = "update-session-activity"
)

// Action is the closed set of state intents produced by handlers.
// 只有本包内的类型可以实现 Action。
type Action interface {
	Kind() ActionKind
	sealed()
}

// AddMessage inserts a message, merging on id collision.
type AddMessage struct{ Message Message }

// UpdateMessage applies Update to a deep clone of the message with ID.
type UpdateMessage struct {
	ID     string
	Update func(Message) Message
}

// RemoveMessage deletes the message with ID.
type RemoveMessage struct{ ID string }

// ReplaceOptimisticID renames the optimistic message to the backend-assigned id.
type ReplaceOptimisticID struct {
	OptimisticID string
	RealID       string
	Info         MessageInfo
}

// SetRunning sets the running flag.
type SetRunning struct{ Running bool }

// SetSessionStatus sets the active session's status.
type SetSessionStatus struct{ Status SessionStatus }

// SetError sets the user-visible error; empty clears it.
type SetError struct{ Message string }

// AddPermission enqueues a permission request (dedup by id).
type AddPermission struct{ Permission PermissionRequest }

// RemovePermission dequeues a permission request; a missing id is a no-op.
type RemovePermission struct{ ID string }

// NotifySessionCreated forwards a spawned sub-session to listeners.
type NotifySessionCreated struct{ Session SessionInfo }

// NotifySessionUpdated forwards session metadata to listeners.
type NotifySessionUpdated struct{ Session SessionInfo }

// UpdateSessionActivity toggles the activity signal of a session.
type UpdateSessionActivity struct {
	SessionID string
	Active    bool
}

func (AddMessage) Kind() ActionKind            { return KindAddMessage }
func (UpdateMessage) Kind() ActionKind         { return KindUpdateMessage }
func (RemoveMessage) Kind() ActionKind         { return KindRemoveMessage }
func (ReplaceOptimisticID) Kind() ActionKind   { return KindReplaceOptimisticID }
func (SetRunning) Kind() ActionKind            { return KindSetRunning }
func (SetSessionStatus) Kind() ActionKind      { return KindSetSessionStatus }
func (SetError) Kind() ActionKind              { return KindSetError }
func (AddPermission) Kind() ActionKind         { return KindAddPermission }
func (RemovePermission) Kind() ActionKind      { return KindRemovePermission }
func (NotifySessionCreated) Kind() ActionKind  { return KindNotifySessionCreated }
func (NotifySessionUpdated) Kind() ActionKind  { return KindNotifySessionUpdated }
func (UpdateSessionActivity) Kind() ActionKind { return KindUpdateSessionActivity }

func (AddMessage) sealed()            {}
func (UpdateMessage) sealed()         {}
func (RemoveMessage) sealed()         {}
func (ReplaceOptimisticID) sealed()   {}
func (SetRunning) sealed()            {}
func (SetSessionStatus) sealed()      {}
func (SetError) sealed()              {}
func (AddPermission) sealed()         {}
func (RemovePermission) sealed()      {}
func (NotifySessionCreated) sealed()  {}
func (NotifySessionUpdated) sealed()  {}
func (UpdateSessionActivity) sealed() {}

// Kinds returns the kinds of actions, in order.
func Kinds(actions []Action) []ActionKind {
	out := make([]ActionKind, len(actions))
	for i, a := range actions {
		out[i] = a.Kind()
	}
	return out
}
