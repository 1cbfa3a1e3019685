package ixf

// Type selects the template family of a notification.
type Type string

const (
	TypeAdd              Type = "add"
	TypeModify           Type = "modify"
	TypeRemove           Type = "remove"
	TypeConflict         Type = "conflict"
	TypeResolved         Type = "resolved"
	TypeProtocolConflict Type = "protocol-conflict"
)

// TypeForAction maps a proposal action to the notification type used when
// ticketing it. Deletions are announced as removals.
func TypeForAction(a Action) Type {
	switch a {
	case ActionAdd:
		return TypeAdd
	case ActionDelete:
		return TypeRemove
	default:
		return TypeModify
	}
}
