package domain

// EventType identifies a kind of domain event subscriptions can register
// for. The set is closed; triggers carrying any other value are rejected.
type EventType string

const (
	EventTypeLowStockAlert          EventType = "low-stock-alert"
	EventTypeTransferApprovalNeeded EventType = "transfer-approval-needed"
	EventTypeTransferApproved       EventType = "transfer-approved"
	EventTypeTransferRejected       EventType = "transfer-rejected"
	EventTypeItemCheckout           EventType = "item-checkout"
	EventTypeItemCheckin            EventType = "item-checkin"
	EventTypeUserLogin              EventType = "user-login"
	EventTypeUserLogout             EventType = "user-logout"
	EventTypeItemCreated            EventType = "item-created"
	EventTypeItemUpdated            EventType = "item-updated"
	EventTypeItemDeleted            EventType = "item-deleted"
)

// AllEventTypes lists every recognized event type.
var AllEventTypes = []EventType{
	EventTypeLowStockAlert,
	EventTypeTransferApprovalNeeded,
	EventTypeTransferApproved,
	EventTypeTransferRejected,
	EventTypeItemCheckout,
	EventTypeItemCheckin,
	EventTypeUserLogin,
	EventTypeUserLogout,
	EventTypeItemCreated,
	EventTypeItemUpdated,
	EventTypeItemDeleted,
}

// Valid reports whether t is a recognized event type.
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}
