package domain

// Op is a remote operation derived from a local mutation.
type Op string

const (
	OpCreate         Op = "create"
	OpDelete         Op = "delete"
	OpUpdateQuantity Op = "update_quantity"
)

// SyncState is a product's position in the push lifecycle:
//
//	absent -> pending_create -> confirmed
//	confirmed -> pending_update -> confirmed
//	confirmed -> pending_delete -> absent
//
// A new mutation moves any state to the matching pending state. absent and
// confirmed are terminal; pending states resolve or are abandoned once the
// retry budget is spent.
type SyncState string

const (
	StateAbsent        SyncState = "absent"
	StatePendingCreate SyncState = "pending_create"
	StatePendingUpdate SyncState = "pending_update"
	StatePendingDelete SyncState = "pending_delete"
	StateConfirmed     SyncState = "confirmed"
)

// Pending returns the in-flight state for op.
func (op Op) Pending() SyncState {
	switch op {
	case OpCreate:
		return StatePendingCreate
	case OpDelete:
		return StatePendingDelete
	default:
		return StatePendingUpdate
	}
}

// Settled returns the terminal state reached when op is confirmed.
func (op Op) Settled() SyncState {
	if op == OpDelete {
		return StateAbsent
	}
	return StateConfirmed
}

// IsPending reports whether s awaits a remote confirmation.
func (s SyncState) IsPending() bool {
	switch s {
	case StatePendingCreate, StatePendingUpdate, StatePendingDelete:
		return true
	default:
		return false
	}
}
