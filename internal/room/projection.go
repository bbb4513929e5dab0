package room

// Visibility is the derived active/completed classification used by the
// dashboard. It is computed from Status on every read, never stored, so it
// cannot drift from the lifecycle state.
type Visibility string

const (
	VisibleActive    Visibility = "active"
	VisibleCompleted Visibility = "completed"
)

func Classify(r Room) Visibility {
	if r.Status == RoomCompleted {
		return VisibleCompleted
	}
	return VisibleActive
}

func statusesFor(v Visibility) []RoomStatus {
	if v == VisibleCompleted {
		return []RoomStatus{RoomCompleted}
	}
	return []RoomStatus{RoomOpen, RoomPreparing, RoomInProgress}
}
