package room

import "fmt"

// memberEdges is the full set of legal membership moves. Completed is
// monotonic: it may only give way to Left (administrative cleanup), never
// revert to an in-play status. Left and Kicked are terminal.
var memberEdges = map[MemberStatus][]MemberStatus{
	MemberJoined:    {MemberInGame, MemberLeft, MemberKicked},
	MemberInGame:    {MemberCompleted, MemberLeft, MemberKicked},
	MemberCompleted: {MemberLeft},
}

func memberTransitionAllowed(from, to MemberStatus) bool {
	for _, next := range memberEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateMemberTransition rejects any move the membership lifecycle does
// not name, including same-status resubmissions.
func ValidateMemberTransition(from, to MemberStatus) error {
	if !memberTransitionAllowed(from, to) {
		return fmt.Errorf("%w: membership %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// roomEdges covers administrative advancement only. Completed is absent on
// purpose: the completion detector is the single writer of that status and
// goes through markCompleted, not through Advance.
var roomEdges = map[RoomStatus]RoomStatus{
	RoomOpen:      RoomPreparing,
	RoomPreparing: RoomInProgress,
}

// ValidateRoomAdvance checks a forward-only, one-step administrative move.
func ValidateRoomAdvance(from, to RoomStatus) error {
	if to == RoomCompleted {
		return fmt.Errorf("%w: room completion is owned by the detector", ErrForbiddenTransition)
	}
	if next, ok := roomEdges[from]; !ok || next != to {
		return fmt.Errorf("%w: room %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
