package domain

import "fmt"

// HallCall is the unit of dispatcher assignment: a hall button press at a
// floor in a direction. Equality and hashing are structural so it can be used
// directly as a map key.
type HallCall struct {
	Floor     Floor
	Direction Direction
}

// NewHallCall creates a HallCall. Direction must be UP or DOWN; IDLE is never
// valid for a hall call.
func NewHallCall(floor Floor, direction Direction) HallCall {
	return HallCall{Floor: floor, Direction: direction}
}

// String implements fmt.Stringer for logging.
func (c HallCall) String() string {
	return fmt.Sprintf("%d:%s", c.Floor.Value(), c.Direction)
}
