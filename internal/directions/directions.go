// Package directions owns a single car's stop bookkeeping: the four ordered
// stop sets, the per-floor committed hall directions, and the reservation
// set used just before an expected reversal. One Manager belongs to exactly
// one car and is always mutated under that car's lock, so it carries no
// locking of its own.
package directions

import (
	"sort"

	"github.com/elevatorsim/controller/internal/domain"
)

// Manager tracks the floor sets a car's control loop needs to plan its route.
type Manager struct {
	stopsUp          map[domain.Floor]struct{}
	stopsDown        map[domain.Floor]struct{}
	internalUp       map[domain.Floor]struct{}
	internalDown     map[domain.Floor]struct{}
	hallCallsByFloor map[domain.Floor]map[domain.Direction]struct{}
	reserved         map[domain.HallCall]struct{}
}

// New creates an empty stop manager.
func New() *Manager {
	return &Manager{
		stopsUp:          make(map[domain.Floor]struct{}),
		stopsDown:        make(map[domain.Floor]struct{}),
		internalUp:       make(map[domain.Floor]struct{}),
		internalDown:     make(map[domain.Floor]struct{}),
		hallCallsByFloor: make(map[domain.Floor]map[domain.Direction]struct{}),
		reserved:         make(map[domain.HallCall]struct{}),
	}
}

// classify puts floor into the up-side set if it is at or above
// currentFloor; a floor equal to currentFloor lands on the up side.
func classify(floor, currentFloor domain.Floor) bool {
	return floor.Value() >= currentFloor.Value()
}

// AddInternalStop records a destination button press for floor, mirroring it
// into the matching hall-side stop set so the control loop finds every
// committed floor in one place.
func (m *Manager) AddInternalStop(floor, currentFloor domain.Floor) {
	if classify(floor, currentFloor) {
		m.internalUp[floor] = struct{}{}
		m.stopsUp[floor] = struct{}{}
		return
	}
	m.internalDown[floor] = struct{}{}
	m.stopsDown[floor] = struct{}{}
}

// AddHallStop commits a hall call into the stop set and the per-floor
// direction map.
func (m *Manager) AddHallStop(floor, currentFloor domain.Floor, dir domain.Direction) {
	if m.hallCallsByFloor[floor] == nil {
		m.hallCallsByFloor[floor] = make(map[domain.Direction]struct{})
	}
	m.hallCallsByFloor[floor][dir] = struct{}{}

	if classify(floor, currentFloor) {
		m.stopsUp[floor] = struct{}{}
		return
	}
	m.stopsDown[floor] = struct{}{}
}

// Reserve adds call to the reservation set without touching the stop sets.
func (m *Manager) Reserve(call domain.HallCall) {
	m.reserved[call] = struct{}{}
}

// Reserved returns a snapshot of the currently reserved calls.
func (m *Manager) Reserved() []domain.HallCall {
	out := make([]domain.HallCall, 0, len(m.reserved))
	for c := range m.reserved {
		out = append(out, c)
	}
	return out
}

// DiscardReservation drops call from the reservation set without committing
// it, used when nobody is waiting anymore by the time it would activate.
func (m *Manager) DiscardReservation(call domain.HallCall) {
	delete(m.reserved, call)
}

// ActivateReservation merges a reserved call into the real stop sets.
func (m *Manager) ActivateReservation(call domain.HallCall, currentFloor domain.Floor) {
	delete(m.reserved, call)
	m.AddHallStop(call.Floor, currentFloor, call.Direction)
}

// CancelHallCall removes floor/dir from the reservation set and the
// per-floor hall map. If no internal need remains at that floor and no hall
// direction remains committed there, the floor is dropped from the stop sets
// too.
func (m *Manager) CancelHallCall(floor domain.Floor, dir domain.Direction) {
	m.DiscardReservation(domain.NewHallCall(floor, dir))

	if dirs, ok := m.hallCallsByFloor[floor]; ok {
		delete(dirs, dir)
		if len(dirs) == 0 {
			delete(m.hallCallsByFloor, floor)
		}
	}

	if m.hasInternalNeed(floor) || m.hasHallDirection(floor) {
		return
	}
	delete(m.stopsUp, floor)
	delete(m.stopsDown, floor)
}

func (m *Manager) hasInternalNeed(floor domain.Floor) bool {
	_, up := m.internalUp[floor]
	_, down := m.internalDown[floor]
	return up || down
}

func (m *Manager) hasHallDirection(floor domain.Floor) bool {
	dirs, ok := m.hallCallsByFloor[floor]
	return ok && len(dirs) > 0
}

// RemoveFloor clears floor out of all four stop sets, used once a stop is
// actually served and every need there has been satisfied.
func (m *Manager) RemoveFloor(floor domain.Floor) {
	delete(m.stopsUp, floor)
	delete(m.stopsDown, floor)
	delete(m.internalUp, floor)
	delete(m.internalDown, floor)
}

// RemoveInternalStop clears only the internal-need marker for floor, leaving
// any hall commitment intact; used after offloading a passenger.
func (m *Manager) RemoveInternalStop(floor domain.Floor) {
	delete(m.internalUp, floor)
	delete(m.internalDown, floor)
	if !m.hasHallDirection(floor) {
		delete(m.stopsUp, floor)
		delete(m.stopsDown, floor)
	}
}

// HallDirectionsAt returns a copy of the committed hall directions at floor.
func (m *Manager) HallDirectionsAt(floor domain.Floor) []domain.Direction {
	dirs := m.hallCallsByFloor[floor]
	out := make([]domain.Direction, 0, len(dirs))
	for d := range dirs {
		out = append(out, d)
	}
	return out
}

// RemoveHallDirections clears the given directions from floor's hall map,
// deleting the entry entirely once nothing remains.
func (m *Manager) RemoveHallDirections(floor domain.Floor, dirs []domain.Direction) {
	existing, ok := m.hallCallsByFloor[floor]
	if !ok {
		return
	}
	for _, d := range dirs {
		delete(existing, d)
	}
	if len(existing) == 0 {
		delete(m.hallCallsByFloor, floor)
	}
}

// HasUp reports whether any stop is pending on the up side.
func (m *Manager) HasUp() bool { return len(m.stopsUp) > 0 }

// HasDown reports whether any stop is pending on the down side.
func (m *Manager) HasDown() bool { return len(m.stopsDown) > 0 }

// HasInternalUp reports onboard-only up demand.
func (m *Manager) HasInternalUp() bool { return len(m.internalUp) > 0 }

// HasInternalDown reports onboard-only down demand.
func (m *Manager) HasInternalDown() bool { return len(m.internalDown) > 0 }

// IsIdle reports no pending stops in either direction.
func (m *Manager) IsIdle() bool {
	return len(m.stopsUp) == 0 && len(m.stopsDown) == 0
}

// HasStopAt reports whether floor is committed in either stop set.
func (m *Manager) HasStopAt(floor domain.Floor) bool {
	_, up := m.stopsUp[floor]
	_, down := m.stopsDown[floor]
	return up || down
}

// PlannedStops is the count of distinct floors still committed, used for
// MAX_PLANNED_STOPS and overload checks.
func (m *Manager) PlannedStops() int {
	seen := make(map[domain.Floor]struct{}, len(m.stopsUp)+len(m.stopsDown))
	for f := range m.stopsUp {
		seen[f] = struct{}{}
	}
	for f := range m.stopsDown {
		seen[f] = struct{}{}
	}
	return len(seen)
}

// FurthestUp returns the highest committed up-side floor (stop or internal),
// or domain.NoStop if none.
func (m *Manager) FurthestUp() domain.Floor {
	return maxFloor(m.stopsUp, m.internalUp)
}

// FurthestDown returns the lowest committed down-side floor (stop or
// internal), or domain.NoStop if none.
func (m *Manager) FurthestDown() domain.Floor {
	return minFloor(m.stopsDown, m.internalDown)
}

func maxFloor(sets ...map[domain.Floor]struct{}) domain.Floor {
	first := true
	var best domain.Floor
	for _, set := range sets {
		for f := range set {
			if first || f.IsAbove(best) {
				best = f
				first = false
			}
		}
	}
	if first {
		return domain.NoStop
	}
	return best
}

func minFloor(sets ...map[domain.Floor]struct{}) domain.Floor {
	first := true
	var best domain.Floor
	for _, set := range sets {
		for f := range set {
			if first || f.IsBelow(best) {
				best = f
				first = false
			}
		}
	}
	if first {
		return domain.NoStop
	}
	return best
}

// NextHallUp returns the smallest hall up-side stop >= currentFloor (the
// ceiling), wrapping to the smallest overall if none qualifies.
func (m *Manager) NextHallUp(currentFloor domain.Floor) (domain.Floor, bool) {
	return ceiling(m.stopsUp, currentFloor)
}

// NextHallDown returns the largest hall down-side stop <= currentFloor (the
// floor/greatest-lower-bound), wrapping to the largest overall if none
// qualifies.
func (m *Manager) NextHallDown(currentFloor domain.Floor) (domain.Floor, bool) {
	return floorOf(m.stopsDown, currentFloor)
}

func sortedFloors(set map[domain.Floor]struct{}) []domain.Floor {
	out := make([]domain.Floor, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ceiling(set map[domain.Floor]struct{}, currentFloor domain.Floor) (domain.Floor, bool) {
	if len(set) == 0 {
		return 0, false
	}
	floors := sortedFloors(set)
	for _, f := range floors {
		if f.Value() >= currentFloor.Value() {
			return f, true
		}
	}
	// Nothing above: wrap to the lowest so the car still makes progress.
	return floors[0], true
}

func floorOf(set map[domain.Floor]struct{}, currentFloor domain.Floor) (domain.Floor, bool) {
	if len(set) == 0 {
		return 0, false
	}
	floors := sortedFloors(set)
	for i := len(floors) - 1; i >= 0; i-- {
		if floors[i].Value() <= currentFloor.Value() {
			return floors[i], true
		}
	}
	return floors[len(floors)-1], true
}
