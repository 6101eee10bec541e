// Package zoning implements the group controller's soft zoning penalty: a
// preferred floor range per car, applied as an additive cost term rather
// than a hard constraint, so a car can still be assigned outside its zone
// when it is genuinely the best (or only) option.
package zoning

import "github.com/elevatorsim/controller/internal/domain"

// Zone is a car's preferred floor range, inclusive on both ends.
type Zone struct {
	MinFloor domain.Floor
	MaxFloor domain.Floor
}

func (z Zone) contains(floor domain.Floor) bool {
	return floor.Value() >= z.MinFloor.Value() && floor.Value() <= z.MaxFloor.Value()
}

// Table maps car IDs to zones and applies a flat penalty for calls outside
// a car's zone. It implements cost.ZonePenalizer.
type Table struct {
	zones   map[string]Zone
	penalty int
}

// New builds a zone table from carIDs in building order: the first car gets
// [minFloor, splitFloor], the second gets [splitFloor, maxFloor], and every
// car after that is a swing car spanning the whole building.
func New(carIDs []string, minFloor, splitFloor, maxFloor, penalty int) *Table {
	zones := make(map[string]Zone, len(carIDs))
	lo, split, hi := domain.NewFloor(minFloor), domain.NewFloor(splitFloor), domain.NewFloor(maxFloor)

	for i, id := range carIDs {
		switch i {
		case 0:
			zones[id] = Zone{MinFloor: lo, MaxFloor: split}
		case 1:
			zones[id] = Zone{MinFloor: split, MaxFloor: hi}
		default:
			zones[id] = Zone{MinFloor: lo, MaxFloor: hi}
		}
	}

	return &Table{zones: zones, penalty: penalty}
}

// ZonePenalty returns 0 if floor is within carID's zone (or carID is
// unknown), else the configured flat penalty.
func (t *Table) ZonePenalty(carID string, floor domain.Floor) int {
	zone, ok := t.zones[carID]
	if !ok {
		return 0
	}
	if zone.contains(floor) {
		return 0
	}
	return t.penalty
}
