package engine

import "github.com/DoyleJ11/marathon-draft/internal/athlete"

type SlotID string

const (
	SlotM1 SlotID = "M1"
	SlotM2 SlotID = "M2"
	SlotM3 SlotID = "M3"
	SlotW1 SlotID = "W1"
	SlotW2 SlotID = "W2"
	SlotW3 SlotID = "W3"
)

// SlotOrder is the fixed roster layout; submission order follows it.
var SlotOrder = []SlotID{
	// Men
	SlotM1,
	SlotM2,
	SlotM3,
	// Women
	SlotW1,
	SlotW2,
	SlotW3,
}

const SlotsPerGender = 3

// Gender reports the gender a slot accepts and whether the id is one of the six.
func (s SlotID) Gender() (athlete.Gender, bool) {
	switch s {
	case SlotM1, SlotM2, SlotM3:
		return athlete.GenderMen, true
	case SlotW1, SlotW2, SlotW3:
		return athlete.GenderWomen, true
	default:
		return "", false
	}
}

func (s SlotID) Valid() bool {
	_, ok := s.Gender()
	return ok
}

func slotsFor(g athlete.Gender) []SlotID {
	if g == athlete.GenderMen {
		return SlotOrder[:SlotsPerGender]
	}
	return SlotOrder[SlotsPerGender:]
}
