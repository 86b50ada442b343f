package engine

import "github.com/DoyleJ11/marathon-draft/internal/athlete"

// PersistedTeam is the shape the Draft API stores.
type PersistedTeam struct {
	Men        []athlete.Athlete `json:"men"`
	Women      []athlete.Athlete `json:"women"`
	TotalSpent int               `json:"totalSpent"`
	TeamName   string            `json:"teamName"`
}

func NewEmptyState() State {
	return State{
		Slots: make(map[SlotID]athlete.Athlete, len(SlotOrder)),
	}
}

func (s State) Clone() State {
	out := s
	out.Slots = make(map[SlotID]athlete.Athlete, len(SlotOrder))
	for id, a := range s.Slots {
		out.Slots[id] = a
	}
	if s.Editing != nil {
		sel := *s.Editing
		out.Editing = &sel
	}
	return out
}

func (s State) FilledSlotCount() int {
	n := 0
	for _, id := range SlotOrder {
		if _, ok := s.Slots[id]; ok {
			n++
		}
	}
	return n
}

func (s State) RemainingBudget() int {
	return SalaryCap - spent(s.Slots)
}

func (s State) IsOverBudget() bool {
	return spent(s.Slots) > SalaryCap
}

// SubmitError is the reason the roster cannot be submitted, or nil.
func (s State) SubmitError() error {
	if s.PermanentlyLocked {
		return ErrPermanentlyLocked
	}
	if s.FilledSlotCount() != len(SlotOrder) {
		return ErrIncompleteRoster
	}
	if s.IsOverBudget() {
		return ErrBudgetExceeded
	}
	return nil
}

func (s State) CanSubmit() bool {
	return s.SubmitError() == nil
}

// Team splits the slots into men and women in slot order.
func (s State) Team(teamName string) PersistedTeam {
	t := PersistedTeam{
		Men:        make([]athlete.Athlete, 0, SlotsPerGender),
		Women:      make([]athlete.Athlete, 0, SlotsPerGender),
		TotalSpent: spent(s.Slots),
		TeamName:   teamName,
	}
	for _, id := range SlotOrder {
		a, ok := s.Slots[id]
		if !ok {
			continue
		}
		if g, _ := id.Gender(); g == athlete.GenderMen {
			t.Men = append(t.Men, a)
		} else {
			t.Women = append(t.Women, a)
		}
	}
	return t
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func spent(slots map[SlotID]athlete.Athlete) int {
	total := 0
	for _, id := range SlotOrder {
		if a, ok := slots[id]; ok {
			total += a.Cost()
		}
	}
	return total
}

func slotOf(s State, athleteID int) (SlotID, bool) {
	for _, id := range SlotOrder {
		if a, ok := s.Slots[id]; ok && a.ID == athleteID {
			return id, true
		}
	}
	return "", false
}
