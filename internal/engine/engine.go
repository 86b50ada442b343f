package engine

import (
	"errors"
	"time"

	"github.com/DoyleJ11/marathon-draft/internal/athlete"
)

var ErrInvalidSlot = errors.New("invalid slot")
var ErrGenderMismatch = errors.New("athlete gender does not match slot")
var ErrDuplicateAthlete = errors.New("athlete already fills another slot")
var ErrRosterLocked = errors.New("roster is locked")
var ErrPermanentlyLocked = errors.New("roster is permanently locked")
var ErrIncompleteRoster = errors.New("roster is incomplete")
var ErrBudgetExceeded = errors.New("salary cap exceeded")
var ErrSubmitInFlight = errors.New("submission already in progress")
var ErrNotSubmitting = errors.New("no submission in progress")
var ErrUnsupportedCommand = errors.New("unsupported command")

// SalaryCap is the most a full roster may cost.
const SalaryCap = 30000

// Selection is the transient UI context: which slot is being edited.
type Selection struct {
	Slot   SlotID         `json:"slot"`
	Gender athlete.Gender `json:"gender"`
}

type State struct {
	Slots             map[SlotID]athlete.Athlete `json:"slots"`
	TotalSpent        int                        `json:"totalSpent"`
	Locked            bool                       `json:"isLocked"`
	PermanentlyLocked bool                       `json:"permanentlyLocked"`
	Submitting        bool                       `json:"isSubmitting"`
	Editing           *Selection                 `json:"editing,omitempty"`
}

type CommandType string

const (
	CmdSelectAthlete   CommandType = "SelectAthlete"
	CmdRemoveAthlete   CommandType = "RemoveAthlete"
	CmdUnlock          CommandType = "Unlock"
	CmdEvaluateLock    CommandType = "EvaluateLock"
	CmdBeginSubmit     CommandType = "BeginSubmit"
	CmdSubmitSucceeded CommandType = "SubmitSucceeded"
	CmdSubmitFailed    CommandType = "SubmitFailed"
	CmdFocusSlot       CommandType = "FocusSlot"
	CmdRestore         CommandType = "Restore"
)

/*
	CmdSelectAthlete   -> EvtAthleteSelected (Replaced set when the slot held someone else)
	CmdRemoveAthlete   -> EvtAthleteRemoved
	CmdUnlock          -> EvtRosterUnlocked
	CmdEvaluateLock    -> EvtPermanentlyLocked, only the first time it trips
	CmdBeginSubmit     -> EvtSubmitStarted
	CmdSubmitSucceeded -> EvtRosterLocked
	CmdSubmitFailed    -> EvtSubmitFailed
	CmdFocusSlot       -> EvtFocusChanged
	CmdRestore         -> EvtRosterRestored
*/

type Command struct {
	Type    CommandType
	Slot    SlotID
	Athlete athlete.Athlete

	// CmdEvaluateLock
	HasResults bool
	LockTime   *time.Time
	At         time.Time

	// CmdRestore
	Roster []athlete.Athlete
}

type EventType string

const (
	EvtAthleteSelected   EventType = "AthleteSelected"
	EvtAthleteRemoved    EventType = "AthleteRemoved"
	EvtRosterUnlocked    EventType = "RosterUnlocked"
	EvtRosterLocked      EventType = "RosterLocked"
	EvtPermanentlyLocked EventType = "PermanentlyLocked"
	EvtSubmitStarted     EventType = "SubmitStarted"
	EvtSubmitFailed      EventType = "SubmitFailed"
	EvtFocusChanged      EventType = "FocusChanged"
	EvtRosterRestored    EventType = "RosterRestored"
)

type Event struct {
	Type      EventType
	Slot      SlotID
	AthleteID int
	Replaced  int
}

// Apply validates cmd against s and returns the resulting state. s is never
// mutated; on error the returned state is s itself. A nil event slice with a
// nil error means the command was a no-op.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdSelectAthlete:
		gender, ok := cmd.Slot.Gender()
		if !ok {
			return nil, s, ErrInvalidSlot
		}
		if cmd.Athlete.Gender != gender {
			return nil, s, ErrGenderMismatch
		}
		if err := editable(s); err != nil {
			return nil, s, err
		}
		if other, taken := slotOf(s, cmd.Athlete.ID); taken && other != cmd.Slot {
			return nil, s, ErrDuplicateAthlete
		}

		prev, occupied := s.Slots[cmd.Slot]
		if occupied && prev.ID == cmd.Athlete.ID {
			return nil, s, nil
		}

		next := s.Clone()
		next.Slots[cmd.Slot] = cmd.Athlete
		next.Editing = nil
		next.TotalSpent = spent(next.Slots)

		evt := Event{Type: EvtAthleteSelected, Slot: cmd.Slot, AthleteID: cmd.Athlete.ID}
		if occupied {
			evt.Replaced = prev.ID
		}
		return []Event{evt}, next, nil

	case CmdRemoveAthlete:
		if !cmd.Slot.Valid() {
			return nil, s, ErrInvalidSlot
		}
		if err := editable(s); err != nil {
			return nil, s, err
		}
		prev, occupied := s.Slots[cmd.Slot]
		if !occupied {
			return nil, s, nil
		}

		next := s.Clone()
		delete(next.Slots, cmd.Slot)
		next.TotalSpent = spent(next.Slots)
		return []Event{{Type: EvtAthleteRemoved, Slot: cmd.Slot, AthleteID: prev.ID}}, next, nil

	case CmdUnlock:
		if s.PermanentlyLocked {
			return nil, s, ErrPermanentlyLocked
		}
		if s.Submitting {
			return nil, s, ErrSubmitInFlight
		}
		if !s.Locked {
			return nil, s, nil
		}
		next := s.Clone()
		next.Locked = false
		return []Event{{Type: EvtRosterUnlocked}}, next, nil

	case CmdEvaluateLock:
		// Monotonic: once tripped nothing here can clear it.
		if s.PermanentlyLocked {
			return nil, s, nil
		}
		at := cmd.At
		if at.IsZero() {
			at = time.Now()
		}
		pastDeadline := cmd.LockTime != nil && !at.Before(*cmd.LockTime)
		if !cmd.HasResults && !pastDeadline {
			return nil, s, nil
		}
		next := s.Clone()
		next.PermanentlyLocked = true
		next.Editing = nil
		return []Event{{Type: EvtPermanentlyLocked}}, next, nil

	case CmdBeginSubmit:
		if s.Submitting {
			return nil, s, ErrSubmitInFlight
		}
		if err := s.SubmitError(); err != nil {
			return nil, s, err
		}
		if s.Locked {
			return nil, s, ErrRosterLocked
		}
		next := s.Clone()
		next.Submitting = true
		next.Editing = nil
		return []Event{{Type: EvtSubmitStarted}}, next, nil

	case CmdSubmitSucceeded:
		if !s.Submitting {
			return nil, s, ErrNotSubmitting
		}
		next := s.Clone()
		next.Submitting = false
		next.Locked = true
		return []Event{{Type: EvtRosterLocked}}, next, nil

	case CmdSubmitFailed:
		if !s.Submitting {
			return nil, s, ErrNotSubmitting
		}
		next := s.Clone()
		next.Submitting = false
		return []Event{{Type: EvtSubmitFailed}}, next, nil

	case CmdFocusSlot:
		next := s.Clone()
		if cmd.Slot == "" {
			next.Editing = nil
			return []Event{{Type: EvtFocusChanged}}, next, nil
		}
		gender, ok := cmd.Slot.Gender()
		if !ok {
			return nil, s, ErrInvalidSlot
		}
		if err := editable(s); err != nil {
			return nil, s, err
		}
		next.Editing = &Selection{Slot: cmd.Slot, Gender: gender}
		return []Event{{Type: EvtFocusChanged, Slot: cmd.Slot}}, next, nil

	case CmdRestore:
		if s.PermanentlyLocked {
			return nil, s, ErrPermanentlyLocked
		}
		if s.Submitting {
			return nil, s, ErrSubmitInFlight
		}
		next := s.Clone()
		next.Slots = seat(cmd.Roster)
		next.TotalSpent = spent(next.Slots)
		next.Locked = next.FilledSlotCount() == len(SlotOrder)
		next.Editing = nil
		return []Event{{Type: EvtRosterRestored}}, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func editable(s State) error {
	if s.PermanentlyLocked {
		return ErrPermanentlyLocked
	}
	if s.Locked {
		return ErrRosterLocked
	}
	if s.Submitting {
		return ErrSubmitInFlight
	}
	return nil
}

// seat places a persisted roster into slots in order. Athletes that do not fit
// (unknown gender, repeated id, more than three per gender) are dropped.
func seat(roster []athlete.Athlete) map[SlotID]athlete.Athlete {
	slots := make(map[SlotID]athlete.Athlete, len(SlotOrder))
	seen := make(map[int]bool, len(roster))
	for _, a := range roster {
		if seen[a.ID] {
			continue
		}
		if a.Gender != athlete.GenderMen && a.Gender != athlete.GenderWomen {
			continue
		}
		for _, id := range slotsFor(a.Gender) {
			if _, taken := slots[id]; !taken {
				slots[id] = a
				seen[a.ID] = true
				break
			}
		}
	}
	return slots
}
