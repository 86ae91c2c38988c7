package virtops

import (
	"encoding/json"
	"fmt"
	"strings"

	"virtops/internal/check"
)

// Status is the lifecycle status carried by every entity record.
type Status uint8

const (
	StatusActive Status = iota + 1
	// StatusProcessing is reserved for actions that need external
	// confirmation before they complete. No shipped operator produces it.
	StatusProcessing
	StatusDeleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusProcessing:
		return "processing"
	case StatusDeleted:
		return "deleted"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the four persisted statuses.
func (s Status) Valid() bool {
	return s >= StatusActive && s <= StatusError
}

// Exists reports whether a record with this status stands for something that
// exists in the real world. Deleted and Error records do not.
func (s Status) Exists() bool {
	return s == StatusActive || s == StatusProcessing
}

// Transition returns to when s -> to is a legal lifecycle move. Illegal moves
// panic in debug builds and leave s unchanged otherwise.
func (s Status) Transition(to Status) Status {
	ok := false
	switch s {
	case StatusActive:
		ok = to == StatusActive || to == StatusProcessing || to == StatusDeleted || to == StatusError
	case StatusProcessing:
		ok = to == StatusActive || to == StatusError || to == StatusDeleted
	case StatusError:
		// Error records are recreated from a clean slate or cleaned up.
		ok = to == StatusActive || to == StatusDeleted || to == StatusError
	case StatusDeleted:
		// A reused identity starts a fresh record.
		ok = to == StatusActive || to == StatusDeleted
	}
	check.Assertf(ok, "entity status transition: %s -> %s", s, to)
	if !ok {
		return s
	}
	return to
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid entity status %d", s)
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next, ok := ParseStatus(raw)
	if !ok {
		return fmt.Errorf("invalid entity status: %q", raw)
	}
	*s = next
	return nil
}

// ParseStatus parses the persisted form of a status. An empty string is the
// default status, active.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "active":
		return StatusActive, true
	case "processing":
		return StatusProcessing, true
	case "deleted":
		return StatusDeleted, true
	case "error":
		return StatusError, true
	default:
		return 0, false
	}
}
