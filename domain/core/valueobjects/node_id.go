package valueobjects

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"nodebase/pkg/utils"
)

// NodeID is a value object representing a unique node identifier.
// Most nodes carry a random UUID; container nodes for calendar dates use the
// deterministic key "YYYY-MM-DD" so the same date always maps to the same node.
type NodeID struct {
	value string
}

// NewNodeID creates a new random NodeID
func NewNodeID() NodeID {
	return NodeID{value: uuid.New().String()}
}

// NewDateNodeID creates the deterministic NodeID for a calendar-date container
func NewDateNodeID(t time.Time) NodeID {
	return NodeID{value: utils.DayKey(t)}
}

// NewNodeIDFromString creates a NodeID from an existing string
func NewNodeIDFromString(id string) (NodeID, error) {
	if id == "" {
		return NodeID{}, errors.New("node ID cannot be empty")
	}
	if !isValidUUID(id) && !isDayKey(id) {
		return NodeID{}, errors.New("node ID must be a UUID or a YYYY-MM-DD date key")
	}
	return NodeID{value: id}, nil
}

// String returns the string representation of the NodeID
func (id NodeID) String() string {
	return id.value
}

// Equals checks if two NodeIDs are equal
func (id NodeID) Equals(other NodeID) bool {
	return id.value == other.value
}

// IsZero checks if the NodeID is the zero value
func (id NodeID) IsZero() bool {
	return id.value == ""
}

// IsDateKey reports whether the id is a deterministic calendar-date key
func (id NodeID) IsDateKey() bool {
	return isDayKey(id.value)
}

// MarshalJSON implements json.Marshaler
func (id NodeID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *NodeID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("NodeID must be a string")
	}
	id.value = string(data[1 : len(data)-1])
	return nil
}

// isValidUUID validates if a string is a valid UUID
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// isDayKey validates the deterministic date-container key format
func isDayKey(s string) bool {
	_, err := utils.ParseDayKey(s)
	return err == nil
}
