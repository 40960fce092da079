package proto

import (
	"encoding/json"
	"fmt"
)

// CallID is the canonical identifier correlating all events and actions for
// one call attempt. Servers send it inconsistently as a JSON string or a JSON
// number; it is normalized to one string form at the wire boundary so every
// later comparison is plain equality.
type CallID string

func (id CallID) String() string { return string(id) }

// UnmarshalJSON accepts both "900" and 900 and stores the string form.
func (id *CallID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = CallID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("call id must be a string or number: %w", err)
	}
	*id = CallID(n.String())
	return nil
}
