package lifecycle

import "encoding/json"

// marshalAttributes encodes an event's attribute map into the
// json.RawMessage shape models.Event.Attributes expects. A nil map
// encodes to nil rather than the literal string "null", so an event with
// no attributes stores a NULL column instead of a stray JSON token.
func marshalAttributes(attributes map[string]any) (json.RawMessage, error) {
	if len(attributes) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(encoded), nil
}
