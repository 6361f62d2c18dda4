package changefeed

import (
	"bytes"
	"encoding/json"

	"github.com/pscheid92/councilcast/internal/domain"
)

// Decode flattens a type-tagged record image into a message.
// Values with an unknown tag produce no field; untagged scalars pass through as they are.
func Decode(image map[string]domain.AttributeValue) domain.Message {
	msg := make(domain.Message, len(image))
	for key, av := range image {
		if v, ok := decodeValue(av); ok {
			msg[key] = v
		}
	}
	return msg
}

// decodeValue unwraps a single tagged value. ok is false for unknown tags.
func decodeValue(av domain.AttributeValue) (v any, ok bool) {
	switch av.Kind {
	case domain.KindString:
		return av.S, true
	case domain.KindNumber:
		return json.Number(av.S), true
	case domain.KindBool:
		return av.B, true
	case domain.KindNull:
		return nil, true
	case domain.KindMap:
		return map[string]any(Decode(av.M)), true
	case domain.KindList:
		items := make([]any, 0, len(av.L))
		for _, el := range av.L {
			if item, ok := decodeValue(el); ok {
				items = append(items, item)
			}
		}
		return items, true
	default:
		return flatScalar(av.Raw)
	}
}

// flatScalar returns an untagged JSON string, number, boolean or null.
// Objects and arrays without a known tag are dropped.
func flatScalar(raw json.RawMessage) (any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '{' || raw[0] == '[' {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}
