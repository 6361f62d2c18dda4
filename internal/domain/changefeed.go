package domain

import "encoding/json"

// EventName is the change type of a change-feed record.
type EventName string

const (
	EventInsert EventName = "INSERT"
	EventModify EventName = "MODIFY"
	EventRemove EventName = "REMOVE"
)

// ChangeEvent is one change-feed record. The JSON shape follows the DynamoDB Streams
// record format so batches produced by that pipeline can be consumed unchanged.
type ChangeEvent struct {
	EventID     string       `json:"eventID,omitempty"`
	EventName   EventName    `json:"eventName"`
	EventSource string       `json:"eventSource,omitempty"`
	Change      StreamRecord `json:"dynamodb"`
}

type StreamRecord struct {
	Keys           map[string]AttributeValue `json:"Keys,omitempty"`
	NewImage       map[string]AttributeValue `json:"NewImage,omitempty"`
	SequenceNumber string                    `json:"SequenceNumber,omitempty"`
}

// AttributeKind tags the variant held by an AttributeValue.
type AttributeKind int

const (
	KindUnknown AttributeKind = iota
	KindString
	KindNumber
	KindBool
	KindNull
	KindMap
	KindList
)

func (k AttributeKind) String() string {
	switch k {
	case KindString:
		return "S"
	case KindNumber:
		return "N"
	case KindBool:
		return "BOOL"
	case KindNull:
		return "NULL"
	case KindMap:
		return "M"
	case KindList:
		return "L"
	default:
		return "unknown"
	}
}

// AttributeValue is a type-tagged value of the change-feed wire format:
// {"S":"x"}, {"N":"1.5"}, {"BOOL":true}, {"NULL":true}, {"M":{...}}, {"L":[...]}.
// Any other tag (SS, NS, B, ...), a malformed payload or a value that is not an
// object is KindUnknown.
type AttributeValue struct {
	Kind AttributeKind

	S string // string value, or the decimal text of a number
	B bool
	M map[string]AttributeValue
	L []AttributeValue

	// Raw keeps the original object of an unknown value so it can be re-emitted.
	Raw json.RawMessage
}

func StringValue(s string) AttributeValue { return AttributeValue{Kind: KindString, S: s} }
func NumberValue(n string) AttributeValue { return AttributeValue{Kind: KindNumber, S: n} }
func BoolValue(b bool) AttributeValue     { return AttributeValue{Kind: KindBool, B: b} }
func NullValue() AttributeValue           { return AttributeValue{Kind: KindNull} }

func MapValue(m map[string]AttributeValue) AttributeValue {
	return AttributeValue{Kind: KindMap, M: m}
}

func ListValue(l ...AttributeValue) AttributeValue {
	return AttributeValue{Kind: KindList, L: l}
}

func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	*v = AttributeValue{Kind: KindUnknown, Raw: append(json.RawMessage(nil), data...)}

	// Untagged values ("score":7) stay unknown; the raw text is kept for decoding.
	var tagged map[string]json.RawMessage
	if json.Unmarshal(data, &tagged) != nil || tagged == nil {
		return nil
	}

	// Tag precedence matches the producer: S, N, BOOL, M, L, NULL.
	if raw, ok := tagged["S"]; ok {
		if json.Unmarshal(raw, &v.S) == nil {
			v.Kind, v.Raw = KindString, nil
		}
		return nil
	}
	if raw, ok := tagged["N"]; ok {
		if json.Unmarshal(raw, &v.S) == nil {
			v.Kind, v.Raw = KindNumber, nil
		}
		return nil
	}
	if raw, ok := tagged["BOOL"]; ok {
		if json.Unmarshal(raw, &v.B) == nil {
			v.Kind, v.Raw = KindBool, nil
		}
		return nil
	}
	if raw, ok := tagged["M"]; ok {
		var m map[string]AttributeValue
		if json.Unmarshal(raw, &m) == nil {
			v.Kind, v.M, v.Raw = KindMap, m, nil
		}
		return nil
	}
	if raw, ok := tagged["L"]; ok {
		var l []AttributeValue
		if json.Unmarshal(raw, &l) == nil {
			v.Kind, v.L, v.Raw = KindList, l, nil
		}
		return nil
	}
	if _, ok := tagged["NULL"]; ok {
		v.Kind, v.Raw = KindNull, nil
	}
	return nil
}

func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(map[string]string{"S": v.S})
	case KindNumber:
		return json.Marshal(map[string]string{"N": v.S})
	case KindBool:
		return json.Marshal(map[string]bool{"BOOL": v.B})
	case KindNull:
		return []byte(`{"NULL":true}`), nil
	case KindMap:
		m := v.M
		if m == nil {
			m = map[string]AttributeValue{}
		}
		return json.Marshal(map[string]map[string]AttributeValue{"M": m})
	case KindList:
		l := v.L
		if l == nil {
			l = []AttributeValue{}
		}
		return json.Marshal(map[string][]AttributeValue{"L": l})
	default:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return []byte(`{}`), nil
	}
}
