package changefeed

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pscheid92/councilcast/internal/domain"
)

// Encode converts a message into a type-tagged record image.
// Values with no tagged representation are left out.
func Encode(msg domain.Message) map[string]domain.AttributeValue {
	image := make(map[string]domain.AttributeValue, len(msg))
	for key, v := range msg {
		if av, ok := encodeValue(v); ok {
			image[key] = av
		}
	}
	return image
}

func encodeValue(v any) (domain.AttributeValue, bool) {
	switch x := v.(type) {
	case nil:
		return domain.NullValue(), true
	case string:
		return domain.StringValue(x), true
	case json.Number:
		return domain.NumberValue(x.String()), true
	case bool:
		return domain.BoolValue(x), true
	case int:
		return domain.NumberValue(strconv.Itoa(x)), true
	case int64:
		return domain.NumberValue(strconv.FormatInt(x, 10)), true
	case float64:
		return domain.NumberValue(strconv.FormatFloat(x, 'f', -1, 64)), true
	case time.Time:
		return domain.StringValue(x.Format(time.RFC3339Nano)), true
	case domain.Message:
		return domain.MapValue(Encode(x)), true
	case map[string]any:
		return domain.MapValue(Encode(x)), true
	case []string:
		items := make([]domain.AttributeValue, len(x))
		for i, s := range x {
			items[i] = domain.StringValue(s)
		}
		return domain.ListValue(items...), true
	case []any:
		items := make([]domain.AttributeValue, 0, len(x))
		for _, el := range x {
			if av, ok := encodeValue(el); ok {
				items = append(items, av)
			}
		}
		return domain.ListValue(items...), true
	default:
		return domain.AttributeValue{}, false
	}
}
