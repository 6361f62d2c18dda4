package changefeed

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/pscheid92/councilcast/internal/domain"
)

// MarshalMessage renders a message as the JSON text delivered to clients.
// Values JSON cannot represent are converted to their string form.
func MarshalMessage(msg domain.Message) ([]byte, error) {
	data, err := json.Marshal(textSafe(map[string]any(msg)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

func textSafe(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int, int32, int64, uint, uint32, uint64:
		return x
	case json.Number:
		if !isJSONNumber(x) {
			return string(x)
		}
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Sprint(x)
		}
		return x
	case float32:
		return textSafe(float64(x))
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case domain.Message:
		return textSafe(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			out[k] = textSafe(el)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = textSafe(el)
		}
		return out
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	default:
		if data, err := json.Marshal(x); err == nil {
			return json.RawMessage(data)
		}
		return fmt.Sprint(x)
	}
}

// jsonNumber is the number grammar of RFC 8259, with no surrounding whitespace.
var jsonNumber = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

func isJSONNumber(n json.Number) bool {
	return jsonNumber.MatchString(string(n))
}
