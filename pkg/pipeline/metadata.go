package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// listDelimiter joins list-valued metadata into a single scalar
const listDelimiter = ";"

// CleanMetadata flattens arbitrary metadata into the scalar-only form
// the vector store accepts: lists join with a delimiter, nested maps
// serialize to JSON, nil values drop, scalars format naturally. This
// is the single place flattening happens; parsers and extractors are
// free to emit rich values.
func CleanMetadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		s, ok := flatten(value)
		if !ok {
			continue
		}
		out[key] = s
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func flatten(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case []string:
		return strings.Join(v, listDelimiter), true
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := flatten(item); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, listDelimiter), true
	case map[string]any:
		// json.Marshal sorts map keys, so flattened values are stable.
		data, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(data), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
