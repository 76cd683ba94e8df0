package fanout

import "strings"

// droppedFields are the large/binary fields the Fan-out Dispatcher
// strips before seeding a ParsedDocument — the parser reads HTML from
// html_file_path, never from the fan-out payload.
var droppedFields = map[string]bool{
	"html":             true,
	"body":             true,
	"raw_content":      true,
	"response_headers": true,
}

// sanitizeCustom recursively decodes any []byte values to text using a
// replace-on-error strategy (invalid UTF-8 sequences become U+FFFD) and
// drops the large binary fields by name, at every nesting level.
func sanitizeCustom(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if droppedFields[k] {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return strings.ToValidUTF8(string(val), "�")
	case map[string]interface{}:
		return sanitizeCustom(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
