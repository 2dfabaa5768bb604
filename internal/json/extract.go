// Package json pulls JSON objects out of model replies.
//
// Models asked for JSON sometimes wrap it in code fences or prose. Extraction
// scans for balanced objects, honouring string literals, and returns the
// first one that gjson accepts as valid.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoObject is returned when a reply contains no valid JSON object.
var ErrNoObject = errors.New("no JSON object in reply")

// ExtractObject returns the first valid JSON object in reply.
func ExtractObject(reply string) (string, error) {
	trimmed := strings.TrimSpace(reply)
	if strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed) {
		return trimmed, nil
	}

	for start := strings.IndexByte(reply, '{'); start >= 0; {
		if end := matchBrace(reply, start); end > start {
			candidate := reply[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, nil
			}
		}
		next := strings.IndexByte(reply[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", fmt.Errorf("%w: %q", ErrNoObject, preview(reply))
}

// Decode extracts the first JSON object in reply and unmarshals it into out.
func Decode(reply string, out any) error {
	obj, err := ExtractObject(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func preview(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}
