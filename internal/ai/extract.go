package ai

import "encoding/json"

// ExtractJSON pulls the first JSON object out of a completion. Models tend to
// wrap the object in prose or markdown fences, so scan for the first brace
// and match its closer, skipping braces inside string literals. Fails soft:
// anything unusable yields an empty object.
func ExtractJSON(s string) json.RawMessage {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if json.Valid([]byte(candidate)) {
					return json.RawMessage(candidate)
				}
				return json.RawMessage("{}")
			}
		}
	}

	return json.RawMessage("{}")
}
