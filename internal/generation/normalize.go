package generation

import "strings"

// Language tags models put after an opening fence.
var fenceTags = map[string]bool{
	"sql": true, "dql": true, "text": true, "txt": true, "plaintext": true,
	"plsql": true, "tsql": true, "mysql": true, "postgresql": true,
}

// Normalize trims model output and removes a surrounding markdown fence or a
// single pair of wrapping backticks.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		body := strings.TrimSpace(strings.TrimPrefix(s, "```"))
		body = strings.TrimSpace(strings.TrimSuffix(body, "```"))
		s = strings.TrimSpace(stripFenceTag(body))
	}

	if len(s) >= 2 && strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// stripFenceTag drops a known language tag from the start of a fence body:
// the whole first line of a multi-line fence, or the leading token of a
// one-line fence. Anything else is query text and is kept.
func stripFenceTag(body string) string {
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if fenceTags[strings.ToLower(strings.TrimSpace(body[:nl]))] {
			return body[nl+1:]
		}
		return body
	}
	first, rest, _ := strings.Cut(body, " ")
	if fenceTags[strings.ToLower(first)] {
		return rest
	}
	return body
}
