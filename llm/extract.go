package llm

import "strings"

// ExtractJSON pulls a JSON object out of a model reply and repairs the
// malformations local models produce most often. The object may sit
// inside a markdown fence or be surrounded by prose; the widest
// brace-delimited span wins. Line comments and trailing commas are
// removed with string contents left untouched. Returns "" when the reply
// holds no object at all.
func ExtractJSON(content string) string {
	if fenced, ok := fencedBlock(content); ok {
		if obj := outerObject(fenced); obj != "" {
			return repairJSON(obj)
		}
	}
	if obj := outerObject(content); obj != "" {
		return repairJSON(obj)
	}
	return ""
}

// fencedBlock returns the body of the first ``` fence, tolerating a
// language tag after the opening backticks.
func fencedBlock(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open < 0 {
		return "", false
	}
	body := s[open+3:]
	closing := strings.Index(body, "```")
	if closing < 0 {
		return "", false
	}
	return body[:closing], true
}

// outerObject returns the widest {...} span in s, or "".
func outerObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// repairJSON strips // comments, then trailing commas. Comments go first
// so a comma followed by a comment and a closing brace is still caught.
func repairJSON(raw string) string {
	return dropTrailingCommas(stripLineComments(raw))
}

// stripLineComments removes // comments outside of string values, so
// URLs like "https://..." survive.
func stripLineComments(raw string) string {
	var out strings.Builder
	out.Grow(len(raw))
	inString, escaped := false, false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			out.WriteByte(ch)
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
		if ch == '/' && i+1 < len(raw) && raw[i+1] == '/' {
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			if i < len(raw) {
				out.WriteByte('\n')
			}
			continue
		}
		if ch == '"' {
			inString = true
		}
		out.WriteByte(ch)
	}
	return out.String()
}

// dropTrailingCommas removes a comma whose next non-whitespace character
// closes a container. Commas inside string values pass through.
func dropTrailingCommas(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			out.WriteByte(ch)
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
		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}
		if ch == ',' {
			j := i + 1
			for j < len(s) && isJSONSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func isJSONSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}
