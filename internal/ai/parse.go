package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoObject = errors.New("no balanced JSON object found")

// ParseJSON reads a JSON object out of provider text. It first strips a
// surrounding code fence and parses the remainder; failing that it parses the
// first balanced {...} in the text. When both fail the error is a
// *ResponseParseError holding the original text.
func ParseJSON(text string) (map[string]any, error) {
	var out map[string]any

	directErr := json.Unmarshal([]byte(stripFence(text)), &out)
	if directErr == nil && out != nil {
		return out, nil
	}
	if directErr == nil {
		directErr = errors.New("response is not a JSON object")
	}

	candidate, extractErr := firstObject(text)
	if extractErr == nil {
		out = nil
		if extractErr = json.Unmarshal([]byte(candidate), &out); extractErr == nil && out != nil {
			return out, nil
		}
		if extractErr == nil {
			extractErr = errNoObject
		}
	}

	return nil, &ResponseParseError{Raw: text, DirectErr: directErr, ExtractErr: extractErr}
}

// stripFence removes a leading ``` or ```json line and a trailing ``` marker.
func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// Drop the info string, e.g. "json".
			if !strings.ContainsAny(s[:nl], "{[") {
				s = s[nl+1:]
			}
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// firstObject returns the first balanced {...} substring of text. Braces inside
// JSON strings are ignored.
func firstObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", errNoObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", errNoObject
}
