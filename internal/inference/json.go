package inference

import (
	"encoding/json"
	"errors"
	"strings"
)

// ExtractJSON returns the JSON object in a model response. The whole
// response is tried first, then the first balanced {...} block, which
// covers answers wrapped in prose or markdown fences.
func ExtractJSON(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, &MalformedOutputError{Output: content, Err: errors.New("empty response")}
	}
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(trimmed), nil
	}

	object, ok := firstObject(trimmed)
	if !ok {
		return nil, &MalformedOutputError{Output: content, Err: errors.New("no JSON object found")}
	}
	if !json.Valid([]byte(object)) {
		return nil, &MalformedOutputError{Output: content, Err: errors.New("invalid JSON object")}
	}
	return json.RawMessage(object), nil
}

// firstObject finds the first { and its matching }, ignoring braces
// inside string literals.
func firstObject(content string) (string, bool) {
	firstBrace := -1
	braceCount := 0
	inString := false
	escapeNext := false

	for i, ch := range content {
		if escapeNext {
			escapeNext = false
			continue
		}
		if ch == '\\' && inString {
			escapeNext = true
			continue
		}
		if ch == '"' && firstBrace != -1 {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			if firstBrace == -1 {
				firstBrace = i
			}
			braceCount++
		case '}':
			if firstBrace == -1 {
				continue
			}
			braceCount--
			if braceCount == 0 {
				return content[firstBrace : i+1], true
			}
		}
	}
	return "", false
}
