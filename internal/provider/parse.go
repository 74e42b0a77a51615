package provider

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\n?(.*?)```")

// ParseStructured reads text as JSON, first directly and then from the first
// fenced code block. It returns nil when neither works.
func ParseStructured(text string) json.RawMessage {
	if raw := validJSON(text); raw != nil {
		return raw
	}
	m := fencedBlock.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return validJSON(m[1])
}

func validJSON(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" || !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}
