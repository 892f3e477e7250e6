// Package notify converts push notification lines to change events and back.
//
// A line is a list of key=value pairs joined by ';'. Inside a value the
// sequences \; and \= stand for a literal ';' and '='.
package notify

import (
	"strings"

	"board-sync/domain"
)

// Decode parses a single notification line. It returns false when the line
// is missing a required key or names an unknown type or resource; callers
// drop such lines.
func Decode(raw string) (domain.ChangeEvent, bool) {
	fields := make(map[string]string, 5)
	for _, part := range splitPairs(raw) {
		idx := strings.IndexByte(part, '=')
		if idx == -1 {
			continue
		}
		key := strings.TrimSpace(part[:idx])
		fields[key] = unescape(part[idx+1:])
	}

	ev := domain.ChangeEvent{
		Type:     fields["type"],
		Resource: fields["resource"],
		ID:       fields["id"],
		Key:      fields["key"],
		Value:    fields["value"],
	}
	if ev.ID == "" || ev.Key == "" {
		return domain.ChangeEvent{}, false
	}
	switch ev.Type {
	case domain.EventCreate, domain.EventEdit, domain.EventDelete:
	default:
		return domain.ChangeEvent{}, false
	}
	switch ev.Resource {
	case domain.ResourceTask, domain.ResourceBoard:
	default:
		return domain.ChangeEvent{}, false
	}
	return ev, true
}

// splitPairs splits on every ';' that is not escaped with a backslash.
func splitPairs(raw string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] != ';' {
			continue
		}
		if i > 0 && raw[i-1] == '\\' {
			continue
		}
		parts = append(parts, raw[start:i])
		start = i + 1
	}
	return append(parts, raw[start:])
}

func unescape(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) && (v[i+1] == ';' || v[i+1] == '=') {
			b.WriteByte(v[i+1])
			i++
			continue
		}
		b.WriteByte(v[i])
	}
	return b.String()
}
