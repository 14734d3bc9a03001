package analyzer

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseError marks an oracle response that did not honor the prompt's JSON
// contract. It funnels into the per-query degrade path, never upward.
type ParseError struct {
	Query string
	Cause string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %s", e.Query, e.Cause)
}

// extractJSON pulls the first JSON object or array out of an oracle response,
// tolerating markdown fences and prose around it.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.IndexAny(s, "{[")
	if objStart < 0 {
		return ""
	}
	open := s[objStart]
	close := byte('}')
	if open == '[' {
		close = ']'
	}
	objEnd := strings.LastIndexByte(s, close)
	if objEnd <= objStart {
		return ""
	}
	return s[objStart : objEnd+1]
}

// probeObject validates and wraps an oracle response for field probing.
// gjson tolerates the shape drift these models produce (numbers as strings,
// extra fields) better than a strict struct decode.
func probeObject(query, raw string) (gjson.Result, error) {
	body := extractJSON(raw)
	if body == "" {
		return gjson.Result{}, &ParseError{Query: query, Cause: "no JSON payload found"}
	}
	if !gjson.Valid(body) {
		return gjson.Result{}, &ParseError{Query: query, Cause: "invalid JSON"}
	}
	parsed := gjson.Parse(body)
	if !parsed.IsObject() {
		return gjson.Result{}, &ParseError{Query: query, Cause: "payload is not an object"}
	}
	return parsed, nil
}

func stringList(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	var out []string
	for _, item := range v.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clampSeverity(v float64) int {
	n := int(v)
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	return n
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
