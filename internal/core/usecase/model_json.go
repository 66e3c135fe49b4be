package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var reFencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// decodeModelJSON extracts the first JSON object from model output and decodes
// it strictly: unknown fields and trailing data are errors.
func decodeModelJSON(raw string, target any) error {
	body := extractJSONObject(raw)
	if body == "" {
		return errors.New("no json object in model output")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	if dec.More() {
		return errors.New("decode model json: trailing data")
	}
	return nil
}

func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := reFencedJSON.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	return balancedObject(raw[start:])
}

func balancedObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{':
			depth++
		case r == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
