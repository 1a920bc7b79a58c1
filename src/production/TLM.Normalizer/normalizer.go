// Package normalizer converts heterogeneous device payloads into a
// canonical reading. The device population is mixed firmware; not all
// of it emits valid JSON, so parsing never fails — it degrades.
package normalizer

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Kind tags how far the parser got with a payload.
type Kind int

const (
	// KindStrict means the payload was a valid JSON object.
	KindStrict Kind = iota
	// KindRepaired means the payload parsed after quoting bare keys.
	KindRepaired
	// KindOpaque means the payload is kept as raw text only.
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindStrict:
		return "strict"
	case KindRepaired:
		return "repaired"
	default:
		return "opaque"
	}
}

// Result is the tagged outcome of a parse attempt. Fields is nil for
// opaque payloads.
type Result struct {
	Kind   Kind
	Fields map[string]interface{}
	Raw    string
}

// Canonical is the normalized record shape persisted for every
// payload. Missing or unparseable fields default to 0.0.
type Canonical struct {
	Temperature float64
	Humidity    float64
	Pressure    float64
	Source      Kind
	Raw         string
}

// bareKeyPattern matches unquoted identifier keys, e.g. `temp:` in
// `{temp:24.5}`. Quoted keys are untouched because the closing quote
// sits between the identifier and the colon.
var bareKeyPattern = regexp.MustCompile(`([A-Za-z_]\w*)\s*:`)

var fieldSynonyms = map[string][]string{
	"temperature": {"temperature", "temp", "t"},
	"humidity":    {"humidity", "hum", "h"},
	"pressure":    {"pressure", "press", "p"},
}

// Parse attempts a strict JSON parse, then a repair pass that quotes
// bare keys, then falls back to an opaque raw result. It never errors.
func Parse(payload string) Result {
	if fields, ok := parseObject(payload); ok {
		return Result{Kind: KindStrict, Fields: fields, Raw: payload}
	}
	repaired := bareKeyPattern.ReplaceAllString(payload, `"$1":`)
	if fields, ok := parseObject(repaired); ok {
		return Result{Kind: KindRepaired, Fields: fields, Raw: payload}
	}
	return Result{Kind: KindOpaque, Raw: payload}
}

// Normalize parses a payload and extracts the canonical numeric fields.
func Normalize(payload string) Canonical {
	result := Parse(payload)
	c := Canonical{Source: result.Kind, Raw: payload}
	if result.Fields == nil {
		return c
	}

	lowered := make(map[string]interface{}, len(result.Fields))
	for k, v := range result.Fields {
		lowered[strings.ToLower(k)] = v
	}

	c.Temperature = numericField(lowered, fieldSynonyms["temperature"])
	c.Humidity = numericField(lowered, fieldSynonyms["humidity"])
	c.Pressure = numericField(lowered, fieldSynonyms["pressure"])
	return c
}

func parseObject(payload string) (map[string]interface{}, bool) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, false
	}
	return fields, true
}

// numericField returns the first synonym present with a usable numeric
// value, or 0.0.
func numericField(fields map[string]interface{}, names []string) float64 {
	for _, name := range names {
		value, ok := fields[name]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return 0.0
}
