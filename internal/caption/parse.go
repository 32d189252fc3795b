package caption

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Fallback values used whenever model output cannot be used
const (
	FallbackCaption        = "No description"
	FallbackClassification = 0
	FallbackRiskLevel      = 0
)

// Outcome classifies how the model output was parsed
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeClamped     Outcome = "clamped"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeMissingKeys Outcome = "missing_keys"
)

// Result is the typed assessment extracted from one model response
type Result struct {
	Caption        string
	Classification int
	RiskLevel      int
	Outcome        Outcome
	Raw            string
}

// Score bounds
const (
	MaxClassification = 1
	MaxRiskLevel      = 10
)

// IsFallback reports whether the result carries the fallback values
func (r Result) IsFallback() bool {
	return r.Outcome == OutcomeMalformed || r.Outcome == OutcomeMissingKeys
}

var tagPattern = regexp.MustCompile(`<.*?>`)

// StripTags removes angle-bracket markup from text
func StripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

// Parse extracts image_caption, classification and risk_level from raw model
// output. Raw control characters inside strings are accepted and text after
// the first JSON object is ignored. Scores outside their range are clamped.
// Any other failure yields the fallback values.
func Parse(raw string) Result {
	fields, err := decodeObject(raw)
	if err != nil {
		return fallback(raw, OutcomeMalformed)
	}

	captionRaw, okCaption := fields["image_caption"]
	classRaw, okClass := fields["classification"]
	riskRaw, okRisk := fields["risk_level"]
	if !okCaption || !okClass || !okRisk {
		return fallback(raw, OutcomeMissingKeys)
	}

	var text string
	if err := json.Unmarshal(captionRaw, &text); err != nil {
		return fallback(raw, OutcomeMalformed)
	}
	classification, err := parseInt(classRaw)
	if err != nil {
		return fallback(raw, OutcomeMalformed)
	}
	risk, err := parseInt(riskRaw)
	if err != nil {
		return fallback(raw, OutcomeMalformed)
	}

	// Out-of-range scores keep the caption and are pulled into bounds
	outcome := OutcomeOK
	if c := clamp(classification, MaxClassification); c != classification {
		classification, outcome = c, OutcomeClamped
	}
	if c := clamp(risk, MaxRiskLevel); c != risk {
		risk, outcome = c, OutcomeClamped
	}

	return Result{
		Caption:        StripTags(text),
		Classification: classification,
		RiskLevel:      risk,
		Outcome:        outcome,
		Raw:            raw,
	}
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func fallback(raw string, outcome Outcome) Result {
	return Result{
		Caption:        FallbackCaption,
		Classification: FallbackClassification,
		RiskLevel:      FallbackRiskLevel,
		Outcome:        outcome,
		Raw:            raw,
	}
}

func decodeObject(raw string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(escapeControlChars(raw)))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	return fields, nil
}

// escapeControlChars rewrites raw control characters inside JSON strings as
// escapes; models often emit literal newlines in long captions.
func escapeControlChars(raw string) []byte {
	var buf bytes.Buffer
	buf.Grow(len(raw))

	inString, escaped := false, false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case !inString:
			if c == '"' {
				inString = true
			}
			buf.WriteByte(c)
		case escaped:
			escaped = false
			buf.WriteByte(c)
		case c == '\\':
			escaped = true
			buf.WriteByte(c)
		case c == '"':
			inString = false
			buf.WriteByte(c)
		case c < 0x20:
			switch c {
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				fmt.Fprintf(&buf, `\u%04x`, c)
			}
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

// parseInt accepts an integral number, a numeric string or a bool
func parseInt(raw json.RawMessage) (int, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}

	switch t := v.(type) {
	case float64:
		return integral(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, err
		}
		return integral(f)
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected value %s", string(raw))
	}
}

func integral(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return int(f), nil
}
