package delta

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"parley/src/model"
)

// Limits applied while validating a payload
const (
	MaxMetricMagnitude   = 100
	MaxDescriptionLength = 2000
	MaxPayloadLength     = 10000
)

// MalformedPayloadError reports a delta payload that failed validation.
type MalformedPayloadError struct {
	Reason string
	Raw    string
}

func (e *MalformedPayloadError) Error() string {
	return "malformed delta payload: " + e.Reason
}

func malformed(raw, format string, args ...any) *MalformedPayloadError {
	return &MalformedPayloadError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}

// payload mirrors the JSON object the model is asked for. Pointers tell missing fields apart
// from zeros.
type payload struct {
	Closeness        *float64 `json:"closeness"`
	SexualAttraction *float64 `json:"sexual_attraction"`
	Respect          *float64 `json:"respect"`
	Engagement       *float64 `json:"engagement"`
	Stability        *float64 `json:"stability"`
	Description      *string  `json:"description"`
}

// Parse validates a model reply and returns the delta it carries. Every failure is a
// *MalformedPayloadError.
func Parse(raw string) (model.Delta, error) {
	if len(raw) > MaxPayloadLength {
		return model.Delta{}, malformed(truncate(raw), "payload too long: %d bytes (max: %d)", len(raw), MaxPayloadLength)
	}

	obj, ok := extractObject(raw)
	if !ok {
		return model.Delta{}, malformed(raw, "no JSON object found")
	}

	var p payload
	if err := sonic.UnmarshalString(obj, &p); err != nil {
		return model.Delta{}, malformed(raw, "invalid JSON: %v", err)
	}

	var d model.Delta
	fields := []struct {
		name  string
		value *float64
		dest  *int
	}{
		{"closeness", p.Closeness, &d.Closeness},
		{"sexual_attraction", p.SexualAttraction, &d.SexualAttraction},
		{"respect", p.Respect, &d.Respect},
		{"engagement", p.Engagement, &d.Engagement},
		{"stability", p.Stability, &d.Stability},
	}
	for _, f := range fields {
		v, err := parseMetric(f.name, f.value)
		if err != nil {
			return model.Delta{}, malformed(raw, "%v", err)
		}
		*f.dest = v
	}

	if p.Description == nil {
		return model.Delta{}, malformed(raw, "missing field description")
	}
	desc := strings.TrimSpace(*p.Description)
	if len(desc) > MaxDescriptionLength {
		return model.Delta{}, malformed(raw, "description too long: %d characters (max: %d)", len(desc), MaxDescriptionLength)
	}
	if !utf8.ValidString(desc) {
		return model.Delta{}, malformed(raw, "description contains invalid UTF-8 characters")
	}
	d.Description = desc

	return d, nil
}

func parseMetric(name string, v *float64) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("missing field %s", name)
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, fmt.Errorf("invalid %s: %v", name, *v)
	}
	n := int(math.Round(*v))
	if n < -MaxMetricMagnitude || n > MaxMetricMagnitude {
		return 0, fmt.Errorf("%s out of range: %d (max magnitude: %d)", name, n, MaxMetricMagnitude)
	}
	return n, nil
}

// extractObject returns the outermost {...} of s, tolerating code fences and chatter around it.
func extractObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func truncate(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
