package answer

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Strategy pulls an answer out of a response payload. It returns "" when the
// payload does not have the shape it understands.
type Strategy struct {
	Name    string
	Extract func(payload gjson.Result) string
}

// PathStrategy returns a Strategy that reads the first non-empty string found
// at one of the given gjson paths.
func PathStrategy(name string, paths ...string) Strategy {
	return Strategy{
		Name: name,
		Extract: func(payload gjson.Result) string {
			for _, p := range paths {
				r := payload.Get(p)
				if r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
					return r.Str
				}
			}
			return ""
		},
	}
}

// DefaultStrategies are tried in order. New payload shapes go at the end.
func DefaultStrategies() []Strategy {
	return []Strategy{
		PathStrategy("top-level", "answer", "text", "output_text"),
		PathStrategy("output", "output.0.content.0.text"),
		PathStrategy("candidates", "candidates.0.content.0.text"),
		PathStrategy("candidates-parts", "candidates.0.content.parts.0.text"),
		PathStrategy("choices", "choices.0.message.content"),
	}
}

// Normalize runs strategies over payload and returns the first answer found
// along with the strategy name. When none match it falls back to the whole
// payload, compacted if it is JSON, and reports "fallback".
func Normalize(payload []byte, strategies []Strategy) (string, string) {
	if gjson.ValidBytes(payload) {
		parsed := gjson.ParseBytes(payload)
		for _, s := range strategies {
			if text := s.Extract(parsed); text != "" {
				return text, s.Name
			}
		}

		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err == nil {
			return buf.String(), "fallback"
		}
	}
	return strings.TrimSpace(string(payload)), "fallback"
}
