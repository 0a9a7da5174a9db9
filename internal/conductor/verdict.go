package conductor

import (
	"encoding/json"
	"regexp"
	"strings"
)

type verdictAction string

const (
	actionContinue   verdictAction = "continue"
	actionSteer      verdictAction = "steer"
	actionStop       verdictAction = "stop"
	actionRegenerate verdictAction = "regenerate_last_chunk"
)

// verdict is the small model's structured CHECK response.
type verdict struct {
	Action       verdictAction `json:"action"`
	Reason       string        `json:"reason"`
	SteeringNote string        `json:"steering_note"`
}

var (
	actionFieldRe = regexp.MustCompile(`"?action"?\s*[:=]\s*"?([a-z_]+)"?`)
	reasonFieldRe = regexp.MustCompile(`"?reason"?\s*[:=]\s*"([^"]*)"`)
	noteFieldRe   = regexp.MustCompile(`"?steering_note"?\s*[:=]\s*"([^"]*)"`)
)

// parseVerdict is tolerant by design: strict JSON first, then a regex
// fallback that extracts action/reason/steering_note from whatever text
// the small model produced, and finally a safe default. An invalid verdict
// never crashes the loop.
func parseVerdict(raw string) verdict {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return verdict{Action: actionContinue, Reason: "empty verdict"}
	}

	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err == nil && v.Action != "" {
		return normalizeVerdict(v)
	}

	var fallback verdict
	if m := actionFieldRe.FindStringSubmatch(raw); len(m) == 2 {
		fallback.Action = verdictAction(m[1])
	}
	if m := reasonFieldRe.FindStringSubmatch(raw); len(m) == 2 {
		fallback.Reason = m[1]
	}
	if m := noteFieldRe.FindStringSubmatch(raw); len(m) == 2 {
		fallback.SteeringNote = m[1]
	}
	if fallback.Action == "" {
		return verdict{Action: actionContinue, Reason: "unparseable verdict"}
	}
	return normalizeVerdict(fallback)
}

func normalizeVerdict(v verdict) verdict {
	switch v.Action {
	case actionContinue, actionSteer, actionStop, actionRegenerate:
		return v
	default:
		return verdict{Action: actionContinue, Reason: "unknown action: " + string(v.Action)}
	}
}
