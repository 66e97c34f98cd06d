package usecases

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ParseEvent selects the ingestion mode from an invocation payload. A JSON object
// with a "current" key selects live mode and one with a "past" key selects
// backfill. A plain or JSON string selects the mode it mentions, so
// "current-levels" means live. Anything else is ModeNone.
func ParseEvent(payload []byte) Mode {
	trimmed := bytes.TrimSpace(payload)

	var object map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &object); err == nil {
		if _, ok := object[string(ModeLive)]; ok {
			return ModeLive
		}
		if _, ok := object[string(ModeBackfill)]; ok {
			return ModeBackfill
		}
		return ModeNone
	}

	var name string
	if err := json.Unmarshal(trimmed, &name); err != nil {
		name = string(trimmed)
	}

	name = strings.ToLower(name)
	switch {
	case strings.Contains(name, string(ModeLive)):
		return ModeLive
	case strings.Contains(name, string(ModeBackfill)):
		return ModeBackfill
	default:
		return ModeNone
	}
}
