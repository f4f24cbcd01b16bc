package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StaticFragment is a reusable piece of scene description the model may
// emit alongside the narrative. Fragments are keyed so the response cache
// can serve them for repeated scene lookups.
type StaticFragment struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// NarrativeReply is the structured reply expected from the model.
// Only Narrative is required; the rest is optional color.
type NarrativeReply struct {
	Narrative string           `json:"narrative"`
	Tone      string           `json:"tone,omitempty"`
	Tags      []string         `json:"tags,omitempty"`
	Fragments []StaticFragment `json:"fragments,omitempty"`
}

// ParseNarrativeReply extracts and decodes the structured reply from raw
// model output. Models wrap JSON in markdown fences or prose, so the
// first balanced JSON object is extracted before decoding. A reply with
// no decodable JSON or an empty narrative fails closed with
// ErrModelUnavailable: a reply we cannot trust is treated the same as no
// reply at all.
func ParseNarrativeReply(raw string) (*NarrativeReply, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: no JSON object in model reply", ErrModelUnavailable)
	}

	var reply NarrativeReply
	if err := json.Unmarshal([]byte(jsonStr), &reply); err != nil {
		return nil, fmt.Errorf("%w: malformed model reply: %v", ErrModelUnavailable, err)
	}

	reply.Narrative = strings.TrimSpace(reply.Narrative)
	if reply.Narrative == "" {
		return nil, fmt.Errorf("%w: model reply has empty narrative", ErrModelUnavailable)
	}
	return &reply, nil
}

// extractJSON finds the first balanced JSON object in text, skipping any
// surrounding prose or markdown code fences. Returns "" if none exists.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
