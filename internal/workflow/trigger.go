package workflow

import "strings"

// TriggerDetector decides whether the latest representative turn asks the
// assistant for help. Implementations must be pure; a model-backed detector
// can slot in behind the same interface later.
type TriggerDetector interface {
	Detect(messages []Message) (bool, string)
}

// PhraseDetector matches a configurable phrase list, case-insensitively,
// against the most recent representative message only. Older matches are
// ignored so a growing transcript cannot retrigger a run.
type PhraseDetector struct {
	phrases []string
}

func NewPhraseDetector(phrases []string) *PhraseDetector {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if trimmed := strings.TrimSpace(strings.ToLower(p)); trimmed != "" {
			lowered = append(lowered, trimmed)
		}
	}
	return &PhraseDetector{phrases: lowered}
}

// Detect returns the verdict plus the matched phrase, if any.
func (d *PhraseDetector) Detect(messages []Message) (bool, string) {
	var latest string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleRepresentative {
			latest = messages[i].Content
			break
		}
	}
	if latest == "" {
		return false, ""
	}

	lowered := strings.ToLower(latest)
	for _, phrase := range d.phrases {
		if strings.Contains(lowered, phrase) {
			return true, phrase
		}
	}
	return false, ""
}
