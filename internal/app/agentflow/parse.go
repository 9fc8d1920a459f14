package agentflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PabloGalante/compass-agent/internal/bilingual"
)

var errNoJSONObject = errors.New("no JSON object in response")

// extractJSON tolerates markdown fences and prose around the object that
// providers in JSON-object mode still occasionally emit.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}

func decodeJSON(raw string, v any) error {
	obj, err := extractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type turnPayload struct {
	AnalysisZH    string   `json:"analysis_zh"`
	AnalysisEN    string   `json:"analysis_en"`
	ScenarioZH    string   `json:"scenario_zh"`
	ScenarioEN    string   `json:"scenario_en"`
	QuestionZH    string   `json:"question_zh"`
	QuestionEN    string   `json:"question_en"`
	SuggestionsZH []string `json:"suggestions_zh"`
	SuggestionsEN []string `json:"suggestions_en"`
}

// parseTurn decodes a structured turn. A payload without any question text
// is treated as malformed.
func parseTurn(raw string) (turnPayload, error) {
	var p turnPayload
	if err := decodeJSON(raw, &p); err != nil {
		return turnPayload{}, err
	}
	if clean(p.QuestionZH) == "" && clean(p.QuestionEN) == "" {
		return turnPayload{}, errors.New("turn has no question")
	}
	return p, nil
}

// display joins analysis, scenario and question per language with a
// paragraph break and encodes the pair.
func (p turnPayload) display() string {
	return bilingual.Join(
		paragraphs(p.AnalysisZH, p.ScenarioZH, p.QuestionZH),
		paragraphs(p.AnalysisEN, p.ScenarioEN, p.QuestionEN),
	)
}

// suggestions pairs entries positionally up to the shorter list.
func (p turnPayload) suggestions() []string {
	n := min(len(p.SuggestionsZH), len(p.SuggestionsEN))
	out := make([]string, 0, n)
	for i := range n {
		zh, en := clean(p.SuggestionsZH[i]), clean(p.SuggestionsEN[i])
		if zh == "" && en == "" {
			continue
		}
		out = append(out, bilingual.Join(zh, en))
	}
	return out
}

func paragraphs(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = clean(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, DoneMarker, ""))
}
