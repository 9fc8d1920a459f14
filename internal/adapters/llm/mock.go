package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/PabloGalante/compass-agent/internal/bilingual"
	"github.com/PabloGalante/compass-agent/internal/domain"
)

// MockGenerator answers deterministically without any network call. It is
// meant for local development and demos.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// GenerateText echoes the last user message back as a follow-up question.
func (m *MockGenerator) GenerateText(_ context.Context, req domain.GenerateRequest) (string, error) {
	last := lastUserMessage(req.Messages)
	return bilingual.Join(
		fmt.Sprintf("你说：%q。如果代价翻倍，你还会这样选择吗？", last),
		fmt.Sprintf("You said %q. Would you still choose this if the cost doubled?", last),
	), nil
}

// GenerateStructured fills the schema with placeholder values. Enumerated
// strings take their first option; arrays of objects with an enumerated
// label get one element per label.
func (m *MockGenerator) GenerateStructured(_ context.Context, req domain.GenerateRequest, schema *domain.Schema) (string, error) {
	if schema == nil {
		schema = &domain.Schema{Type: domain.TypeObject}
	}
	v := fill("", schema, lastUserMessage(req.Messages))
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("mock encode: %w", err)
	}
	return string(raw), nil
}

func lastUserMessage(msgs []domain.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func fill(name string, s *domain.Schema, echo string) any {
	switch s.Type {
	case domain.TypeObject:
		out := make(map[string]any, len(s.Properties))
		for prop, ps := range s.Properties {
			out[prop] = fill(prop, ps, echo)
		}
		return out
	case domain.TypeArray:
		if s.Items == nil {
			return []any{}
		}
		if labels := enumLabels(s.Items); len(labels) > 0 {
			items := make([]any, 0, len(labels))
			for i, l := range labels {
				items = append(items, map[string]any{"label": l, "value": 40 + 10*(i%5)})
			}
			return items
		}
		return []any{fill(name, s.Items, echo), fill(name, s.Items, echo)}
	case domain.TypeNumber:
		return 0.5
	case domain.TypeInteger:
		return 50
	case domain.TypeBoolean:
		return false
	default:
		if len(s.Enum) > 0 {
			return s.Enum[0]
		}
		return mockText(name, echo)
	}
}

func enumLabels(item *domain.Schema) []string {
	if item.Type != domain.TypeObject {
		return nil
	}
	label, ok := item.Properties["label"]
	if !ok || len(label.Enum) == 0 {
		return nil
	}
	return slices.Clone(label.Enum)
}

func mockText(field, echo string) string {
	base, lang, _ := strings.Cut(field, "_")
	switch lang {
	case "zh":
		return fmt.Sprintf("（模拟%s）%s", base, echo)
	case "en":
		return fmt.Sprintf("(mock %s) %s", base, echo)
	}
	return bilingual.Join("（模拟"+field+"）", "(mock "+field+")")
}
