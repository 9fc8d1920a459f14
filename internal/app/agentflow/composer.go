package agentflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PabloGalante/compass-agent/internal/bilingual"
	"github.com/PabloGalante/compass-agent/internal/content"
	"github.com/PabloGalante/compass-agent/internal/domain"
)

// DoneMarker is the completion signal the generator appends once it has
// captured the user's orientation. It is stripped before display.
const DoneMarker = "[DONE]"

// ErrOpeningTurn is returned when an instruction is requested for turn 1,
// which is always served from the question bank.
var ErrOpeningTurn = errors.New("turn 1 is served from the question bank")

// Phase is the coarse escalation stage of a turn.
type Phase string

const (
	PhaseAnchor   Phase = "anchor"
	PhaseEscalate Phase = "escalate"
	PhaseMap      Phase = "map"
)

const (
	anchorUntil   = 0.4
	escalateUntil = 0.8
)

// PhaseFor maps turn progress against the intensity target to a phase.
func PhaseFor(intensity domain.Intensity, turnIndex int) Phase {
	progress := float64(turnIndex) / float64(intensity.TargetTurns())
	switch {
	case progress < anchorUntil:
		return PhaseAnchor
	case progress < escalateUntil:
		return PhaseEscalate
	default:
		return PhaseMap
	}
}

// Instruction is what the generator needs for one turn.
type Instruction struct {
	System string
	Schema *domain.Schema
	Phase  Phase
}

// Composer builds per-turn instructions from the content catalog. It holds
// no session state.
type Composer struct {
	catalog *content.Catalog
}

func NewComposer(catalog *content.Catalog) *Composer {
	return &Composer{catalog: catalog}
}

// BuildTurnInstruction composes the system instruction and output schema for
// turnIndex > 1.
func (c *Composer) BuildTurnInstruction(mode domain.Mode, intensity domain.Intensity, turnIndex int) (Instruction, error) {
	if turnIndex <= 1 {
		return Instruction{}, ErrOpeningTurn
	}
	if !intensity.Valid() {
		return Instruction{}, fmt.Errorf("%w: %q", domain.ErrInvalidIntensity, intensity)
	}
	mc, err := c.catalog.Mode(mode)
	if err != nil {
		return Instruction{}, err
	}

	p := c.catalog.Prompts
	phase := PhaseFor(intensity, turnIndex)
	target := strconv.Itoa(intensity.TargetTurns())

	var b strings.Builder
	section(&b, p.Identity)
	section(&b, mc.Persona)

	pace := p.Pace.Quick
	if intensity == domain.IntensityDeep {
		pace = p.Pace.Deep
	}
	section(&b, strings.ReplaceAll(pace, "{target}", target))

	b.WriteString("行为准则 / Rules:\n")
	for i, r := range p.Rules {
		zh, en := bilingual.Split(r)
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, zh, en)
	}
	b.WriteString("\n")

	switch phase {
	case PhaseAnchor:
		section(&b, p.Escalation.Anchor)
	case PhaseEscalate:
		section(&b, p.Escalation.Escalate)
	case PhaseMap:
		section(&b, strings.ReplaceAll(p.Escalation.Map, "{trends}", trendList(mc.Trends)))
	}

	section(&b, p.Output)
	section(&b, strings.ReplaceAll(p.Done, "{marker}", DoneMarker))
	fmt.Fprintf(&b, "当前为第 %d 轮，目标 %s 轮。\nThis is turn %d of about %s.\n", turnIndex, target, turnIndex, target)

	return Instruction{
		System: b.String(),
		Schema: TurnSchema(),
		Phase:  phase,
	}, nil
}

// section writes both halves of a bilingual fragment as one paragraph.
func section(b *strings.Builder, text string) {
	zh, en := bilingual.Split(text)
	b.WriteString(zh)
	if en != zh {
		b.WriteString("\n")
		b.WriteString(en)
	}
	b.WriteString("\n\n")
}

func trendList(trends []string) string {
	parts := make([]string, 0, len(trends))
	for _, t := range trends {
		zh, en := bilingual.Split(t)
		parts = append(parts, zh+" ("+en+")")
	}
	return strings.Join(parts, ", ")
}

// Turn payload fields, one per language.
const (
	fieldAnalysisZH    = "analysis_zh"
	fieldAnalysisEN    = "analysis_en"
	fieldScenarioZH    = "scenario_zh"
	fieldScenarioEN    = "scenario_en"
	fieldQuestionZH    = "question_zh"
	fieldQuestionEN    = "question_en"
	fieldSuggestionsZH = "suggestions_zh"
	fieldSuggestionsEN = "suggestions_en"
)

// TurnSchema is the structured shape of a generated turn.
func TurnSchema() *domain.Schema {
	text := func(desc string) *domain.Schema {
		return &domain.Schema{Type: domain.TypeString, Description: desc}
	}
	list := func(desc string) *domain.Schema {
		return &domain.Schema{Type: domain.TypeArray, Description: desc, Items: &domain.Schema{Type: domain.TypeString}}
	}
	order := []string{
		fieldAnalysisZH, fieldAnalysisEN,
		fieldScenarioZH, fieldScenarioEN,
		fieldQuestionZH, fieldQuestionEN,
		fieldSuggestionsZH, fieldSuggestionsEN,
	}
	return &domain.Schema{
		Type: domain.TypeObject,
		Properties: map[string]*domain.Schema{
			fieldAnalysisZH:    text("对用户上一次选择的回应（中文）"),
			fieldAnalysisEN:    text("Response to the user's previous choice (English)"),
			fieldScenarioZH:    text("抬高赌注的新情境（中文）"),
			fieldScenarioEN:    text("A new scenario that raises the stakes (English)"),
			fieldQuestionZH:    text("一个二选一的问题（中文）"),
			fieldQuestionEN:    text("One forced binary-choice question (English)"),
			fieldSuggestionsZH: list("简短的回答建议（中文）"),
			fieldSuggestionsEN: list("Short reply suggestions, same order (English)"),
		},
		Required: order,
		Ordering: order,
	}
}
