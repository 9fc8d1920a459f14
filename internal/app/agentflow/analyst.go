package agentflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PabloGalante/compass-agent/internal/bilingual"
	"github.com/PabloGalante/compass-agent/internal/content"
	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/observability"
	"github.com/PabloGalante/compass-agent/internal/retry"
)

// Analyst produces the end-of-session DiscoveryResult.
type Analyst struct {
	catalog  *content.Catalog
	resolver domain.GeneratorResolver
	retry    retry.Policy
}

func NewAnalyst(catalog *content.Catalog, resolver domain.GeneratorResolver, policy retry.Policy) *Analyst {
	return &Analyst{catalog: catalog, resolver: resolver, retry: policy}
}

// Finalize runs the analysis over the visible transcript. Transport errors
// and malformed reports propagate; there is no fallback result.
func (a *Analyst) Finalize(
	ctx context.Context,
	history []*domain.Message,
	mode domain.Mode,
	settings domain.Settings,
) (*domain.DiscoveryResult, error) {
	mc, err := a.catalog.Mode(mode)
	if err != nil {
		return nil, err
	}
	visible := domain.VisibleMessages(history)
	if len(visible) == 0 {
		return nil, domain.ErrEmptyHistory
	}

	log := observability.LoggerFromContext(ctx).With("mode", mode, "messages", len(visible))
	log.Info("analysis start")
	start := time.Now()

	gen, provider, err := a.resolver.Resolve(ctx, settings)
	if err != nil {
		log.Error("resolve generator failed", "error", err)
		observability.ReportsTotal.WithLabelValues(string(mode), "error").Inc()
		return nil, err
	}

	req := domain.GenerateRequest{
		Kind:              domain.CallAnalysis,
		SystemInstruction: a.systemInstruction(),
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: a.prompt(mc, visible)},
		},
	}
	schema := ReportSchema(mc)

	raw, err := retry.Do(ctx, a.retry, func(ctx context.Context) (string, error) {
		return gen.GenerateStructured(ctx, req, schema)
	})
	if errors.Is(err, domain.ErrEmptyResponse) {
		log.Error("empty report", "provider", provider, "error", err)
		observability.ReportsTotal.WithLabelValues(string(mode), "error").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedReport, err)
	}
	if err != nil {
		log.Error("analysis failed", "provider", provider, "error", err)
		observability.ReportsTotal.WithLabelValues(string(mode), "error").Inc()
		return nil, fmt.Errorf("generate report: %w", err)
	}

	res, err := parseReport(raw)
	if err != nil {
		log.Error("malformed report", "provider", provider, "error", err, "response_bytes", len(raw))
		observability.ReportsTotal.WithLabelValues(string(mode), "error").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedReport, err)
	}

	if res.PhilosophicalTrend != "" {
		canonical, ok := mc.MatchTrend(res.PhilosophicalTrend)
		if !ok {
			log.Warn("trend outside taxonomy dropped", "trend", res.PhilosophicalTrend)
		}
		res.PhilosophicalTrend = canonical
	}

	dims := res.Dimensions[:0]
	for _, d := range res.Dimensions {
		label, ok := mc.MatchDimension(d.Label)
		if !ok {
			log.Warn("dimension outside mode labels dropped", "label", d.Label)
			continue
		}
		d.Label = label
		dims = append(dims, d)
	}
	res.Dimensions = dims

	observability.ReportsTotal.WithLabelValues(string(mode), "ok").Inc()
	log.Info("analysis end",
		"provider", provider,
		"trend", res.PhilosophicalTrend,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (a *Analyst) systemInstruction() string {
	zh, en := bilingual.Split(a.catalog.Prompts.Analyst)
	return zh + "\n" + en
}

func (a *Analyst) prompt(mc *content.ModeConfig, visible []*domain.Message) string {
	r := strings.NewReplacer(
		"{trends}", strings.Join(mc.Trends, " | "),
		"{dimensions}", strings.Join(mc.Dimensions, " | "),
		"{separator}", " "+bilingual.Separator+" ",
	)

	var b strings.Builder
	b.WriteString("要求 / Requirements:\n")
	for i, line := range a.catalog.Prompts.Report {
		zh, en := bilingual.Split(line)
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Replace(zh), r.Replace(en))
	}
	b.WriteString("\n对话记录 / Transcript:\n")
	b.WriteString(Transcript(visible))
	return b.String()
}

// Transcript renders messages as role-prefixed lines, sentinel excluded.
func Transcript(msgs []*domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.IsSentinel() {
			continue
		}
		lines = append(lines, strings.ToUpper(string(m.Role))+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// ReportSchema is the structured shape of a DiscoveryResult for mc. The
// trend and dimension labels are closed enumerations.
func ReportSchema(mc *content.ModeConfig) *domain.Schema {
	text := &domain.Schema{Type: domain.TypeString}
	list := &domain.Schema{Type: domain.TypeArray, Items: &domain.Schema{Type: domain.TypeString}}
	order := []string{"title", "summary", "philosophicalTrend", "keyInsights", "suggestedPaths", "motto", "dimensions"}

	return &domain.Schema{
		Type: domain.TypeObject,
		Properties: map[string]*domain.Schema{
			"title":   text,
			"summary": text,
			"philosophicalTrend": {
				Type: domain.TypeString,
				Enum: append([]string(nil), mc.Trends...),
			},
			"keyInsights":    list,
			"suggestedPaths": list,
			"motto":          text,
			"dimensions": {
				Type: domain.TypeArray,
				Items: &domain.Schema{
					Type: domain.TypeObject,
					Properties: map[string]*domain.Schema{
						"label": {Type: domain.TypeString, Enum: append([]string(nil), mc.Dimensions...)},
						"value": {Type: domain.TypeNumber, Description: "integer 0-100"},
					},
					Required: []string{"label", "value"},
					Ordering: []string{"label", "value"},
				},
			},
		},
		Required: order,
		Ordering: order,
	}
}

type reportPayload struct {
	Title              string   `json:"title"`
	Summary            string   `json:"summary"`
	PhilosophicalTrend string   `json:"philosophicalTrend"`
	KeyInsights        []string `json:"keyInsights"`
	SuggestedPaths     []string `json:"suggestedPaths"`
	Motto              string   `json:"motto"`
	Dimensions         []struct {
		Label string      `json:"label"`
		Value looseNumber `json:"value"`
	} `json:"dimensions"`
}

// looseNumber accepts a JSON number or a numeric string.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	s = strings.TrimSuffix(s, "%")
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("dimension value %s: %w", b, err)
	}
	*n = looseNumber(f)
	return nil
}

var _ json.Unmarshaler = (*looseNumber)(nil)

func parseReport(raw string) (*domain.DiscoveryResult, error) {
	var p reportPayload
	if err := decodeJSON(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Summary) == "" {
		return nil, fmt.Errorf("report without title or summary")
	}

	res := &domain.DiscoveryResult{
		Title:              strings.TrimSpace(p.Title),
		Summary:            strings.TrimSpace(p.Summary),
		PhilosophicalTrend: strings.TrimSpace(p.PhilosophicalTrend),
		KeyInsights:        nonNil(p.KeyInsights),
		SuggestedPaths:     nonNil(p.SuggestedPaths),
		Motto:              strings.TrimSpace(p.Motto),
		Dimensions:         make([]domain.Dimension, 0, len(p.Dimensions)),
	}
	for _, d := range p.Dimensions {
		res.Dimensions = append(res.Dimensions, domain.Dimension{
			Label: strings.TrimSpace(d.Label),
			Value: domain.NormalizeDimensionValue(float64(d.Value)),
		})
	}
	return res, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
