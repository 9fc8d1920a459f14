// Package content holds the versioned, read-only configuration data of the
// journey: opening question pools, personas, escalation phases, taxonomies
// and dimension labels, keyed by mode.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/PabloGalante/compass-agent/internal/bilingual"
	"github.com/PabloGalante/compass-agent/internal/domain"
)

//go:embed catalog.yaml
var embedded []byte

// QuestionPoolItem is a pre-authored opening scenario.
type QuestionPoolItem struct {
	Content     string   `yaml:"content" json:"content"`
	Suggestions []string `yaml:"suggestions" json:"suggestions"`
}

// Escalation holds the instruction for each coarse turn range.
type Escalation struct {
	Anchor   string `yaml:"anchor"`
	Escalate string `yaml:"escalate"`
	Map      string `yaml:"map"`
}

// Pace describes the tempo for each intensity. {target} is replaced with
// the target turn count.
type Pace struct {
	Quick string `yaml:"quick"`
	Deep  string `yaml:"deep"`
}

// Prompts are the mode-independent instruction fragments.
type Prompts struct {
	Identity   string     `yaml:"identity"`
	Rules      []string   `yaml:"rules"`
	Escalation Escalation `yaml:"escalation"`
	Pace       Pace       `yaml:"pace"`
	Done       string     `yaml:"done"`
	Output     string     `yaml:"output"`
	Analyst    string     `yaml:"analyst"`
	Report     []string   `yaml:"report"`
	Busy       string     `yaml:"busy"`
}

// ModeConfig is everything the prompts need to know about one mode.
type ModeConfig struct {
	Persona    string             `yaml:"persona"`
	Trends     []string           `yaml:"trends"`
	Dimensions []string           `yaml:"dimensions"`
	Questions  []QuestionPoolItem `yaml:"questions"`
}

// Catalog is immutable once loaded; share it freely.
type Catalog struct {
	Version int                         `yaml:"version"`
	Prompts Prompts                     `yaml:"prompts"`
	Modes   map[domain.Mode]*ModeConfig `yaml:"modes"`
}

// Rand is the subset of *rand.Rand used for pool selection.
type Rand interface {
	IntN(n int) int
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return Load(embedded)
})

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return defaultCatalog()
}

// LoadFile reads a catalog from disk, replacing the embedded one.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Load(data)
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	var errs []error
	check := func(where, text string) {
		if !bilingual.HasPair(text) {
			errs = append(errs, fmt.Errorf("%s: not bilingual: %q", where, text))
			return
		}
		p, s := bilingual.Split(text)
		if p == "" || s == "" {
			errs = append(errs, fmt.Errorf("%s: empty half: %q", where, text))
		}
	}

	check("prompts.identity", c.Prompts.Identity)
	check("prompts.escalation.anchor", c.Prompts.Escalation.Anchor)
	check("prompts.escalation.escalate", c.Prompts.Escalation.Escalate)
	check("prompts.escalation.map", c.Prompts.Escalation.Map)
	check("prompts.pace.quick", c.Prompts.Pace.Quick)
	check("prompts.pace.deep", c.Prompts.Pace.Deep)
	check("prompts.done", c.Prompts.Done)
	check("prompts.output", c.Prompts.Output)
	check("prompts.analyst", c.Prompts.Analyst)
	check("prompts.busy", c.Prompts.Busy)
	for i, r := range c.Prompts.Rules {
		check(fmt.Sprintf("prompts.rules[%d]", i), r)
	}
	for i, r := range c.Prompts.Report {
		check(fmt.Sprintf("prompts.report[%d]", i), r)
	}

	for _, m := range domain.Modes {
		mc, ok := c.Modes[m]
		if !ok || mc == nil {
			errs = append(errs, fmt.Errorf("mode %s: missing", m))
			continue
		}
		check(fmt.Sprintf("%s.persona", m), mc.Persona)
		if len(mc.Trends) == 0 {
			errs = append(errs, fmt.Errorf("mode %s: no trends", m))
		}
		if len(mc.Dimensions) == 0 {
			errs = append(errs, fmt.Errorf("mode %s: no dimensions", m))
		}
		if len(mc.Questions) == 0 {
			errs = append(errs, fmt.Errorf("mode %s: empty question pool", m))
		}
		for i, t := range mc.Trends {
			check(fmt.Sprintf("%s.trends[%d]", m, i), t)
		}
		for i, d := range mc.Dimensions {
			check(fmt.Sprintf("%s.dimensions[%d]", m, i), d)
		}
		for i, q := range mc.Questions {
			check(fmt.Sprintf("%s.questions[%d]", m, i), q.Content)
			for j, s := range q.Suggestions {
				check(fmt.Sprintf("%s.questions[%d].suggestions[%d]", m, i, j), s)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid catalog: %w", errors.Join(errs...))
	}
	return nil
}

// Mode returns the configuration of m.
func (c *Catalog) Mode(m domain.Mode) (*ModeConfig, error) {
	mc, ok := c.Modes[m]
	if !ok || mc == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidMode, m)
	}
	return mc, nil
}

// Pick draws one opening scenario for m uniformly at random.
func (c *Catalog) Pick(m domain.Mode, rng Rand) (QuestionPoolItem, error) {
	mc, err := c.Mode(m)
	if err != nil {
		return QuestionPoolItem{}, err
	}
	item := mc.Questions[rng.IntN(len(mc.Questions))]
	return QuestionPoolItem{
		Content:     item.Content,
		Suggestions: append([]string(nil), item.Suggestions...),
	}, nil
}

// MatchTrend canonicalises a generator-supplied trend against the taxonomy
// of m. It accepts the exact value or either language half, ignoring case
// and surrounding whitespace.
func (mc *ModeConfig) MatchTrend(value string) (string, bool) {
	return matchLabel(mc.Trends, value)
}

// MatchDimension canonicalises a dimension label the same way.
func (mc *ModeConfig) MatchDimension(value string) (string, bool) {
	return matchLabel(mc.Dimensions, value)
}

func matchLabel(options []string, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	for _, t := range options {
		if t == value {
			return t, true
		}
	}

	vp, vs := bilingual.Split(value)
	for _, t := range options {
		tp, ts := bilingual.Split(t)
		for _, candidate := range []string{vp, vs} {
			if strings.EqualFold(candidate, tp) || strings.EqualFold(candidate, ts) {
				return t, true
			}
		}
	}
	return "", false
}
