// Package bilingual encodes a primary/secondary language pair in one string.
//
// Every text that crosses the generator boundary uses this encoding; language
// selection happens only here.
package bilingual

import "strings"

const (
	// Separator joins the two halves.
	Separator = "[SEP]"
	// LegacySeparator is accepted when splitting older content.
	LegacySeparator = " / "
)

// Language selects one half of a bilingual string.
type Language string

const (
	Primary   Language = "zh"
	Secondary Language = "en"
)

// Join encodes a pair.
func Join(primary, secondary string) string {
	return primary + Separator + secondary
}

// Split decodes a pair. Separator is tried before LegacySeparator; halves are
// trimmed. Without any delimiter the whole text is returned as both halves.
// An empty secondary half falls back to the primary.
func Split(text string) (primary, secondary string) {
	for _, sep := range []string{Separator, LegacySeparator} {
		before, after, found := strings.Cut(text, sep)
		if !found {
			continue
		}
		primary = strings.TrimSpace(before)
		secondary = strings.TrimSpace(after)
		if secondary == "" {
			secondary = primary
		}
		if primary == "" {
			primary = secondary
		}
		return primary, secondary
	}
	return text, text
}

// Pick returns the half for lang.
func Pick(text string, lang Language) string {
	p, s := Split(text)
	if lang == Secondary {
		return s
	}
	return p
}

// HasPair reports whether text carries an explicit delimiter.
func HasPair(text string) bool {
	return strings.Contains(text, Separator) || strings.Contains(text, LegacySeparator)
}

// ParseLanguage maps user input to a Language, defaulting to Primary.
func ParseLanguage(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "english", "secondary":
		return Secondary
	}
	return Primary
}
