package domain

import (
	"fmt"
	"strings"
	"time"
)

type SessionID string
type UserID string
type MessageID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode is the philosophical topic track of a journey. Fixed at session start.
type Mode string

const (
	ModeLifeMeaning  Mode = "LIFE_MEANING"
	ModeJustice      Mode = "JUSTICE"
	ModeSelfIdentity Mode = "SELF_IDENTITY"
	ModeFreeWill     Mode = "FREE_WILL"
	ModeSimulation   Mode = "SIMULATION"
	ModeOtherMinds   Mode = "OTHER_MINDS"
	ModeLanguage     Mode = "LANGUAGE"
	ModeScience      Mode = "SCIENCE"
)

// Modes lists every supported mode in presentation order.
var Modes = []Mode{
	ModeLifeMeaning,
	ModeJustice,
	ModeSelfIdentity,
	ModeFreeWill,
	ModeSimulation,
	ModeOtherMinds,
	ModeLanguage,
	ModeScience,
}

func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// ParseMode accepts the canonical name in any case, with '-' or '_' separators.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// Intensity selects the target turn count and escalation depth.
type Intensity string

const (
	IntensityQuick Intensity = "QUICK"
	IntensityDeep  Intensity = "DEEP"
)

const (
	quickTargetTurns = 8
	deepTargetTurns  = 15
)

func (i Intensity) Valid() bool {
	return i == IntensityQuick || i == IntensityDeep
}

// TargetTurns is the turn count at which a session becomes finish-eligible
// even without a completion signal from the generator.
func (i Intensity) TargetTurns() int {
	if i == IntensityDeep {
		return deepTargetTurns
	}
	return quickTargetTurns
}

func ParseIntensity(s string) (Intensity, error) {
	i := Intensity(strings.ToUpper(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidIntensity, s)
	}
	return i, nil
}

// Provider identifies a Generator Adapter implementation.
type Provider string

const (
	ProviderGemini   Provider = "gemini"
	ProviderDeepSeek Provider = "deepseek"
	ProviderMock     Provider = "mock"
)

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderGemini, ProviderDeepSeek, ProviderMock:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Settings is the per-call provider configuration supplied by the caller.
// Empty fields fall back to the process defaults.
type Settings struct {
	Provider Provider
	APIKey   string
}

type Timestamp = time.Time
