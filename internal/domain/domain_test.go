package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/compass-agent/internal/domain"
)

func TestNormalizeDimensionValue(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{0.73, 73},
		{55, 55},
		{1, 100},
		{0, 0},
		{0.005, 1},
		{54.6, 55},
		{-3, 0},
		{250, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, domain.NormalizeDimensionValue(tc.in), "input %v", tc.in)
	}
}

func TestParseMode(t *testing.T) {
	m, err := domain.ParseMode("free-will")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeFreeWill, m)

	_, err = domain.ParseMode("astrology")
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}

func TestParseIntensity(t *testing.T) {
	i, err := domain.ParseIntensity("deep")
	require.NoError(t, err)
	assert.Equal(t, domain.IntensityDeep, i)
	assert.Less(t, domain.IntensityQuick.TargetTurns(), domain.IntensityDeep.TargetTurns())

	_, err = domain.ParseIntensity("medium")
	assert.ErrorIs(t, err, domain.ErrInvalidIntensity)
}

func TestSessionFinishEligibilityIsMonotonic(t *testing.T) {
	now := time.Now()
	s := &domain.Session{}
	s.RecordOpening(now)
	require.Equal(t, 1, s.TurnCount)

	s.RecordTurn(true, now)
	assert.True(t, s.FinishEligible)
	assert.Equal(t, 2, s.TurnCount)

	s.RecordTurn(false, now)
	assert.True(t, s.FinishEligible)
	assert.Equal(t, 3, s.TurnCount)
}

func TestVisibleMessagesDropsSentinel(t *testing.T) {
	start := domain.NewSentinelMessage("s1", time.Now())
	q := &domain.Message{Role: domain.RoleAssistant, Content: "a[SEP]b"}
	out := domain.VisibleMessages([]*domain.Message{start, q})
	require.Len(t, out, 1)
	assert.Same(t, q, out[0])
}

func TestProviderErrorClassification(t *testing.T) {
	quota := fmt.Errorf("call: %w", &domain.ProviderError{Provider: domain.ProviderGemini, Status: "RESOURCE_EXHAUSTED", Err: errors.New("quota")})
	var pe *domain.ProviderError
	require.ErrorAs(t, quota, &pe)
	assert.True(t, pe.RateLimited())

	auth := &domain.ProviderError{Provider: domain.ProviderDeepSeek, StatusCode: 401, Err: errors.New("bad key")}
	assert.False(t, auth.RateLimited())
	assert.True(t, auth.Unauthorized())
}
