package content_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/compass-agent/internal/content"
	"github.com/PabloGalante/compass-agent/internal/domain"
)

func TestDefaultCatalogCoversEveryMode(t *testing.T) {
	c, err := content.Default()
	require.NoError(t, err)

	for _, m := range domain.Modes {
		mc, err := c.Mode(m)
		require.NoError(t, err, "mode %s", m)
		assert.NotEmpty(t, mc.Questions, "mode %s", m)
		assert.NotEmpty(t, mc.Trends, "mode %s", m)
		assert.NotEmpty(t, mc.Dimensions, "mode %s", m)
	}
}

func TestPickDrawsFromModePool(t *testing.T) {
	c, err := content.Default()
	require.NoError(t, err)
	mc, err := c.Mode(domain.ModeJustice)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		item, err := c.Pick(domain.ModeJustice, rng)
		require.NoError(t, err)
		assert.Contains(t, mc.Questions, item)
	}
}

func TestPickIsDeterministicForASeed(t *testing.T) {
	c, err := content.Default()
	require.NoError(t, err)

	a, err := c.Pick(domain.ModeSelfIdentity, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	b, err := c.Pick(domain.ModeSelfIdentity, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPickRejectsUnknownMode(t *testing.T) {
	c, err := content.Default()
	require.NoError(t, err)
	_, err = c.Pick("ASTROLOGY", rand.New(rand.NewPCG(1, 1)))
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}

func TestMatchTrend(t *testing.T) {
	c, err := content.Default()
	require.NoError(t, err)
	mc, err := c.Mode(domain.ModeLifeMeaning)
	require.NoError(t, err)

	got, ok := mc.MatchTrend("存在主义 [SEP] Existentialism")
	require.True(t, ok)
	assert.Equal(t, "存在主义 [SEP] Existentialism", got)

	got, ok = mc.MatchTrend("  stoicism ")
	require.True(t, ok)
	assert.Equal(t, "斯多葛主义 [SEP] Stoicism", got)

	_, ok = mc.MatchTrend("Hedonism")
	assert.False(t, ok)

	got, ok = mc.MatchDimension("Inner Peace")
	require.True(t, ok)
	assert.Equal(t, "内在平和度 [SEP] Inner Peace", got)

	_, ok = mc.MatchDimension("Courage")
	assert.False(t, ok)
}

func TestLoadRejectsIncompleteCatalog(t *testing.T) {
	_, err := content.Load([]byte("version: 1\nmodes: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIFE_MEANING")
}
