package models_test

import (
	"testing"
	"time"

	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := models.ParsePeriod(" 2026-03 ")
	require.NoError(t, err)
	assert.Equal(t, models.Period("2026-03"), p)

	for _, raw := range []string{"2026-3", "2026-13", "03-2026", "2026/03", "2026-03-01", ""} {
		_, err := models.ParsePeriod(raw)
		assert.ErrorIs(t, err, models.ErrInvalidPeriod, raw)
	}
}

func TestResolvePeriodDefaultsToCurrentMonth(t *testing.T) {
	now := time.Date(2026, time.October, 16, 23, 30, 0, 0, time.FixedZone("CST", -6*3600))
	p, err := models.ResolvePeriod("", now)
	require.NoError(t, err)
	assert.Equal(t, models.Period("2026-10"), p)

	late := time.Date(2026, time.October, 31, 20, 0, 0, 0, time.FixedZone("CST", -6*3600))
	p, err = models.ResolvePeriod("", late)
	require.NoError(t, err)
	assert.Equal(t, models.Period("2026-11"), p, "periods are UTC months")
}

func TestPeriodBounds(t *testing.T) {
	start, end := models.Period("2026-12").Bounds()
	assert.Equal(t, time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodRange(t *testing.T) {
	periods, err := models.PeriodRange("2025-11", "2026-02")
	require.NoError(t, err)
	assert.Equal(t, []models.Period{"2025-11", "2025-12", "2026-01", "2026-02"}, periods)

	single, err := models.PeriodRange("2026-03", "2026-03")
	require.NoError(t, err)
	assert.Equal(t, []models.Period{"2026-03"}, single)

	_, err = models.PeriodRange("2026-03", "2026-01")
	assert.Error(t, err)
	_, err = models.PeriodRange("2026-3", "2026-04")
	assert.ErrorIs(t, err, models.ErrInvalidPeriod)
}
