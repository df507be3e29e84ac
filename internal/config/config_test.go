package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelcal/internal/model"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.DaysToShow)
	assert.Equal(t, 30, cfg.CacheDuration)
	assert.Equal(t, "*/30 * * * *", cfg.RefreshCron)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestParseNormalizes(t *testing.T) {
	cfg, err := Parse([]byte(`
entities:
  - entity: calendar.family
    color: "#e67c73"
  - entity: holidays
ics:
  - id: holidays
    url: https://example.com/h.ics
days_to_show: 0
refresh_interval: 120
storage:
  driver: bogus
hold_action:
  type: navigate
  navigation_path: /lovelace/calendar
`))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.DaysToShow)
	assert.Equal(t, "0 */2 * * *", cfg.RefreshCron)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "show-details", cfg.TapAction["type"])
	assert.Equal(t, "/lovelace/calendar", cfg.HoldAction["navigation_path"])
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL())

	require.Len(t, cfg.Entities, 2)
	assert.Equal(t, model.CalendarSource{ID: "calendar.family", Color: "#e67c73"}, cfg.Entities[0])

	require.Len(t, cfg.ICS, 1)
	assert.Equal(t, ICSConfig{ID: "holidays", URL: "https://example.com/h.ics"}, cfg.ICS[0])
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("entities: [unterminated"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Entities = []model.CalendarSource{{ID: "calendar.work"}}
	cfg.ShowPastEvents = true
	require.NoError(t, cfg.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Entities, back.Entities)
	assert.True(t, back.ShowPastEvents)
}

func TestCacheRelevantChanged(t *testing.T) {
	base := DefaultConfig()
	base.Entities = []model.CalendarSource{{ID: "calendar.a"}}

	same := *base
	same.Listen = "0.0.0.0:9000"
	same.CacheDuration = 5
	assert.False(t, CacheRelevantChanged(base, &same))

	days := *base
	days.DaysToShow = 7
	assert.True(t, CacheRelevantChanged(base, &days))

	past := *base
	past.ShowPastEvents = true
	assert.True(t, CacheRelevantChanged(base, &past))

	ents := *base
	ents.Entities = []model.CalendarSource{{ID: "calendar.a", Color: "red"}}
	assert.True(t, CacheRelevantChanged(base, &ents))
}
