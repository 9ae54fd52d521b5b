package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-globe-cache/internal/grid"
	"github.com/i474232898/weather-globe-cache/internal/manifest"
)

func sixHourlySteps(n int) []manifest.TimeStep {
	builder := manifest.NewBuilder("https://cdn.example.com/data")
	base := time.Date(2025, 10, 28, 0, 0, 0, 0, time.UTC)
	return builder.Timeline(manifest.ParamTemp2m, base, base.Add(time.Duration(n-1)*6*time.Hour))
}

func TestStateStoreRegisterInitializesEmpty(t *testing.T) {
	s := NewStateStore()
	steps := sixHourlySteps(8)

	s.RegisterLayer("temp2m", steps)

	require.Equal(t, 8, s.TimestepCount("temp2m"))
	for i := 0; i < 8; i++ {
		assert.Equal(t, StatusEmpty, s.Get("temp2m", i).Status)
	}
	assert.Equal(t, Stats{Total: 8, Empty: 8}, s.Stats("temp2m"))
}

func TestStateStoreReRegisterResets(t *testing.T) {
	s := NewStateStore()
	s.RegisterLayer("temp2m", sixHourlySteps(8))
	s.Set("temp2m", 3, TimestampState{Status: StatusLoaded, Payload: []grid.Field{{}}})

	s.RegisterLayer("temp2m", sixHourlySteps(4))

	assert.Equal(t, 4, s.TimestepCount("temp2m"))
	assert.Equal(t, StatusEmpty, s.Get("temp2m", 3).Status)
}

func TestStateStoreUnknownReadsEmpty(t *testing.T) {
	s := NewStateStore()

	assert.Equal(t, StatusEmpty, s.Get("nope", 0).Status)
	assert.Equal(t, 0, s.TimestepCount("nope"))
	assert.Nil(t, s.Steps("nope"))
	assert.Equal(t, Stats{}, s.Stats("nope"))

	s.RegisterLayer("temp2m", sixHourlySteps(4))
	assert.Equal(t, StatusEmpty, s.Get("temp2m", -1).Status)
	assert.Equal(t, StatusEmpty, s.Get("temp2m", 99).Status)
}

func TestStateStoreSetOnUnregisteredIsDropped(t *testing.T) {
	s := NewStateStore()

	// Simulates a download completing after its layer was cleared.
	s.Set("gone", 0, TimestampState{Status: StatusLoaded})
	assert.Equal(t, StatusEmpty, s.Get("gone", 0).Status)
}

func TestStateStoreIndicesAndStats(t *testing.T) {
	s := NewStateStore()
	s.RegisterLayer("temp2m", sixHourlySteps(8))

	s.Set("temp2m", 1, TimestampState{Status: StatusLoaded})
	s.Set("temp2m", 2, TimestampState{Status: StatusLoaded})
	s.Set("temp2m", 4, TimestampState{Status: StatusLoading})
	s.Set("temp2m", 5, TimestampState{Status: StatusFailed, Err: errors.New("boom")})

	assert.Equal(t, []int{1, 2}, s.LoadedIndices("temp2m"))
	assert.Equal(t, []int{4}, s.LoadingIndices("temp2m"))
	assert.Equal(t, []int{5}, s.FailedIndices("temp2m"))

	assert.True(t, s.IsLoaded("temp2m", 1))
	assert.False(t, s.IsLoaded("temp2m", 4))
	assert.True(t, s.IsLoading("temp2m", 4))

	assert.Equal(t, Stats{Total: 8, Loaded: 2, Loading: 1, Failed: 1, Empty: 4}, s.Stats("temp2m"))
}

func TestStateStoreLayers(t *testing.T) {
	s := NewStateStore()
	s.RegisterLayer("wind10m", sixHourlySteps(2))
	s.RegisterLayer("temp2m", sixHourlySteps(2))

	assert.Equal(t, []string{"temp2m", "wind10m"}, s.Layers())

	s.Unregister("wind10m")
	assert.Equal(t, []string{"temp2m"}, s.Layers())
	assert.False(t, s.Registered("wind10m"))
}

func TestStateStoreSetIfStep(t *testing.T) {
	s := NewStateStore()
	steps := sixHourlySteps(4)
	s.RegisterLayer("temp2m", steps)

	// Matching step: the write lands.
	ok := s.SetIfStep("temp2m", 2, steps[2], TimestampState{Status: StatusLoading})
	assert.True(t, ok)
	assert.Equal(t, StatusLoading, s.Get("temp2m", 2).Status)

	// Re-registering with a shifted timeline invalidates the old step
	// identity: a result carrying it is rejected, not written.
	builder := manifest.NewBuilder("https://cdn.example.com/data")
	base := steps[0].Valid.Add(24 * time.Hour)
	s.RegisterLayer("temp2m", builder.Timeline(manifest.ParamTemp2m, base, base.Add(18*time.Hour)))

	ok = s.SetIfStep("temp2m", 2, steps[2], TimestampState{Status: StatusLoaded})
	assert.False(t, ok)
	assert.Equal(t, StatusEmpty, s.Get("temp2m", 2).Status)

	// Cleared layers and out-of-range indices reject too.
	s.Unregister("temp2m")
	assert.False(t, s.SetIfStep("temp2m", 2, steps[2], TimestampState{Status: StatusLoaded}))
	s.RegisterLayer("temp2m", steps)
	assert.False(t, s.SetIfStep("temp2m", 99, steps[2], TimestampState{Status: StatusLoaded}))
}

func TestStateStoreStepLookup(t *testing.T) {
	s := NewStateStore()
	steps := sixHourlySteps(4)
	s.RegisterLayer("temp2m", steps)

	got, ok := s.Step("temp2m", 2)
	require.True(t, ok)
	assert.True(t, got.Equal(steps[2]))

	_, ok = s.Step("temp2m", 4)
	assert.False(t, ok)
	_, ok = s.Step("nope", 0)
	assert.False(t, ok)
}
