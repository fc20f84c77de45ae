package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/pod-racer/internal/domain"
)

func TestParsePods(t *testing.T) {
	specs, err := ParsePods("A, B ,gpu-1=C,,")
	require.NoError(t, err)
	want := []domain.PodSpec{
		{ID: "pod-1", Type: "A"},
		{ID: "pod-2", Type: "B"},
		{ID: "gpu-1", Type: "C"},
	}
	if diff := cmp.Diff(want, specs); diff != "" {
		t.Errorf("pods mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePods_Invalid(t *testing.T) {
	for _, raw := range []string{"", " , ", "x=", "=A", "p=A,p=B"} {
		_, err := ParsePods(raw)
		assert.Error(t, err, raw)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"POOL_PODS", "RACE_CANDIDATES", "CREDITS_INITIAL", "AUTH_SHARED_KEY", "SWEEP_INTERVAL_SECONDS", "RACE_FAILURE_RATE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Len(t, cfg.Pool.Pods, 5)
	assert.Equal(t, 2, cfg.Race.Candidates)
	assert.EqualValues(t, 3600, cfg.Credits.Initial)
	assert.Equal(t, "generate@123", cfg.Auth.SharedKey)
	assert.Equal(t, 2*time.Second, cfg.Sweep.Interval())
	assert.Equal(t, "podracer:events", cfg.Events.RedisChannel)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("POOL_PODS=X,Y\nRACE_CANDIDATES=3\nQUEUE_MAX_LENGTH=7\n"), 0o600))
	for _, key := range []string{"POOL_PODS", "RACE_CANDIDATES", "QUEUE_MAX_LENGTH"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Pool.Pods, 2)
	assert.Equal(t, 3, cfg.Race.Candidates)
	assert.Equal(t, 7, cfg.Queue.MaxLength)

	_, err = Load(filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

func TestLoad_RejectsBadRace(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RACE_FAILURE_RATE", "2")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("RACE_FAILURE_RATE", "0")
	t.Setenv("RACE_MIN_DELAY_MS", "500")
	t.Setenv("RACE_MAX_DELAY_MS", "100")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveDrainCooldown(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RACE_FAILURE_RATE", "0")
	t.Setenv("RACE_MIN_DELAY_MS", "")
	t.Setenv("RACE_MAX_DELAY_MS", "")

	for _, raw := range []string{"0", "-5"} {
		t.Setenv("POD_DRAIN_COOLDOWN_SECONDS", raw)
		_, err := Load()
		assert.ErrorContains(t, err, "POD_DRAIN_COOLDOWN_SECONDS", raw)
	}

	t.Setenv("POD_DRAIN_COOLDOWN_SECONDS", "5")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Race.DrainCooldown())
}
