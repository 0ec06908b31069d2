package bench

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/eventbench/internal/bench/configuration"
	"github.com/G-Research/eventbench/internal/bench/engine"
	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/bench/testrun"
	"github.com/G-Research/eventbench/internal/common/util"
)

const benchmarkYaml = `
name: smoke
processors:
  start:
    type: raiseEvents
    outputEventName: work
    count: 10
    batchSize: 4
    timeBetweenEvents: 1ms
  work:
    type: sleep
    duration: 1ms
completion:
  type: eventCount
  eventName: work
  count: 10
  checkPeriod: 10ms
`

func writeDefinition(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "benchmark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(benchmarkYaml), 0o600))
	return path
}

func testConfig(t *testing.T) configuration.DriverConfig {
	return configuration.DriverConfig{
		RunId:        "smoke-" + util.NewULID(),
		DriverId:     "driver-1",
		Definition:   writeDefinition(t),
		Schedule:     true,
		PingInterval: 20 * time.Millisecond,
		Backends: configuration.BackendConfig{
			Events:       configuration.Memory,
			Results:      configuration.Memory,
			Sessions:     configuration.Memory,
			Coordination: configuration.Memory,
		},
		Engine: engine.Config{
			ThreadCount:              2,
			EventsPerSecondPerThread: 200,
			RestartBackoff:           10 * time.Millisecond,
			ShutdownTimeout:          time.Second,
		},
	}
}

func serveUntilDone(t *testing.T, config configuration.DriverConfig, registry *prometheus.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, serve(ctx, config, registry, registry))
	require.NoError(t, ctx.Err(), "driver did not finish the run before the deadline")
}

func TestServe_RunsToCompletion(t *testing.T) {
	registry := prometheus.NewRegistry()
	serveUntilDone(t, testConfig(t), registry)

	processed, err := testutil.GatherAndCount(registry, engine.MetricPrefix+"events_processed_total")
	require.NoError(t, err)
	assert.Greater(t, processed, 0)
}

func TestServe_RedisBackends(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	config := testConfig(t)
	config.Backends.Events = configuration.Redis
	config.Backends.Sessions = configuration.Redis
	config.Backends.Coordination = configuration.Redis
	config.Redis.Addrs = []string{s.Addr()}
	config.RunLog.Redis = true

	serveUntilDone(t, config, prometheus.NewRegistry())

	assert.Equal(t, string(testrun.Completed), s.HGet(keyPrefix(config)+":runs:state", config.RunId))

	entries, err := s.List(keyPrefix(config) + ":runlog:" + config.RunId)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestServe_InvalidConfig(t *testing.T) {
	config := testConfig(t)
	config.RunId = ""
	assert.Error(t, serve(context.Background(), config, prometheus.NewRegistry(), prometheus.NewRegistry()))
}

func TestServe_MissingDefinition(t *testing.T) {
	config := testConfig(t)
	config.Definition = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, serve(context.Background(), config, prometheus.NewRegistry(), prometheus.NewRegistry()))
}

func TestNewStores_Memory(t *testing.T) {
	config := testConfig(t)
	s, err := newStores(config, clients{}, event.NewLocalDataStore(), &util.DefaultClock{})
	require.NoError(t, err)
	assert.NotNil(t, s.events)
	assert.NotNil(t, s.results)
	assert.NotNil(t, s.sessions)
	assert.NotNil(t, s.states)
	assert.NotNil(t, s.drivers)
}

func TestNewStores_Unsupported(t *testing.T) {
	config := testConfig(t)
	config.Backends.Results = configuration.Redis
	_, err := newStores(config, clients{}, event.NewLocalDataStore(), &util.DefaultClock{})
	assert.Error(t, err)
}

func TestKeyPrefix(t *testing.T) {
	config := testConfig(t)
	config.RunId = "run-1"
	assert.Equal(t, "eventbench:run-1", keyPrefix(config))
	config.Prefix = "custom"
	assert.Equal(t, "custom", keyPrefix(config))
}
