// Package bench wires one driver process: it connects the configured backends, loads the
// benchmark definition and keeps the driver in step with the run until the run ends.
package bench

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis"
	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/G-Research/eventbench/internal/bench/configuration"
	"github.com/G-Research/eventbench/internal/bench/definition"
	"github.com/G-Research/eventbench/internal/bench/engine"
	"github.com/G-Research/eventbench/internal/bench/estimator"
	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/bench/repository"
	"github.com/G-Research/eventbench/internal/bench/runlog"
	"github.com/G-Research/eventbench/internal/bench/testrun"
	"github.com/G-Research/eventbench/internal/common"
	"github.com/G-Research/eventbench/internal/common/health"
	"github.com/G-Research/eventbench/internal/common/task"
	"github.com/G-Research/eventbench/internal/common/util"
)

const shutdownTimeout = 30 * time.Second

// Serve runs a driver until ctx is cancelled or the run is stopped or completed.
func Serve(ctx context.Context, config configuration.DriverConfig) error {
	return serve(ctx, config, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func serve(ctx context.Context, config configuration.DriverConfig, registerer prometheus.Registerer, gatherer prometheus.Gatherer) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if config.DriverId == "" {
		config.DriverId = util.NewUUID()
	}
	log.Infof("Driver %s joining run %s", config.DriverId, config.RunId)
	defer log.Infof("Driver %s leaving run %s", config.DriverId, config.RunId)

	def, err := definition.Load(config.Definition)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	clock := &util.DefaultClock{}
	healthChecks := health.NewMultiChecker()
	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks.Add(startupCompleteCheck)

	var c clients
	if config.UsesRedis() {
		c.redis = redis.NewUniversalClient(config.Redis.AsUniversalOptions())
		defer util.CloseResource("redis client", c.redis)
		if err := util.WaitFor(ctx, "redis", 5, time.Second, func() error { return c.redis.Ping().Err() }); err != nil {
			return errors.Wrap(err, "error connecting to redis")
		}
		healthChecks.Add(health.CheckerFunc(func() error {
			return errors.Wrap(c.redis.Ping().Err(), "redis is unreachable")
		}))
	}
	if config.UsesPostgres() {
		c.postgres, err = repository.OpenPgxPool(ctx, config.Postgres)
		if err != nil {
			return err
		}
		defer c.postgres.Close()
		if err := repository.UpdateDatabase(ctx, c.postgres); err != nil {
			return err
		}
		healthChecks.Add(health.CheckerFunc(func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			defer cancel()
			return errors.Wrap(c.postgres.Ping(pingCtx), "postgres is unreachable")
		}))
	}

	local := event.NewLocalDataStore()
	s, err := newStores(config, c, local, clock)
	if err != nil {
		return err
	}

	benchmark, err := def.Build(definition.Dependencies{
		Events:   s.events,
		Results:  s.results,
		Sessions: s.sessions,
		Clock:    clock,
	})
	if err != nil {
		return err
	}
	log.Infof("Loaded benchmark %q with processors %v and producers %v",
		benchmark.Name, benchmark.Processors.Names(), benchmark.Producers.Names())

	sink, closeSinks, err := newRunLogSink(config, c)
	if err != nil {
		return err
	}
	defer closeSinks()
	runLog := runlog.New(config.RunId, config.DriverId, clock, sink)

	if err := registerer.Register(estimator.NewCollector(config.RunId, benchmark.Estimator)); err != nil {
		return errors.WithStack(err)
	}
	services := &engine.Services{
		Events:     s.events,
		Results:    s.results,
		Sessions:   s.sessions,
		Processors: benchmark.Processors,
		Producers:  benchmark.Producers,
		RunLog:     runLog,
		Metrics:    engine.NewMetrics(registerer),
		Clock:      clock,
	}
	run := testrun.New(
		config.RunId,
		config.DriverId,
		s.states,
		s.drivers,
		benchmark.Estimator,
		func() (testrun.Controller, error) {
			controller, err := engine.NewController(config.DriverId, config.Engine, services)
			if err != nil {
				return nil, err
			}
			return controller, nil
		},
		runLog,
		clock,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if closeErr := run.Close(closeCtx); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to leave run cleanly")
		}
	}()

	if config.Schedule {
		scheduleRun(ctx, run, clock.Now().Add(config.StartDelay))
	}

	if config.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		health.SetupHttpMux(mux, healthChecks)
		shutdownHttp := common.ServeHttp(config.MetricsPort, mux)
		defer shutdownHttp()
	}

	taskManager := task.NewBackgroundTaskManager(engine.MetricPrefix, registerer)
	taskManager.Register(func() {
		if err := run.Ping(ctx); err != nil {
			log.WithError(err).Warnf("Failed to bring driver in line with run %s", config.RunId)
		}
	}, config.PingInterval, "run_ping")

	g.Go(func() error {
		return waitForRunEnd(ctx, run, config.PingInterval, cancel)
	})

	startupCompleteCheck.MarkComplete()
	waitErr := g.Wait()

	var result *multierror.Error
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		result = multierror.Append(result, waitErr)
	}
	if taskManager.StopAll(shutdownTimeout) {
		result = multierror.Append(result, errors.New("background tasks did not stop in time"))
	}
	return result.ErrorOrNil()
}

// scheduleRun schedules the run unless another driver already scheduled it.
func scheduleRun(ctx context.Context, run *testrun.TestRun, at time.Time) {
	scheduled, err := run.ScheduleIfNotScheduled(ctx, at)
	if err != nil {
		log.WithError(err).Warnf("Failed to schedule run %s", run.RunId())
		return
	}
	if scheduled {
		log.Infof("Scheduled run %s for %s", run.RunId(), at.Format(time.RFC3339))
		return
	}
	state, err := run.State(ctx)
	if err != nil {
		log.WithError(err).Warnf("Failed to read state of run %s", run.RunId())
		return
	}
	log.Infof("Not scheduling run %s; it is already %s", run.RunId(), state)
}

// waitForRunEnd returns once ctx is done, cancelling it itself when the run has ended.
func waitForRunEnd(ctx context.Context, run *testrun.TestRun, interval time.Duration, cancel context.CancelFunc) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			state, err := run.State(ctx)
			if err != nil {
				log.WithError(err).Warnf("Failed to read state of run %s", run.RunId())
				continue
			}
			if state.IsTerminal() {
				log.Infof("Run %s is %s", run.RunId(), state)
				cancel()
				return nil
			}
		}
	}
}

func newRunLogSink(config configuration.DriverConfig, c clients) (runlog.Sink, func(), error) {
	sinks := []runlog.Sink{runlog.NewLogrusSink(log.StandardLogger())}
	closeSinks := func() {}
	if config.RunLog.Redis {
		sinks = append(sinks, runlog.NewRedisSink(c.redis, keyPrefix(config), config.RunLog.Length))
	}
	if config.RunLog.NatsUrl != "" {
		conn, err := nats.Connect(config.RunLog.NatsUrl, nats.Name("eventbench-"+config.DriverId))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "error connecting to nats at %s", config.RunLog.NatsUrl)
		}
		sinks = append(sinks, runlog.NewNatsSink(conn, config.RunLog.NatsSubject))
		closeSinks = func() {
			if err := conn.Drain(); err != nil {
				log.WithError(err).Warn("Failed to drain nats connection")
				conn.Close()
			}
		}
	}
	return runlog.Multi(sinks...), closeSinks, nil
}
