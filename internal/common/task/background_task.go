package task

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

type task struct {
	function    func()
	interval    time.Duration
	metricName  string
	stopChannel chan bool
}

// BackgroundTaskManager is not threadsafe, it should only be accessed from a single thread.
type BackgroundTaskManager struct {
	tasks         []*task
	metricsPrefix string
	factory       promauto.Factory
	wg            *sync.WaitGroup
}

// NewBackgroundTaskManager registers task latency histograms with registerer;
// nil means the default prometheus registry.
func NewBackgroundTaskManager(metricsPrefix string, registerer prometheus.Registerer) *BackgroundTaskManager {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &BackgroundTaskManager{
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		factory:       promauto.With(registerer),
		wg:            &sync.WaitGroup{},
	}
}

// Register runs backgroundTask immediately and then every interval until StopAll is called.
// A panicking task is logged and rescheduled.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, metricName string) {
	task := &task{
		function:    backgroundTask,
		interval:    interval,
		metricName:  metricName,
		stopChannel: make(chan bool),
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
}

// StopAll returns true if the tasks did not finish within timeout.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	var taskDurationHistogram = m.factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    m.metricsPrefix + task.metricName + "_latency_seconds",
			Help:    "Background loop " + task.metricName + " latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			start := time.Now()
			runGuarded(task)
			taskDurationHistogram.Observe(time.Since(start).Seconds())

			select {
			case <-time.After(task.interval):
			case <-task.stopChannel:
				return
			}
		}
	}()
}

func runGuarded(task *task) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("task", task.metricName).
				Errorf("Background task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	task.function()
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}

func (m *BackgroundTaskManager) stopTasks() {
	for _, task := range m.tasks {
		close(task.stopChannel)
	}
	m.tasks = nil
}
