// Package runlog records the operator-facing log of a test run. Entries go to every configured
// sink; a failing sink is reported through logrus and never surfaces to the caller.
package runlog

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/eventbench/internal/common/util"
)

type Entry struct {
	Time     time.Time `json:"time"`
	RunId    string    `json:"runId"`
	DriverId string    `json:"driverId"`
	Level    string    `json:"level"`
	Message  string    `json:"message"`
}

type Sink interface {
	Write(entry *Entry) error
}

// Service is the run log of one driver taking part in one run.
type Service struct {
	runId    string
	driverId string
	sink     Sink
	clock    util.Clock
}

func New(runId string, driverId string, clock util.Clock, sink Sink) *Service {
	return &Service{runId: runId, driverId: driverId, sink: sink, clock: clock}
}

func (s *Service) Log(level log.Level, message string) {
	if s == nil || s.sink == nil {
		return
	}
	entry := &Entry{
		Time:     s.clock.Now(),
		RunId:    s.runId,
		DriverId: s.driverId,
		Level:    level.String(),
		Message:  message,
	}
	if err := s.sink.Write(entry); err != nil {
		log.WithError(err).WithField("runId", s.runId).Warn("Failed to write run log entry")
	}
}

func (s *Service) Logf(level log.Level, format string, args ...interface{}) {
	s.Log(level, fmt.Sprintf(format, args...))
}

func (s *Service) Info(message string) {
	s.Log(log.InfoLevel, message)
}

func (s *Service) Infof(format string, args ...interface{}) {
	s.Logf(log.InfoLevel, format, args...)
}

func (s *Service) Errorf(format string, args ...interface{}) {
	s.Logf(log.ErrorLevel, format, args...)
}

func (s *Service) Warn(message string) {
	s.Log(log.WarnLevel, message)
}

func (s *Service) Error(message string) {
	s.Log(log.ErrorLevel, message)
}

type multiSink []Sink

// Multi writes every entry to all sinks, even when some of them fail.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Write(entry *Entry) error {
	var result *multierror.Error
	for _, sink := range m {
		if err := sink.Write(entry); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// LogrusSink echoes entries to the process log.
type LogrusSink struct {
	logger log.FieldLogger
}

func NewLogrusSink(logger log.FieldLogger) *LogrusSink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogrusSink{logger: logger}
}

func (s *LogrusSink) Write(entry *Entry) error {
	level, err := log.ParseLevel(entry.Level)
	if err != nil {
		level = log.InfoLevel
	}
	logger := s.logger.WithField("runId", entry.RunId).WithField("driverId", entry.DriverId)
	switch level {
	case log.PanicLevel, log.FatalLevel, log.ErrorLevel:
		logger.Error(entry.Message)
	case log.WarnLevel:
		logger.Warn(entry.Message)
	case log.DebugLevel, log.TraceLevel:
		logger.Debug(entry.Message)
	default:
		logger.Info(entry.Message)
	}
	return nil
}
