package engine

import (
	"github.com/G-Research/eventbench/internal/bench/processor"
	"github.com/G-Research/eventbench/internal/bench/producer"
	"github.com/G-Research/eventbench/internal/bench/repository"
	"github.com/G-Research/eventbench/internal/bench/runlog"
	"github.com/G-Research/eventbench/internal/common/util"
)

// Services is everything a driver needs to take part in one run.
type Services struct {
	Events     repository.EventStore
	Results    repository.ResultStore
	Sessions   repository.SessionService
	Processors *processor.Registry
	Producers  *producer.Registry
	RunLog     *runlog.Service
	Metrics    *Metrics
	Clock      util.Clock
}
