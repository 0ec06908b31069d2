package health

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// MultiChecker is healthy when all of its checkers are. Checkers may be added while serving.
type MultiChecker struct {
	mu       sync.RWMutex
	checkers []Checker
}

func NewMultiChecker(checkers ...Checker) *MultiChecker {
	return &MultiChecker{
		checkers: checkers,
	}
}

func (mc *MultiChecker) Check() error {
	mc.mu.RLock()
	checkers := append([]Checker(nil), mc.checkers...)
	mc.mu.RUnlock()

	var result *multierror.Error
	for _, checker := range checkers {
		if err := checker.Check(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (mc *MultiChecker) Add(checker Checker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.checkers = append(mc.checkers, checker)
}
