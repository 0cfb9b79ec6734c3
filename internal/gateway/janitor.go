package gateway

import (
	"sync"
	"time"

	"eventclub/pkg/logger"

	"go.uber.org/zap"
)

// Sweep removes expired state and reports how many items it dropped.
type Sweep struct {
	Name string
	Run  func() int
}

// Janitor periodically runs a fixed set of sweeps until stopped.
type Janitor struct {
	interval time.Duration
	sweeps   []Sweep
	logger   *logger.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewJanitor(interval time.Duration, log *logger.Logger, sweeps ...Sweep) *Janitor {
	return &Janitor{
		interval: interval,
		sweeps:   sweeps,
		logger:   log,
		stopCh:   make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-j.stopCh:
				return
			case <-ticker.C:
				j.RunOnce()
			}
		}
	}()
}

func (j *Janitor) RunOnce() {
	for _, s := range j.sweeps {
		if n := s.Run(); n > 0 {
			j.logger.Debug("Janitor sweep removed entries",
				zap.String("sweep", s.Name),
				zap.Int("removed", n))
		}
	}
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
	})
	j.wg.Wait()
}
