package scheduler

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Sweeper 周期性清理遗留下载记录
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Manager struct {
	sweeper  Sweeper
	interval time.Duration

	quit     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

func NewManager(sweeper Sweeper, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Manager{
		sweeper:  sweeper,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// Start 立即执行一次，之后每个 interval 执行一次
func (m *Manager) Start(ctx context.Context) {
	log.WithField("interval", m.interval).Info("Scheduler started")
	m.done.Add(1)
	go func() {
		defer m.done.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.run(ctx)
		for {
			select {
			case <-ticker.C:
				m.run(ctx)
			case <-m.quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.quit)
		m.done.Wait()
		log.Info("Scheduler stopped")
	})
}

func (m *Manager) run(ctx context.Context) {
	n, err := m.sweeper.Sweep(ctx)
	if err != nil {
		log.WithError(err).Warn("Scheduler: sweep failed")
		return
	}
	log.WithField("swept", n).Debug("Scheduler: sweep finished")
}
