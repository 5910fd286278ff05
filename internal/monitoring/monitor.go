package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/queue"
)

const (
	defaultInterval = 30 * time.Second

	// DLQWarnDepth is the dead-letter depth that needs an operator
	DLQWarnDepth = 1
	// BacklogWarnDepth is the pending depth that suggests the worker is stuck
	BacklogWarnDepth = 1000
)

// Health levels reported by the monitor
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Snapshot holds the last sampled backlog
type Snapshot struct {
	QueueDepth  int       `json:"queue_depth"`
	DLQDepth    int       `json:"dlq_depth"`
	LastUpdated time.Time `json:"last_updated"`
	LastError   string    `json:"last_error,omitempty"`
}

// QueueProvider reports the depth of the usage queues
type QueueProvider interface {
	GetQueueDepth() (int, error)
	GetDLQDepth() (int, error)
}

// Monitor samples the deferred usage backlog
type Monitor struct {
	queues   QueueProvider
	interval time.Duration
	logger   *logging.Logger

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewMonitor creates a backlog monitor. A zero interval uses the default.
func NewMonitor(queues QueueProvider, interval time.Duration, logger *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{
		queues:   queues,
		interval: interval,
		logger:   logger.WithField("component", "monitor"),
	}
}

// Start samples once and then on every tick until ctx is done
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			if err := m.Collect(); err != nil {
				m.logger.WithError(err).Warn("Failed to sample queue depth")
			}
			for _, alert := range m.Alerts() {
				m.logger.Warn(alert)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Collect samples both queues and exports their depth
func (m *Monitor) Collect() error {
	depth, err := m.queues.GetQueueDepth()
	if err != nil {
		m.recordError(err)
		return fmt.Errorf("failed to get queue depth: %w", err)
	}

	dlqDepth, err := m.queues.GetDLQDepth()
	if err != nil {
		m.recordError(err)
		return fmt.Errorf("failed to get DLQ depth: %w", err)
	}

	metrics.SetQueueDepth(queue.UsageQueueName, depth)
	metrics.SetQueueDepth(queue.DeadLetterQueueName, dlqDepth)

	m.mu.Lock()
	m.snapshot = Snapshot{QueueDepth: depth, DLQDepth: dlqDepth, LastUpdated: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *Monitor) recordError(err error) {
	m.mu.Lock()
	m.snapshot.LastError = err.Error()
	m.mu.Unlock()
}

// Snapshot returns a copy of the last sample
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Health summarizes the last sample
func (m *Monitor) Health() string {
	s := m.Snapshot()
	switch {
	case s.LastError != "":
		return HealthCritical
	case s.DLQDepth >= DLQWarnDepth, s.QueueDepth >= BacklogWarnDepth:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// Alerts lists the conditions worth a log line
func (m *Monitor) Alerts() []string {
	s := m.Snapshot()

	var alerts []string
	if s.LastError != "" {
		alerts = append(alerts, "Queue unreachable: "+s.LastError)
	}
	if s.DLQDepth >= DLQWarnDepth {
		alerts = append(alerts, fmt.Sprintf("Usage events dead-lettered: %d messages", s.DLQDepth))
	}
	if s.QueueDepth >= BacklogWarnDepth {
		alerts = append(alerts, fmt.Sprintf("High usage backlog: %d events pending", s.QueueDepth))
	}
	return alerts
}

// Check fails only when the queue cannot be sampled, for /health
func (m *Monitor) Check(ctx context.Context) error {
	if m.Health() == HealthCritical {
		return fmt.Errorf("queue monitor: %s", m.Snapshot().LastError)
	}
	return nil
}
